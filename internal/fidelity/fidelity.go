package fidelity

// #region imports
import (
	"context"
	"strconv"
	"strings"

	"github.com/danielpatrickdp/agent-governance/go-controller/internal/protocol"
)

// #endregion

// #region types

// Result is an evaluator's verdict on a report before it is submitted.
type Result struct {
	FidelityScore float64  `json:"fidelity_score"`
	Issues        []string `json:"issues"`
	Approved      bool     `json:"approved"`
}

// Evaluator checks that a report faithfully describes the raw messages it
// claims to cover.
type Evaluator interface {
	Evaluate(ctx context.Context, r protocol.Report, raw []string) (Result, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(ctx context.Context, r protocol.Report, raw []string) (Result, error)

// Evaluate implements Evaluator.
func (f EvaluatorFunc) Evaluate(ctx context.Context, r protocol.Report, raw []string) (Result, error) {
	return f(ctx, r, raw)
}

// Issue codes reported by Heuristic.
const (
	IssueEmptySummary = "empty_summary"
	IssueShortSummary = "summary_too_short"
	IssueNonASCII     = "non_english_residue"
	IssueIDMismatch   = "message_ids_mismatch"
	IssueCountMissing = "message_count_missing"
	IssueRawEcho      = "raw_message_echoed"
	IssueRepetition   = "repetitive_summary"
	IssueLowCoverage  = "coverage_below_one"
)

// blocking issues reject the report regardless of score.
var blocking = map[string]bool{
	IssueEmptySummary: true,
	IssueNonASCII:     true,
	IssueIDMismatch:   true,
}

// #endregion

// #region static

// Static returns the same verdict for every report.
type Static struct {
	Result Result
}

// Placeholder approves everything at 0.85, the score used before a real
// evaluator service is wired in.
func Placeholder() Static {
	return Static{Result: Result{FidelityScore: 0.85, Issues: []string{}, Approved: true}}
}

// Evaluate implements Evaluator.
func (s Static) Evaluate(context.Context, protocol.Report, []string) (Result, error) {
	out := s.Result
	out.Issues = append([]string(nil), s.Result.Issues...)
	return out, nil
}

// SelfReported approves every report at its own stated confidence. It is what
// an agent with no evaluator configured effectively does.
var SelfReported = EvaluatorFunc(func(_ context.Context, r protocol.Report, _ []string) (Result, error) {
	return Result{FidelityScore: r.SelfConfidence, Issues: []string{}, Approved: true}, nil
})

// #endregion

// #region heuristic

// Heuristic scores a report by string analysis. No model call.
type Heuristic struct {
	// MinWords is the summary length, in words, that earns full length credit.
	MinWords int
	// Threshold is the lowest approved score.
	Threshold float64
}

// DefaultHeuristic approves at 0.6 with a 12-word summary target.
func DefaultHeuristic() Heuristic {
	return Heuristic{MinWords: 12, Threshold: 0.6}
}

// Evaluate implements Evaluator.
func (h Heuristic) Evaluate(ctx context.Context, r protocol.Report, raw []string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	summary := strings.TrimSpace(r.EnglishSummary)
	lower := strings.ToLower(summary)
	words := strings.Fields(summary)
	var issues []string

	if len(words) == 0 {
		issues = append(issues, IssueEmptySummary)
	} else if len(words) < h.MinWords {
		issues = append(issues, IssueShortSummary)
	}
	if hasNonASCII(summary) {
		issues = append(issues, IssueNonASCII)
	}
	if len(r.MessageIDs) != len(raw) {
		issues = append(issues, IssueIDMismatch)
	}

	countMentioned := strings.Contains(summary, strconv.Itoa(len(raw)))
	if !countMentioned {
		issues = append(issues, IssueCountMissing)
	}

	echoed := 0
	for _, m := range raw {
		if len(m) >= 12 && strings.Contains(summary, m) {
			echoed++
		}
	}
	if echoed > 0 {
		issues = append(issues, IssueRawEcho)
	}
	if hasRepetition(lower) {
		issues = append(issues, IssueRepetition)
	}
	if r.Coverage < 1.0 {
		issues = append(issues, IssueLowCoverage)
	}

	score := h.score(len(words), countMentioned, r.Coverage, echoed, len(raw))
	approved := score >= h.Threshold
	for _, is := range issues {
		if blocking[is] {
			approved = false
		}
	}
	if issues == nil {
		issues = []string{}
	}
	return Result{FidelityScore: score, Issues: issues, Approved: approved}, nil
}

func (h Heuristic) score(wordCount int, countMentioned bool, coverage float64, echoed, total int) float64 {
	// Length adequacy: linear up to MinWords.
	lengthAdequacy := 1.0
	if h.MinWords > 0 && wordCount < h.MinWords {
		lengthAdequacy = float64(wordCount) / float64(h.MinWords)
	}

	var counted float64
	if countMentioned {
		counted = 1.0
	}

	echoFrac := 0.0
	if total > 0 {
		echoFrac = float64(echoed) / float64(total)
	}

	cov := coverage
	if cov < 0 {
		cov = 0
	}
	if cov > 1 {
		cov = 1
	}

	score := 0.4*lengthAdequacy + 0.2*counted + 0.2*cov + 0.2*(1.0-echoFrac)
	if score > 1.0 {
		score = 1.0
	}
	if score < 0.0 {
		score = 0.0
	}
	return score
}

// #endregion

// #region helpers

func hasNonASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7F {
			return true
		}
	}
	return false
}

// hasRepetition reports 3+ identical sentences longer than 10 bytes.
func hasRepetition(lower string) bool {
	sentences := strings.FieldsFunc(lower, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == ';'
	})
	if len(sentences) < 3 {
		return false
	}
	counts := make(map[string]int)
	for _, s := range sentences {
		trimmed := strings.TrimSpace(s)
		if len(trimmed) > 10 {
			counts[trimmed]++
		}
	}
	for _, c := range counts {
		if c >= 3 {
			return true
		}
	}
	return false
}

// #endregion
