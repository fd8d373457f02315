package replay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/danielpatrickdp/agent-governance/go-controller/internal/gateway"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/governance"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/ledger"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/policy"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/protocol"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/translate"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/transport"
)

// #region types

// Op names a step's action.
type Op string

const (
	// Agent-side operations.
	OpRegister Op = "register"
	OpSend     Op = "send"
	OpFlush    Op = "flush"
	// Calls made straight to the gateway, bypassing the agent's checks.
	OpGatewaySend   Op = "gateway_send"
	OpGatewayReport Op = "gateway_report"
)

// Outcomes recorded per step.
const (
	OutcomeOK                 = "ok"
	OutcomeRejected           = "rejected"
	OutcomePermissionDenied   = "permission_denied"
	OutcomeEvaluationRejected = "evaluation_rejected"
	OutcomeError              = "error"
)

// Step is a single recorded action at an offset from the start of the run.
type Step struct {
	ID       string
	Offset   time.Duration
	Op       Op
	Agent    string
	To       string
	Content  string
	Fields   map[string]string
	Protocol *protocol.Key
	Register *protocol.Descriptor
	Report   *protocol.Report
}

// ReplayConfig holds the policies both sides run with. They may differ: the
// gateway never trusts the agent's idea of cadence.
type ReplayConfig struct {
	AgentConfig   policy.Config
	GatewayConfig policy.Config
	// Decoding builds reports with the lookup-table decoder instead of the
	// placeholder summary.
	Decoding bool
}

// DefaultReplayConfig runs both sides on the default policy.
func DefaultReplayConfig() ReplayConfig {
	return ReplayConfig{
		AgentConfig:   policy.DefaultConfig(),
		GatewayConfig: policy.DefaultConfig(),
	}
}

// StepResult captures the outcome of replaying one step.
type StepResult struct {
	StepID  string
	Outcome string
	Reason  string
	Detail  string
}

// ReplaySummary provides aggregate stats from a replay run.
type ReplaySummary struct {
	TotalSteps       int
	OK               int
	Rejected         int
	PermissionDenied int
	Errors           int
	Ledger           ledger.Counts
	Violations       map[string]int
}

// #endregion types

// #region clock

type stepClock struct {
	mu    sync.Mutex
	start time.Time
	now   time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) set(offset time.Duration) {
	c.mu.Lock()
	c.now = c.start.Add(offset)
	c.mu.Unlock()
}

// #endregion clock

// #region replay

// Replay drives steps through fresh agents and a fresh gateway backed by an
// in-memory SQLite ledger. Steps run in order with the clock pinned to each
// step's offset.
func Replay(ctx context.Context, steps []Step, config ReplayConfig) ([]StepResult, ReplaySummary, error) {
	store, err := ledger.Open(ledger.MemoryDSN)
	if err != nil {
		return nil, ReplaySummary{}, fmt.Errorf("open ledger: %w", err)
	}
	defer store.Close()

	clock := &stepClock{start: time.Unix(1_700_000_000, 0).UTC()}
	clock.now = clock.start

	engine := gateway.NewEngine(config.GatewayConfig,
		gateway.WithLedger(store),
		gateway.WithClock(clock.Now),
		gateway.WithLogger(zerolog.Nop()),
	)
	client := transport.NewLocal(engine)
	codec := translate.NewCodec()

	agents := make(map[string]*governance.Agent)
	agentFor := func(id string) *governance.Agent {
		if a, ok := agents[id]; ok {
			return a
		}
		opts := []governance.Option{
			governance.WithConfig(config.AgentConfig),
			governance.WithClock(clock.Now),
		}
		if config.Decoding {
			opts = append(opts, governance.WithReportBuilder(translate.ReportBuilder(codec)))
		}
		a := governance.New(id, client, opts...)
		agents[id] = a
		return a
	}

	results := make([]StepResult, 0, len(steps))
	for _, s := range steps {
		clock.set(s.Offset)

		content := s.Content
		if len(s.Fields) > 0 {
			content = codec.Encode(s.Fields)
		}

		var (
			res transport.Result
			err error
		)
		switch s.Op {
		case OpRegister:
			if s.Register == nil {
				err = errors.New("register step without descriptor")
				break
			}
			err = agentFor(s.Agent).Register(ctx, *s.Register)
			res.OK = err == nil
		case OpSend:
			a := agentFor(s.Agent)
			if s.Protocol != nil {
				res, err = a.SendWith(ctx, s.To, content, *s.Protocol)
			} else {
				res, err = a.Send(ctx, s.To, content)
			}
		case OpFlush:
			err = agentFor(s.Agent).Flush(ctx)
			res.OK = err == nil
		case OpGatewaySend:
			var ref *protocol.Ref
			if s.Protocol != nil {
				ref = &protocol.Ref{Name: s.Protocol.Name, Version: s.Protocol.Version}
			}
			res, err = client.SendMessage(ctx, s.Agent, s.To, content, ref)
		case OpGatewayReport:
			if s.Report == nil {
				err = errors.New("gateway_report step without report")
				break
			}
			res, err = client.SubmitReport(ctx, *s.Report)
		default:
			err = fmt.Errorf("unknown op %q", s.Op)
		}
		results = append(results, classify(s.ID, res, err))
	}

	counts, err := store.Counts(ctx)
	if err != nil {
		return results, ReplaySummary{}, err
	}
	summary := Summarize(results, counts)
	for _, s := range steps {
		if s.Agent != "" {
			summary.Violations[s.Agent] = engine.Violations(s.Agent)
		}
	}
	return results, summary, nil
}

// classify maps a call's result and error to a recorded outcome.
func classify(id string, res transport.Result, err error) StepResult {
	out := StepResult{StepID: id}
	var pe *governance.PolicyError
	switch {
	case err == nil && res.OK:
		out.Outcome = OutcomeOK
	case err == nil:
		out.Outcome = OutcomeRejected
		out.Reason = res.Reason
		out.Detail = res.Error
	case errors.Is(err, governance.ErrPermission):
		out.Outcome = OutcomePermissionDenied
		out.Detail = err.Error()
	case errors.Is(err, governance.ErrEvaluation):
		out.Outcome = OutcomeEvaluationRejected
		out.Detail = err.Error()
	case errors.As(err, &pe):
		out.Outcome = OutcomeRejected
		out.Reason = pe.Reason
		out.Detail = pe.Message
	default:
		out.Outcome = OutcomeError
		out.Detail = err.Error()
	}
	return out
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []StepResult, counts ledger.Counts) ReplaySummary {
	s := ReplaySummary{
		TotalSteps: len(results),
		Ledger:     counts,
		Violations: make(map[string]int),
	}
	for _, r := range results {
		switch r.Outcome {
		case OutcomeOK:
			s.OK++
		case OutcomeRejected, OutcomeEvaluationRejected:
			s.Rejected++
		case OutcomePermissionDenied:
			s.PermissionDenied++
		default:
			s.Errors++
		}
	}
	return s
}

// #endregion replay

// #region check

// Mismatch is one difference between a replay and its fixture.
type Mismatch struct {
	StepID string
	Want   string
	Got    string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s: want %s, got %s", m.StepID, m.Want, m.Got)
}

// Check compares results and summary against the fixture's expectations.
func Check(f *Fixture, results []StepResult, summary ReplaySummary) []Mismatch {
	var out []Mismatch
	if len(results) != len(f.ExpectedResults) {
		out = append(out, Mismatch{
			StepID: "*",
			Want:   fmt.Sprintf("%d results", len(f.ExpectedResults)),
			Got:    fmt.Sprintf("%d results", len(results)),
		})
	}
	for i, want := range f.ExpectedResults {
		if i >= len(results) {
			break
		}
		got := results[i]
		w := want.Outcome
		g := got.Outcome
		if want.Reason != "" {
			w += "/" + want.Reason
			g += "/" + got.Reason
		}
		if got.StepID != want.StepID || w != g {
			out = append(out, Mismatch{StepID: want.StepID, Want: w, Got: g + " (" + got.StepID + ")"})
		}
	}
	if es := f.ExpectedSummary; es != nil {
		if es.Reports != summary.Ledger.Reports {
			out = append(out, Mismatch{StepID: "summary.reports", Want: fmt.Sprint(es.Reports), Got: fmt.Sprint(summary.Ledger.Reports)})
		}
		if es.Messages != summary.Ledger.Messages {
			out = append(out, Mismatch{StepID: "summary.messages", Want: fmt.Sprint(es.Messages), Got: fmt.Sprint(summary.Ledger.Messages)})
		}
		for agent, n := range es.Violations {
			if got := summary.Violations[agent]; got != n {
				out = append(out, Mismatch{StepID: "summary.violations." + agent, Want: fmt.Sprint(n), Got: fmt.Sprint(got)})
			}
		}
	}
	return out
}

// #endregion check
