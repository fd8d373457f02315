package governance

import (
	"errors"
	"fmt"
	"strings"
)

// #region sentinels

// ErrPermission is returned when private-language content is sent without a
// registered protocol. The gateway is never contacted.
var ErrPermission = errors.New("novel-language use denied: protocol not registered")

// ErrEvaluation matches any *EvaluationError.
var ErrEvaluation = errors.New("report failed evaluation")

// ErrUnknownProtocol is returned for operations on a protocol the agent never
// registered.
var ErrUnknownProtocol = errors.New("protocol not registered with agent")

// #endregion sentinels

// #region policy-error

// PolicyError is a rejection by the gateway, or by the agent's own copy of a
// gateway check.
type PolicyError struct {
	Op      string // "register" | "report"
	Reason  string // gateway reason code, may be empty
	Message string
}

func (e *PolicyError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s rejected (%s): %s", e.Op, e.Reason, e.Message)
	}
	return fmt.Sprintf("%s rejected: %s", e.Op, e.Message)
}

// #endregion policy-error

// #region evaluation-error

// EvaluationError is returned when the configured evaluator refuses a report.
type EvaluationError struct {
	Score  float64
	Issues []string
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("report failed evaluation (score %.2f): %s", e.Score, strings.Join(e.Issues, ", "))
}

// Is lets errors.Is(err, ErrEvaluation) match.
func (e *EvaluationError) Is(target error) bool {
	return target == ErrEvaluation
}

// #endregion evaluation-error
