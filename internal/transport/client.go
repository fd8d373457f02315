package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielpatrickdp/agent-governance/go-controller/internal/protocol"
)

// #region client

// Client is the agent's view of the gateway. Policy rejections are reported
// in Result; the error return is reserved for failures to get an answer.
type Client interface {
	RegisterProtocol(ctx context.Context, agentID string, desc protocol.Descriptor) (Result, error)
	SubmitReport(ctx context.Context, r protocol.Report) (Result, error)
	SendMessage(ctx context.Context, agentID, to, content string, ref *protocol.Ref) (Result, error)
}

// Result is the gateway's {ok, error?} envelope.
type Result struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// #endregion client

// #region errors

// TransientError wraps a failure that may succeed on retry: a network error,
// a timeout, or a gateway that is temporarily unavailable.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a TransientError for op. A nil err stays nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err, or anything it wraps, is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// #endregion errors
