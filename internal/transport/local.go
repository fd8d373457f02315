package transport

import (
	"context"

	"github.com/danielpatrickdp/agent-governance/go-controller/internal/gateway"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/protocol"
)

// Local calls a gateway engine in the same process. Ledger failures inside
// the engine surface as transient errors, the same way a 5xx would remotely.
type Local struct {
	engine *gateway.Engine
}

// NewLocal returns a Client backed by engine.
func NewLocal(engine *gateway.Engine) *Local {
	return &Local{engine: engine}
}

// RegisterProtocol implements Client.
func (l *Local) RegisterProtocol(ctx context.Context, agentID string, desc protocol.Descriptor) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, Transient("register", err)
	}
	d, err := l.engine.RegisterProtocol(ctx, agentID, desc)
	return FromDecision(d), Transient("register", err)
}

// SubmitReport implements Client.
func (l *Local) SubmitReport(ctx context.Context, r protocol.Report) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, Transient("report", err)
	}
	d, err := l.engine.SubmitReport(ctx, r)
	return FromDecision(d), Transient("report", err)
}

// SendMessage implements Client.
func (l *Local) SendMessage(ctx context.Context, agentID, to, content string, ref *protocol.Ref) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, Transient("send", err)
	}
	d, err := l.engine.SendMessage(ctx, agentID, to, content, ref)
	return FromDecision(d), Transient("send", err)
}

// FromDecision converts an engine verdict to the wire envelope.
func FromDecision(d gateway.Decision) Result {
	return Result{OK: d.OK, Error: d.Error, Reason: string(d.Reason)}
}
