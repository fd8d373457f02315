package governance

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/danielpatrickdp/agent-governance/go-controller/internal/fidelity"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/gateway"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/novelty"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/observability"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/policy"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/protocol"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/transport"
)

// #region agent-struct

// Agent wraps one agent's outbound messaging. Ordinary English passes
// straight through; private-language content is buffered per protocol and
// reported in English before the gateway sees more of it.
type Agent struct {
	id         string
	client     transport.Client
	cfg        policy.Config
	classifier novelty.Classifier
	build      ReportBuilder
	evaluator  fidelity.Evaluator
	now        func() time.Time
	logger     zerolog.Logger
	metrics    *observability.Metrics

	mu        sync.Mutex
	windows   map[protocol.Key]*window
	active    protocol.Key
	hasActive bool
	seq       uint64
}

// #endregion agent-struct

// #region options

// Option configures an Agent.
type Option func(*Agent)

// WithConfig sets the reporting policy.
func WithConfig(cfg policy.Config) Option {
	return func(a *Agent) { a.cfg = cfg }
}

// WithClassifier replaces the novelty classifier.
func WithClassifier(c novelty.Classifier) Option {
	return func(a *Agent) { a.classifier = c }
}

// WithReportBuilder replaces DefaultReportBuilder.
func WithReportBuilder(b ReportBuilder) Option {
	return func(a *Agent) { a.build = b }
}

// WithEvaluator runs every report through e before submission.
func WithEvaluator(e fidelity.Evaluator) Option {
	return func(a *Agent) { a.evaluator = e }
}

// WithClock replaces time.Now. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

// WithLogger sets the structured logger.
func WithLogger(l zerolog.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(a *Agent) { a.metrics = m }
}

// #endregion options

// #region constructor

// New creates an agent that talks to the gateway through client.
func New(agentID string, client transport.Client, opts ...Option) *Agent {
	a := &Agent{
		id:         agentID,
		client:     client,
		cfg:        policy.DefaultConfig(),
		classifier: novelty.Default,
		build:      DefaultReportBuilder,
		now:        time.Now,
		logger:     zerolog.Nop(),
		windows:    make(map[protocol.Key]*window),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With().Str("agent_id", agentID).Logger()
	return a
}

// ID returns the agent's identifier.
func (a *Agent) ID() string {
	return a.id
}

// Active returns the protocol Send uses, if any.
func (a *Agent) Active() (protocol.Key, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active, a.hasActive
}

// #endregion constructor

// #region register

// Register declares desc with the gateway and opens a reporting window for
// it. Unreported messages already buffered under the same key are reported
// first so none are attributed to the new descriptor. Re-registering a key
// keeps its last report time. Windows of other protocols are left alone.
func (a *Agent) Register(ctx context.Context, desc protocol.Descriptor) error {
	if err := desc.Validate(); err != nil {
		return fmt.Errorf("register protocol: %w", err)
	}
	key := desc.Key()

	a.mu.Lock()
	defer a.mu.Unlock()

	if w, ok := a.windows[key]; ok && w.count > 0 {
		if err := a.submitAndResetLocked(ctx, key); err != nil {
			return fmt.Errorf("flush before re-register %s: %w", key, err)
		}
	}

	res, err := a.client.RegisterProtocol(ctx, a.id, desc)
	if err != nil {
		return fmt.Errorf("register protocol %s: %w", key, err)
	}
	if !res.OK {
		return &PolicyError{Op: "register", Reason: res.Reason, Message: res.Error}
	}

	if w, ok := a.windows[key]; ok {
		// The gateway keeps its freshness clock across re-registration, so
		// lastReport stays too.
		w.desc = desc
		w.start = a.now()
	} else {
		a.windows[key] = newWindow(desc, a.now())
	}
	a.active = key
	a.hasActive = true

	a.logger.Info().
		Str("protocol", key.String()).
		Str("risk_tier", string(desc.RiskTier)).
		Msg("protocol registered")
	return nil
}

// #endregion register

// #region send

// Send delivers content under the active protocol. Ordinary content is
// forwarded without a protocol and leaves state untouched.
func (a *Agent) Send(ctx context.Context, to, content string) (transport.Result, error) {
	if a.classifier.Ordinary(content) {
		return a.forwardOrdinary(ctx, to, content)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.hasActive {
		return transport.Result{}, ErrPermission
	}
	return a.sendLocked(ctx, a.active, to, content)
}

// SendWith delivers content under an explicitly named protocol.
func (a *Agent) SendWith(ctx context.Context, to, content string, key protocol.Key) (transport.Result, error) {
	if a.classifier.Ordinary(content) {
		return a.forwardOrdinary(ctx, to, content)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.windows[key]; !ok {
		return transport.Result{}, fmt.Errorf("%w: %s", ErrPermission, key)
	}
	return a.sendLocked(ctx, key, to, content)
}

func (a *Agent) forwardOrdinary(ctx context.Context, to, content string) (transport.Result, error) {
	res, err := a.client.SendMessage(ctx, a.id, to, content, nil)
	if err != nil {
		return res, fmt.Errorf("send message: %w", err)
	}
	return res, nil
}

// sendLocked buffers content, reports if the window is due, then forwards.
// A failed report leaves the message buffered and unsent.
func (a *Agent) sendLocked(ctx context.Context, key protocol.Key, to, content string) (transport.Result, error) {
	w := a.windows[key]
	a.seq++
	w.append(protocol.NewBufferedMessage(a.seq, a.now(), content))

	if a.dueLocked(w) {
		if err := a.submitAndResetLocked(ctx, key); err != nil {
			return transport.Result{}, err
		}
	}

	res, err := a.client.SendMessage(ctx, a.id, to, content, w.desc.Ref())
	if err != nil {
		return res, fmt.Errorf("send message: %w", err)
	}
	if !res.OK {
		a.logger.Warn().
			Str("protocol", key.String()).
			Str("reason", res.Reason).
			Str("error", res.Error).
			Msg("gateway rejected message")
	}
	return res, nil
}

// #endregion send

// #region needs-report

// NeedsReport reports whether the window for key must be reported before the
// next private send. It is false for an unknown key or an empty window.
func (a *Agent) NeedsReport(key protocol.Key) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	w, ok := a.windows[key]
	if !ok {
		return false
	}
	return a.dueLocked(w)
}

func (a *Agent) dueLocked(w *window) bool {
	cad := a.cfg.CadenceFor(w.desc.RiskTier)
	return w.due(a.now(), cad.Interval.Duration, cad.MaxMessages)
}

// #endregion needs-report

// #region flush

// Flush reports every protocol with buffered messages. Every protocol is
// attempted; failures are combined.
func (a *Agent) Flush(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	keys := make([]protocol.Key, 0, len(a.windows))
	for k, w := range a.windows {
		if w.count > 0 {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	var errs error
	for _, k := range keys {
		errs = multierr.Append(errs, a.submitAndResetLocked(ctx, k))
	}
	return errs
}

// FlushProtocol reports key's window if it has buffered messages.
func (a *Agent) FlushProtocol(ctx context.Context, key protocol.Key) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	w, ok := a.windows[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProtocol, key)
	}
	if w.count == 0 {
		return nil
	}
	return a.submitAndResetLocked(ctx, key)
}

// #endregion flush

// #region build-report

// BuildReport builds, but does not submit, a report for key's current window.
func (a *Agent) BuildReport(key protocol.Key) (protocol.Report, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	w, ok := a.windows[key]
	if !ok {
		return protocol.Report{}, fmt.Errorf("%w: %s", ErrUnknownProtocol, key)
	}
	return a.build(w.view(a.id, a.now()))
}

// #endregion build-report

// #region submit

// SubmitAndReset builds, evaluates and submits a report for key, then clears
// the window. On any failure the window is left exactly as it was.
func (a *Agent) SubmitAndReset(ctx context.Context, key protocol.Key) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.windows[key]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProtocol, key)
	}
	return a.submitAndResetLocked(ctx, key)
}

func (a *Agent) submitAndResetLocked(ctx context.Context, key protocol.Key) error {
	w := a.windows[key]
	view := w.view(a.id, a.now())

	r, err := a.build(view)
	if err != nil {
		a.metrics.RecordReport("build_failed")
		return fmt.Errorf("build report %s: %w", key, err)
	}

	if r.Coverage < a.cfg.MinCoverage {
		a.metrics.RecordReport("rejected")
		return &PolicyError{
			Op:      "report",
			Reason:  string(gateway.ReasonCoverageLow),
			Message: fmt.Sprintf(gateway.MsgCoverageLowFmt, r.Coverage, a.cfg.MinCoverage),
		}
	}

	if a.evaluator != nil {
		verdict, err := a.evaluator.Evaluate(ctx, r, view.RawTexts())
		if err != nil {
			a.metrics.RecordReport("evaluation_failed")
			return fmt.Errorf("evaluate report %s: %w", key, err)
		}
		if !verdict.Approved {
			a.metrics.RecordReport("evaluation_rejected")
			a.logger.Warn().
				Str("protocol", key.String()).
				Float64("fidelity_score", verdict.FidelityScore).
				Strs("issues", verdict.Issues).
				Msg("report failed evaluation")
			return &EvaluationError{Score: verdict.FidelityScore, Issues: verdict.Issues}
		}
		r.ClampConfidence(verdict.FidelityScore)
	}

	res, err := a.client.SubmitReport(ctx, r)
	if err != nil {
		a.metrics.RecordReport("transient")
		return fmt.Errorf("submit report %s: %w", key, err)
	}
	if !res.OK {
		a.metrics.RecordReport("rejected")
		a.logger.Warn().
			Str("protocol", key.String()).
			Str("reason", res.Reason).
			Str("error", res.Error).
			Msg("report rejected")
		return &PolicyError{Op: "report", Reason: res.Reason, Message: res.Error}
	}

	a.metrics.RecordReport("accepted")
	a.logger.Info().
		Str("protocol", key.String()).
		Int("message_count", len(r.MessageIDs)).
		Float64("self_confidence", r.SelfConfidence).
		Msg("report accepted")

	w.reset(a.now())
	return nil
}

// #endregion submit

// #region snapshot

// Snapshot returns the current counters for key.
func (a *Agent) Snapshot(key protocol.Key) (Snapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	w, ok := a.windows[key]
	if !ok {
		return Snapshot{}, false
	}
	return Snapshot{
		Protocol:    key,
		RiskTier:    w.desc.RiskTier,
		Count:       w.count,
		Buffered:    len(w.buffer),
		WindowStart: w.start,
		LastReport:  w.lastReport,
		NeedsReport: a.dueLocked(w),
	}, true
}

// Protocols lists the agent's registered protocol keys in sorted order.
func (a *Agent) Protocols() []protocol.Key {
	a.mu.Lock()
	defer a.mu.Unlock()
	keys := make([]protocol.Key, 0, len(a.windows))
	for k := range a.windows {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// #endregion snapshot
