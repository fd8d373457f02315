package gateway

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/danielpatrickdp/agent-governance/go-controller/internal/ledger"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/novelty"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/observability"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/policy"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/protocol"
)

// #region engine-struct

// Engine is the policy authority. It never trusts the caller: every decision
// is re-derived from its own registrations and report timestamps.
type Engine struct {
	cfg        policy.Config
	classifier novelty.Classifier
	ledger     Ledger
	now        func() time.Time
	logger     zerolog.Logger
	metrics    *observability.Metrics

	mu     sync.RWMutex
	agents map[string]*agentState

	// Violations by senders that never registered. Bounded so unknown
	// callers cannot grow engine state.
	strangerMu sync.Mutex
	strangers  *lru.Cache[string, int]
}

// maxUnregisteredSenders bounds how many unregistered senders keep a
// violation count.
const maxUnregisteredSenders = 1024

// agentState is everything the engine knows about one agent. Its mutex is the
// agent's mutual-exclusion domain; unrelated agents never contend.
type agentState struct {
	mu         sync.Mutex
	protocols  map[protocol.Key]registration
	lastReport map[protocol.Key]time.Time
	violations int
}

type registration struct {
	desc protocol.Descriptor
	// firstRegistered anchors freshness until the first report is accepted.
	// Re-registering does not move it.
	firstRegistered time.Time
}

// #endregion engine-struct

// #region options

// Option configures an Engine.
type Option func(*Engine)

// WithClassifier replaces the novelty classifier.
func WithClassifier(c novelty.Classifier) Option {
	return func(e *Engine) { e.classifier = c }
}

// WithLedger replaces the default in-memory ledger.
func WithLedger(l Ledger) Option {
	return func(e *Engine) { e.ledger = l }
}

// WithClock replaces time.Now. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the structured logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// #endregion options

// #region constructor

// NewEngine creates a gateway engine with the given policy.
func NewEngine(cfg policy.Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:        cfg,
		classifier: novelty.Default,
		ledger:     NewMemoryLedger(),
		now:        time.Now,
		logger:     zerolog.Nop(),
		agents:     make(map[string]*agentState),
	}
	// Only fails for a non-positive size.
	e.strangers, _ = lru.New[string, int](maxUnregisteredSenders)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the policy the engine enforces.
func (e *Engine) Config() policy.Config {
	return e.cfg
}

// #endregion constructor

// #region agent-lookup

// agent returns the state for id, creating it when create is set.
// Returns nil for an unknown agent when create is false.
func (e *Engine) agent(id string, create bool) *agentState {
	e.mu.RLock()
	st := e.agents[id]
	e.mu.RUnlock()
	if st != nil || !create {
		return st
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if st = e.agents[id]; st == nil {
		st = &agentState{
			protocols:  make(map[protocol.Key]registration),
			lastReport: make(map[protocol.Key]time.Time),
		}
		e.agents[id] = st
	}
	return st
}

// #endregion agent-lookup

// #region register

// RegisterProtocol upserts desc into the agent's registrations. Malformed
// descriptors are the only rejection.
func (e *Engine) RegisterProtocol(ctx context.Context, agentID string, desc protocol.Descriptor) (Decision, error) {
	key := desc.Key()
	if strings.TrimSpace(agentID) == "" {
		return e.finish(ctx, "register", agentID, key, reject(ReasonInvalidDescriptor, "agent_id must not be empty")), nil
	}
	if err := desc.Validate(); err != nil {
		return e.finish(ctx, "register", agentID, key, reject(ReasonInvalidDescriptor, err.Error())), nil
	}

	st := e.agent(agentID, true)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.violations += e.takeStrangerViolations(agentID)

	reg, exists := st.protocols[key]
	if !exists {
		reg.firstRegistered = e.now()
	}
	reg.desc = desc
	st.protocols[key] = reg

	e.logger.Info().
		Str("agent_id", agentID).
		Str("protocol", key.String()).
		Str("risk_tier", string(desc.RiskTier)).
		Bool("replaced", exists).
		Str("event", "protocol_registered").
		Msg("Protocol registered")

	return e.finish(ctx, "register", agentID, key, accept()), nil
}

// #endregion register

// #region submit-report

// SubmitReport validates a report against the engine's own records. On
// acceptance the report is appended to the ledger and the freshness clock for
// (agent, protocol) restarts. A ledger failure is returned as an error and
// leaves the freshness clock untouched.
func (e *Engine) SubmitReport(ctx context.Context, r protocol.Report) (Decision, error) {
	key := r.Key()

	st := e.agent(r.AgentID, false)
	if st == nil {
		e.logReportRejected(r, ReasonAgentNotRegistered)
		return e.finish(ctx, "report", r.AgentID, key, reject(ReasonAgentNotRegistered, MsgAgentNotRegistered)), nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if len(st.protocols) == 0 {
		e.logReportRejected(r, ReasonAgentNotRegistered)
		return e.finish(ctx, "report", r.AgentID, key, reject(ReasonAgentNotRegistered, MsgAgentNotRegistered)), nil
	}
	if _, ok := st.protocols[key]; !ok {
		e.logReportRejected(r, ReasonProtocolNotRegistered)
		return e.finish(ctx, "report", r.AgentID, key, reject(ReasonProtocolNotRegistered, MsgProtocolNotRegistered)), nil
	}

	if veto := e.vetoReport(r); !veto.OK {
		e.logReportRejected(r, veto.Reason)
		return e.finish(ctx, "report", r.AgentID, key, veto), nil
	}

	now := e.now()
	if _, err := e.ledger.AppendReport(ctx, r, now); err != nil {
		return Decision{}, fmt.Errorf("append report: %w", err)
	}
	st.lastReport[key] = now

	e.logger.Info().
		Str("agent_id", r.AgentID).
		Str("protocol", key.String()).
		Str("event", "report_accepted").
		Int("message_count", len(r.MessageIDs)).
		Float64("coverage", r.Coverage).
		Float64("self_confidence", r.SelfConfidence).
		Msg("Report accepted")

	return e.finish(ctx, "report", r.AgentID, key, accept()), nil
}

// vetoReport runs the content checks that do not depend on registrations.
func (e *Engine) vetoReport(r protocol.Report) Decision {
	if r.WindowEndTS < r.WindowStartTS {
		return reject(ReasonInvalidWindow, MsgInvalidWindow)
	}
	if !isFraction(r.Coverage) {
		return reject(ReasonInvalidReport, fmt.Sprintf(MsgInvalidReportFmt, "coverage", r.Coverage))
	}
	if !isFraction(r.SelfConfidence) {
		return reject(ReasonInvalidReport, fmt.Sprintf(MsgInvalidReportFmt, "self_confidence", r.SelfConfidence))
	}
	if r.Coverage < e.cfg.MinCoverage {
		return reject(ReasonCoverageLow, fmt.Sprintf(MsgCoverageLowFmt, r.Coverage, e.cfg.MinCoverage))
	}
	if len(strings.TrimSpace(r.EnglishSummary)) < e.cfg.MinSummaryLength {
		return reject(ReasonSummaryTooShort, fmt.Sprintf(MsgSummaryTooShortFmt, e.cfg.MinSummaryLength))
	}
	return accept()
}

// isFraction rejects NaN and anything outside [0, 1].
func isFraction(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

func (e *Engine) logReportRejected(r protocol.Report, reason ReasonCode) {
	e.logger.Warn().
		Str("agent_id", r.AgentID).
		Str("protocol", r.Key().String()).
		Str("event", "report_rejected").
		Str("reason", string(reason)).
		Float64("coverage", r.Coverage).
		Msg("Report rejected")
}

// #endregion submit-report

// #region send-message

// SendMessage gates one outbound message. The content is re-classified here;
// the sender's own classification is never consulted. ref may be nil.
func (e *Engine) SendMessage(ctx context.Context, from, to, content string, ref *protocol.Ref) (Decision, error) {
	if e.classifier.Ordinary(content) {
		if _, err := e.ledger.AppendMessage(ctx, ledger.MessageEntry{
			From: from, To: to, Content: content, Kind: ledger.KindEnglish, AcceptedAt: e.now(),
		}); err != nil {
			return Decision{}, fmt.Errorf("append message: %w", err)
		}
		e.logger.Info().
			Str("from", from).
			Str("to", to).
			Str("event", "msg_accepted").
			Str("kind", ledger.KindEnglish).
			Msg("English message accepted")
		return e.finish(ctx, "send", from, protocol.Key{}, accept()), nil
	}

	st := e.agent(from, false)
	if st == nil {
		e.recordStrangerViolation(from)
		if ref == nil {
			e.logSendRejected(from, "", ReasonMissingProtocol, 0)
			return e.finish(ctx, "send", from, protocol.Key{}, reject(ReasonMissingProtocol, MsgMissingProtocol)), nil
		}
		e.logSendRejected(from, ref.Key().String(), ReasonAgentNotRegistered, 0)
		return e.finish(ctx, "send", from, ref.Key(), reject(ReasonAgentNotRegistered, MsgProtocolNotRegistered)), nil
	}
	if ref == nil {
		st.mu.Lock()
		st.violations++
		st.mu.Unlock()
		e.logSendRejected(from, "", ReasonMissingProtocol, 0)
		return e.finish(ctx, "send", from, protocol.Key{}, reject(ReasonMissingProtocol, MsgMissingProtocol)), nil
	}

	key := ref.Key()
	st.mu.Lock()
	defer st.mu.Unlock()

	reg, ok := st.protocols[key]
	if !ok {
		st.violations++
		reason := ReasonProtocolNotRegistered
		if len(st.protocols) == 0 {
			reason = ReasonAgentNotRegistered
		}
		e.logSendRejected(from, key.String(), reason, 0)
		return e.finish(ctx, "send", from, key, reject(reason, MsgProtocolNotRegistered)), nil
	}

	now := e.now()
	last, reported := st.lastReport[key]
	if !reported {
		last = reg.firstRegistered
	}
	interval := e.cfg.CadenceFor(reg.desc.RiskTier).Interval.Duration
	if since := now.Sub(last); since > interval {
		st.violations++
		e.logSendRejected(from, key.String(), ReasonReportOverdue, since)
		return e.finish(ctx, "send", from, key, reject(ReasonReportOverdue, MsgReportOverdue)), nil
	}

	if _, err := e.ledger.AppendMessage(ctx, ledger.MessageEntry{
		From: from, To: to, Content: content, Kind: ledger.KindNovel, Protocol: key.String(), AcceptedAt: now,
	}); err != nil {
		return Decision{}, fmt.Errorf("append message: %w", err)
	}

	e.logger.Info().
		Str("from", from).
		Str("to", to).
		Str("event", "msg_accepted").
		Str("kind", ledger.KindNovel).
		Str("protocol", key.String()).
		Msg("Novel message accepted")

	return e.finish(ctx, "send", from, key, accept()), nil
}

func (e *Engine) logSendRejected(from, key string, reason ReasonCode, since time.Duration) {
	ev := e.logger.Warn().
		Str("from", from).
		Str("event", "msg_rejected").
		Str("reason", string(reason))
	if key != "" {
		ev = ev.Str("protocol", key)
	}
	if since > 0 {
		ev = ev.Dur("since_report", since)
	}
	ev.Msg("Message rejected")
}

// #endregion send-message

// #region queries

// Health reports that the engine is serving.
func (e *Engine) Health() Decision {
	return Decision{OK: true, Message: MsgOperational}
}

// Violations returns how many private-language sends from agentID were refused.
func (e *Engine) Violations(agentID string) int {
	st := e.agent(agentID, false)
	if st == nil {
		e.strangerMu.Lock()
		defer e.strangerMu.Unlock()
		n, _ := e.strangers.Peek(agentID)
		return n
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.violations
}

// Registered reports whether agentID currently has key registered, and the
// descriptor on record.
func (e *Engine) Registered(agentID string, key protocol.Key) (protocol.Descriptor, bool) {
	st := e.agent(agentID, false)
	if st == nil {
		return protocol.Descriptor{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	reg, ok := st.protocols[key]
	return reg.desc, ok
}

// LastReport returns when the gateway last accepted a report for (agentID, key).
func (e *Engine) LastReport(agentID string, key protocol.Key) (time.Time, bool) {
	st := e.agent(agentID, false)
	if st == nil {
		return time.Time{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	t, ok := st.lastReport[key]
	return t, ok
}

// #endregion queries

// #region strangers

func (e *Engine) recordStrangerViolation(agentID string) {
	e.strangerMu.Lock()
	defer e.strangerMu.Unlock()
	n, _ := e.strangers.Get(agentID)
	e.strangers.Add(agentID, n+1)
}

// takeStrangerViolations moves any count kept for agentID before it
// registered into its agent state.
func (e *Engine) takeStrangerViolations(agentID string) int {
	e.strangerMu.Lock()
	defer e.strangerMu.Unlock()
	n, ok := e.strangers.Peek(agentID)
	if !ok {
		return 0
	}
	e.strangers.Remove(agentID)
	return n
}

// #endregion strangers

// #region finish

// finish records a verdict in metrics and the decision log. The decision log
// is an audit trail; failing to write it is logged but does not change the
// verdict.
func (e *Engine) finish(ctx context.Context, op, agentID string, key protocol.Key, d Decision) Decision {
	e.metrics.RecordDecision(op, d.OK, string(d.Reason))

	var proto string
	if key.Name != "" {
		proto = key.String()
	}
	if _, err := e.ledger.AppendDecision(ctx, ledger.DecisionEntry{
		Op:        op,
		AgentID:   agentID,
		Protocol:  proto,
		OK:        d.OK,
		Reason:    string(d.Reason),
		Error:     d.Error,
		CreatedAt: e.now(),
	}); err != nil {
		e.logger.Error().Err(err).Str("op", op).Str("agent_id", agentID).Msg("decision log write failed")
	}
	return d
}

// #endregion finish
