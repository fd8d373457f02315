package governance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/agent-governance/go-controller/internal/fidelity"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/gateway"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/policy"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/protocol"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/transport"
)

// #region fixtures

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recorder wraps a Client and records every call. Reports can be failed on
// demand.
type recorder struct {
	next transport.Client

	mu           sync.Mutex
	ops          []string
	reports      []protocol.Report
	sends        []*protocol.Ref
	rejectReport string
	reportErr    error
}

func (r *recorder) RegisterProtocol(ctx context.Context, agentID string, desc protocol.Descriptor) (transport.Result, error) {
	r.mu.Lock()
	r.ops = append(r.ops, "register")
	r.mu.Unlock()
	return r.next.RegisterProtocol(ctx, agentID, desc)
}

func (r *recorder) SubmitReport(ctx context.Context, rep protocol.Report) (transport.Result, error) {
	r.mu.Lock()
	r.ops = append(r.ops, "report")
	reject, rerr := r.rejectReport, r.reportErr
	r.mu.Unlock()
	if rerr != nil {
		return transport.Result{}, rerr
	}
	if reject != "" {
		return transport.Result{OK: false, Error: reject}, nil
	}
	res, err := r.next.SubmitReport(ctx, rep)
	if err == nil && res.OK {
		r.mu.Lock()
		r.reports = append(r.reports, rep)
		r.mu.Unlock()
	}
	return res, err
}

func (r *recorder) SendMessage(ctx context.Context, agentID, to, content string, ref *protocol.Ref) (transport.Result, error) {
	r.mu.Lock()
	r.ops = append(r.ops, "send")
	r.sends = append(r.sends, ref)
	r.mu.Unlock()
	return r.next.SendMessage(ctx, agentID, to, content, ref)
}

func (r *recorder) Ops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ops...)
}

func (r *recorder) Reports() []protocol.Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Report(nil), r.reports...)
}

func (r *recorder) count(op string) int {
	n := 0
	for _, o := range r.Ops() {
		if o == op {
			n++
		}
	}
	return n
}

type harness struct {
	clock  *fakeClock
	engine *gateway.Engine
	rec    *recorder
}

func newHarness(gatewayCfg policy.Config) *harness {
	clock := newFakeClock()
	engine := gateway.NewEngine(gatewayCfg, gateway.WithClock(clock.Now))
	return &harness{
		clock:  clock,
		engine: engine,
		rec:    &recorder{next: transport.NewLocal(engine)},
	}
}

func (h *harness) agent(id string, opts ...Option) *Agent {
	opts = append([]Option{WithClock(h.clock.Now)}, opts...)
	return New(id, h.rec, opts...)
}

func descriptor(name string, tier protocol.RiskTier) protocol.Descriptor {
	return protocol.Descriptor{
		Name:              name,
		Version:           "1.0",
		Purpose:           "task coordination",
		Scope:             "fleet",
		RiskTier:          tier,
		TranslationMethod: "lookup table",
	}
}

func private(i int) string {
	return fmt.Sprintf("CMD|seq=%04d;st=0x01;rt=2;tk=77;px=9", i)
}

func agentConfig(interval time.Duration, n int) policy.Config {
	cfg := policy.DefaultConfig()
	cfg.ReportInterval = policy.Duration{Duration: interval}
	cfg.ReportEveryN = n
	return cfg
}

func mustRegister(t *testing.T, a *Agent, desc protocol.Descriptor) {
	t.Helper()
	if err := a.Register(context.Background(), desc); err != nil {
		t.Fatalf("register: %v", err)
	}
}

func mustSend(t *testing.T, a *Agent, content string) transport.Result {
	t.Helper()
	res, err := a.Send(context.Background(), "peer", content)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	return res
}

// #endregion fixtures

func TestCountThresholdTriggersOneReportBeforeForward(t *testing.T) {
	h := newHarness(policy.DefaultConfig())
	a := h.agent("agent-a", WithConfig(agentConfig(time.Hour, 25)))
	desc := descriptor("P", protocol.RiskMedium)
	mustRegister(t, a, desc)

	for i := 1; i <= 24; i++ {
		if res := mustSend(t, a, private(i)); !res.OK {
			t.Fatalf("send %d rejected: %s", i, res.Error)
		}
	}
	if n := h.rec.count("report"); n != 0 {
		t.Fatalf("reports after 24 sends = %d, want 0", n)
	}

	if res := mustSend(t, a, private(25)); !res.OK {
		t.Fatalf("send 25 rejected: %s", res.Error)
	}
	ops := h.rec.Ops()
	if n := h.rec.count("report"); n != 1 {
		t.Fatalf("reports = %d, want 1", n)
	}
	if ops[len(ops)-2] != "report" || ops[len(ops)-1] != "send" {
		t.Fatalf("report must precede forward, got tail %v", ops[len(ops)-2:])
	}
	if got := len(h.rec.Reports()[0].MessageIDs); got != 25 {
		t.Fatalf("report covers %d messages, want 25", got)
	}
	snap, _ := a.Snapshot(desc.Key())
	if snap.Count != 0 || snap.Buffered != 0 {
		t.Fatalf("window not reset: %+v", snap)
	}
}

func TestFlushSingleMessage(t *testing.T) {
	h := newHarness(policy.DefaultConfig())
	a := h.agent("agent-a")
	desc := descriptor("P", protocol.RiskMedium)
	mustRegister(t, a, desc)
	mustSend(t, a, private(1))

	if err := a.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	reports := h.rec.Reports()
	if len(reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(reports))
	}
	r := reports[0]
	if len(r.MessageIDs) != 1 || r.Coverage != 1.0 || r.Notes != DefaultNotes {
		t.Fatalf("unexpected report %+v", r)
	}
	if r.AgentID != "agent-a" || r.ProtocolName != "P" || r.ProtocolVersion != "1.0" {
		t.Fatalf("unexpected identity %+v", r)
	}
	if snap, _ := a.Snapshot(desc.Key()); snap.Buffered != 0 {
		t.Fatalf("buffer not empty: %+v", snap)
	}

	// Flushing an empty window is a no-op.
	if err := a.Flush(context.Background()); err != nil {
		t.Fatalf("second flush: %v", err)
	}
	if n := h.rec.count("report"); n != 1 {
		t.Fatalf("reports = %d after empty flush, want 1", n)
	}
}

func TestPrivateWithoutProtocolDenied(t *testing.T) {
	h := newHarness(policy.DefaultConfig())
	a := h.agent("agent-a")

	_, err := a.Send(context.Background(), "peer", private(1))
	if !errors.Is(err, ErrPermission) {
		t.Fatalf("expected ErrPermission, got %v", err)
	}
	if ops := h.rec.Ops(); len(ops) != 0 {
		t.Fatalf("gateway contacted: %v", ops)
	}

	_, err = a.SendWith(context.Background(), "peer", private(1), protocol.Key{Name: "Q", Version: "1"})
	if !errors.Is(err, ErrPermission) {
		t.Fatalf("SendWith: expected ErrPermission, got %v", err)
	}
}

func TestOrdinaryPassesThrough(t *testing.T) {
	h := newHarness(policy.DefaultConfig())
	a := h.agent("agent-a")
	desc := descriptor("P", protocol.RiskMedium)
	mustRegister(t, a, desc)

	res := mustSend(t, a, "Hello, how are you today?")
	if !res.OK {
		t.Fatalf("english rejected: %s", res.Error)
	}
	if h.rec.sends[0] != nil {
		t.Fatalf("english forwarded with protocol %+v", h.rec.sends[0])
	}
	if snap, _ := a.Snapshot(desc.Key()); snap.Count != 0 {
		t.Fatalf("english changed window: %+v", snap)
	}

	// Unregistered agents can still speak English.
	b := h.agent("agent-b")
	if res, err := b.Send(context.Background(), "peer", "   "); err != nil || !res.OK {
		t.Fatalf("whitespace send: %+v %v", res, err)
	}
}

func TestCountMatchesBuffer(t *testing.T) {
	h := newHarness(policy.DefaultConfig())
	a := h.agent("agent-a", WithConfig(agentConfig(time.Hour, 7)))
	desc := descriptor("P", protocol.RiskMedium)
	mustRegister(t, a, desc)

	for i := 1; i <= 20; i++ {
		mustSend(t, a, private(i))
		snap, _ := a.Snapshot(desc.Key())
		if snap.Count != snap.Buffered {
			t.Fatalf("after send %d: count %d != buffered %d", i, snap.Count, snap.Buffered)
		}
	}
	// 20 sends at threshold 7: reports at 7 and 14, 6 left.
	if snap, _ := a.Snapshot(desc.Key()); snap.Count != 6 {
		t.Fatalf("count = %d, want 6", snap.Count)
	}
}

func TestNeedsReportMonotonic(t *testing.T) {
	h := newHarness(agentConfig(time.Hour, 1000))
	a := h.agent("agent-a", WithConfig(agentConfig(60*time.Second, 25)))
	desc := descriptor("P", protocol.RiskMedium)
	mustRegister(t, a, desc)

	if a.NeedsReport(desc.Key()) {
		t.Fatal("empty window should not need a report")
	}
	h.clock.Advance(90 * time.Second)
	if a.NeedsReport(desc.Key()) {
		t.Fatal("empty window should not need a report even when stale")
	}
	h.clock.Advance(-90 * time.Second)

	mustSend(t, a, private(1))
	steps := []struct {
		advance time.Duration
		want    bool
	}{
		{0, false},
		{30 * time.Second, false},
		{29 * time.Second, false},
		{time.Second, true},
		{time.Hour, true},
	}
	for i, s := range steps {
		h.clock.Advance(s.advance)
		if got := a.NeedsReport(desc.Key()); got != s.want {
			t.Fatalf("step %d: NeedsReport = %v, want %v", i, got, s.want)
		}
	}
	if a.NeedsReport(protocol.Key{Name: "nope", Version: "0"}) {
		t.Fatal("unknown key should not need a report")
	}
}

func TestRejectedReportLeavesStateUnchanged(t *testing.T) {
	h := newHarness(policy.DefaultConfig())
	a := h.agent("agent-a", WithConfig(agentConfig(time.Hour, 3)))
	desc := descriptor("P", protocol.RiskMedium)
	mustRegister(t, a, desc)
	mustSend(t, a, private(1))
	mustSend(t, a, private(2))
	before, _ := a.Snapshot(desc.Key())

	h.rec.rejectReport = "Protocol not registered"
	_, err := a.Send(context.Background(), "peer", private(3))
	var pe *PolicyError
	if !errors.As(err, &pe) || pe.Op != "report" {
		t.Fatalf("expected report PolicyError, got %v", err)
	}
	after, _ := a.Snapshot(desc.Key())
	if after.Count != 3 || after.Buffered != 3 {
		t.Fatalf("message should stay buffered: %+v", after)
	}
	if !after.LastReport.Equal(before.LastReport) || !after.WindowStart.Equal(before.WindowStart) {
		t.Fatal("timestamps changed on rejection")
	}
	if n := h.rec.count("send"); n != 2 {
		t.Fatalf("forwarded %d messages, want 2", n)
	}

	// Once the gateway accepts again the backlog is reported in one go.
	h.rec.rejectReport = ""
	if err := a.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := len(h.rec.Reports()[0].MessageIDs); got != 3 {
		t.Fatalf("report covers %d, want 3", got)
	}
}

func TestTransientReportFailure(t *testing.T) {
	h := newHarness(policy.DefaultConfig())
	a := h.agent("agent-a")
	desc := descriptor("P", protocol.RiskMedium)
	mustRegister(t, a, desc)
	mustSend(t, a, private(1))

	h.rec.reportErr = transport.Transient("report", context.DeadlineExceeded)
	err := a.Flush(context.Background())
	if !transport.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if snap, _ := a.Snapshot(desc.Key()); snap.Buffered != 1 {
		t.Fatalf("buffer changed on transient failure: %+v", snap)
	}
}

func TestLocalCoverageCheck(t *testing.T) {
	h := newHarness(policy.DefaultConfig())
	partial := func(w Window) (protocol.Report, error) {
		r, err := DefaultReportBuilder(w)
		r.Coverage = 0.5
		return r, err
	}
	a := h.agent("agent-a", WithReportBuilder(partial))
	mustRegister(t, a, descriptor("P", protocol.RiskMedium))
	mustSend(t, a, private(1))

	err := a.Flush(context.Background())
	var pe *PolicyError
	if !errors.As(err, &pe) || pe.Reason != string(gateway.ReasonCoverageLow) {
		t.Fatalf("expected coverage PolicyError, got %v", err)
	}
	if n := h.rec.count("report"); n != 0 {
		t.Fatal("low-coverage report was submitted")
	}
}

func TestBuilderError(t *testing.T) {
	h := newHarness(policy.DefaultConfig())
	boom := errors.New("decoder offline")
	a := h.agent("agent-a", WithReportBuilder(func(Window) (protocol.Report, error) {
		return protocol.Report{}, boom
	}))
	desc := descriptor("P", protocol.RiskMedium)
	mustRegister(t, a, desc)
	mustSend(t, a, private(1))

	if err := a.SubmitAndReset(context.Background(), desc.Key()); !errors.Is(err, boom) {
		t.Fatalf("expected builder error, got %v", err)
	}
	if snap, _ := a.Snapshot(desc.Key()); snap.Buffered != 1 {
		t.Fatalf("buffer changed: %+v", snap)
	}
}

func TestEvaluatorRejection(t *testing.T) {
	h := newHarness(policy.DefaultConfig())
	ev := fidelity.Static{Result: fidelity.Result{FidelityScore: 0.2, Issues: []string{"summary_too_short"}}}
	a := h.agent("agent-a", WithEvaluator(ev))
	desc := descriptor("P", protocol.RiskMedium)
	mustRegister(t, a, desc)
	mustSend(t, a, private(1))

	err := a.Flush(context.Background())
	if !errors.Is(err, ErrEvaluation) {
		t.Fatalf("expected ErrEvaluation, got %v", err)
	}
	var ee *EvaluationError
	if !errors.As(err, &ee) || len(ee.Issues) != 1 {
		t.Fatalf("expected EvaluationError with issues, got %v", err)
	}
	if n := h.rec.count("report"); n != 0 {
		t.Fatal("rejected report reached the gateway")
	}
	if snap, _ := a.Snapshot(desc.Key()); snap.Buffered != 1 {
		t.Fatalf("buffer changed: %+v", snap)
	}
}

func TestEvaluatorClampsConfidence(t *testing.T) {
	tests := []struct {
		name  string
		score float64
		want  float64
	}{
		{"lower score clamps", 0.5, 0.5},
		{"placeholder above default", 0.85, 0.8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(policy.DefaultConfig())
			ev := fidelity.Static{Result: fidelity.Result{FidelityScore: tt.score, Approved: true}}
			a := h.agent("agent-a", WithEvaluator(ev))
			mustRegister(t, a, descriptor("P", protocol.RiskMedium))
			mustSend(t, a, private(1))
			if err := a.Flush(context.Background()); err != nil {
				t.Fatalf("flush: %v", err)
			}
			if got := h.rec.Reports()[0].SelfConfidence; got != tt.want {
				t.Fatalf("self_confidence = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTieredCadence(t *testing.T) {
	h := newHarness(policy.TieredConfig())
	a := h.agent("agent-a", WithConfig(policy.TieredConfig()))
	crit := descriptor("C", protocol.RiskCritical)
	low := descriptor("L", protocol.RiskLow)
	mustRegister(t, a, crit)
	mustRegister(t, a, low)

	for i := 1; i <= 5; i++ {
		if _, err := a.SendWith(context.Background(), "peer", private(i), crit.Key()); err != nil {
			t.Fatalf("critical send %d: %v", i, err)
		}
		if _, err := a.SendWith(context.Background(), "peer", private(100+i), low.Key()); err != nil {
			t.Fatalf("low send %d: %v", i, err)
		}
	}
	reports := h.rec.Reports()
	if len(reports) != 1 || reports[0].ProtocolName != "C" {
		t.Fatalf("expected one critical report, got %d", len(reports))
	}
	if snap, _ := a.Snapshot(low.Key()); snap.Count != 5 || snap.NeedsReport {
		t.Fatalf("low window: %+v", snap)
	}

	h.clock.Advance(time.Second)
	if _, err := a.SendWith(context.Background(), "peer", private(9), crit.Key()); err != nil {
		t.Fatalf("critical send: %v", err)
	}
	h.clock.Advance(4 * time.Second)
	if !a.NeedsReport(crit.Key()) {
		t.Fatal("critical window should be due after 5s")
	}
	if a.NeedsReport(low.Key()) {
		t.Fatal("low window should not be due after 5s")
	}
}

func TestMultiProtocolWindowsIndependent(t *testing.T) {
	h := newHarness(policy.DefaultConfig())
	a := h.agent("agent-a")
	p := descriptor("P", protocol.RiskMedium)
	q := descriptor("Q", protocol.RiskMedium)
	mustRegister(t, a, p)
	mustRegister(t, a, q)

	if active, _ := a.Active(); active != q.Key() {
		t.Fatalf("active = %s, want Q", active)
	}
	a.SendWith(context.Background(), "peer", private(1), p.Key())
	a.SendWith(context.Background(), "peer", private(2), p.Key())
	mustSend(t, a, private(3))

	if err := a.FlushProtocol(context.Background(), p.Key()); err != nil {
		t.Fatalf("flush P: %v", err)
	}
	reports := h.rec.Reports()
	if len(reports) != 1 || reports[0].ProtocolName != "P" || len(reports[0].MessageIDs) != 2 {
		t.Fatalf("unexpected reports %+v", reports)
	}
	if snap, _ := a.Snapshot(q.Key()); snap.Count != 1 {
		t.Fatalf("Q window disturbed: %+v", snap)
	}
	if err := a.FlushProtocol(context.Background(), protocol.Key{Name: "Z", Version: "1"}); !errors.Is(err, ErrUnknownProtocol) {
		t.Fatalf("expected ErrUnknownProtocol, got %v", err)
	}
}

func TestReRegisterFlushesFirst(t *testing.T) {
	h := newHarness(policy.DefaultConfig())
	a := h.agent("agent-a")
	desc := descriptor("P", protocol.RiskMedium)
	mustRegister(t, a, desc)
	mustSend(t, a, private(1))
	mustSend(t, a, private(2))

	h.clock.Advance(10 * time.Second)
	updated := desc
	updated.RiskTier = protocol.RiskHigh
	mustRegister(t, a, updated)

	reports := h.rec.Reports()
	if len(reports) != 1 || len(reports[0].MessageIDs) != 2 {
		t.Fatalf("expected flush of 2 messages, got %+v", reports)
	}
	snap, _ := a.Snapshot(desc.Key())
	if snap.Count != 0 || snap.RiskTier != protocol.RiskHigh {
		t.Fatalf("unexpected window after re-register: %+v", snap)
	}
	if !snap.LastReport.Equal(h.clock.Now()) {
		t.Fatal("re-register should restart the window")
	}
}

func TestRegisterRejectedKeepsState(t *testing.T) {
	h := newHarness(policy.DefaultConfig())
	a := h.agent("agent-a")

	bad := descriptor("P", "extreme")
	if err := a.Register(context.Background(), bad); !errors.Is(err, protocol.ErrInvalidDescriptor) {
		t.Fatalf("expected ErrInvalidDescriptor, got %v", err)
	}
	if _, ok := a.Active(); ok {
		t.Fatal("failed registration set an active protocol")
	}
	if len(h.rec.Ops()) != 0 {
		t.Fatal("invalid descriptor reached the gateway")
	}
}

func TestGatewayFreshnessIsIndependent(t *testing.T) {
	h := newHarness(policy.DefaultConfig())
	a := h.agent("agent-a", WithConfig(agentConfig(time.Hour, 1000)))
	desc := descriptor("P", protocol.RiskMedium)
	mustRegister(t, a, desc)

	h.clock.Advance(61 * time.Second)
	if a.NeedsReport(desc.Key()) {
		t.Fatal("agent should think it has time left")
	}
	res := mustSend(t, a, private(1))
	if res.OK || res.Reason != string(gateway.ReasonReportOverdue) {
		t.Fatalf("expected report_overdue, got %+v", res)
	}
}

func TestReRegisterAfterIdleReportsOnNextSend(t *testing.T) {
	h := newHarness(policy.DefaultConfig())
	a := h.agent("agent-a")
	desc := descriptor("P", protocol.RiskMedium)
	mustRegister(t, a, desc)

	h.clock.Advance(100 * time.Second)
	mustRegister(t, a, desc)

	for i := 1; i <= 3; i++ {
		res := mustSend(t, a, private(i))
		if !res.OK {
			t.Fatalf("send %d rejected: %+v", i, res)
		}
	}
	reports := h.rec.Reports()
	if len(reports) != 1 || len(reports[0].MessageIDs) != 1 {
		t.Fatalf("expected one report covering the first send, got %+v", reports)
	}
	snap, _ := a.Snapshot(desc.Key())
	if snap.Count != 2 {
		t.Fatalf("buffered = %d, want 2", snap.Count)
	}
	if got := h.engine.Violations("agent-a"); got != 0 {
		t.Fatalf("violations = %d, want 0", got)
	}
}

// A send the gateway refuses stays buffered and is listed in the next report.
func TestRejectedSendStaysBuffered(t *testing.T) {
	h := newHarness(policy.DefaultConfig())
	a := h.agent("agent-a", WithConfig(agentConfig(time.Hour, 1000)))
	desc := descriptor("P", protocol.RiskMedium)
	mustRegister(t, a, desc)

	h.clock.Advance(61 * time.Second)
	if res := mustSend(t, a, private(1)); res.OK {
		t.Fatal("expected the gateway to refuse an overdue send")
	}
	snap, _ := a.Snapshot(desc.Key())
	if snap.Count != 1 {
		t.Fatalf("buffered = %d, want 1", snap.Count)
	}

	if err := a.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	reports := h.rec.Reports()
	if len(reports) != 1 || len(reports[0].MessageIDs) != 1 {
		t.Fatalf("expected the refused message in the report, got %+v", reports)
	}
	if res := mustSend(t, a, private(2)); !res.OK {
		t.Fatalf("send after report rejected: %+v", res)
	}
}

func TestConcurrentAgentsAndSends(t *testing.T) {
	h := newHarness(agentConfig(time.Hour, 1000))
	const agents, workers, perWorker = 6, 4, 25

	g, ctx := errgroup.WithContext(context.Background())
	fleet := make([]*Agent, agents)
	for i := range fleet {
		fleet[i] = h.agent(fmt.Sprintf("agent-%d", i), WithConfig(agentConfig(time.Hour, 10)))
		mustRegister(t, fleet[i], descriptor("P", protocol.RiskMedium))
	}
	for _, a := range fleet {
		for w := 0; w < workers; w++ {
			a, w := a, w
			g.Go(func() error {
				for j := 0; j < perWorker; j++ {
					res, err := a.Send(ctx, "peer", private(w*1000+j))
					if err != nil {
						return err
					}
					if !res.OK {
						return fmt.Errorf("%s rejected: %s", a.ID(), res.Error)
					}
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent sends: %v", err)
	}

	reported := make(map[string]int)
	for _, r := range h.rec.Reports() {
		reported[r.AgentID] += len(r.MessageIDs)
	}
	for _, a := range fleet {
		snap, _ := a.Snapshot(protocol.Key{Name: "P", Version: "1.0"})
		if snap.Count != snap.Buffered {
			t.Fatalf("%s: count %d != buffered %d", a.ID(), snap.Count, snap.Buffered)
		}
		if total := reported[a.ID()] + snap.Count; total != workers*perWorker {
			t.Fatalf("%s: reported+buffered = %d, want %d", a.ID(), total, workers*perWorker)
		}
	}
}

func TestFlushAggregatesErrors(t *testing.T) {
	h := newHarness(policy.DefaultConfig())
	a := h.agent("agent-a")
	p := descriptor("P", protocol.RiskMedium)
	q := descriptor("Q", protocol.RiskMedium)
	mustRegister(t, a, p)
	mustRegister(t, a, q)
	a.SendWith(context.Background(), "peer", private(1), p.Key())
	a.SendWith(context.Background(), "peer", private(2), q.Key())

	h.rec.rejectReport = "Coverage 0.50 below minimum 0.95"
	err := a.Flush(context.Background())
	if got := len(multierr.Errors(err)); got != 2 {
		t.Fatalf("expected 2 aggregated errors, got %d: %v", got, err)
	}
}

func TestBuildReportDoesNotSubmit(t *testing.T) {
	h := newHarness(policy.DefaultConfig())
	a := h.agent("agent-a")
	desc := descriptor("P", protocol.RiskMedium)
	mustRegister(t, a, desc)
	mustSend(t, a, private(1))

	r, err := a.BuildReport(desc.Key())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(r.MessageIDs) != 1 || r.SelfConfidence != 0.8 || r.WindowEndTS < r.WindowStartTS {
		t.Fatalf("unexpected report %+v", r)
	}
	if len(r.EnglishSummary) < policy.DefaultMinSummaryLength {
		t.Fatalf("default summary too short: %q", r.EnglishSummary)
	}
	if n := h.rec.count("report"); n != 0 {
		t.Fatal("BuildReport submitted")
	}
	if _, err := a.BuildReport(protocol.Key{Name: "Z", Version: "1"}); !errors.Is(err, ErrUnknownProtocol) {
		t.Fatalf("expected ErrUnknownProtocol, got %v", err)
	}
}
