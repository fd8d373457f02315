package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/danielpatrickdp/agent-governance/go-controller/internal/ledger"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/protocol"
)

// MemoryLedger keeps the audit log in process memory. It is the engine's
// default when no SQLite ledger is configured.
type MemoryLedger struct {
	mu        sync.Mutex
	seq       int
	reports   []ledger.ReportEntry
	messages  []ledger.MessageEntry
	decisions []ledger.DecisionEntry
}

// NewMemoryLedger returns an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

func (m *MemoryLedger) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

// AppendReport implements Ledger.
func (m *MemoryLedger) AppendReport(_ context.Context, r protocol.Report, acceptedAt time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.MessageIDs = append([]string(nil), r.MessageIDs...)
	id := m.nextID("report")
	m.reports = append(m.reports, ledger.ReportEntry{ID: id, Report: r, AcceptedAt: acceptedAt})
	return id, nil
}

// AppendMessage implements Ledger.
func (m *MemoryLedger) AppendMessage(_ context.Context, e ledger.MessageEntry) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = m.nextID("message")
	m.messages = append(m.messages, e)
	return e.ID, nil
}

// AppendDecision implements Ledger.
func (m *MemoryLedger) AppendDecision(_ context.Context, d ledger.DecisionEntry) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.ID = m.nextID("decision")
	m.decisions = append(m.decisions, d)
	return d.ID, nil
}

// Reports returns a copy of the accepted reports, oldest first.
func (m *MemoryLedger) Reports() []ledger.ReportEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ledger.ReportEntry(nil), m.reports...)
}

// Messages returns a copy of the accepted messages, oldest first.
func (m *MemoryLedger) Messages() []ledger.MessageEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ledger.MessageEntry(nil), m.messages...)
}

// Decisions returns a copy of every recorded verdict, oldest first.
func (m *MemoryLedger) Decisions() []ledger.DecisionEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ledger.DecisionEntry(nil), m.decisions...)
}
