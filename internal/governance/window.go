package governance

import (
	"fmt"
	"time"

	"github.com/danielpatrickdp/agent-governance/go-controller/internal/protocol"
)

// #region window

// window is the reporting state for one (agent, protocol) pair.
// count always equals len(buffer).
type window struct {
	desc       protocol.Descriptor
	buffer     []protocol.BufferedMessage
	start      time.Time
	lastReport time.Time
	count      int
}

func newWindow(desc protocol.Descriptor, now time.Time) *window {
	return &window{desc: desc, start: now, lastReport: now}
}

func (w *window) append(m protocol.BufferedMessage) {
	w.buffer = append(w.buffer, m)
	w.count++
}

func (w *window) reset(now time.Time) {
	w.buffer = nil
	w.count = 0
	w.start = now
	w.lastReport = now
}

// due reports whether a report must be submitted before the next send.
func (w *window) due(now time.Time, interval time.Duration, maxMessages int) bool {
	if w.count == 0 {
		return false
	}
	if now.Sub(w.lastReport) >= interval {
		return true
	}
	return w.count >= maxMessages
}

// #endregion window

// #region view

// Window is the read-only view of one reporting window handed to a
// ReportBuilder.
type Window struct {
	AgentID    string
	Descriptor protocol.Descriptor
	Messages   []protocol.BufferedMessage
	Start      time.Time
	End        time.Time
}

func (w *window) view(agentID string, end time.Time) Window {
	return Window{
		AgentID:    agentID,
		Descriptor: w.desc,
		Messages:   append([]protocol.BufferedMessage(nil), w.buffer...),
		Start:      w.start,
		End:        end,
	}
}

// RawTexts returns the buffered message contents in send order.
func (w Window) RawTexts() []string {
	out := make([]string, len(w.Messages))
	for i, m := range w.Messages {
		out[i] = m.RawText
	}
	return out
}

// Report returns a report for the window with identity, timestamps and
// message IDs filled in. Builders fill in the rest.
func (w Window) Report() protocol.Report {
	ids := make([]string, len(w.Messages))
	for i, m := range w.Messages {
		ids[i] = m.MessageID
	}
	return protocol.Report{
		AgentID:         w.AgentID,
		ProtocolName:    w.Descriptor.Name,
		ProtocolVersion: w.Descriptor.Version,
		WindowStartTS:   protocol.UnixSeconds(w.Start),
		WindowEndTS:     protocol.UnixSeconds(w.End),
		MessageIDs:      ids,
	}
}

// #endregion view

// #region builder

// ReportBuilder turns a window into a report. It must be a pure function of
// the window.
type ReportBuilder func(w Window) (protocol.Report, error)

// DefaultNotes is attached to reports from DefaultReportBuilder.
const DefaultNotes = "Auto-generated report; subject to audit sampling."

// DefaultReportBuilder claims full coverage with a placeholder summary. Real
// deployments replace it with a builder that decodes the protocol.
func DefaultReportBuilder(w Window) (protocol.Report, error) {
	r := w.Report()
	r.EnglishSummary = fmt.Sprintf(
		"English report for protocol %s v%s. "+
			"Covered %d novel-language messages in this window. "+
			"Translation method: %s. "+
			"Summary: messages contained compressed task state updates and coordination signals; "+
			"no external actions should be taken without explicit tool authorization.",
		w.Descriptor.Name, w.Descriptor.Version, len(w.Messages), w.Descriptor.TranslationMethod,
	)
	r.Coverage = 1.0
	r.SelfConfidence = 0.8
	r.Notes = DefaultNotes
	return r, nil
}

// #endregion builder

// #region snapshot

// Snapshot is a point-in-time copy of a window's counters.
type Snapshot struct {
	Protocol    protocol.Key
	RiskTier    protocol.RiskTier
	Count       int
	Buffered    int
	WindowStart time.Time
	LastReport  time.Time
	NeedsReport bool
}

// #endregion snapshot
