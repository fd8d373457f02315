package ledger

import (
	"time"

	"github.com/danielpatrickdp/agent-governance/go-controller/internal/protocol"
)

// #region report-entry
// ReportEntry is a row in the reports table: an accepted report.
type ReportEntry struct {
	ID         string
	Report     protocol.Report
	AcceptedAt time.Time
}
// #endregion report-entry

// #region message-entry
// MessageEntry is a row in the messages table: a send the gateway accepted.
type MessageEntry struct {
	ID         string
	From       string
	To         string
	Content    string
	Kind       string // "english" | "novel"
	Protocol   string // "name:version", empty for english
	AcceptedAt time.Time
}

const (
	KindEnglish = "english"
	KindNovel   = "novel"
)
// #endregion message-entry

// #region decision-entry
// DecisionEntry is a row in the decisions table: every gateway verdict,
// accepted or not.
type DecisionEntry struct {
	ID        string
	Op        string // "register" | "report" | "send"
	AgentID   string
	Protocol  string
	OK        bool
	Reason    string
	Error     string
	CreatedAt time.Time
}
// #endregion decision-entry

// #region counts
// Counts summarizes table sizes.
type Counts struct {
	Reports   int
	Messages  int
	Decisions int
	Rejected  int
}
// #endregion counts
