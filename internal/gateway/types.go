package gateway

import (
	"context"
	"time"

	"github.com/danielpatrickdp/agent-governance/go-controller/internal/ledger"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/protocol"
)

// #region reason-code

// ReasonCode is the machine-readable cause of a rejection.
type ReasonCode string

const (
	ReasonNone                  ReasonCode = ""
	ReasonInvalidDescriptor     ReasonCode = "invalid_descriptor"
	ReasonAgentNotRegistered    ReasonCode = "agent_not_registered"
	ReasonProtocolNotRegistered ReasonCode = "protocol_not_registered"
	ReasonInvalidWindow         ReasonCode = "invalid_window"
	ReasonInvalidReport         ReasonCode = "invalid_report"
	ReasonCoverageLow           ReasonCode = "coverage_low"
	ReasonSummaryTooShort       ReasonCode = "summary_too_short"
	ReasonMissingProtocol       ReasonCode = "missing_protocol"
	ReasonReportOverdue         ReasonCode = "report_overdue"
)

// #endregion reason-code

// #region messages

// Rejection messages. These strings are part of the wire contract.
const (
	MsgAgentNotRegistered    = "Agent not registered"
	MsgProtocolNotRegistered = "Protocol not registered"
	MsgMissingProtocol       = "Novel language requires protocol declaration"
	MsgReportOverdue         = "Report overdue: submit English report to continue novel-language messaging"
	MsgSummaryTooShortFmt    = "English summary must be at least %d characters"
	MsgCoverageLowFmt        = "Coverage %.2f below minimum %.2f"
	MsgInvalidWindow         = "Report window ends before it starts"
	MsgInvalidReportFmt      = "%s must be within [0, 1], got %v"
	MsgOperational           = "Gateway operational"
)

// #endregion messages

// #region decision

// Decision is the gateway's verdict: the {ok, error?} envelope plus the reason
// code behind a rejection.
type Decision struct {
	OK      bool       `json:"ok"`
	Error   string     `json:"error,omitempty"`
	Message string     `json:"message,omitempty"`
	Reason  ReasonCode `json:"reason,omitempty"`
}

func accept() Decision {
	return Decision{OK: true}
}

func reject(reason ReasonCode, msg string) Decision {
	return Decision{OK: false, Error: msg, Reason: reason}
}

// #endregion decision

// #region ledger

// Ledger is the append-only log the engine writes accepted reports, accepted
// messages, and every verdict to. *ledger.Store satisfies it.
type Ledger interface {
	AppendReport(ctx context.Context, r protocol.Report, acceptedAt time.Time) (string, error)
	AppendMessage(ctx context.Context, m ledger.MessageEntry) (string, error)
	AppendDecision(ctx context.Context, d ledger.DecisionEntry) (string, error)
}

// #endregion ledger
