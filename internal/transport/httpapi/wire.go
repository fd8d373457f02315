package httpapi

import (
	"net/http"

	"github.com/danielpatrickdp/agent-governance/go-controller/internal/gateway"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/protocol"
)

// Endpoint paths.
const (
	PathRegister = "/register_protocol_for_agent"
	PathReport   = "/report"
	PathSend     = "/send"
	PathHealth   = "/health"
	PathMetrics  = "/metrics"
)

// #region payloads

type registerRequest struct {
	AgentID  string              `json:"agent_id"`
	Protocol protocol.Descriptor `json:"protocol"`
}

type sendRequest struct {
	From     string        `json:"from"`
	To       string        `json:"to"`
	Content  string        `json:"content"`
	Protocol *protocol.Ref `json:"protocol"`
	TS       float64       `json:"ts"`
}

type healthResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// #endregion payloads

// #region status

// statusFor maps a verdict to its HTTP status.
func statusFor(d gateway.Decision) int {
	if d.OK {
		return http.StatusOK
	}
	switch d.Reason {
	case gateway.ReasonAgentNotRegistered, gateway.ReasonProtocolNotRegistered, gateway.ReasonMissingProtocol:
		return http.StatusForbidden
	case gateway.ReasonReportOverdue:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadRequest
	}
}

// #endregion status
