package monitoring

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// HeaderGatewayMeta carries caller correlation ids as
// "external-agent-id/execution-id/session-id". Any segment may be empty.
const HeaderGatewayMeta = "X-Gateway-Meta"

// Correlation holds caller-supplied ids. The gateway threads them into
// logs and telemetry and never interprets them.
type Correlation struct {
	ExternalAgentID string `json:"external_agent_id,omitempty"`
	ExecutionID     string `json:"execution_id,omitempty"`
	SessionID       string `json:"session_id,omitempty"`
}

// ParseCorrelation splits an X-Gateway-Meta value. Missing trailing
// segments stay empty; anything after the third separator belongs to the
// session id.
func ParseCorrelation(value string) Correlation {
	value = strings.TrimSpace(value)
	if value == "" {
		return Correlation{}
	}
	parts := strings.SplitN(value, "/", 3)
	for len(parts) < 3 {
		parts = append(parts, "")
	}
	return Correlation{
		ExternalAgentID: strings.TrimSpace(parts[0]),
		ExecutionID:     strings.TrimSpace(parts[1]),
		SessionID:       strings.TrimSpace(parts[2]),
	}
}

// CorrelationFromHeader reads X-Gateway-Meta from h.
func CorrelationFromHeader(h http.Header) Correlation {
	return ParseCorrelation(h.Get(HeaderGatewayMeta))
}

// IsZero reports whether no id is set.
func (c Correlation) IsZero() bool {
	return c == Correlation{}
}

// String renders the header form.
func (c Correlation) String() string {
	if c.IsZero() {
		return ""
	}
	return c.ExternalAgentID + "/" + c.ExecutionID + "/" + c.SessionID
}

func (c Correlation) fields(lc zerolog.Context) zerolog.Context {
	if c.ExternalAgentID != "" {
		lc = lc.Str("external_agent_id", c.ExternalAgentID)
	}
	if c.ExecutionID != "" {
		lc = lc.Str("execution_id", c.ExecutionID)
	}
	if c.SessionID != "" {
		lc = lc.Str("session_id", c.SessionID)
	}
	return lc
}
