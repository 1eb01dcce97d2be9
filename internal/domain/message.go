package domain

// InboundMessage is a user message normalized from either surface.
type InboundMessage struct {
	Channel          Channel           `json:"channel" validate:"required,oneof=web chat_platform"`
	ExternalIdentity string            `json:"external_identity" validate:"required,max=256"`
	Text             string            `json:"text" validate:"required,max=16000"`
	TechnicalContext *TechnicalContext `json:"technical_context,omitempty" validate:"omitempty"`
	// SessionID lets the web surface address a session directly.
	SessionID string `json:"session_id,omitempty" validate:"omitempty,max=128"`
	// AgentID selects an agent when no session is addressed.
	AgentID string `json:"agent_id,omitempty" validate:"omitempty,max=128"`
}

// OutboundReply is handed back to the surface transport for delivery.
type OutboundReply struct {
	Text      string `json:"text"`
	WasError  bool   `json:"was_error"`
	SessionID string `json:"session_id,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
}
