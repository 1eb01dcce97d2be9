package domain

import "time"

// Channel is the surface an inbound message arrived on.
type Channel string

const (
	ChannelWeb          Channel = "web"
	ChannelChatPlatform Channel = "chat_platform"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	return c == ChannelWeb || c == ChannelChatPlatform
}

// ActiveSessionPointer records which agent and session is currently
// selected for a (channel, external identity) pair.
type ActiveSessionPointer struct {
	Channel          Channel   `json:"channel"`
	ExternalIdentity string    `json:"external_identity"`
	AgentID          string    `json:"agent_id"`
	SessionID        string    `json:"session_id"`
	LastTouchedAt    time.Time `json:"last_touched_at"`
}

// PointerKey builds the registry key for a channel and identity.
func PointerKey(channel Channel, externalIdentity string) string {
	return string(channel) + ":" + externalIdentity
}

// IdleFor returns how long the pointer has gone untouched at now.
func (p *ActiveSessionPointer) IdleFor(now time.Time) time.Duration {
	return now.Sub(p.LastTouchedAt)
}
