// Package model defines data structures for the agent hub.
package model

// ProviderKind identifies which conversational backend serves a tool.
type ProviderKind string

const (
	// ProviderSession is the contextful provider: a session is started with
	// the tool's system instruction and history is kept client-side.
	ProviderSession ProviderKind = "session"
	// ProviderCoze is the stateless-per-call provider: every message is a
	// self-contained call against the tool's external bot.
	ProviderCoze ProviderKind = "coze"
)

// Tool is one catalog entry describing an agent. Tools are loaded from static
// configuration at startup and never mutated.
type Tool struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Icon          string   `json:"icon"`
	IconBg        string   `json:"icon_bg,omitempty"`
	IconColor     string   `json:"icon_color,omitempty"`
	Level         string   `json:"level,omitempty"`
	LevelColor    string   `json:"level_color,omitempty"`
	Category      string   `json:"category"`
	CategoryColor string   `json:"category_color,omitempty"`
	Rating        float64  `json:"rating,omitempty"`
	ReviewCount   int      `json:"review_count,omitempty"`
	Tags          []string `json:"tags,omitempty"`

	// SystemInstruction seeds the contextful provider. Unused by Coze tools.
	SystemInstruction string `json:"system_instruction,omitempty"`

	// CozeBotID selects the Coze provider when present.
	CozeBotID string `json:"coze_bot_id,omitempty"`

	// ExternalLink tools open elsewhere and are never chatted with here.
	ExternalLink string `json:"external_link,omitempty"`

	// Provider is resolved once at catalog load time from CozeBotID.
	Provider ProviderKind `json:"provider"`
}
