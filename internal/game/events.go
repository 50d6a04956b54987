package game

// Inbound event variants. The bus layer decodes wire envelopes into these
// and the engine routes them through HandleEvent; nothing else mutates state.

// TipEvent is a succeeded token spend consumed as the tip trigger.
type TipEvent struct {
	Action   string
	UserID   string
	Username string
	ItemID   string
	Amount   int
}

// ReallocateEvent moves part of a user's allocation between menu items.
type ReallocateEvent struct {
	UserID     string
	Username   string
	FromItemID string
	ToItemID   string
	Amount     int
}

// CommandIssueEvent is a director command request.
type CommandIssueEvent struct {
	UserID    string
	Username  string
	CommandID string
}

// StateRequestEvent asks for an immediate state rebroadcast.
type StateRequestEvent struct{}

// SelfAllocationsRequestEvent asks for a user's allocation summary.
type SelfAllocationsRequestEvent struct {
	UserID string
}

// SettingsUpdatedEvent signals that extension settings changed and must be
// re-requested.
type SettingsUpdatedEvent struct{}

// AdoptSnapshotEvent carries a sanitized remote state accepted during
// conflict recovery. Applied only if strictly newer than the local state.
type AdoptSnapshotEvent struct {
	State *GameState
}
