package game

// Whisper envelope types carried on the extension bus.
const (
	TypeState                  = "director.state"
	TypeStateRequest           = "director.state.request"
	TypeSelfAllocations        = "director.self.allocations"
	TypeSelfAllocationsRequest = "director.self.allocations.request"
	TypeReallocate             = "director.menu.reallocate"
	TypeReallocateResult       = "director.menu.reallocate.result"
	TypeTipResult              = "director.menu.tip.result"
	TypeCommandIssue           = "director.command.issue"
	TypeCommandResult          = "director.command.result"
	TypeSettingsUpdated        = "director.settings.updated"
)

// TipAction is the spend-event action discriminator that marks a token spend
// as a menu tip.
const TipAction = "director.menu.tip"

// Pressure summarizes how close the challenger is to an overtake.
type Pressure struct {
	Gap              int     `json:"gap"`
	Margin           int     `json:"margin"`
	NeededToOvertake int     `json:"neededToOvertake"`
	Percent          float64 `json:"percent"`
	IsCritical       bool    `json:"isCritical"`
}

// PerformanceView is the running performance with its live countdown.
type PerformanceView struct {
	Performance
	RemainingMs int64 `json:"remainingMs"`
}

// QueueEntryView is a pending command as shown to viewers.
type QueueEntryView struct {
	ID            string `json:"id"`
	CommandID     string `json:"commandId"`
	Label         string `json:"label"`
	CategoryTitle string `json:"categoryTitle"`
	IssuedByName  string `json:"issuedByName"`
	IssuedAt      int64  `json:"issuedAt"`
}

// StatePayload is the full outbound state broadcast rendered by the three
// UI surfaces.
type StatePayload struct {
	Type                string           `json:"type"`
	IsLive              bool             `json:"isLive"`
	PhaseLabel          string           `json:"phaseLabel"`
	TotalSessionTips    int              `json:"totalSessionTips"`
	PreproductionGoal   int              `json:"preproductionGoal"`
	OvertakeMargin      int              `json:"overtakeMargin"`
	MinTenureSec        int              `json:"minTenureSec"`
	Director            Director         `json:"director"`
	Challenger          Challenger       `json:"challenger"`
	Pressure            Pressure         `json:"pressure"`
	DirectorTenureLeft  int64            `json:"directorTenureLeftMs"`
	MenuGoals           []MenuGoal       `json:"menuGoals"`
	MenuSource          string           `json:"menuSource"`
	CurrentPerformance  *PerformanceView `json:"currentPerformance"`
	Queue               []QueueEntryView `json:"queue"`
	CommandHistory      []HistoryEntry   `json:"commandHistory"`
	CommandCooldownsMs  map[string]int64 `json:"commandCooldowns"`
	OverlayFlashAt      int64            `json:"overlayFlashAt"`
	ActivityFeed        []ActivityEntry  `json:"activityFeed"`
	UpdatedAt           int64            `json:"updatedAt"`
}

// ResultPayload is a targeted accept/reject reply to an acting user.
type ResultPayload struct {
	Type         string `json:"type"`
	TargetUserID string `json:"targetUserId,omitempty"`
	Status       string `json:"status"`
	Message      string `json:"message"`
	CommandID    string `json:"commandId,omitempty"`
	CooldownMs   int64  `json:"cooldownMs,omitempty"`
}

// SelfAllocation is one row of a user's personal allocation summary.
type SelfAllocation struct {
	ItemID    string `json:"itemId"`
	Title     string `json:"title"`
	Allocated int    `json:"allocated"`
}

// SelfAllocationsPayload is the targeted per-user allocation summary.
type SelfAllocationsPayload struct {
	Type         string           `json:"type"`
	TargetUserID string           `json:"targetUserId"`
	Total        int              `json:"total"`
	Allocations  []SelfAllocation `json:"allocations"`
}
