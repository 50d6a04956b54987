package game

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// Capacity limits for the bounded collections inside GameState.
const (
	MaxQueue         = 40
	MaxHistory       = 25
	MaxActivity      = 30
	MaxActivityText  = 180
	MaxUserName      = 60
	MinDurationMs    = 1000
	BroadcastFeedLen = 20
)

// User accumulates one viewer's session tips. Total is the lifetime tip sum;
// Allocations partitions menu contributions across currently-valid items.
type User struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Total       int            `json:"total"`
	Allocations map[string]int `json:"allocations"`
}

// Director is the seat of the current command holder. An empty ID means the
// seat shows the "Casting..." placeholder. StartTime anchors the tenure
// immunity window.
type Director struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Total     int    `json:"total"`
	StartTime int64  `json:"startTime"`
}

// Challenger is the top contender eligible to overtake the director.
type Challenger struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Total int    `json:"total"`
}

// CommandEntry is an issued command waiting in the queue or running.
type CommandEntry struct {
	ID            string `json:"id"`
	CommandID     string `json:"commandId"`
	Label         string `json:"label"`
	CategoryTitle string `json:"categoryTitle"`
	IssuedByID    string `json:"issuedById"`
	IssuedByName  string `json:"issuedByName"`
	IssuedAt      int64  `json:"issuedAt"`
	DurationMs    int64  `json:"durationMs"`
}

// Performance is the command currently on screen.
type Performance struct {
	CommandEntry
	StartedAt int64 `json:"startedAt"`
	EndsAt    int64 `json:"endsAt"`
}

// HistoryEntry is a display-only record of an issued command.
type HistoryEntry struct {
	ID            string `json:"id"`
	CommandID     string `json:"commandId"`
	Label         string `json:"label"`
	CategoryTitle string `json:"categoryTitle"`
	IssuedByName  string `json:"issuedByName"`
	IssuedAt      int64  `json:"issuedAt"`
}

// ActivityEntry is one line of the public activity feed.
type ActivityEntry struct {
	ID   string `json:"id"`
	At   int64  `json:"at"`
	Text string `json:"text"`
}

// MenuGoal is the derived progress of one menu item. Never mutated directly;
// recomputed after every allocation-affecting event.
type MenuGoal struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Price      int     `json:"price"`
	Progress   int     `json:"progress"`
	TokensLeft int     `json:"tokensLeft"`
	Percent    float64 `json:"percent"`
}

// GameState is the authoritative session state, exclusively owned by the
// engine. The reconciler only reads clones of it or replaces it wholesale.
type GameState struct {
	IsLive             bool             `json:"isLive"`
	TotalSessionTips   int              `json:"totalSessionTips"`
	Director           Director         `json:"director"`
	Challenger         Challenger       `json:"challenger"`
	Users              map[string]*User `json:"users"`
	TipMenu            TipMenu          `json:"tipMenu"`
	MenuGoals          []MenuGoal       `json:"menuGoals"`
	CurrentPerformance *Performance     `json:"currentPerformance"`
	Queue              []CommandEntry   `json:"queue"`
	CommandHistory     []HistoryEntry   `json:"commandHistory"`
	CommandCooldowns   map[string]int64 `json:"commandCooldowns"`
	OverlayFlashAt     int64            `json:"overlayFlashAt"`
	ActivityFeed       []ActivityEntry  `json:"activityFeed"`
	SavedAt            int64            `json:"savedAt"`

	// userOrder records first-seen order so equal-total leaderboard ties
	// resolve deterministically. Rebuilt from sorted ids on snapshot apply.
	userOrder []string
}

// NewGameState returns the empty pre-production state.
func NewGameState(now int64) *GameState {
	return &GameState{
		Director:         Director{Name: "Casting...", Total: 0},
		Challenger:       Challenger{Name: "None"},
		Users:            make(map[string]*User),
		TipMenu:          TipMenu{Source: "fallback"},
		MenuGoals:        []MenuGoal{},
		Queue:            []CommandEntry{},
		CommandHistory:   []HistoryEntry{},
		CommandCooldowns: make(map[string]int64),
		ActivityFeed:     []ActivityEntry{},
		SavedAt:          now,
	}
}

// GetOrCreateUser resolves a user by id, creating it on first reference.
// A blank id yields nil. The display name refreshes on every call.
func (s *GameState) GetOrCreateUser(userID, username string) *User {
	id := strings.TrimSpace(userID)
	if id == "" {
		return nil
	}

	name := strings.TrimSpace(username)
	if name == "" {
		name = "viewer"
	}
	name = TruncateRunes(name, MaxUserName)

	user, ok := s.Users[id]
	if !ok {
		user = &User{ID: id, Allocations: make(map[string]int)}
		s.Users[id] = user
		s.userOrder = append(s.userOrder, id)
	}
	user.Name = name
	if user.Allocations == nil {
		user.Allocations = make(map[string]int)
	}
	return user
}

// SortedUsers returns users by descending total; equal totals keep
// first-seen order.
func (s *GameState) SortedUsers() []*User {
	users := make([]*User, 0, len(s.Users))
	for _, id := range s.userOrder {
		if user, ok := s.Users[id]; ok {
			users = append(users, user)
		}
	}
	sort.SliceStable(users, func(i, j int) bool {
		return users[i].Total > users[j].Total
	})
	return users
}

// RebuildUserOrder resets the tie-break order after a wholesale state
// replacement. Snapshots carry users as a map, so first-seen order is gone;
// sorted ids keep the result deterministic across applies.
func (s *GameState) RebuildUserOrder() {
	s.userOrder = s.userOrder[:0]
	for id := range s.Users {
		s.userOrder = append(s.userOrder, id)
	}
	sort.Strings(s.userOrder)
}

// MenuItemByID resolves a currently-valid menu item.
func (s *GameState) MenuItemByID(itemID string) (MenuItem, bool) {
	for _, item := range s.TipMenu.Settings {
		if item.ID == itemID {
			return item, true
		}
	}
	return MenuItem{}, false
}

// FirstMenuItem returns the first menu item, the fallback target for
// redirected allocations and untargeted tips.
func (s *GameState) FirstMenuItem() (MenuItem, bool) {
	if len(s.TipMenu.Settings) == 0 {
		return MenuItem{}, false
	}
	return s.TipMenu.Settings[0], true
}

// Clone deep-copies the state tree so a serialized snapshot never aliases
// live engine structures.
func (s *GameState) Clone() *GameState {
	clone := *s

	clone.Users = make(map[string]*User, len(s.Users))
	for id, user := range s.Users {
		copied := *user
		copied.Allocations = make(map[string]int, len(user.Allocations))
		for itemID, amount := range user.Allocations {
			copied.Allocations[itemID] = amount
		}
		clone.Users[id] = &copied
	}

	clone.TipMenu.Settings = append([]MenuItem(nil), s.TipMenu.Settings...)
	clone.MenuGoals = append([]MenuGoal(nil), s.MenuGoals...)
	clone.Queue = append([]CommandEntry(nil), s.Queue...)
	clone.CommandHistory = append([]HistoryEntry(nil), s.CommandHistory...)
	clone.ActivityFeed = append([]ActivityEntry(nil), s.ActivityFeed...)

	clone.CommandCooldowns = make(map[string]int64, len(s.CommandCooldowns))
	for id, endsAt := range s.CommandCooldowns {
		clone.CommandCooldowns[id] = endsAt
	}

	if s.CurrentPerformance != nil {
		perf := *s.CurrentPerformance
		clone.CurrentPerformance = &perf
	}

	clone.userOrder = append([]string(nil), s.userOrder...)
	return &clone
}

// sortGoals orders goals by ascending tokensLeft, then ascending price, then
// title, surfacing the closest-to-completion, cheapest, alphabetical item.
func sortGoals(goals []MenuGoal) {
	sort.SliceStable(goals, func(i, j int) bool {
		if goals[i].TokensLeft != goals[j].TokensLeft {
			return goals[i].TokensLeft < goals[j].TokensLeft
		}
		if goals[i].Price != goals[j].Price {
			return goals[i].Price < goals[j].Price
		}
		return goals[i].Title < goals[j].Title
	})
}

// pushFrontBounded prepends v and trims the slice to max entries.
func pushFrontBounded[T any](items []T, v T, max int) []T {
	items = append([]T{v}, items...)
	if len(items) > max {
		items = items[:max]
	}
	return items
}

// pushBackBounded appends v and trims the slice to max entries.
func pushBackBounded[T any](items []T, v T, max int) []T {
	items = append(items, v)
	if len(items) > max {
		items = items[:max]
	}
	return items
}

// TruncateRunes caps s at max characters without splitting a multi-byte
// rune.
func TruncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
