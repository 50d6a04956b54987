// Package snapshot keeps the local and remote copies of the session state
// consistent under a last-writer-wins policy keyed by savedAt.
package snapshot

import (
	"github.com/aamakeev/director-extension/internal/game"
)

// Snapshot is a full, timestamped copy of session state. SavedAt is the sole
// ordering key for reconciliation.
type Snapshot struct {
	SavedAt   int64           `json:"savedAt"`
	GameState *game.GameState `json:"gameState"`
}

// Capture deep-clones the live state into a snapshot that shares no mutable
// substructure with the engine.
func Capture(state *game.GameState) Snapshot {
	clone := state.Clone()
	return Snapshot{SavedAt: clone.SavedAt, GameState: clone}
}

// Winner says which side a merge decision picked.
type Winner int

const (
	WinnerLocal Winner = iota
	WinnerRemote
)

// Decision is the outcome of comparing two snapshots by savedAt.
type Decision struct {
	Winner              Winner
	ShouldPushLocal     bool
	ShouldPullRemote    bool
	RemoteStrictlyNewer bool
}

// MergeBySavedAt centralizes the last-writer-wins comparison used by both
// hydration and conflict recovery. On a tie the remote wins, so both ends
// converge on the same record.
func MergeBySavedAt(localSavedAt, remoteSavedAt int64, hasRemote bool) Decision {
	if !hasRemote {
		return Decision{Winner: WinnerLocal, ShouldPushLocal: true}
	}
	if remoteSavedAt >= localSavedAt {
		return Decision{
			Winner:              WinnerRemote,
			ShouldPullRemote:    true,
			RemoteStrictlyNewer: remoteSavedAt > localSavedAt,
		}
	}
	return Decision{Winner: WinnerLocal, ShouldPushLocal: true}
}

// Sanitize re-validates and re-coerces every field of a snapshot so a
// malformed or foreign one can never crash the engine or inject unbounded
// structures. It always returns a fully-populated state.
func Sanitize(snap Snapshot) Snapshot {
	savedAt := clampNonNegative(snap.SavedAt)
	clean := game.NewGameState(savedAt)
	clean.SavedAt = savedAt

	src := snap.GameState
	if src == nil {
		return Snapshot{SavedAt: savedAt, GameState: clean}
	}

	clean.IsLive = src.IsLive
	clean.TotalSessionTips = int(clampNonNegative(int64(src.TotalSessionTips)))
	clean.OverlayFlashAt = clampNonNegative(src.OverlayFlashAt)

	clean.Director = game.Director{
		ID:        src.Director.ID,
		Name:      capString(stringOr(src.Director.Name, "Casting..."), 80),
		Total:     int(clampNonNegative(int64(src.Director.Total))),
		StartTime: clampNonNegative(src.Director.StartTime),
	}
	clean.Challenger = game.Challenger{
		ID:    src.Challenger.ID,
		Name:  capString(stringOr(src.Challenger.Name, "None"), 80),
		Total: int(clampNonNegative(int64(src.Challenger.Total))),
	}

	for id, user := range src.Users {
		if id == "" || user == nil {
			continue
		}
		allocations := make(map[string]int, len(user.Allocations))
		for itemID, amount := range user.Allocations {
			if amount > 0 {
				allocations[itemID] = amount
			}
		}
		clean.Users[id] = &game.User{
			ID:          id,
			Name:        capString(stringOr(user.Name, "viewer"), game.MaxUserName),
			Total:       int(clampNonNegative(int64(user.Total))),
			Allocations: allocations,
		}
	}

	items := make([]game.MenuItem, 0, len(src.TipMenu.Settings))
	for _, item := range src.TipMenu.Settings {
		if item.ID == "" || item.Title == "" || item.Price <= 0 {
			continue
		}
		items = append(items, game.MenuItem{
			ID:    capString(item.ID, 64),
			Title: capString(item.Title, 80),
			Price: item.Price,
		})
	}
	clean.TipMenu = game.TipMenu{
		IsEnabled: src.TipMenu.IsEnabled,
		Settings:  items,
		UpdatedAt: clampNonNegative(src.TipMenu.UpdatedAt),
		Source:    stringOr(src.TipMenu.Source, "fallback"),
	}

	if perf := src.CurrentPerformance; perf != nil {
		clean.CurrentPerformance = &game.Performance{
			CommandEntry: sanitizeEntry(perf.CommandEntry),
			StartedAt:    clampNonNegative(perf.StartedAt),
			EndsAt:       clampNonNegative(perf.EndsAt),
		}
	}

	for _, entry := range src.Queue {
		if len(clean.Queue) >= 30 {
			break
		}
		clean.Queue = append(clean.Queue, sanitizeEntry(entry))
	}

	for _, entry := range src.CommandHistory {
		if len(clean.CommandHistory) >= 20 {
			break
		}
		clean.CommandHistory = append(clean.CommandHistory, game.HistoryEntry{
			ID:            entry.ID,
			CommandID:     entry.CommandID,
			Label:         capString(entry.Label, 80),
			CategoryTitle: capString(entry.CategoryTitle, 80),
			IssuedByName:  capString(entry.IssuedByName, game.MaxUserName),
			IssuedAt:      clampNonNegative(entry.IssuedAt),
		})
	}

	for commandID, endsAt := range src.CommandCooldowns {
		if commandID == "" {
			continue
		}
		clean.CommandCooldowns[commandID] = clampNonNegative(endsAt)
	}

	for _, entry := range src.ActivityFeed {
		if len(clean.ActivityFeed) >= game.MaxActivity {
			break
		}
		clean.ActivityFeed = append(clean.ActivityFeed, game.ActivityEntry{
			ID:   entry.ID,
			At:   clampNonNegative(entry.At),
			Text: capString(entry.Text, game.MaxActivityText),
		})
	}

	clean.RebuildUserOrder()
	return Snapshot{SavedAt: savedAt, GameState: clean}
}

func sanitizeEntry(entry game.CommandEntry) game.CommandEntry {
	durationMs := entry.DurationMs
	if durationMs < game.MinDurationMs {
		durationMs = game.MinDurationMs
	}
	return game.CommandEntry{
		ID:            entry.ID,
		CommandID:     entry.CommandID,
		Label:         capString(entry.Label, 80),
		CategoryTitle: capString(entry.CategoryTitle, 80),
		IssuedByID:    entry.IssuedByID,
		IssuedByName:  capString(entry.IssuedByName, game.MaxUserName),
		IssuedAt:      clampNonNegative(entry.IssuedAt),
		DurationMs:    durationMs,
	}
}

func clampNonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func capString(s string, max int) string {
	return game.TruncateRunes(s, max)
}

func stringOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
