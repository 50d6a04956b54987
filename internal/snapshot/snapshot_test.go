package snapshot

import (
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/aamakeev/director-extension/internal/game"
)

func TestMergeBySavedAt(t *testing.T) {
	tests := []struct {
		name          string
		local, remote int64
		hasRemote     bool
		want          Decision
	}{
		{
			name:  "no remote pushes local",
			local: 100,
			want:  Decision{Winner: WinnerLocal, ShouldPushLocal: true},
		},
		{
			name:      "tie pulls remote without strict flag",
			local:     100,
			remote:    100,
			hasRemote: true,
			want:      Decision{Winner: WinnerRemote, ShouldPullRemote: true},
		},
		{
			name:      "newer remote pulls with strict flag",
			local:     100,
			remote:    101,
			hasRemote: true,
			want:      Decision{Winner: WinnerRemote, ShouldPullRemote: true, RemoteStrictlyNewer: true},
		},
		{
			name:      "older remote pushes local",
			local:     100,
			remote:    99,
			hasRemote: true,
			want:      Decision{Winner: WinnerLocal, ShouldPushLocal: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MergeBySavedAt(tt.local, tt.remote, tt.hasRemote); got != tt.want {
				t.Fatalf("MergeBySavedAt(%d, %d, %v) = %+v, want %+v",
					tt.local, tt.remote, tt.hasRemote, got, tt.want)
			}
		})
	}
}

func TestCaptureIsDeepCopy(t *testing.T) {
	state := game.NewGameState(10)
	user := state.GetOrCreateUser("u1", "Alice")
	user.Allocations["item"] = 5

	snap := Capture(state)
	user.Allocations["item"] = 99
	state.TotalSessionTips = 42

	if snap.GameState.Users["u1"].Allocations["item"] != 5 {
		t.Fatal("snapshot shares allocation map with live state")
	}
	if snap.GameState.TotalSessionTips != 0 {
		t.Fatal("snapshot shares scalar state with live state")
	}
}

func TestSanitizeNilAndNegative(t *testing.T) {
	snap := Sanitize(Snapshot{SavedAt: -5})

	if snap.SavedAt != 0 {
		t.Fatalf("savedAt = %d, want 0", snap.SavedAt)
	}
	if snap.GameState == nil || snap.GameState.Users == nil || snap.GameState.CommandCooldowns == nil {
		t.Fatal("sanitized state is not fully populated")
	}
}

func TestSanitizeCapsAndDrops(t *testing.T) {
	src := game.NewGameState(500)
	src.Users["u1"] = &game.User{
		ID:   "u1",
		Name: strings.Repeat("Ж", game.MaxUserName+5),
		Allocations: map[string]int{
			"keep": 10,
			"drop": 0,
			"neg":  -3,
		},
	}
	src.Users[""] = &game.User{ID: "", Name: "ghost"}
	src.TipMenu.Settings = []game.MenuItem{
		{ID: "ok", Title: "Ok", Price: 10},
		{ID: "", Title: "No id", Price: 10},
		{ID: "freebie", Title: "Freebie", Price: 0},
	}
	for i := 0; i < 45; i++ {
		src.Queue = append(src.Queue, game.CommandEntry{ID: "q", DurationMs: 1})
		src.CommandHistory = append(src.CommandHistory, game.HistoryEntry{ID: "h"})
		src.ActivityFeed = append(src.ActivityFeed, game.ActivityEntry{ID: "a", Text: "x"})
	}

	clean := Sanitize(Snapshot{SavedAt: 500, GameState: src}).GameState

	user := clean.Users["u1"]
	if len(user.Allocations) != 1 || user.Allocations["keep"] != 10 {
		t.Fatalf("allocations = %v, want only keep:10", user.Allocations)
	}
	if user.Name != strings.Repeat("Ж", game.MaxUserName) || !utf8.ValidString(user.Name) {
		t.Fatalf("name = %q, want %d full runes", user.Name, game.MaxUserName)
	}
	if _, exists := clean.Users[""]; exists {
		t.Fatal("blank user id survived sanitize")
	}
	if len(clean.TipMenu.Settings) != 1 {
		t.Fatalf("menu items = %d, want 1", len(clean.TipMenu.Settings))
	}
	if len(clean.Queue) != 30 {
		t.Fatalf("queue = %d, want capped at 30", len(clean.Queue))
	}
	if clean.Queue[0].DurationMs != game.MinDurationMs {
		t.Fatalf("durationMs = %d, want floored to %d", clean.Queue[0].DurationMs, game.MinDurationMs)
	}
	if len(clean.CommandHistory) != 20 {
		t.Fatalf("history = %d, want capped at 20", len(clean.CommandHistory))
	}
	if len(clean.ActivityFeed) != game.MaxActivity {
		t.Fatalf("activity = %d, want capped at %d", len(clean.ActivityFeed), game.MaxActivity)
	}
}

func TestFileCacheRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	cache := NewFileCache(path)

	if _, ok := cache.Read(); ok {
		t.Fatal("read hit on missing file")
	}

	state := game.NewGameState(77)
	state.TotalSessionTips = 33
	cache.Write(Capture(state))

	snap, ok := cache.Read()
	if !ok {
		t.Fatal("read miss after write")
	}
	if snap.SavedAt != 77 || snap.GameState.TotalSessionTips != 33 {
		t.Fatalf("round trip mismatch: %+v", snap)
	}
}
