package snapshot

import (
	"context"
	"errors"
	"testing"

	"github.com/aamakeev/director-extension/internal/game"
)

type memCache struct {
	snap Snapshot
	ok   bool
}

func (c *memCache) Read() (Snapshot, bool) { return c.snap, c.ok }
func (c *memCache) Write(snap Snapshot)    { c.snap, c.ok = snap, true }

type fakeRemote struct {
	stored   *Snapshot
	loadErr  error
	conflict *Snapshot
	saved    []Snapshot
}

func (r *fakeRemote) Load(ctx context.Context) (Snapshot, bool, error) {
	if r.loadErr != nil {
		return Snapshot{}, false, r.loadErr
	}
	if r.stored == nil {
		return Snapshot{}, false, nil
	}
	return *r.stored, true, nil
}

func (r *fakeRemote) Save(ctx context.Context, snap Snapshot) (*Snapshot, error) {
	r.saved = append(r.saved, snap)
	return r.conflict, nil
}

func stateWithSavedAt(savedAt int64, tips int) *game.GameState {
	state := game.NewGameState(savedAt)
	state.TotalSessionTips = tips
	return state
}

func TestPersistWritesCacheAndQueues(t *testing.T) {
	cache := &memCache{}
	remote := &fakeRemote{}
	r := New(cache, remote, nil)

	r.Persist(stateWithSavedAt(100, 5))

	if !cache.ok || cache.snap.SavedAt != 100 {
		t.Fatalf("cache = %+v", cache.snap)
	}

	select {
	case snap := <-r.queue:
		if snap.SavedAt != 100 {
			t.Fatalf("queued savedAt = %d", snap.SavedAt)
		}
	default:
		t.Fatal("snapshot not queued for remote write")
	}
}

func TestPushConflictAdoptsStrictlyNewer(t *testing.T) {
	cache := &memCache{}
	newer := Capture(stateWithSavedAt(200, 9))
	remote := &fakeRemote{conflict: &newer}

	var adopted *game.GameState
	r := New(cache, remote, func(state *game.GameState) { adopted = state })

	r.push(context.Background(), Capture(stateWithSavedAt(100, 5)))

	if adopted == nil {
		t.Fatal("newer remote snapshot not adopted")
	}
	if adopted.SavedAt != 200 || adopted.TotalSessionTips != 9 {
		t.Fatalf("adopted = savedAt %d tips %d", adopted.SavedAt, adopted.TotalSessionTips)
	}
	if cache.snap.SavedAt != 200 {
		t.Fatalf("cache not updated, savedAt = %d", cache.snap.SavedAt)
	}
}

func TestPushConflictIgnoresNotStrictlyNewer(t *testing.T) {
	cache := &memCache{}
	same := Capture(stateWithSavedAt(100, 9))
	remote := &fakeRemote{conflict: &same}

	adopted := false
	r := New(cache, remote, func(*game.GameState) { adopted = true })

	r.push(context.Background(), Capture(stateWithSavedAt(100, 5)))

	if adopted {
		t.Fatal("adopted a conflict snapshot that is not strictly newer")
	}
}

func TestHydratePrefersNewerRemote(t *testing.T) {
	cache := &memCache{}
	cache.Write(Capture(stateWithSavedAt(100, 5)))
	stored := Capture(stateWithSavedAt(150, 8))
	remote := &fakeRemote{stored: &stored}

	r := New(cache, remote, nil)
	state, ok := r.Hydrate(context.Background())

	if !ok || state.SavedAt != 150 || state.TotalSessionTips != 8 {
		t.Fatalf("hydrate = %v, savedAt %d", ok, state.SavedAt)
	}
	if cache.snap.SavedAt != 150 {
		t.Fatal("cache not converged to remote")
	}
}

func TestHydratePushesNewerLocal(t *testing.T) {
	cache := &memCache{}
	cache.Write(Capture(stateWithSavedAt(200, 5)))
	stored := Capture(stateWithSavedAt(150, 8))
	remote := &fakeRemote{stored: &stored}

	r := New(cache, remote, nil)
	state, ok := r.Hydrate(context.Background())

	if !ok || state.SavedAt != 200 {
		t.Fatalf("hydrate picked wrong side: %v, %d", ok, state.SavedAt)
	}

	select {
	case snap := <-r.queue:
		if snap.SavedAt != 200 {
			t.Fatalf("queued savedAt = %d, want local 200", snap.SavedAt)
		}
	default:
		t.Fatal("newer local not queued for push")
	}
}

func TestHydrateRemoteErrorFallsBackToLocal(t *testing.T) {
	cache := &memCache{}
	cache.Write(Capture(stateWithSavedAt(100, 5)))
	remote := &fakeRemote{loadErr: errors.New("backend down")}

	r := New(cache, remote, nil)
	state, ok := r.Hydrate(context.Background())

	if !ok || state.SavedAt != 100 {
		t.Fatalf("hydrate = %v, savedAt %d, want local 100", ok, state.SavedAt)
	}
}

func TestHydrateNothingAnywhere(t *testing.T) {
	r := New(&memCache{}, &fakeRemote{}, nil)
	if _, ok := r.Hydrate(context.Background()); ok {
		t.Fatal("hydrate reported state with no local and no remote")
	}
}

func TestHydrateLocalOnlyWithoutRemote(t *testing.T) {
	cache := &memCache{}
	cache.Write(Capture(stateWithSavedAt(100, 5)))

	r := New(cache, nil, nil)
	state, ok := r.Hydrate(context.Background())
	if !ok || state.SavedAt != 100 {
		t.Fatalf("local-only hydrate = %v, %d", ok, state.SavedAt)
	}
}
