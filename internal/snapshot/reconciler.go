package snapshot

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aamakeev/director-extension/internal/game"
)

const remoteSaveTimeout = 5 * time.Second

// Cache is the synchronous best-effort local copy of the snapshot. Failures
// are treated as cache misses, never surfaced.
type Cache interface {
	Read() (Snapshot, bool)
	Write(Snapshot)
}

// Remote is the consuming side of the session store API.
// Save returns the server's newer snapshot on a stale-write conflict and nil
// when the write was accepted.
type Remote interface {
	Load(ctx context.Context) (Snapshot, bool, error)
	Save(ctx context.Context, snap Snapshot) (*Snapshot, error)
}

// FileCache stores the snapshot as a single JSON file.
type FileCache struct {
	path string
}

func NewFileCache(path string) *FileCache {
	return &FileCache{path: path}
}

func (c *FileCache) Read() (Snapshot, bool) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return Snapshot{}, false
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Debug().Err(err).Str("path", c.path).Msg("local snapshot unreadable, ignoring")
		return Snapshot{}, false
	}
	return snap, true
}

func (c *FileCache) Write(snap Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		log.Debug().Err(err).Str("path", c.path).Msg("local snapshot write failed, ignoring")
	}
}

// Reconciler drives eventual consistency between the engine state, the local
// cache and the remote store. Remote writes go through a single ordered
// worker so a conflict from write N is fully handled before write N+1.
type Reconciler struct {
	cache   Cache
	remote  Remote
	onAdopt func(*game.GameState)
	queue   chan Snapshot
}

// New creates a reconciler. remote may be nil when no backend is configured;
// onAdopt receives sanitized remote states accepted during conflict recovery
// and must hand them to the engine goroutine.
func New(cache Cache, remote Remote, onAdopt func(*game.GameState)) *Reconciler {
	return &Reconciler{
		cache:   cache,
		remote:  remote,
		onAdopt: onAdopt,
		queue:   make(chan Snapshot, 32),
	}
}

// Persist writes the snapshot locally and enqueues the remote write.
// Called from the engine goroutine; never blocks on the network.
func (r *Reconciler) Persist(state *game.GameState) {
	snap := Capture(state)
	r.cache.Write(snap)

	if r.remote == nil {
		return
	}
	select {
	case r.queue <- snap:
	default:
		// A later persist supersedes this one under last-writer-wins.
		log.Warn().Int64("saved_at", snap.SavedAt).Msg("remote write queue full, dropping snapshot")
	}
}

// Run processes the remote write chain until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	if r.remote == nil {
		<-ctx.Done()
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-r.queue:
			r.push(ctx, snap)
		}
	}
}

func (r *Reconciler) push(ctx context.Context, snap Snapshot) {
	saveCtx, cancel := context.WithTimeout(ctx, remoteSaveTimeout)
	defer cancel()

	newer, err := r.remote.Save(saveCtx, snap)
	if err != nil {
		// Keep running local-only when the backend is unreachable.
		log.Warn().Err(err).Msg("remote snapshot write failed")
		return
	}
	if newer == nil {
		return
	}

	clean := Sanitize(*newer)
	decision := MergeBySavedAt(snap.SavedAt, clean.SavedAt, true)
	if !decision.RemoteStrictlyNewer {
		return
	}

	log.Info().
		Int64("local_saved_at", snap.SavedAt).
		Int64("remote_saved_at", clean.SavedAt).
		Msg("adopting newer remote snapshot after write conflict")
	r.cache.Write(clean)
	if r.onAdopt != nil {
		// The engine re-checks savedAt against its live state before applying.
		r.onAdopt(clean.GameState)
	}
}

// Hydrate resolves the startup state: local cache first, then the remote
// store; the side with the greater savedAt becomes canonical on both ends.
// Returns the sanitized state to adopt, if any.
func (r *Reconciler) Hydrate(ctx context.Context) (*game.GameState, bool) {
	local, hasLocal := r.cache.Read()

	if r.remote == nil {
		if !hasLocal {
			return nil, false
		}
		clean := Sanitize(local)
		return clean.GameState, true
	}

	loadCtx, cancel := context.WithTimeout(ctx, remoteSaveTimeout)
	defer cancel()

	remote, found, err := r.remote.Load(loadCtx)
	if err != nil {
		log.Warn().Err(err).Msg("remote snapshot load failed, hydrating local-only")
		found = false
	}

	var localSavedAt int64
	if hasLocal {
		localSavedAt = Sanitize(local).SavedAt
	}

	decision := MergeBySavedAt(localSavedAt, remote.SavedAt, found)
	if decision.ShouldPullRemote {
		clean := Sanitize(remote)
		r.cache.Write(clean)
		return clean.GameState, true
	}

	if hasLocal {
		clean := Sanitize(local)
		if decision.ShouldPushLocal {
			select {
			case r.queue <- clean:
			default:
			}
		}
		return clean.GameState, true
	}
	return nil, false
}
