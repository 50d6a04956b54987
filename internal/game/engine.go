package game

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	tickInterval          = time.Second
	busRequestTimeout     = 5 * time.Second
	backendHeartbeatSec   = 15
	broadcastHeartbeatSec = 7
	placeholderDirector   = "Casting..."
	placeholderChallenger = "None"
)

// Clock is the time source for the engine. Production uses
// clockwork.NewRealClock(); tests use a FakeClock.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) clockwork.Ticker
}

// Messenger is the outbound side of the extension bus.
type Messenger interface {
	// Whisper publishes a payload on the whisper channel. Targeted payloads
	// carry their recipient in a targetUserId field.
	Whisper(data any)
	// SendChatMessage posts a public chat line. Failures are swallowed.
	SendChatMessage(ctx context.Context, message string)
	RequestSettings(ctx context.Context) (map[string]any, error)
	RequestTipMenu(ctx context.Context) (*MenuPayload, error)
	OpenOverlay(ctx context.Context) error
}

// SnapshotStore persists and restores session snapshots. Persist must deep
// copy before returning; the engine keeps mutating the state it passed.
type SnapshotStore interface {
	Persist(state *GameState)
	Hydrate(ctx context.Context) (*GameState, bool)
}

// Engine owns the authoritative game state. All mutation happens on the
// single goroutine running Run; inbound events are posted through Post.
type Engine struct {
	settings Settings
	state    *GameState
	clock    Clock
	bus      Messenger
	store    SnapshotStore

	events        chan any
	overlayOpened bool
	menuRefreshIn int
}

func NewEngine(bus Messenger, store SnapshotStore, clock Clock) *Engine {
	e := &Engine{
		settings: DefaultSettings(),
		clock:    clock,
		bus:      bus,
		store:    store,
		events:   make(chan any, 256),
	}
	e.state = NewGameState(e.now())
	return e
}

func (e *Engine) now() int64 {
	return e.clock.Now().UnixMilli()
}

// State returns the live state. Callers outside the engine goroutine must
// not retain or mutate it.
func (e *Engine) State() *GameState {
	return e.state
}

// Settings returns the current normalized settings.
func (e *Engine) Settings() Settings {
	return e.settings
}

// Post enqueues an inbound event for the run loop. Drops with a warning when
// the queue is full rather than blocking a bus callback.
func (e *Engine) Post(ev any) {
	select {
	case e.events <- ev:
	default:
		log.Warn().Type("event", ev).Msg("engine event queue full, dropping event")
	}
}

// Start performs the startup sequence: settings load, hydration, initial
// tip-menu load, leadership sync, overlay request and the first persist and
// broadcast. Call before Run.
func (e *Engine) Start(ctx context.Context) {
	e.reloadSettingsOnly(ctx)

	if e.store != nil {
		if st, ok := e.store.Hydrate(ctx); ok {
			e.replaceState(st)
		}
	}

	if len(e.state.TipMenu.Settings) == 0 {
		e.LoadTipMenu(ctx)
	} else {
		e.deriveMenuGoals()
	}
	e.syncLeadership("")

	e.requestOverlayOpen(ctx)

	e.persist()
	e.BroadcastState()
}

// Run drains events and drives the 1-second tick plus the slower heartbeats
// until ctx is cancelled. It is the only goroutine that mutates state.
func (e *Engine) Run(ctx context.Context) {
	ticker := e.clock.NewTicker(tickInterval)
	defer ticker.Stop()

	e.menuRefreshIn = e.settings.TipMenuRefreshSec
	backendIn := backendHeartbeatSec
	broadcastIn := broadcastHeartbeatSec

	log.Info().Int("menu_refresh_sec", e.menuRefreshIn).Msg("engine loop started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("engine loop stopped")
			return
		case ev := <-e.events:
			e.HandleEvent(ctx, ev)
		case <-ticker.Chan():
			e.Tick()

			if e.menuRefreshIn--; e.menuRefreshIn <= 0 {
				e.menuRefreshIn = e.settings.TipMenuRefreshSec
				if e.LoadTipMenu(ctx) {
					e.persist()
					e.BroadcastState()
				}
			}
			if backendIn--; backendIn <= 0 {
				backendIn = backendHeartbeatSec
				e.heartbeatPersist()
			}
			if broadcastIn--; broadcastIn <= 0 {
				broadcastIn = broadcastHeartbeatSec
				e.BroadcastState()
			}
		}
	}
}

// HandleEvent routes one inbound event variant to its handler.
func (e *Engine) HandleEvent(ctx context.Context, ev any) {
	switch event := ev.(type) {
	case TipEvent:
		e.HandleTip(ctx, event)
	case ReallocateEvent:
		e.HandleReallocate(event)
	case CommandIssueEvent:
		e.HandleCommandIssue(ctx, event)
	case StateRequestEvent:
		e.BroadcastState()
	case SelfAllocationsRequestEvent:
		e.sendSelfAllocations(event.UserID)
	case SettingsUpdatedEvent:
		e.ReloadSettings(ctx)
	case AdoptSnapshotEvent:
		if e.AdoptSnapshot(event.State) {
			e.BroadcastState()
		}
	default:
		log.Warn().Type("event", ev).Msg("unknown engine event, ignoring")
	}
}

// HandleTip applies a succeeded token spend as a menu contribution.
func (e *Engine) HandleTip(ctx context.Context, ev TipEvent) {
	if ev.Action != TipAction {
		return
	}

	user := e.state.GetOrCreateUser(ev.UserID, ev.Username)
	if user == nil {
		return
	}

	if ev.Amount <= 0 {
		return
	}

	target, ok := e.state.MenuItemByID(strings.TrimSpace(ev.ItemID))
	if !ok {
		target, ok = e.state.FirstMenuItem()
	}
	if !ok {
		e.bus.Whisper(ResultPayload{
			Type:         TypeTipResult,
			TargetUserID: user.ID,
			Status:       "rejected",
			Message:      "No tip menu items are available right now",
		})
		return
	}

	user.Total += ev.Amount
	user.Allocations[target.ID] += ev.Amount
	e.state.TotalSessionTips += ev.Amount

	e.syncLeadership(user.ID)
	e.deriveMenuGoals()

	e.appendActivity(fmt.Sprintf("%s +%d tk to %q", user.Name, ev.Amount, target.Title))

	e.bus.Whisper(ResultPayload{
		Type:         TypeTipResult,
		TargetUserID: user.ID,
		Status:       "accepted",
		Message:      fmt.Sprintf("Contribution accepted: %d tk to %q", ev.Amount, target.Title),
	})
	e.sendSelfAllocations(user.ID)

	e.persist()
	e.BroadcastState()
}

// HandleReallocate moves part of a user's allocation between two existing
// menu items. The user's total never changes.
func (e *Engine) HandleReallocate(ev ReallocateEvent) {
	user := e.state.GetOrCreateUser(ev.UserID, ev.Username)
	if user == nil {
		return
	}

	reject := func(message string) {
		e.bus.Whisper(ResultPayload{
			Type:         TypeReallocateResult,
			TargetUserID: user.ID,
			Status:       "rejected",
			Message:      message,
		})
	}

	fromID := strings.TrimSpace(ev.FromItemID)
	toID := strings.TrimSpace(ev.ToItemID)
	if fromID == "" || toID == "" || fromID == toID || ev.Amount <= 0 {
		reject("Check the from/to items and the amount")
		return
	}

	fromItem, fromOK := e.state.MenuItemByID(fromID)
	toItem, toOK := e.state.MenuItemByID(toID)
	if !fromOK || !toOK {
		reject("One of the items is no longer available")
		return
	}

	available := user.Allocations[fromID]
	if available < ev.Amount {
		reject(fmt.Sprintf("Not enough balance in %q", fromItem.Title))
		return
	}

	user.Allocations[fromID] = available - ev.Amount
	if user.Allocations[fromID] <= 0 {
		delete(user.Allocations, fromID)
	}
	user.Allocations[toID] += ev.Amount

	e.deriveMenuGoals()
	e.appendActivity(fmt.Sprintf("%s moved %d tk: %q -> %q", user.Name, ev.Amount, fromItem.Title, toItem.Title))

	e.bus.Whisper(ResultPayload{
		Type:         TypeReallocateResult,
		TargetUserID: user.ID,
		Status:       "accepted",
		Message:      fmt.Sprintf("Moved %d tk", ev.Amount),
	})
	e.sendSelfAllocations(user.ID)

	e.persist()
	e.BroadcastState()
}

// HandleCommandIssue starts or queues a director command.
func (e *Engine) HandleCommandIssue(ctx context.Context, ev CommandIssueEvent) {
	userID := strings.TrimSpace(ev.UserID)
	commandID := strings.TrimSpace(ev.CommandID)
	if userID == "" || commandID == "" {
		return
	}

	reject := func(message string) {
		e.bus.Whisper(ResultPayload{
			Type:         TypeCommandResult,
			TargetUserID: userID,
			Status:       "rejected",
			Message:      message,
		})
	}

	command, ok := CommandByID(commandID)
	if !ok {
		reject("Unknown command")
		return
	}
	if !e.state.IsLive {
		reject("The control panel unlocks when the session goes live")
		return
	}
	if e.state.Director.ID == "" || e.state.Director.ID != userID {
		reject("Only the current director can use the control panel")
		return
	}

	now := e.now()
	if endsAt := e.state.CommandCooldowns[commandID]; endsAt > now {
		reject(fmt.Sprintf("Command on cooldown: %ds", (endsAt-now+999)/1000))
		return
	}

	username := strings.TrimSpace(ev.Username)
	if username == "" {
		username = "viewer"
	}

	durationMs := int64(e.settings.CommandDurationSec) * 1000
	entry := CommandEntry{
		ID:            entryID("cmd"),
		CommandID:     command.ID,
		Label:         command.Label,
		CategoryTitle: command.CategoryTitle,
		IssuedByID:    userID,
		IssuedByName:  username,
		IssuedAt:      now,
		DurationMs:    durationMs,
	}

	if e.state.CurrentPerformance == nil {
		e.state.CurrentPerformance = &Performance{
			CommandEntry: entry,
			StartedAt:    now,
			EndsAt:       now + durationMs,
		}
	} else {
		e.state.Queue = pushBackBounded(e.state.Queue, entry, MaxQueue)
	}

	e.state.CommandCooldowns[commandID] = now + int64(e.settings.CommandCooldownSec)*1000
	e.state.CommandHistory = pushFrontBounded(e.state.CommandHistory, HistoryEntry{
		ID:            entry.ID,
		CommandID:     entry.CommandID,
		Label:         entry.Label,
		CategoryTitle: entry.CategoryTitle,
		IssuedByName:  entry.IssuedByName,
		IssuedAt:      entry.IssuedAt,
	}, MaxHistory)
	e.state.OverlayFlashAt = now

	e.appendActivity("Director command: " + command.Label)
	e.bus.SendChatMessage(ctx, fmt.Sprintf("Director: %s / %s", command.CategoryTitle, command.Label))

	e.bus.Whisper(ResultPayload{
		Type:         TypeCommandResult,
		TargetUserID: userID,
		Status:       "accepted",
		Message:      fmt.Sprintf("Command %q sent", command.Label),
		CommandID:    commandID,
		CooldownMs:   int64(e.settings.CommandCooldownSec) * 1000,
	})

	e.persist()
	e.BroadcastState()
}

// Tick advances the performance queue and purges expired cooldowns. Runs
// once per second.
func (e *Engine) Tick() {
	now := e.now()
	changed := false

	if perf := e.state.CurrentPerformance; perf != nil && now >= perf.EndsAt {
		if len(e.state.Queue) > 0 {
			next := e.state.Queue[0]
			e.state.Queue = e.state.Queue[1:]

			durationMs := next.DurationMs
			if durationMs < MinDurationMs {
				durationMs = int64(e.settings.CommandDurationSec) * 1000
			}
			e.state.CurrentPerformance = &Performance{
				CommandEntry: next,
				StartedAt:    now,
				EndsAt:       now + durationMs,
			}
			e.appendActivity("Now on screen: " + next.Label)
		} else {
			e.state.CurrentPerformance = nil
			e.appendActivity("Current command finished")
		}
		changed = true
	}

	hadCooldowns := len(e.state.CommandCooldowns) > 0
	for commandID, endsAt := range e.state.CommandCooldowns {
		if endsAt <= now {
			delete(e.state.CommandCooldowns, commandID)
			changed = true
		}
	}

	if changed {
		e.persist()
	}

	// Broadcast whenever countdowns may be on screen, even without a state
	// change this tick.
	if e.state.IsLive || e.state.CurrentPerformance != nil || hadCooldowns {
		e.BroadcastState()
	}
}

// syncLeadership runs the leadership protocol after every
// allocation-affecting event and on hydration.
func (e *Engine) syncLeadership(triggerUserID string) {
	sorted := e.state.SortedUsers()

	if !e.state.IsLive && e.state.TotalSessionTips >= e.settings.PreproductionGoal && len(sorted) > 0 {
		e.state.IsLive = true

		promoted := sorted[0]
		if triggerUserID != "" {
			if trigger, ok := e.state.Users[triggerUserID]; ok {
				promoted = trigger
			}
		}
		e.promoteToDirector(promoted, "liveStart")
	}

	if !e.state.IsLive {
		// Pre-live the challenger is just the leaderboard leader, shown as a
		// UI preview.
		e.setChallenger(sorted)
		return
	}

	if len(sorted) == 0 {
		e.state.Director = Director{Name: placeholderDirector}
		e.state.Challenger = Challenger{Name: placeholderChallenger}
		return
	}

	director := e.state.Users[e.state.Director.ID]
	if e.state.Director.ID == "" || director == nil {
		e.promoteToDirector(sorted[0], "fallback")
	} else {
		e.state.Director.Name = director.Name
		e.state.Director.Total = director.Total
	}

	if candidate := e.topExcludingDirector(); candidate != nil {
		tenureOver := e.now()-e.state.Director.StartTime >= int64(e.settings.MinTenureSec)*1000
		hasLead := candidate.Total >= e.state.Director.Total+e.settings.OvertakeMargin
		if tenureOver && hasLead {
			e.promoteToDirector(candidate, "overtake")
		}
	}

	e.setChallenger(e.state.SortedUsers())
}

func (e *Engine) topExcludingDirector() *User {
	for _, user := range e.state.SortedUsers() {
		if user.ID != e.state.Director.ID {
			return user
		}
	}
	return nil
}

func (e *Engine) promoteToDirector(user *User, reason string) {
	e.state.Director = Director{
		ID:        user.ID,
		Name:      user.Name,
		Total:     user.Total,
		StartTime: e.now(),
	}
	e.state.OverlayFlashAt = e.now()

	switch reason {
	case "liveStart":
		e.appendActivity("Live started. New director: " + user.Name)
		e.bus.SendChatMessage(context.Background(), fmt.Sprintf("DIRECTOR LIVE: %s takes the chair.", user.Name))
	case "overtake":
		e.appendActivity("Power shift: " + user.Name + " grabbed the controls")
		e.bus.SendChatMessage(context.Background(), fmt.Sprintf("Director change: %s is now in charge.", user.Name))
	default:
		e.appendActivity("Director: " + user.Name)
	}
}

func (e *Engine) setChallenger(sorted []*User) {
	for _, user := range sorted {
		if user.ID == e.state.Director.ID {
			continue
		}
		e.state.Challenger = Challenger{ID: user.ID, Name: user.Name, Total: user.Total}
		return
	}
	e.state.Challenger = Challenger{Name: placeholderChallenger}
}

// ApplyTipMenu replaces the tip menu, redirects stranded allocations and
// recomputes goals. Returns whether the menu content changed.
func (e *Engine) ApplyTipMenu(menu TipMenu, source string) bool {
	prev := e.state.TipMenu.Signature()

	updatedAt := menu.UpdatedAt
	if updatedAt <= 0 {
		updatedAt = e.now()
	}
	settings := menu.Settings
	if settings == nil {
		settings = []MenuItem{}
	}
	e.state.TipMenu = TipMenu{
		IsEnabled: menu.IsEnabled,
		Settings:  settings,
		UpdatedAt: updatedAt,
		Source:    source,
	}

	e.pruneAllocations()
	e.deriveMenuGoals()

	next := e.state.TipMenu.Signature()
	if next != prev && next != "" {
		e.appendActivity("Tip menu updated")
	}
	return next != prev
}

// pruneAllocations drops allocations keyed by item ids absent from the new
// menu and redirects their sum to the menu's first item. Tokens are never
// lost, only redirected.
func (e *Engine) pruneAllocations() {
	validIDs := make(map[string]bool, len(e.state.TipMenu.Settings))
	for _, item := range e.state.TipMenu.Settings {
		validIDs[item.ID] = true
	}
	fallbackID := ""
	if first, ok := e.state.FirstMenuItem(); ok {
		fallbackID = first.ID
	}

	for _, user := range e.state.Users {
		next := make(map[string]int, len(user.Allocations))
		overflow := 0
		for itemID, amount := range user.Allocations {
			if amount <= 0 {
				continue
			}
			if validIDs[itemID] {
				next[itemID] += amount
				continue
			}
			overflow += amount
		}
		if overflow > 0 && fallbackID != "" {
			next[fallbackID] += overflow
		}
		user.Allocations = next
	}
}

// deriveMenuGoals recomputes per-item progress over currently-valid items,
// sorted closest-to-completion first, then cheapest, then alphabetical.
func (e *Engine) deriveMenuGoals() {
	validIDs := make(map[string]bool, len(e.state.TipMenu.Settings))
	for _, item := range e.state.TipMenu.Settings {
		validIDs[item.ID] = true
	}

	totals := make(map[string]int)
	for _, user := range e.state.Users {
		for itemID, amount := range user.Allocations {
			if !validIDs[itemID] || amount <= 0 {
				continue
			}
			totals[itemID] += amount
		}
	}

	goals := make([]MenuGoal, 0, len(e.state.TipMenu.Settings))
	for _, item := range e.state.TipMenu.Settings {
		progress := totals[item.ID]
		tokensLeft := item.Price - progress
		if tokensLeft < 0 {
			tokensLeft = 0
		}
		percent := 0.0
		if item.Price > 0 {
			percent = float64(progress) / float64(item.Price) * 100
			if percent > 100 {
				percent = 100
			}
		}
		goals = append(goals, MenuGoal{
			ID:         item.ID,
			Title:      item.Title,
			Price:      item.Price,
			Progress:   progress,
			TokensLeft: tokensLeft,
			Percent:    percent,
		})
	}

	sortGoals(goals)
	e.state.MenuGoals = goals
}

// LoadTipMenu requests the tip menu from the platform and applies it.
// On request failure the textual fallback menu is used only when no menu is
// present yet. Returns whether the menu content changed.
func (e *Engine) LoadTipMenu(ctx context.Context) bool {
	reqCtx, cancel := context.WithTimeout(ctx, busRequestTimeout)
	defer cancel()

	payload, err := e.bus.RequestTipMenu(reqCtx)
	if err != nil {
		log.Warn().Err(err).Msg("tip menu request failed")
		if len(e.state.TipMenu.Settings) == 0 {
			normalized := NormalizeTipMenuPayload(nil, e.settings.FallbackTipMenu, e.now())
			return e.ApplyTipMenu(normalized, "fallback")
		}
		return false
	}

	normalized := NormalizeTipMenuPayload(payload, e.settings.FallbackTipMenu, e.now())
	return e.ApplyTipMenu(normalized, "sdk")
}

// ReloadSettings re-requests settings, re-clamps them and refreshes
// everything that depends on them. The menu refresh countdown restarts so a
// changed interval applies immediately.
func (e *Engine) ReloadSettings(ctx context.Context) {
	e.reloadSettingsOnly(ctx)
	e.menuRefreshIn = e.settings.TipMenuRefreshSec
	e.syncLeadership("")
	e.LoadTipMenu(ctx)
	e.persist()
	e.BroadcastState()
}

func (e *Engine) reloadSettingsOnly(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, busRequestTimeout)
	defer cancel()

	raw, err := e.bus.RequestSettings(reqCtx)
	if err != nil {
		log.Warn().Err(err).Msg("settings request failed, keeping current settings")
		return
	}
	e.settings = NormalizeSettings(raw)
}

// AdoptSnapshot replaces local state with a sanitized remote one, but only
// when the remote is strictly newer. Used for conflict recovery.
func (e *Engine) AdoptSnapshot(st *GameState) bool {
	if st == nil || st.SavedAt <= e.state.SavedAt {
		return false
	}
	e.replaceState(st)
	return true
}

// replaceState swaps in a wholesale replacement state and rederives
// everything computed. Allocations keyed by items absent from the incoming
// menu are redirected the same way a menu swap would.
func (e *Engine) replaceState(st *GameState) {
	e.state = st
	e.state.RebuildUserOrder()
	e.pruneAllocations()
	e.deriveMenuGoals()
	e.syncLeadership("")
}

// persist advances savedAt and hands a snapshot to the reconciler.
func (e *Engine) persist() {
	e.state.SavedAt = e.now()
	if e.store != nil {
		e.store.Persist(e.state)
	}
}

// heartbeatPersist re-pushes the current snapshot without advancing savedAt
// so an idle engine never wins against a concurrent writer.
func (e *Engine) heartbeatPersist() {
	if e.state.SavedAt <= 0 {
		e.state.SavedAt = e.now()
	}
	if e.store != nil {
		e.store.Persist(e.state)
	}
}

// BroadcastState publishes the full state payload on the whisper channel.
func (e *Engine) BroadcastState() {
	e.bus.Whisper(e.buildStatePayload())
}

func (e *Engine) buildStatePayload() StatePayload {
	now := e.now()

	tenureLeft := int64(0)
	if e.state.Director.StartTime > 0 {
		tenureLeft = e.state.Director.StartTime + int64(e.settings.MinTenureSec)*1000 - now
		if tenureLeft < 0 {
			tenureLeft = 0
		}
	}

	var performance *PerformanceView
	if perf := e.state.CurrentPerformance; perf != nil {
		remaining := perf.EndsAt - now
		if remaining < 0 {
			remaining = 0
		}
		performance = &PerformanceView{Performance: *perf, RemainingMs: remaining}
	}

	queue := make([]QueueEntryView, 0, len(e.state.Queue))
	for _, item := range e.state.Queue {
		queue = append(queue, QueueEntryView{
			ID:            item.ID,
			CommandID:     item.CommandID,
			Label:         item.Label,
			CategoryTitle: item.CategoryTitle,
			IssuedByName:  item.IssuedByName,
			IssuedAt:      item.IssuedAt,
		})
	}

	cooldowns := make(map[string]int64)
	for commandID, endsAt := range e.state.CommandCooldowns {
		if endsAt > now {
			cooldowns[commandID] = endsAt - now
		}
	}

	feed := e.state.ActivityFeed
	if len(feed) > BroadcastFeedLen {
		feed = feed[:BroadcastFeedLen]
	}

	phase := "PREPRODUCTION"
	if e.state.IsLive {
		phase = "ON AIR"
	}

	return StatePayload{
		Type:               TypeState,
		IsLive:             e.state.IsLive,
		PhaseLabel:         phase,
		TotalSessionTips:   e.state.TotalSessionTips,
		PreproductionGoal:  e.settings.PreproductionGoal,
		OvertakeMargin:     e.settings.OvertakeMargin,
		MinTenureSec:       e.settings.MinTenureSec,
		Director:           e.state.Director,
		Challenger:         e.state.Challenger,
		Pressure:           e.buildPressure(),
		DirectorTenureLeft: tenureLeft,
		MenuGoals:          e.state.MenuGoals,
		MenuSource:         e.state.TipMenu.Source,
		CurrentPerformance: performance,
		Queue:              queue,
		CommandHistory:     e.state.CommandHistory,
		CommandCooldownsMs: cooldowns,
		OverlayFlashAt:     e.state.OverlayFlashAt,
		ActivityFeed:       feed,
		UpdatedAt:          now,
	}
}

func (e *Engine) buildPressure() Pressure {
	directorTotal := e.state.Director.Total
	challengerTotal := e.state.Challenger.Total

	gap := directorTotal - challengerTotal
	if gap < 0 {
		gap = 0
	}
	threshold := directorTotal + e.settings.OvertakeMargin
	needed := threshold - challengerTotal
	if needed < 0 {
		needed = 0
	}
	percent := 0.0
	if threshold > 0 {
		percent = float64(challengerTotal) / float64(threshold) * 100
		if percent > 100 {
			percent = 100
		}
	}

	return Pressure{
		Gap:              gap,
		Margin:           e.settings.OvertakeMargin,
		NeededToOvertake: needed,
		Percent:          percent,
		IsCritical:       gap < e.settings.OvertakeMargin,
	}
}

func (e *Engine) sendSelfAllocations(userID string) {
	id := strings.TrimSpace(userID)
	if id == "" {
		return
	}

	user := e.state.Users[id]
	allocations := make([]SelfAllocation, 0, len(e.state.MenuGoals))
	for _, goal := range e.state.MenuGoals {
		allocated := 0
		if user != nil {
			allocated = user.Allocations[goal.ID]
		}
		allocations = append(allocations, SelfAllocation{
			ItemID:    goal.ID,
			Title:     goal.Title,
			Allocated: allocated,
		})
	}

	total := 0
	if user != nil {
		total = user.Total
	}
	e.bus.Whisper(SelfAllocationsPayload{
		Type:         TypeSelfAllocations,
		TargetUserID: id,
		Total:        total,
		Allocations:  allocations,
	})
}

func (e *Engine) appendActivity(text string) {
	text = TruncateRunes(text, MaxActivityText)
	e.state.ActivityFeed = pushFrontBounded(e.state.ActivityFeed, ActivityEntry{
		ID:   entryID("a"),
		At:   e.now(),
		Text: text,
	}, MaxActivity)
}

func (e *Engine) requestOverlayOpen(ctx context.Context) {
	if e.overlayOpened {
		return
	}
	e.overlayOpened = true

	reqCtx, cancel := context.WithTimeout(ctx, busRequestTimeout)
	defer cancel()
	if err := e.bus.OpenOverlay(reqCtx); err != nil {
		log.Warn().Err(err).Msg("overlay open request failed")
		e.overlayOpened = false
	}
}

func entryID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.NewString()[:8])
}
