package syncer

import (
	"context"
	"log"
	"sync"
	"time"

	"polymirror/api"
	"polymirror/config"
	"polymirror/storage"
)

// State is the engine lifecycle state.
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

// ActivityFetcher pulls the source trader's recent activity.
type ActivityFetcher interface {
	GetActivity(ctx context.Context, user string, limit int) ([]api.TradeItem, error)
}

// assetSubscriber is the slice of the market stream the engine drives.
type assetSubscriber interface {
	Start() error
	Stop()
	UpdateAssets(assetIDs []string)
}

// triggerMeta tags a refresh request with the timestamps used for latency
// attribution. A zero EventTs means the trigger had no usable event time.
type triggerMeta struct {
	eventTs int64
	recvTs  int64
}

// Engine is the replication pipeline: it fuses the WS push stream with pull
// reconciliation, dedupes trades, and feeds the processor under a
// parallelism cap.
type Engine struct {
	cfg    config.Config
	wallet string
	runID  string

	fetcher   ActivityFetcher
	books     *BookCache
	stream    assetSubscriber
	placer    OrderPlacer
	journal   storage.Journal
	telemetry *Telemetry

	stateMu   sync.RWMutex
	state     State
	startedAt time.Time

	seenMu sync.Mutex
	seen   map[string]bool

	trackedMu sync.Mutex
	tracked   map[string]bool

	triggerMu   sync.Mutex
	lastTrigger map[string]int64

	// Debounced-refresh state machine. All fields below refreshMu move
	// together: trigger, timerFire, fetchStart, fetchEnd.
	refreshMu   sync.Mutex
	pending     map[string]triggerMeta
	timerArmed  bool
	inFlight    bool
	timer       *time.Timer
	lastFetchMs int64
	lastItems   []api.TradeItem
	lastItemsAt int64

	sem    chan struct{}
	wg     sync.WaitGroup
	stopCh chan struct{}

	dispatched   int64
	refreshPulls int64
}

// NewEngine wires the pipeline. journal may be nil; stream is attached
// separately so its callbacks can point back at the engine.
func NewEngine(cfg config.Config, wallet, runID string, fetcher ActivityFetcher, books *BookCache, placer OrderPlacer, journal storage.Journal) *Engine {
	maxParallel := cfg.MaxParallel
	if maxParallel <= 0 {
		maxParallel = 1
	}
	return &Engine{
		cfg:         cfg,
		wallet:      wallet,
		runID:       runID,
		fetcher:     fetcher,
		books:       books,
		placer:      placer,
		journal:     journal,
		telemetry:   NewTelemetry(cfg.StatsEvery),
		state:       StateStarting,
		seen:        make(map[string]bool),
		tracked:     make(map[string]bool),
		lastTrigger: make(map[string]int64),
		pending:     make(map[string]triggerMeta),
		sem:         make(chan struct{}, maxParallel),
		stopCh:      make(chan struct{}),
	}
}

// AttachStream hands the engine its market stream. Must be called before
// Start when a stream is used; tests run without one.
func (e *Engine) AttachStream(s assetSubscriber) {
	e.stream = s
}

// Telemetry exposes the latency recorder, for the status endpoint.
func (e *Engine) Telemetry() *Telemetry {
	return e.telemetry
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.stateMu.Lock()
	e.state = s
	e.stateMu.Unlock()
	log.Printf("[Engine] state=%s", s)
}

// Start runs bootstrap, arms the WS loop and schedules reconciliation.
func (e *Engine) Start(ctx context.Context) {
	e.stateMu.Lock()
	e.startedAt = time.Now()
	e.stateMu.Unlock()

	e.bootstrap(ctx)

	if e.stream != nil {
		if err := e.stream.Start(); err != nil {
			log.Printf("[Engine] stream start failed: %v", err)
		}
	}

	e.wg.Add(1)
	go e.reconcileLoop(ctx)

	e.setState(StateRunning)
}

// Stop drains the pipeline: the stream is closed, timers are cancelled,
// in-flight trade tasks complete, and the final latency summary prints.
func (e *Engine) Stop() {
	e.stateMu.Lock()
	if e.state == StateStopping || e.state == StateStopped {
		e.stateMu.Unlock()
		return
	}
	e.state = StateStopping
	e.stateMu.Unlock()
	log.Printf("[Engine] state=%s", StateStopping)

	close(e.stopCh)

	if e.stream != nil {
		e.stream.Stop()
	}

	e.refreshMu.Lock()
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timerArmed = false
	e.refreshMu.Unlock()

	e.wg.Wait()
	e.telemetry.LogSummary("final")
	e.setState(StateStopped)
}

func (e *Engine) stopped() bool {
	select {
	case <-e.stopCh:
		return true
	default:
		return false
	}
}

// HandleBook is the WS book-event callback.
func (e *Engine) HandleBook(ev api.MarketEvent, recvMs int64) {
	e.books.ApplyEvent(ev, recvMs)
}

// HandleLastTrade is the WS last_trade_price callback. Tracked assets whose
// cooldown has elapsed enqueue a debounced activity refresh.
func (e *Engine) HandleLastTrade(ev api.MarketEvent, recvMs int64) {
	asset := ev.AssetID
	if asset == "" || !e.isTracked(asset) {
		return
	}

	e.triggerMu.Lock()
	last := e.lastTrigger[asset]
	if recvMs-last < e.cfg.MinAssetRefreshMs {
		e.triggerMu.Unlock()
		return
	}
	e.lastTrigger[asset] = recvMs
	e.triggerMu.Unlock()

	e.requestActivityRefresh(asset, triggerMeta{eventTs: ev.EventTimeMs(), recvTs: recvMs})
}

// requestActivityRefresh coalesces trigger storms into one debounced pull.
func (e *Engine) requestActivityRefresh(asset string, meta triggerMeta) {
	if e.stopped() {
		return
	}

	e.refreshMu.Lock()
	defer e.refreshMu.Unlock()

	if _, ok := e.pending[asset]; !ok {
		e.pending[asset] = meta
	}
	if e.timerArmed {
		return
	}
	e.armRefreshLocked()
}

// armRefreshLocked arms the one-shot refresh timer. Caller holds refreshMu.
func (e *Engine) armRefreshLocked() {
	now := time.Now().UnixMilli()
	delay := e.cfg.RefreshDebounceMs - (now - e.lastFetchMs)
	if delay < 0 {
		delay = 0
	}
	e.timerArmed = true
	e.timer = time.AfterFunc(time.Duration(delay)*time.Millisecond, e.runActivityRefresh)
}

// runActivityRefresh performs one coalesced pull. At most one is in flight;
// triggers arriving mid-pull re-arm exactly one follow-up.
func (e *Engine) runActivityRefresh() {
	if e.stopped() {
		return
	}

	e.refreshMu.Lock()
	e.timerArmed = false
	if e.inFlight {
		e.refreshMu.Unlock()
		return
	}
	e.inFlight = true
	e.refreshMu.Unlock()

	items, err := e.fetchActivity(e.cfg.TradeFetchLimit)
	if err != nil {
		log.Printf("[Refresh] activity pull failed: %v", err)
	}

	e.refreshMu.Lock()
	focus := e.pending
	e.pending = make(map[string]triggerMeta)
	e.refreshMu.Unlock()

	if err == nil {
		e.replay(items, "ws", focus)
	}

	e.refreshMu.Lock()
	e.inFlight = false
	if len(e.pending) > 0 && !e.timerArmed && !e.stopped() {
		e.armRefreshLocked()
	}
	e.refreshMu.Unlock()
}

// fetchActivity returns the cached payload when it is young enough, else
// pulls a fresh page and stamps lastFetchMs for the debounce computation.
func (e *Engine) fetchActivity(limit int) ([]api.TradeItem, error) {
	now := time.Now().UnixMilli()

	e.refreshMu.Lock()
	if e.lastItems != nil && now-e.lastItemsAt <= e.cfg.ActivityCacheMs {
		items := e.lastItems
		e.refreshMu.Unlock()
		return items, nil
	}
	e.refreshMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	items, err := e.fetcher.GetActivity(ctx, e.wallet, limit)
	if err != nil {
		return nil, err
	}

	fetchedAt := time.Now().UnixMilli()
	e.refreshMu.Lock()
	e.lastItems = items
	e.lastItemsAt = fetchedAt
	e.lastFetchMs = fetchedAt
	e.refreshPulls++
	e.refreshMu.Unlock()
	return items, nil
}

// replay walks an activity page oldest first and dispatches every unseen
// item. A non-empty focus set restricts dispatch to the triggering assets;
// its per-asset meta attributes latency back to the WS trigger.
func (e *Engine) replay(items []api.TradeItem, reason string, focus map[string]triggerMeta) {
	for i := len(items) - 1; i >= 0; i-- {
		it := items[i]
		if len(focus) > 0 {
			if _, ok := focus[it.Asset]; !ok {
				continue
			}
		}
		if !e.markSeen(it.Key()) {
			continue
		}
		meta, ok := focus[it.Asset]
		if !ok {
			meta = triggerMeta{eventTs: it.TimestampMs(), recvTs: time.Now().UnixMilli()}
		}
		e.dispatch(it, reason, meta)
	}
}

// reconcileLoop is the periodic safety net for WS gaps and the discovery
// channel for new assets.
func (e *Engine) reconcileLoop(ctx context.Context) {
	defer e.wg.Done()

	period := time.Duration(e.cfg.ReconcileSeconds) * time.Second
	if period < 2*time.Second {
		period = 2 * time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.reconcileOnce(ctx)
		}
	}
}

func (e *Engine) reconcileOnce(ctx context.Context) {
	rctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	items, err := e.fetcher.GetActivity(rctx, e.wallet, 100)
	cancel()
	if err != nil {
		log.Printf("[Reconcile] activity pull failed: %v", err)
		return
	}

	if added := e.trackAssets(items); len(added) > 0 && e.stream != nil {
		e.stream.UpdateAssets(added)
		log.Printf("[Reconcile] tracking %d new assets, %d total", len(added), e.TrackedCount())
	}

	now := time.Now().UnixMilli()
	for i := len(items) - 1; i >= 0; i-- {
		it := items[i]
		if !e.markSeen(it.Key()) {
			continue
		}
		e.dispatch(it, "reconcile", triggerMeta{eventTs: it.TimestampMs(), recvTs: now})
	}
}

// bootstrap suppresses history and seeds the tracked set. Items inside the
// bootstrap window are replayed once; older ones are only marked seen.
func (e *Engine) bootstrap(ctx context.Context) {
	bctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	items, err := e.fetcher.GetActivity(bctx, e.wallet, 100)
	cancel()
	if err != nil {
		log.Printf("[Bootstrap] activity pull failed, reconcile will catch up: %v", err)
		return
	}

	added := e.trackAssets(items)
	if len(added) > 0 && e.stream != nil {
		e.stream.UpdateAssets(added)
	}

	now := time.Now().UnixMilli()
	cutoff := now - int64(e.cfg.BootstrapSeconds)*1000
	replayed := 0
	for i := len(items) - 1; i >= 0; i-- {
		it := items[i]
		if !e.markSeen(it.Key()) {
			continue
		}
		if ts := it.TimestampMs(); ts != 0 && ts < cutoff {
			continue
		}
		e.dispatch(it, "bootstrap", triggerMeta{recvTs: now})
		replayed++
	}
	log.Printf("[Bootstrap] seen=%d tracked=%d replayed=%d window=%ds",
		len(items), e.TrackedCount(), replayed, e.cfg.BootstrapSeconds)
}

// markSeen inserts the key and reports whether it was new.
func (e *Engine) markSeen(key string) bool {
	e.seenMu.Lock()
	defer e.seenMu.Unlock()
	if e.seen[key] {
		return false
	}
	e.seen[key] = true
	return true
}

// SeenCount reports the dedup set size.
func (e *Engine) SeenCount() int {
	e.seenMu.Lock()
	defer e.seenMu.Unlock()
	return len(e.seen)
}

func (e *Engine) isTracked(asset string) bool {
	e.trackedMu.Lock()
	defer e.trackedMu.Unlock()
	return e.tracked[asset]
}

// trackAssets adds every asset in items and returns the newly added ones.
// The set only grows within a run.
func (e *Engine) trackAssets(items []api.TradeItem) []string {
	e.trackedMu.Lock()
	defer e.trackedMu.Unlock()
	var added []string
	for _, it := range items {
		if it.Asset == "" || e.tracked[it.Asset] {
			continue
		}
		e.tracked[it.Asset] = true
		added = append(added, it.Asset)
	}
	return added
}

// TrackedCount reports the tracked asset set size.
func (e *Engine) TrackedCount() int {
	e.trackedMu.Lock()
	defer e.trackedMu.Unlock()
	return len(e.tracked)
}

// dispatch hands a trade to the processor behind the parallelism semaphore.
func (e *Engine) dispatch(item api.TradeItem, reason string, meta triggerMeta) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.sem <- struct{}{}
		defer func() { <-e.sem }()
		e.processTrade(item, reason, meta)
	}()
}

// StatusSnapshot is the status endpoint payload.
type StatusSnapshot struct {
	State         string  `json:"state"`
	RunID         string  `json:"runId"`
	Source        string  `json:"source"`
	Mode          string  `json:"mode"`
	Profile       string  `json:"profile"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
	TrackedAssets int     `json:"trackedAssets"`
	SeenTrades    int     `json:"seenTrades"`
	BooksCached   int     `json:"booksCached"`
	Dispatched    int64   `json:"dispatched"`
	RefreshPulls  int64   `json:"refreshPulls"`
	Samples       int64   `json:"samples"`
}

// Status assembles the live counters for the status endpoint.
func (e *Engine) Status() StatusSnapshot {
	e.stateMu.RLock()
	state := e.state
	started := e.startedAt
	e.stateMu.RUnlock()

	e.refreshMu.Lock()
	pulls := e.refreshPulls
	e.refreshMu.Unlock()

	var uptime float64
	if !started.IsZero() {
		uptime = time.Since(started).Seconds()
	}

	return StatusSnapshot{
		State:         string(state),
		RunID:         e.runID,
		Source:        e.wallet,
		Mode:          e.cfg.Mode,
		Profile:       e.cfg.Profile,
		UptimeSeconds: uptime,
		TrackedAssets: e.TrackedCount(),
		SeenTrades:    e.SeenCount(),
		BooksCached:   e.books.Size(),
		Dispatched:    e.dispatchedCount(),
		RefreshPulls:  pulls,
		Samples:       e.telemetry.Count(),
	}
}

// Stats returns the latency percentile rollup.
func (e *Engine) Stats() TelemetrySummary {
	return e.telemetry.Summary()
}
