// Package autosync keeps a canvas and its server copy in step: it loads the
// canvas when mounted, saves it on a fixed interval and on demand, and drops
// late results once the canvas is unmounted.
package autosync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/meikuraledutech/canvas"
	"github.com/meikuraledutech/canvas/metrics"
	"go.uber.org/zap"
)

// Defaults for WithInterval and WithJustSavedFor.
const (
	DefaultInterval     = 10 * time.Second
	DefaultJustSavedFor = 2 * time.Second
)

// Errors returned by the controller. Load and save failures wrap the
// transport error.
var (
	ErrLoadFailed = errors.New("autosync: failed to load canvas")
	ErrSaveFailed = errors.New("autosync: failed to save canvas")
	ErrUnmounted  = errors.New("autosync: controller unmounted")
	ErrLoading    = errors.New("autosync: canvas is still loading")
	ErrNoWorkflow = errors.New("autosync: no workflow to save to")
)

// Remote is the server side of the canvas.
type Remote interface {
	Load(ctx context.Context, workflowID string) (*canvas.Payload, error)
	Save(ctx context.Context, workflowID string, p *canvas.Payload) error
}

// Notifier surfaces recoverable errors to the user.
type Notifier interface {
	Notify(err error)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(error)

// Notify calls f.
func (f NotifierFunc) Notify(err error) { f(err) }

// State is the controller's lifecycle position.
type State int

// Controller states.
const (
	StateIdle State = iota
	StateLoading
	StateSaving
	StateUnmounted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateSaving:
		return "saving"
	case StateUnmounted:
		return "unmounted"
	default:
		return "unknown"
	}
}

// Status is a snapshot of what the UI shows next to the canvas.
type Status struct {
	State     State
	LastSaved time.Time
	JustSaved bool
	Err       error
	SessionID string
}

// Controller owns the load and save policy for one mounted canvas.
type Controller struct {
	workflowID   string
	canvas       *canvas.Canvas
	remote       Remote
	clock        Clock
	interval     time.Duration
	justSavedFor time.Duration
	logger       *zap.Logger
	notifier     Notifier
	metrics      *metrics.Registry
	sessionID    string

	mu             sync.Mutex
	baseCtx        context.Context
	state          State
	mounted        bool
	unmounted      bool
	armed          bool
	armOnEdit      bool
	unwatch        func()
	inflight       *saveRound
	queued         *saveRound
	loadGen        uint64
	lastSaved      time.Time
	justSaved      bool
	justSavedGen   uint64
	err            error
	timer          Timer
	justSavedTimer Timer

	loaded     chan struct{}
	loadedOnce sync.Once
}

// saveRound is one save attempt. Everyone who asked for it waits on done
// and then reads err.
type saveRound struct {
	done chan struct{}
	err  error
}

func newSaveRound() *saveRound {
	return &saveRound{done: make(chan struct{})}
}

func (r *saveRound) finish(err error) {
	r.err = err
	close(r.done)
}

// Option configures a Controller.
type Option func(*Controller)

// WithInterval sets the autosave period. Defaults to DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(c *Controller) { c.interval = d }
}

// WithJustSavedFor sets how long Status reports JustSaved after a save.
func WithJustSavedFor(d time.Duration) Option {
	return func(c *Controller) { c.justSavedFor = d }
}

// WithClock replaces the wall clock, for tests.
func WithClock(clock Clock) Option {
	return func(c *Controller) { c.clock = clock }
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithNotifier sets where load and save failures are surfaced.
func WithNotifier(n Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

// WithMetrics records loads and saves in m.
func WithMetrics(m *metrics.Registry) Option {
	return func(c *Controller) { c.metrics = m }
}

// New returns a controller for workflowID. An empty workflowID means the
// canvas is not backed by a server record: nothing is loaded or saved.
func New(workflowID string, c *canvas.Canvas, remote Remote, opts ...Option) *Controller {
	ctrl := &Controller{
		workflowID:   workflowID,
		canvas:       c,
		remote:       remote,
		clock:        realClock{},
		interval:     DefaultInterval,
		justSavedFor: DefaultJustSavedFor,
		logger:       zap.NewNop(),
		notifier:     NotifierFunc(func(error) {}),
		sessionID:    uuid.NewString(),
		baseCtx:      context.Background(),
		loaded:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(ctrl)
	}
	ctrl.logger = ctrl.logger.With(
		zap.String("workflow", workflowID),
		zap.String("session", ctrl.sessionID),
	)
	return ctrl
}

// Mount starts the initial load in the background. The autosave timer is
// armed once the load has been applied, so a slow load can never be
// overwritten by the default graph. If the load fails, the first edit to the
// canvas arms it instead. Mount is a no-op after the first call.
func (c *Controller) Mount(ctx context.Context) {
	c.mu.Lock()
	if c.mounted || c.unmounted {
		c.mu.Unlock()
		return
	}
	c.mounted = true
	c.baseCtx = context.WithoutCancel(ctx)

	if c.workflowID == "" {
		c.state = StateIdle
		c.mu.Unlock()
		c.logger.Debug("no workflow id, starting from default canvas")
		c.markLoaded()
		return
	}

	c.state = StateLoading
	gen := c.loadGen
	c.mu.Unlock()

	c.watchEdits()

	go func() {
		_ = c.load(ctx, gen)
		c.markLoaded()
	}()
}

// watchEdits subscribes to the canvas so that, after a failed load, the
// first edit arms autosave. It must be called without c.mu held.
func (c *Controller) watchEdits() {
	cancel := c.canvas.State().Subscribe(func(canvas.Graph) { c.armFromEdit() })

	c.mu.Lock()
	if c.unmounted {
		c.mu.Unlock()
		cancel()
		return
	}
	c.unwatch = cancel
	c.mu.Unlock()
}

func (c *Controller) armFromEdit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unmounted || c.armed || !c.armOnEdit || c.state == StateLoading {
		return
	}
	c.armed = true
	c.armOnEdit = false
	c.scheduleLocked()
	c.logger.Info("canvas edited after failed load, autosave armed")
}

// Loaded is closed once the initial load has settled, successfully or not,
// or the controller was unmounted.
func (c *Controller) Loaded() <-chan struct{} { return c.loaded }

func (c *Controller) markLoaded() {
	c.loadedOnce.Do(func() { close(c.loaded) })
}

// Reload fetches the server copy again and replaces the graph with it.
func (c *Controller) Reload(ctx context.Context) error {
	c.mu.Lock()
	if c.unmounted {
		c.mu.Unlock()
		return ErrUnmounted
	}
	if c.workflowID == "" {
		c.mu.Unlock()
		return nil
	}
	c.loadGen++
	gen := c.loadGen
	c.state = StateLoading
	c.mu.Unlock()

	return c.load(ctx, gen)
}

func (c *Controller) load(ctx context.Context, gen uint64) error {
	p, err := c.remote.Load(ctx, c.workflowID)

	c.mu.Lock()
	if c.unmounted {
		c.mu.Unlock()
		c.logger.Debug("discarding load result after unmount")
		return ErrUnmounted
	}
	if gen != c.loadGen {
		c.mu.Unlock()
		c.logger.Debug("discarding superseded load result")
		return nil
	}

	if err != nil {
		wrapped := fmt.Errorf("%w: %w", ErrLoadFailed, err)
		c.state = StateIdle
		c.err = wrapped
		if !c.armed {
			c.armOnEdit = true
		}
		c.mu.Unlock()

		c.logger.Error("failed to load canvas", zap.Error(err))
		c.metrics.RecordLoad(err, 0, 0)
		c.notifier.Notify(wrapped)
		return wrapped
	}
	c.mu.Unlock()

	// The unmount and generation checks are repeated under the state lock so
	// the graph is replaced only if this load is still current. Subscribers
	// run after both locks are released.
	var unmounted bool
	g, applied := c.canvas.LoadCanvasIf(p, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		unmounted = c.unmounted
		return !unmounted && gen == c.loadGen
	})
	if !applied {
		if unmounted {
			c.logger.Debug("discarding load result after unmount")
			return ErrUnmounted
		}
		c.logger.Debug("discarding superseded load result")
		return nil
	}

	c.mu.Lock()
	if c.unmounted {
		c.mu.Unlock()
		return nil
	}
	c.state = StateIdle
	c.err = nil
	c.armed = true
	c.armOnEdit = false
	c.scheduleLocked()
	c.mu.Unlock()

	c.logger.Info("canvas loaded", zap.Int("nodes", len(g.Nodes)), zap.Int("edges", len(g.Edges)))
	c.metrics.RecordLoad(nil, len(g.Nodes), len(g.Edges))
	return nil
}

// SaveNow saves immediately and restarts the autosave interval from now. If
// a save is already in flight, SaveNow waits for the follow-up save that
// picks up the current graph and returns its result.
func (c *Controller) SaveNow(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.unmounted:
		c.mu.Unlock()
		return ErrUnmounted
	case c.workflowID == "":
		c.mu.Unlock()
		return ErrNoWorkflow
	case c.state == StateLoading:
		c.mu.Unlock()
		return ErrLoading
	}
	c.scheduleLocked()
	c.mu.Unlock()

	err := c.save(ctx, true)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if !c.armed && !c.unmounted {
		c.armed = true
		c.armOnEdit = false
		c.scheduleLocked()
	}
	c.mu.Unlock()
	return nil
}

// tick is the autosave timer callback. The next tick is scheduled before
// saving, so a slow save never delays the cadence; a tick that lands on an
// in-flight save queues behind it instead of overlapping.
func (c *Controller) tick() {
	c.mu.Lock()
	if c.unmounted || !c.armed {
		c.mu.Unlock()
		return
	}
	c.scheduleLocked()
	if c.state == StateLoading {
		c.mu.Unlock()
		return
	}
	ctx := c.baseCtx
	c.mu.Unlock()

	_ = c.save(ctx, false)
}

// save runs one save. If a save is already in flight it joins the single
// queued round behind it instead; wait decides whether the caller blocks
// until that round finishes. A queued round encodes the graph as it is when
// it runs, not when it was requested.
func (c *Controller) save(ctx context.Context, wait bool) error {
	c.mu.Lock()
	if c.unmounted {
		c.mu.Unlock()
		return ErrUnmounted
	}
	if c.inflight != nil {
		if c.queued == nil {
			c.queued = newSaveRound()
		}
		r := c.queued
		c.mu.Unlock()
		c.logger.Debug("save already in flight, queued")
		if !wait {
			return nil
		}
		select {
		case <-r.done:
			return r.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r := newSaveRound()
	c.inflight = r
	c.state = StateSaving
	c.mu.Unlock()

	err := c.saveOnce(ctx)
	c.finishRound(r, err)
	return err
}

// finishRound completes r and runs queued rounds until none are left. Queued
// rounds use the controller's base context since their requesters may be
// gone.
func (c *Controller) finishRound(r *saveRound, err error) {
	for {
		c.mu.Lock()
		r.finish(err)
		next := c.queued
		c.queued = nil
		if next == nil || c.unmounted {
			c.inflight = nil
			if c.state == StateSaving {
				c.state = StateIdle
			}
			c.mu.Unlock()
			if next != nil {
				next.finish(ErrUnmounted)
			}
			return
		}
		c.inflight = next
		ctx := c.baseCtx
		c.mu.Unlock()

		r = next
		err = c.saveOnce(ctx)
	}
}

func (c *Controller) saveOnce(ctx context.Context) error {
	p := c.canvas.GetCanvasData()
	start := c.clock.Now()
	err := c.remote.Save(ctx, c.workflowID, p)
	elapsed := c.clock.Now().Sub(start)
	c.metrics.RecordSave(err, elapsed, len(p.Actions), len(p.Connections))

	if err != nil {
		wrapped := fmt.Errorf("%w: %w", ErrSaveFailed, err)
		c.mu.Lock()
		c.err = wrapped
		c.mu.Unlock()

		c.logger.Error("failed to save canvas", zap.Error(err))
		c.notifier.Notify(wrapped)
		return wrapped
	}

	c.mu.Lock()
	now := c.clock.Now()
	c.lastSaved = now
	c.err = nil
	if !c.unmounted {
		c.justSaved = true
		c.justSavedGen++
		gen := c.justSavedGen
		if c.justSavedTimer != nil {
			c.justSavedTimer.Stop()
		}
		c.justSavedTimer = c.clock.AfterFunc(c.justSavedFor, func() { c.clearJustSaved(gen) })
	}
	c.mu.Unlock()

	c.logger.Info("canvas saved",
		zap.Time("at", now),
		zap.Int("actions", len(p.Actions)),
		zap.Int("connections", len(p.Connections)),
		zap.Duration("took", elapsed),
	)
	return nil
}

func (c *Controller) clearJustSaved(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen == c.justSavedGen {
		c.justSaved = false
	}
}

// scheduleLocked replaces the pending autosave timer with a fresh one.
func (c *Controller) scheduleLocked() {
	c.stopTimerLocked()
	if c.unmounted || !c.armed || c.workflowID == "" {
		return
	}
	c.timer = c.clock.AfterFunc(c.interval, c.tick)
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Unmount stops all timers. An in-flight request is not cancelled but its
// result is discarded.
func (c *Controller) Unmount() {
	c.mu.Lock()
	if c.unmounted {
		c.mu.Unlock()
		return
	}
	c.unmounted = true
	c.state = StateUnmounted
	c.loadGen++
	c.stopTimerLocked()
	if c.justSavedTimer != nil {
		c.justSavedTimer.Stop()
		c.justSavedTimer = nil
	}
	c.justSaved = false
	unwatch := c.unwatch
	c.unwatch = nil
	c.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
	c.logger.Debug("canvas unmounted")
	c.markLoaded()
}

// Status returns the current save state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:     c.state,
		LastSaved: c.lastSaved,
		JustSaved: c.justSaved,
		Err:       c.err,
		SessionID: c.sessionID,
	}
}

// Canvas returns the canvas this controller syncs.
func (c *Controller) Canvas() *canvas.Canvas { return c.canvas }
