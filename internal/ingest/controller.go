// Package ingest owns the event pipeline and the push/poll failover loop
// that feeds it.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"chronos-radar/internal/event"
	"chronos-radar/internal/feed"
	"chronos-radar/internal/metrics"
	"chronos-radar/internal/store"
)

// Sink receives entities after each applied batch. Errors are logged only.
type Sink interface {
	WriteBatch(entities []store.TrackedEntity) error
}

// Options configures a Controller. Zero durations take the defaults below.
type Options struct {
	Subscriber feed.Subscriber
	Querier    feed.Querier
	Pipeline   *Pipeline
	Topics     []string

	HeartbeatTimeout     time.Duration
	ReplayWindow         time.Duration
	ReconnectBackoff     time.Duration
	ConnectTimeout       time.Duration
	DegradedPollInterval time.Duration
	BackupPollInterval   time.Duration
	SweepInterval        time.Duration
	FetchTimeout         time.Duration
	PollLimit            int

	Sink    Sink
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

const (
	DefaultHeartbeatTimeout     = 30 * time.Second
	DefaultReplayWindow         = 5 * time.Minute
	DefaultReconnectBackoff     = time.Second
	DefaultConnectTimeout       = 10 * time.Second
	DefaultDegradedPollInterval = 2 * time.Second
	DefaultBackupPollInterval   = 10 * time.Second
	DefaultSweepInterval        = 10 * time.Second
	DefaultFetchTimeout         = 10 * time.Second
	DefaultPollLimit            = 500
)

func (o *Options) applyDefaults() {
	def := func(d *time.Duration, v time.Duration) {
		if *d <= 0 {
			*d = v
		}
	}
	def(&o.HeartbeatTimeout, DefaultHeartbeatTimeout)
	def(&o.ReplayWindow, DefaultReplayWindow)
	def(&o.ReconnectBackoff, DefaultReconnectBackoff)
	def(&o.ConnectTimeout, DefaultConnectTimeout)
	def(&o.DegradedPollInterval, DefaultDegradedPollInterval)
	def(&o.BackupPollInterval, DefaultBackupPollInterval)
	def(&o.SweepInterval, DefaultSweepInterval)
	def(&o.FetchTimeout, DefaultFetchTimeout)
	if o.PollLimit <= 0 {
		o.PollLimit = DefaultPollLimit
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

type fetchPurpose string

const (
	purposeReplay fetchPurpose = "replay"
	purposePoll   fetchPurpose = "poll"
)

type dialResult struct {
	attempt uint64
	stream  feed.Stream
	err     error
}

type streamItem struct {
	gen uint64
	msg feed.Message
	err error
}

type fetchResult struct {
	purpose fetchPurpose
	gen     uint64
	events  []event.RawEvent
	err     error
}

// Controller drives one subscription to the event log and applies what it
// receives to the pipeline. Every store mutation happens on the Run
// goroutine.
type Controller struct {
	opts  Options
	log   *slog.Logger
	state atomic.Int32

	mu     sync.RWMutex
	status Status

	reconnectReq chan struct{}
	dialCh       chan dialResult
	streamCh     chan streamItem
	fetchCh      chan fetchResult

	running   atomic.Bool
	closeOnce sync.Once
	closing   chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup

	// owned by the Run goroutine
	gen         uint64
	stream      feed.Stream
	dialAttempt uint64
	dialCancel  context.CancelFunc
	replaying   bool
	polling     bool
	lastBeat    time.Time
	cursor      time.Time
	pollTicker  *time.Ticker
	pollEvery   time.Duration
}

// New validates opts and returns an idle controller.
func New(opts Options) (*Controller, error) {
	if opts.Subscriber == nil {
		return nil, errors.New("ingest: subscriber required")
	}
	if opts.Querier == nil {
		return nil, errors.New("ingest: querier required")
	}
	if opts.Pipeline == nil || opts.Pipeline.Store == nil {
		return nil, errors.New("ingest: pipeline with store required")
	}
	opts.applyDefaults()
	c := &Controller{
		opts:         opts,
		log:          opts.Logger.With("component", "ingest"),
		reconnectReq: make(chan struct{}, 1),
		dialCh:       make(chan dialResult, 1),
		streamCh:     make(chan streamItem, 64),
		fetchCh:      make(chan fetchResult, 2),
		closing:      make(chan struct{}),
		done:         make(chan struct{}),
	}
	c.status = Status{State: StateDisconnected, Since: opts.Now(), Capacity: opts.Pipeline.Store.Capacity()}
	c.pollTicker = time.NewTicker(time.Hour)
	c.pollTicker.Stop()
	return c, nil
}

// State is the current connectivity state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Status returns a copy of the controller status.
func (c *Controller) Status() Status {
	c.mu.RLock()
	st := c.status
	c.mu.RUnlock()
	st.State = c.State()
	st.Entities = c.opts.Pipeline.Store.Len()
	return st
}

// Reconnect asks the loop to drop the current connection and dial again.
func (c *Controller) Reconnect() {
	select {
	case c.reconnectReq <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is cancelled or Close is called. It may be called at
// most once.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("ingest: controller already started")
	}
	defer close(c.done)
	select {
	case <-c.closing:
		c.setState(StateClosed)
		return nil
	default:
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hbTicker := time.NewTicker(clamp(c.opts.HeartbeatTimeout/4, 10*time.Millisecond, time.Second))
	sweepTicker := time.NewTicker(c.opts.SweepInterval)
	defer hbTicker.Stop()
	defer sweepTicker.Stop()

	c.connect(ctx, false)
	for {
		var streamIn <-chan streamItem
		if c.stream != nil && !c.replaying {
			streamIn = c.streamCh
		}
		select {
		case <-ctx.Done():
			c.shutdown(cancel)
			return nil
		case <-c.closing:
			c.shutdown(cancel)
			return nil
		case <-c.reconnectReq:
			c.handleReconnect(ctx)
		case d := <-c.dialCh:
			c.handleDial(ctx, d)
		case it := <-streamIn:
			c.handleStream(ctx, it)
		case f := <-c.fetchCh:
			c.handleFetch(f)
		case <-c.pollTicker.C:
			c.startPoll(ctx)
		case <-hbTicker.C:
			c.checkHeartbeat(ctx, c.opts.Now())
		case <-sweepTicker.C:
			c.sweep(c.opts.Now())
		}
	}
}

// Close stops the controller and waits for Run to return. It is safe to call
// more than once, and before or without Run.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() { close(c.closing) })
	if c.running.Load() {
		<-c.done
		return nil
	}
	c.setState(StateClosed)
	return nil
}

func (c *Controller) shutdown(cancel context.CancelFunc) {
	cancel()
	c.stopDialing()
	c.closeStream()
	c.pollTicker.Stop()
	c.setState(StateClosed)
	c.wg.Wait()
	// A dial that finished after the last loop turn is still buffered.
	select {
	case d := <-c.dialCh:
		if d.stream != nil {
			d.stream.Close()
		}
	default:
	}
	c.log.Info("ingestion stopped")
}

func (c *Controller) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	if prev == s {
		return
	}
	now := c.opts.Now()
	c.mu.Lock()
	c.status.State = s
	c.status.Since = now
	c.mu.Unlock()
	c.opts.Metrics.Transition(prev.String(), s.String(), int(s))
	c.log.Info("state change", "from", prev.String(), "to", s.String())
}

func (c *Controller) updateStatus(fn func(*Status)) {
	c.mu.Lock()
	fn(&c.status)
	c.mu.Unlock()
}

// connect starts a dial loop unless one is running. From DegradedPolling the
// first attempt waits one backoff period.
func (c *Controller) connect(ctx context.Context, fromDegraded bool) {
	if c.dialCancel != nil {
		return
	}
	if !fromDegraded {
		c.setState(StateConnecting)
	}
	dctx, cancel := context.WithCancel(ctx)
	c.dialCancel = cancel
	c.dialAttempt++
	attempt := c.dialAttempt
	backoff := c.opts.ReconnectBackoff
	timeout := c.opts.ConnectTimeout
	sub := c.opts.Subscriber
	now := c.opts.Now
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for i := 0; ; i++ {
			if i > 0 || fromDegraded {
				select {
				case <-time.After(backoff):
				case <-dctx.Done():
					return
				}
			}
			// A server that accepts but never answers is a failed dial.
			actx, acancel := context.WithTimeout(dctx, timeout)
			st, err := sub.Subscribe(actx, now())
			timedOut := errors.Is(actx.Err(), context.DeadlineExceeded)
			acancel()
			if err != nil && dctx.Err() != nil {
				return
			}
			if err != nil && timedOut {
				err = fmt.Errorf("connect timed out after %s: %w", timeout, err)
			}
			select {
			case c.dialCh <- dialResult{attempt: attempt, stream: st, err: err}:
			case <-dctx.Done():
				if st != nil {
					st.Close()
				}
				return
			}
			if err == nil {
				return
			}
		}
	}()
}

func (c *Controller) stopDialing() {
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
}

func (c *Controller) closeStream() {
	if c.stream != nil {
		if err := c.stream.Close(); err != nil {
			c.log.Debug("stream close", "err", err)
		}
		c.stream = nil
	}
	c.replaying = false
}

func (c *Controller) handleReconnect(ctx context.Context) {
	if c.State() == StateClosed {
		return
	}
	c.log.Info("reconnect requested")
	c.stopDialing()
	c.closeStream()
	c.gen++
	c.connect(ctx, false)
}

func (c *Controller) handleDial(ctx context.Context, d dialResult) {
	if d.attempt != c.dialAttempt || c.dialCancel == nil {
		if d.stream != nil {
			d.stream.Close()
		}
		return
	}
	if d.err != nil {
		c.log.Warn("stream connect failed", "err", d.err)
		if c.State() == StateConnecting {
			c.enterDegraded(ctx, false)
		}
		return
	}
	c.stopDialing()
	c.closeStream()
	c.gen++
	c.stream = d.stream
	c.updateStatus(func(s *Status) { s.Reconnects++ })
	c.wg.Add(1)
	go c.read(ctx, c.gen, d.stream)
	c.beginLive(ctx)
}

// read pumps one stream into the loop until it fails or ctx ends.
func (c *Controller) read(ctx context.Context, gen uint64, st feed.Stream) {
	defer c.wg.Done()
	for {
		m, err := st.Recv()
		select {
		case c.streamCh <- streamItem{gen: gen, msg: m, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// beginLive enters StreamingLive and replays the recent window before any
// live message is drained.
func (c *Controller) beginLive(ctx context.Context) {
	now := c.opts.Now()
	c.lastBeat = now
	c.setState(StateStreamingLive)
	c.setPollInterval(c.opts.BackupPollInterval)
	c.replaying = true
	c.updateStatus(func(s *Status) { s.Replaying = true })
	c.fetch(ctx, purposeReplay, feed.Query{Since: now.Add(-c.opts.ReplayWindow), Topics: c.opts.Topics})
}

func (c *Controller) enterDegraded(ctx context.Context, keepStream bool) {
	if !keepStream {
		c.closeStream()
	}
	c.setState(StateDegradedPolling)
	c.setPollInterval(c.opts.DegradedPollInterval)
	c.connect(ctx, true)
	c.startPoll(ctx)
}

func (c *Controller) setPollInterval(d time.Duration) {
	c.pollEvery = d
	c.pollTicker.Reset(d)
	c.updateStatus(func(s *Status) { s.PollInterval = d })
}

func (c *Controller) handleStream(ctx context.Context, it streamItem) {
	if it.gen != c.gen || c.stream == nil {
		return
	}
	if it.err != nil {
		if errors.Is(it.err, feed.ErrClosed) {
			return
		}
		c.log.Warn("stream failed", "err", it.err)
		c.gen++
		c.enterDegraded(ctx, false)
		return
	}
	switch c.State() {
	case StateStreamingLive:
		now := c.opts.Now()
		if it.msg.Heartbeat {
			c.lastBeat = now
			c.opts.Metrics.Heartbeat(now)
			c.updateStatus(func(s *Status) { s.LastHeartbeat = now })
			return
		}
		if it.msg.Err != nil {
			c.opts.Metrics.Event("unclassified", string(OutcomeMalformed))
			c.log.Debug("malformed frame", "err", it.msg.Err)
			return
		}
		c.apply([]event.RawEvent{it.msg.Event}, now)
	case StateDegradedPolling:
		// The stream was kept open after a heartbeat timeout and has spoken
		// again. The replay covers whatever this message carried.
		c.log.Info("stream recovered")
		c.stopDialing()
		c.beginLive(ctx)
	}
}

func (c *Controller) checkHeartbeat(ctx context.Context, now time.Time) {
	if c.State() != StateStreamingLive || c.replaying {
		return
	}
	if now.Sub(c.lastBeat) > c.opts.HeartbeatTimeout {
		c.log.Warn("heartbeat timeout", "silence", now.Sub(c.lastBeat).Round(time.Millisecond))
		c.enterDegraded(ctx, true)
	}
}

func (c *Controller) startPoll(ctx context.Context) {
	st := c.State()
	if st != StateDegradedPolling && st != StateStreamingLive {
		return
	}
	if c.polling || c.replaying {
		return
	}
	since := c.cursor
	if floor := c.opts.Now().Add(-c.opts.ReplayWindow); since.Before(floor) {
		since = floor
	}
	c.polling = true
	c.fetch(ctx, purposePoll, feed.Query{Since: since, Topics: c.opts.Topics, Limit: c.opts.PollLimit})
}

func (c *Controller) fetch(ctx context.Context, purpose fetchPurpose, q feed.Query) {
	gen := c.gen
	fctx, cancel := context.WithTimeout(ctx, c.opts.FetchTimeout)
	querier := c.opts.Querier
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		evs, err := querier.Fetch(fctx, q)
		select {
		case c.fetchCh <- fetchResult{purpose: purpose, gen: gen, events: evs, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (c *Controller) handleFetch(f fetchResult) {
	if c.State() == StateClosed {
		return
	}
	switch f.purpose {
	case purposeReplay:
		if f.gen != c.gen || !c.replaying {
			return
		}
		c.replaying = false
		c.lastBeat = c.opts.Now()
		c.updateStatus(func(s *Status) { s.Replaying = false })
	case purposePoll:
		c.polling = false
	}
	if f.err != nil {
		c.opts.Metrics.FetchFailed(string(f.purpose))
		c.log.Warn("fetch failed", "purpose", f.purpose, "err", f.err)
		return
	}
	c.apply(f.events, c.opts.Now())
}

// apply runs a batch through the pipeline oldest first.
func (c *Controller) apply(evs []event.RawEvent, now time.Time) {
	if len(evs) == 0 {
		return
	}
	sort.SliceStable(evs, func(i, j int) bool { return evs[i].Timestamp.Before(evs[j].Timestamp) })
	var stored []store.TrackedEntity
	for _, ev := range evs {
		res := c.opts.Pipeline.Apply(ev, now)
		if res.Outcome == OutcomeStored {
			stored = append(stored, res.Entity)
		}
		if ev.Timestamp.After(c.cursor) {
			c.cursor = ev.Timestamp
		}
	}
	c.updateStatus(func(s *Status) { s.LastEvent = now })
	if c.opts.Sink != nil && len(stored) > 0 {
		if err := c.opts.Sink.WriteBatch(stored); err != nil {
			c.opts.Metrics.ArchiveFailed()
			c.log.Error("archive write failed", "err", err)
		}
	}
}

func (c *Controller) sweep(now time.Time) {
	if c.State() == StateClosed {
		return
	}
	c.opts.Pipeline.Sweep(now)
}

func clamp(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
