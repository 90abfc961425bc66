package ingest

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chronos-radar/internal/event"
	"chronos-radar/internal/feed"
	"chronos-radar/internal/logging"
	"chronos-radar/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeStream struct {
	msgs   chan feed.Message
	errs   chan error
	closed chan struct{}
	once   sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		msgs:   make(chan feed.Message),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (s *fakeStream) Recv() (feed.Message, error) {
	select {
	case m := <-s.msgs:
		return m, nil
	case err := <-s.errs:
		return feed.Message{}, err
	case <-s.closed:
		return feed.Message{}, feed.ErrClosed
	}
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type fakeSubscriber struct {
	calls atomic.Int32
	fn    func(call int) (feed.Stream, error)
}

func (s *fakeSubscriber) Subscribe(ctx context.Context, since time.Time) (feed.Stream, error) {
	n := int(s.calls.Add(1))
	return s.fn(n)
}

// streams hands out the given streams in order and fails once they run out.
func streams(ss ...*fakeStream) *fakeSubscriber {
	return &fakeSubscriber{fn: func(call int) (feed.Stream, error) {
		if call <= len(ss) {
			return ss[call-1], nil
		}
		return nil, errors.New("connection refused")
	}}
}

// hungSubscriber accepts the connection but never answers.
type hungSubscriber struct {
	calls atomic.Int32
}

func (s *hungSubscriber) Subscribe(ctx context.Context, since time.Time) (feed.Stream, error) {
	s.calls.Add(1)
	<-ctx.Done()
	return nil, ctx.Err()
}

type fakeQuerier struct {
	queries chan feed.Query
	fn      func(q feed.Query) ([]event.RawEvent, error)
}

func newFakeQuerier(fn func(q feed.Query) ([]event.RawEvent, error)) *fakeQuerier {
	return &fakeQuerier{queries: make(chan feed.Query, 256), fn: fn}
}

func (q *fakeQuerier) Fetch(ctx context.Context, query feed.Query) ([]event.RawEvent, error) {
	select {
	case q.queries <- query:
	default:
	}
	if q.fn == nil {
		return nil, nil
	}
	return q.fn(query)
}

type fakeSink struct {
	mu      sync.Mutex
	batches [][]store.TrackedEntity
}

func (s *fakeSink) WriteBatch(es []store.TrackedEntity) error {
	s.mu.Lock()
	s.batches = append(s.batches, es)
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func newController(t *testing.T, sub feed.Subscriber, q feed.Querier, tweak func(*Options)) *Controller {
	t.Helper()
	opts := Options{
		Subscriber: sub,
		Querier:    q,
		Pipeline:   newPipeline(t, 50),
		Logger:     logging.Discard(),
	}
	if tweak != nil {
		tweak(&opts)
	}
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("expected error for empty options")
	}
	if _, err := New(Options{Subscriber: streams(), Querier: newFakeQuerier(nil)}); err == nil {
		t.Fatal("expected error without pipeline")
	}
}

// goLive drives a controller by hand from Connecting through the replay.
func goLive(t *testing.T, ctx context.Context, c *Controller) {
	t.Helper()
	c.connect(ctx, false)
	if c.State() != StateConnecting {
		t.Fatalf("state = %s, want connecting", c.State())
	}
	c.handleDial(ctx, <-c.dialCh)
	if c.State() != StateStreamingLive || !c.replaying {
		t.Fatalf("state = %s replaying=%v", c.State(), c.replaying)
	}
	c.handleFetch(<-c.fetchCh)
	if c.replaying {
		t.Fatal("replay not finished")
	}
}

func TestDialFailureEntersDegraded(t *testing.T) {
	clock := &fakeClock{now: t0}
	q := newFakeQuerier(nil)
	c := newController(t, streams(), q, func(o *Options) {
		o.Now = clock.Now
		o.ReconnectBackoff = time.Hour
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer c.shutdown(cancel)

	c.connect(ctx, false)
	c.handleDial(ctx, <-c.dialCh)
	if c.State() != StateDegradedPolling {
		t.Fatalf("state = %s, want degraded_polling", c.State())
	}
	query := <-q.queries
	if query.Limit != DefaultPollLimit {
		t.Errorf("limit = %d", query.Limit)
	}
	if want := t0.Add(-DefaultReplayWindow); !query.Since.Equal(want) {
		t.Errorf("since = %v, want %v", query.Since, want)
	}
	if st := c.Status(); st.PollInterval != DefaultDegradedPollInterval {
		t.Errorf("poll interval = %v", st.PollInterval)
	}
}

func TestHungDialTimesOutToDegraded(t *testing.T) {
	q := newFakeQuerier(nil)
	sub := &hungSubscriber{}
	c := newController(t, sub, q, func(o *Options) {
		o.ConnectTimeout = 20 * time.Millisecond
		o.ReconnectBackoff = time.Hour
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer c.shutdown(cancel)

	c.connect(ctx, false)
	var d dialResult
	select {
	case d = <-c.dialCh:
	case <-time.After(2 * time.Second):
		t.Fatal("dial attempt never timed out")
	}
	if d.err == nil || !errors.Is(d.err, context.DeadlineExceeded) {
		t.Fatalf("dial err = %v, want deadline exceeded", d.err)
	}
	c.handleDial(ctx, d)
	if c.State() != StateDegradedPolling {
		t.Fatalf("state = %s, want degraded_polling", c.State())
	}
	select {
	case <-q.queries:
	case <-time.After(2 * time.Second):
		t.Fatal("no poll issued after hung dial")
	}
}

func TestShutdownClosesBufferedDial(t *testing.T) {
	st := newFakeStream()
	c := newController(t, streams(st), newFakeQuerier(nil), nil)
	ctx, cancel := context.WithCancel(context.Background())

	c.connect(ctx, false)
	waitFor(t, "dial result buffered", func() bool { return len(c.dialCh) == 1 })
	c.shutdown(cancel)
	if !st.isClosed() {
		t.Fatal("stream from an unhandled dial left open")
	}
}

func TestReplayRunsBeforeLiveMessages(t *testing.T) {
	clock := &fakeClock{now: t0}
	st := newFakeStream()
	q := newFakeQuerier(func(feed.Query) ([]event.RawEvent, error) {
		return []event.RawEvent{aircraft("REPLAY1", 45.43, -75.70, t0.Add(-time.Minute))}, nil
	})
	c := newController(t, streams(st), q, func(o *Options) { o.Now = clock.Now })
	ctx, cancel := context.WithCancel(context.Background())
	defer c.shutdown(cancel)

	goLive(t, ctx, c)
	query := <-q.queries
	if want := t0.Add(-DefaultReplayWindow); !query.Since.Equal(want) {
		t.Errorf("replay since = %v, want %v", query.Since, want)
	}
	if _, ok := c.opts.Pipeline.Store.Get(acID("REPLAY1")); !ok {
		t.Fatal("replayed entity missing")
	}
	if c.Status().PollInterval != DefaultBackupPollInterval {
		t.Errorf("poll interval = %v", c.Status().PollInterval)
	}
}

func TestHeartbeatTimeoutAndRecovery(t *testing.T) {
	clock := &fakeClock{now: t0}
	st := newFakeStream()
	c := newController(t, streams(st), newFakeQuerier(nil), func(o *Options) {
		o.Now = clock.Now
		o.ReconnectBackoff = time.Hour
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer c.shutdown(cancel)
	goLive(t, ctx, c)

	clock.Advance(20 * time.Second)
	go func() { st.msgs <- feed.Message{Heartbeat: true} }()
	c.handleStream(ctx, <-c.streamCh)
	if !c.Status().LastHeartbeat.Equal(clock.Now()) {
		t.Errorf("last heartbeat = %v", c.Status().LastHeartbeat)
	}

	clock.Advance(29 * time.Second)
	c.checkHeartbeat(ctx, clock.Now())
	if c.State() != StateStreamingLive {
		t.Fatalf("state = %s after 29s", c.State())
	}
	clock.Advance(2 * time.Second)
	c.checkHeartbeat(ctx, clock.Now())
	if c.State() != StateDegradedPolling {
		t.Fatalf("state = %s, want degraded_polling", c.State())
	}
	if st.isClosed() {
		t.Fatal("stream closed on heartbeat timeout")
	}

	// Data on the recovering stream is not applied; the replay covers it.
	go func() { st.msgs <- feed.Message{Event: aircraft("LIVE1", 45.43, -75.70, clock.Now())} }()
	c.handleStream(ctx, <-c.streamCh)
	if c.State() != StateStreamingLive || !c.replaying {
		t.Fatalf("state = %s replaying=%v", c.State(), c.replaying)
	}
	if c.opts.Pipeline.Store.Len() != 0 {
		t.Errorf("degraded push data was applied")
	}
	if c.Status().PollInterval != DefaultBackupPollInterval {
		t.Errorf("poll interval = %v", c.Status().PollInterval)
	}
}

func TestTransportErrorEntersDegraded(t *testing.T) {
	clock := &fakeClock{now: t0}
	st := newFakeStream()
	c := newController(t, streams(st), newFakeQuerier(nil), func(o *Options) {
		o.Now = clock.Now
		o.ReconnectBackoff = time.Hour
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer c.shutdown(cancel)
	goLive(t, ctx, c)

	st.errs <- io.ErrUnexpectedEOF
	c.handleStream(ctx, <-c.streamCh)
	if c.State() != StateDegradedPolling {
		t.Fatalf("state = %s, want degraded_polling", c.State())
	}
	if c.stream != nil || !st.isClosed() {
		t.Error("failed stream was kept")
	}
}

func TestLiveEventsApplied(t *testing.T) {
	clock := &fakeClock{now: t0}
	st := newFakeStream()
	sink := &fakeSink{}
	c := newController(t, streams(st), newFakeQuerier(nil), func(o *Options) {
		o.Now = clock.Now
		o.Sink = sink
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer c.shutdown(cancel)
	goLive(t, ctx, c)

	go func() { st.msgs <- feed.Message{Event: aircraft("ABC123", 45.43, -75.70, t0)} }()
	c.handleStream(ctx, <-c.streamCh)
	go func() { st.msgs <- feed.Message{Err: event.ErrMalformed} }()
	c.handleStream(ctx, <-c.streamCh)

	if c.opts.Pipeline.Store.Len() != 1 {
		t.Fatalf("len = %d, want 1", c.opts.Pipeline.Store.Len())
	}
	if sink.count() != 1 {
		t.Errorf("sink got %d entities", sink.count())
	}
	if !c.cursor.Equal(t0) {
		t.Errorf("cursor = %v", c.cursor)
	}
}

func TestStaleDialIgnored(t *testing.T) {
	c := newController(t, streams(), newFakeQuerier(nil), nil)
	st := newFakeStream()
	c.handleDial(context.Background(), dialResult{attempt: 7, stream: st})
	if c.State() != StateDisconnected {
		t.Fatalf("state = %s", c.State())
	}
	if !st.isClosed() {
		t.Error("stale stream left open")
	}
}

func TestCloseBeforeRun(t *testing.T) {
	c := newController(t, streams(newFakeStream()), newFakeQuerier(nil), nil)
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if c.State() != StateClosed {
		t.Fatalf("state = %s", c.State())
	}
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run after Close: %v", err)
	}
	if c.opts.Subscriber.(*fakeSubscriber).calls.Load() != 0 {
		t.Error("subscriber dialed after Close")
	}
}

func TestRunStreamsAndCloses(t *testing.T) {
	st := newFakeStream()
	sink := &fakeSink{}
	sub := streams(st)
	q := newFakeQuerier(nil)
	c := newController(t, sub, q, func(o *Options) { o.Sink = sink })

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()
	waitFor(t, "live", func() bool { return c.State() == StateStreamingLive && !c.Status().Replaying })

	st.msgs <- feed.Message{Heartbeat: true}
	st.msgs <- feed.Message{Event: aircraft("ABC123", 45.43, -75.70, time.Now())}
	waitFor(t, "entity", func() bool { return c.Status().Entities == 1 })

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if c.State() != StateClosed {
		t.Errorf("state = %s", c.State())
	}
	if !st.isClosed() {
		t.Error("stream left open")
	}
	if err := c.Run(context.Background()); err == nil {
		t.Error("second Run should fail")
	}
}

func TestRunFailsOverAndRecovers(t *testing.T) {
	first := newFakeStream()
	second := newFakeStream()
	var allow atomic.Bool
	sub := &fakeSubscriber{fn: func(call int) (feed.Stream, error) {
		if call == 1 {
			return first, nil
		}
		if allow.Load() {
			return second, nil
		}
		return nil, errors.New("connection refused")
	}}
	c := newController(t, sub, newFakeQuerier(nil), func(o *Options) {
		o.HeartbeatTimeout = 100 * time.Millisecond
		o.ReconnectBackoff = 10 * time.Millisecond
		o.DegradedPollInterval = 10 * time.Millisecond
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	waitFor(t, "degraded after silence", func() bool { return c.State() == StateDegradedPolling })
	waitFor(t, "reconnect attempts", func() bool { return sub.calls.Load() >= 3 })

	allow.Store(true)
	waitFor(t, "live on new stream", func() bool {
		return c.State() == StateStreamingLive && c.Status().Reconnects == 2
	})
	if !first.isClosed() {
		t.Error("superseded stream left open")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRunReconnectRequest(t *testing.T) {
	first := newFakeStream()
	second := newFakeStream()
	sub := streams(first, second)
	c := newController(t, sub, newFakeQuerier(nil), nil)
	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()
	defer func() {
		c.Close()
		<-done
	}()

	waitFor(t, "live", func() bool { return c.State() == StateStreamingLive })
	c.Reconnect()
	waitFor(t, "second stream", func() bool { return c.Status().Reconnects == 2 && c.State() == StateStreamingLive })
	if !first.isClosed() {
		t.Error("old stream left open")
	}
}
