package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/locolive/ephemeral/internal/domain"
)

const (
	DefaultAckTimeout          = 3 * time.Second
	DefaultBackgroundThreshold = 30 * time.Second
	defaultSnapRetries         = 3
)

var (
	ErrAlreadyOpen   = errors.New("playback session already open")
	ErrSessionClosed = errors.New("playback session closed")
)

// ItemState is the playback state of the current item
type ItemState int

const (
	StateIdle ItemState = iota
	StateLoading
	StatePlaying
	StatePaused
	StateAdvancing
	StateFinished
	StateUnavailable
)

func (s ItemState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateAdvancing:
		return "advancing"
	case StateFinished:
		return "finished"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// SessionState is Active until any closing transition
type SessionState int

const (
	SessionActive SessionState = iota
	SessionClosed
)

// CloseReason says why a session ended
type CloseReason string

const (
	CloseExplicit     CloseReason = "closed"
	CloseExhausted    CloseReason = "exhausted"
	CloseBackgrounded CloseReason = "backgrounded"
)

// Observer receives state changes. Callbacks run with the session lock held
// and must not call back into the session.
type Observer interface {
	ItemStateChanged(index int, item *domain.ContentItem, state ItemState)
	SessionClosed(reason CloseReason)
}

// Options wires a Session's collaborators. Zero values get defaults.
type Options struct {
	Views               ViewRecorder
	Media               MediaResolver
	Guard               *Guard
	Detector            Detector
	Observer            Observer
	NewTicker           TickerFactory
	Now                 func() time.Time
	TickInterval        time.Duration
	AckTimeout          time.Duration
	BackgroundThreshold time.Duration
	SnapRetries         uint64
	RetryBackOff        func() backoff.BackOff
	Logger              *zap.Logger
}

func (o *Options) applyDefaults() {
	if o.Detector == nil {
		o.Detector = UnsupportedDetector{}
	}
	if o.NewTicker == nil {
		o.NewTicker = NewRealTicker
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.TickInterval <= 0 {
		o.TickInterval = DefaultTickInterval
	}
	if o.AckTimeout <= 0 {
		o.AckTimeout = DefaultAckTimeout
	}
	if o.BackgroundThreshold <= 0 {
		o.BackgroundThreshold = DefaultBackgroundThreshold
	}
	if o.SnapRetries == 0 {
		o.SnapRetries = defaultSnapRetries
	}
	if o.RetryBackOff == nil {
		o.RetryBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxElapsedTime = 0
			return b
		}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

type entry struct {
	item     *domain.ContentItem
	recorded bool
	gone     bool
}

type outcome int

const (
	outcomePlay outcome = iota
	outcomeUnavailable
	outcomeSkip
)

// Session is one viewer's pass over a fixed queue. Exactly one item is
// current at a time. All methods are safe for concurrent use.
type Session struct {
	mu       sync.Mutex
	viewerID uuid.UUID
	entries  []entry
	opts     Options
	logger   *zap.Logger

	ctx            context.Context
	opened         bool
	state          SessionState
	reason         CloseReason
	index          int
	itemState      ItemState
	elapsed        time.Duration
	duration       time.Duration
	gen            uint64
	clock          *progressClock
	backgrounded   bool
	backgroundedAt time.Time
	stopDetector   func()
	dispatcher     *viewDispatcher
	done           chan struct{}
	wg             sync.WaitGroup
}

// NewSession snapshots queue. Later changes to the caller's items do not
// reach the session.
func NewSession(viewerID uuid.UUID, queue []*domain.ContentItem, opts Options) *Session {
	opts.applyDefaults()

	entries := make([]entry, 0, len(queue))
	for _, item := range queue {
		copied := *item
		entries = append(entries, entry{item: &copied})
	}

	return &Session{
		viewerID: viewerID,
		entries:  entries,
		opts:     opts,
		logger:   opts.Logger.With(zap.String("viewer_id", viewerID.String())),
		ctx:      context.Background(),
		done:     make(chan struct{}),
	}
}

// Open starts the session on the first item and returns once it is playing,
// skipped past, or the queue is exhausted.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.state == SessionClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.opened {
		s.mu.Unlock()
		return ErrAlreadyOpen
	}
	s.opened = true
	s.ctx = ctx

	s.dispatcher = newViewDispatcher(s.recordJob)
	s.goAsync(s.dispatcher.run)
	s.stopDetector = s.opts.Detector.Start(s.ScreenshotDetected)

	if len(s.entries) == 0 {
		s.closeLocked(CloseExhausted)
		s.mu.Unlock()
		return nil
	}
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	s.enter(gen, 0)
	return nil
}

// Tick advances the progress clock by one interval while playing
func (s *Session) Tick() {
	s.mu.Lock()
	if s.state == SessionClosed || s.itemState != StatePlaying || s.backgrounded {
		s.mu.Unlock()
		return
	}
	s.elapsed += s.opts.TickInterval
	if s.elapsed < s.duration {
		s.mu.Unlock()
		return
	}
	s.elapsed = s.duration
	next, ok := s.advanceLocked()
	gen := s.gen
	s.mu.Unlock()

	if ok {
		s.enter(gen, next)
	}
}

// Next is forward navigation. It is ignored while an item is loading.
func (s *Session) Next() {
	s.mu.Lock()
	if s.state == SessionClosed || (s.itemState != StatePlaying && s.itemState != StatePaused) {
		s.mu.Unlock()
		return
	}
	next, ok := s.advanceLocked()
	gen := s.gen
	s.mu.Unlock()

	if ok {
		s.enter(gen, next)
	}
}

// Previous moves to the nearest earlier playable item from 0, or restarts
// the current item when there is none.
func (s *Session) Previous() {
	s.mu.Lock()
	if s.state == SessionClosed || (s.itemState != StatePlaying && s.itemState != StatePaused) {
		s.mu.Unlock()
		return
	}

	target := -1
	for i := s.index - 1; i >= 0; i-- {
		if !s.entries[i].gone {
			target = i
			break
		}
	}
	if target < 0 {
		s.elapsed = 0
		s.setItemState(StatePlaying)
		s.mu.Unlock()
		return
	}

	s.gen++
	gen := s.gen
	s.mu.Unlock()

	s.enter(gen, target)
}

// Pause holds the current item at its progress
func (s *Session) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionActive && s.itemState == StatePlaying {
		s.setItemState(StatePaused)
	}
}

// Resume continues from the held progress
func (s *Session) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionActive && s.itemState == StatePaused {
		s.setItemState(StatePlaying)
	}
}

// Background stops the clock; elapsed time is kept as is.
func (s *Session) Background() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionClosed || s.backgrounded {
		return
	}
	s.backgrounded = true
	s.backgroundedAt = s.opts.Now()
	s.stopClock()
}

// Foreground resumes the clock, or closes the session when it spent at
// least the background threshold away.
func (s *Session) Foreground() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionClosed || !s.backgrounded {
		return
	}
	s.backgrounded = false
	if s.opts.Now().Sub(s.backgroundedAt) >= s.opts.BackgroundThreshold {
		s.gen++
		s.closeLocked(CloseBackgrounded)
		return
	}
	if s.itemState == StatePlaying || s.itemState == StatePaused {
		s.ensureClock()
	}
}

// ScreenshotDetected hands a capture event to the guard. Playback state is
// untouched; events outside Playing and Paused are ignored.
func (s *Session) ScreenshotDetected() {
	s.mu.Lock()
	if s.state == SessionClosed || s.opts.Guard == nil ||
		(s.itemState != StatePlaying && s.itemState != StatePaused) {
		s.mu.Unlock()
		return
	}
	contentID := s.entries[s.index].item.ID
	now := s.opts.Now()
	s.mu.Unlock()

	s.opts.Guard.OnScreenshotDetected(s, contentID, s.viewerID, now)
}

// Close ends the session. In-flight view and screenshot calls still complete.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionClosed {
		return
	}
	s.gen++
	s.closeLocked(CloseExplicit)
}

// Wait blocks until the session is closed and every background call it
// issued has finished.
func (s *Session) Wait() {
	<-s.done
	s.wg.Wait()
}

func (s *Session) State() ItemState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.itemState
}

func (s *Session) SessionState() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) CloseReason() CloseReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

func (s *Session) Index() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

// Current returns a copy of the current item, or nil for an empty queue
func (s *Session) Current() *domain.ContentItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return nil
	}
	copied := *s.entries[s.index].item
	return &copied
}

// Progress is elapsed / viewing duration, in [0,1]
func (s *Session) Progress() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.duration <= 0 {
		return 0
	}
	p := float64(s.elapsed) / float64(s.duration)
	if p > 1 {
		return 1
	}
	return p
}

// enter loads idx and keeps moving forward past items that cannot play.
func (s *Session) enter(gen uint64, idx int) {
	for {
		s.mu.Lock()
		if s.state == SessionClosed || gen != s.gen {
			s.mu.Unlock()
			return
		}
		s.index = idx
		e := &s.entries[idx]
		s.elapsed = 0
		s.duration = time.Duration(domain.ClampDuration(e.item.ViewingDurationSeconds)) * time.Second

		if e.gone {
			s.setItemState(StateUnavailable)
			next, ok := s.advanceLocked()
			gen = s.gen
			s.mu.Unlock()
			if !ok {
				return
			}
			idx = next
			continue
		}

		s.setItemState(StateLoading)
		item := e.item
		needRecord := !e.recorded
		e.recorded = true
		s.mu.Unlock()

		result := s.prepare(item, needRecord)

		s.mu.Lock()
		if s.state == SessionClosed || gen != s.gen {
			s.mu.Unlock()
			return
		}
		switch result {
		case outcomePlay:
			s.setItemState(StatePlaying)
			s.ensureClock()
			s.mu.Unlock()
			return
		case outcomeUnavailable:
			e.gone = true
			s.setItemState(StateUnavailable)
		case outcomeSkip:
			e.gone = true
			s.setItemState(StateFinished)
		}
		next, ok := s.advanceLocked()
		gen = s.gen
		s.mu.Unlock()
		if !ok {
			return
		}
		idx = next
	}
}

// advanceLocked moves past the current item. It returns the next index, or
// false after closing the session at the end of the queue.
func (s *Session) advanceLocked() (int, bool) {
	s.gen++
	s.setItemState(StateAdvancing)
	if s.index+1 < len(s.entries) {
		return s.index + 1, true
	}
	s.setItemState(StateFinished)
	s.closeLocked(CloseExhausted)
	return 0, false
}

func (s *Session) prepare(item *domain.ContentItem, needRecord bool) outcome {
	if s.opts.Media != nil {
		if _, err := s.opts.Media.GetContent(s.ctx, item.ID); err != nil {
			if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrPermission) {
				s.logger.Debug("skipping unavailable item", zap.String("content_id", item.ID.String()), zap.Error(err))
				return outcomeSkip
			}
			s.logger.Warn("media refresh failed, using snapshot", zap.String("content_id", item.ID.String()), zap.Error(err))
		}
	}

	if !needRecord || s.opts.Views == nil {
		return outcomePlay
	}
	if !item.IsSnap() {
		s.dispatcher.push(viewJob{item: item})
		return outcomePlay
	}
	return s.recordSnap(item)
}

// recordSnap holds the item in Loading until the server acknowledges the
// view or the ack timeout passes, whichever comes first.
func (s *Session) recordSnap(item *domain.ContentItem) outcome {
	result := make(chan error, 1)
	if !s.dispatcher.push(viewJob{item: item, result: result}) {
		return outcomeSkip
	}

	timer := time.NewTimer(s.opts.AckTimeout)
	defer timer.Stop()

	select {
	case err := <-result:
		return s.snapOutcome(item, err)
	case <-timer.C:
		s.logger.Warn("snap view not acknowledged in time, playing optimistically",
			zap.String("content_id", item.ID.String()),
			zap.Duration("timeout", s.opts.AckTimeout),
		)
		s.goAsync(func() { s.reconcile(item, <-result) })
		return outcomePlay
	case <-s.done:
		s.goAsync(func() { s.reconcile(item, <-result) })
		return outcomeSkip
	}
}

func (s *Session) snapOutcome(item *domain.ContentItem, err error) outcome {
	switch {
	case err == nil:
		return outcomePlay
	case errors.Is(err, domain.ErrReplayLimitExceeded):
		return outcomeUnavailable
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrPermission):
		return outcomeSkip
	case domain.IsRetryable(err):
		s.logger.Warn("snap view unconfirmed, playing optimistically",
			zap.String("content_id", item.ID.String()),
			zap.Error(err),
		)
		return outcomePlay
	default:
		s.logger.Error("snap view failed", zap.String("content_id", item.ID.String()), zap.Error(err))
		return outcomeSkip
	}
}

// reconcile logs how a view that played optimistically finally landed
func (s *Session) reconcile(item *domain.ContentItem, err error) {
	fields := []zap.Field{zap.String("content_id", item.ID.String())}
	switch {
	case err == nil:
		s.logger.Debug("late snap view acknowledged", fields...)
	case errors.Is(err, domain.ErrReplayLimitExceeded):
		s.logger.Warn("optimistic snap play was not counted, replay budget already spent", fields...)
	default:
		s.logger.Warn("snap view could not be reconciled", append(fields, zap.Error(err))...)
	}
}

// recordJob runs on the dispatcher goroutine, so views go out in queue
// order. Story views are fire-and-forget; snap views retry transient
// failures and report the final result.
func (s *Session) recordJob(job viewJob) {
	ctx := context.WithoutCancel(s.ctx)

	if job.result == nil {
		if _, err := s.opts.Views.RecordView(ctx, job.item.ID); err != nil {
			s.logger.Debug("story view not recorded", zap.String("content_id", job.item.ID.String()), zap.Error(err))
		}
		return
	}

	op := func() error {
		_, err := s.opts.Views.RecordView(ctx, job.item.ID)
		if err != nil && !domain.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	job.result <- backoff.Retry(op, backoff.WithMaxRetries(s.opts.RetryBackOff(), s.opts.SnapRetries))
}

func (s *Session) setItemState(state ItemState) {
	s.itemState = state
	if s.opts.Observer != nil && len(s.entries) > 0 {
		s.opts.Observer.ItemStateChanged(s.index, s.entries[s.index].item, state)
	}
}

func (s *Session) ensureClock() {
	if s.clock != nil || s.backgrounded {
		return
	}
	s.clock = startClock(s.opts.NewTicker, s.opts.TickInterval, s.Tick, s.goAsync)
}

func (s *Session) stopClock() {
	if s.clock != nil {
		s.clock.halt()
		s.clock = nil
	}
}

func (s *Session) closeLocked(reason CloseReason) {
	s.state = SessionClosed
	s.reason = reason
	s.stopClock()
	if s.stopDetector != nil {
		s.stopDetector()
		s.stopDetector = nil
	}
	if s.dispatcher != nil {
		s.dispatcher.close()
	}
	close(s.done)
	if s.opts.Observer != nil {
		s.opts.Observer.SessionClosed(reason)
	}
}

func (s *Session) goAsync(f func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		f()
	}()
}

type viewJob struct {
	item   *domain.ContentItem
	result chan error
}

// viewDispatcher is an unbounded FIFO drained by one goroutine
type viewDispatcher struct {
	mu     sync.Mutex
	jobs   []viewJob
	closed bool
	signal chan struct{}
	handle func(viewJob)
}

func newViewDispatcher(handle func(viewJob)) *viewDispatcher {
	return &viewDispatcher{
		signal: make(chan struct{}, 1),
		handle: handle,
	}
}

func (d *viewDispatcher) push(job viewJob) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.jobs = append(d.jobs, job)
	d.mu.Unlock()
	d.wake()
	return true
}

func (d *viewDispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wake()
}

func (d *viewDispatcher) wake() {
	select {
	case d.signal <- struct{}{}:
	default:
	}
}

func (d *viewDispatcher) run() {
	for {
		d.mu.Lock()
		if len(d.jobs) == 0 {
			closed := d.closed
			d.mu.Unlock()
			if closed {
				return
			}
			<-d.signal
			continue
		}
		job := d.jobs[0]
		d.jobs = d.jobs[1:]
		d.mu.Unlock()

		d.handle(job)
	}
}
