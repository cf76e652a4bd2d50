package upload

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Uploadable is a resource that can transfer itself to the graphics device.
type Uploadable interface {
	UploadToDevice() error
	MemoryUsage() int64
}

// DefaultMaxFrameTime is the default per-frame upload time budget.
const DefaultMaxFrameTime = 5 * time.Millisecond

// DefaultBandwidth is the default upload bandwidth budget (100 MiB/s).
const DefaultBandwidth = 100 * 1024 * 1024

// Stats reports the scheduler's running totals.
type Stats struct {
	Uploads     uint64
	Failures    uint64
	Bytes       int64
	AvgDuration time.Duration
}

// Scheduler is a priority queue of deferred upload tasks with bandwidth and
// per-frame time budgets, optionally drained by a background worker.
type Scheduler struct {
	mu    sync.Mutex
	cond  *sync.Cond
	queue *taskQueue

	limiter      *rate.Limiter
	maxFrameTime time.Duration
	compressMin  int64

	async    bool
	stopping bool
	workerWG sync.WaitGroup

	seq atomic.Uint64

	uploads       atomic.Uint64
	failures      atomic.Uint64
	bytesUploaded atomic.Int64
	totalDuration atomic.Int64 // nanoseconds

	staging *Staging
	clock   clock.Clock
	logger  *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithBandwidth sets the upload bandwidth budget in bytes per second.
// A non-positive value disables the budget.
func WithBandwidth(bytesPerSec int64) Option {
	return func(s *Scheduler) {
		s.setLimiter(bytesPerSec)
	}
}

// WithMaxFrameTime sets the per-frame time budget for ProcessUploads.
func WithMaxFrameTime(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.maxFrameTime = d
		}
	}
}

// WithStaging attaches a staging buffer set used by ScheduleData.
func WithStaging(st *Staging) Option {
	return func(s *Scheduler) {
		s.staging = st
	}
}

// WithCompression makes ScheduleData compress payloads of at least minSize
// bytes while they wait in the queue. Payloads are decompressed before the
// upload closure runs, so callers always see the original bytes. Non-positive
// minSize leaves compression off.
func WithCompression(minSize int64) Option {
	return func(s *Scheduler) {
		s.compressMin = minSize
	}
}

// WithClock sets the time source. Intended for tests.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// WithLogger sets the logger. Defaults to a discarding logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewScheduler creates a Scheduler. Async mode starts disabled.
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		queue:        newTaskQueue(64),
		maxFrameTime: DefaultMaxFrameTime,
		clock:        clock.New(),
		logger:       slog.New(slog.DiscardHandler),
	}
	s.cond = sync.NewCond(&s.mu)
	s.setLimiter(DefaultBandwidth)

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Schedule enqueues a device upload for the resource. Higher priority is more
// urgent.
func (s *Scheduler) Schedule(u Uploadable, priority int) {
	if u == nil {
		s.logger.Warn("nil uploadable ignored")
		return
	}
	s.ScheduleFunc(u.UploadToDevice, u.MemoryUsage(), priority)
}

// ScheduleFunc enqueues an arbitrary upload closure of the given payload
// size.
func (s *Scheduler) ScheduleFunc(fn func() error, size int64, priority int) {
	s.scheduleTask(fn, size, priority, nil)
}

// ScheduleData stages the payload into a reusable buffer (when a staging set
// is attached and a buffer is available) and enqueues fn over the staged
// bytes. The buffer is released after the upload completes. With compression
// configured, large payloads wait in the queue in compressed form and are
// decompressed before fn runs.
func (s *Scheduler) ScheduleData(data []byte, fn func(data []byte) error, priority int) {
	if fn == nil {
		s.logger.Warn("nil upload closure ignored")
		return
	}

	payload := data
	compressed := false
	if s.compressMin > 0 && int64(len(data)) >= s.compressMin {
		payload, compressed = Compress(data)
	}

	var release func()
	if s.staging != nil {
		if buf := s.staging.Acquire(int64(len(payload))); buf != nil {
			payload = buf.Bytes()[:copy(buf.Bytes(), payload)]
			release = func() { s.staging.Release(buf) }
		}
	}

	run := func() error { return fn(payload) }
	if compressed {
		rawSize := len(data)
		run = func() error {
			raw, err := Decompress(payload, rawSize)
			if err != nil {
				return err
			}
			return fn(raw)
		}
	}

	s.scheduleTask(run, int64(len(data)), priority, release)
}

func (s *Scheduler) scheduleTask(fn func() error, size int64, priority int, release func()) {
	if fn == nil {
		s.logger.Warn("nil upload closure ignored")
		return
	}

	t := task{
		id:        uuid.NewString(),
		fn:        fn,
		size:      size,
		priority:  priority,
		seq:       s.seq.Add(1),
		submitted: s.clock.Now(),
		release:   release,
	}

	s.mu.Lock()
	s.queue.push(t)
	async := s.async
	s.mu.Unlock()

	s.logger.Debug("upload scheduled", "task", t.id, "bytes", size, "priority", priority)

	if async {
		s.cond.Signal()
	}
}

// ProcessUploads pops and executes up to maxPerFrame tasks, stopping early
// when the frame time budget is exhausted or the next task would exceed the
// bandwidth budget (that task stays queued). Returns the number executed.
// In async mode it returns immediately; the worker drains the queue.
func (s *Scheduler) ProcessUploads(maxPerFrame int) int {
	s.mu.Lock()
	if s.async {
		s.mu.Unlock()
		return 0
	}

	start := s.clock.Now()
	processed := 0

	for s.queue.Len() > 0 && processed < maxPerFrame {
		if s.clock.Since(start) >= s.maxFrameTime {
			break
		}

		next, _ := s.queue.peek()
		if s.limiter != nil && !s.limiter.AllowN(s.clock.Now(), int(next.size)) {
			// Budget exhausted; defer the task to a later frame.
			break
		}

		t, _ := s.queue.pop()
		s.mu.Unlock()
		s.run(t)
		processed++
		s.mu.Lock()
	}
	s.mu.Unlock()

	if processed > 0 {
		s.logger.Debug("frame uploads processed", "count", processed)
	}
	return processed
}

// ProcessAllUploads drains the queue synchronously, ignoring budgets.
// Returns the number executed.
func (s *Scheduler) ProcessAllUploads() int {
	processed := 0

	s.mu.Lock()
	for {
		t, ok := s.queue.pop()
		if !ok {
			break
		}
		s.mu.Unlock()
		s.run(t)
		processed++
		s.mu.Lock()
	}
	s.mu.Unlock()

	if processed > 0 {
		s.logger.Debug("pending uploads flushed", "count", processed)
	}
	return processed
}

// Flush drains the queue synchronously, ignoring budgets.
func (s *Scheduler) Flush() { s.ProcessAllUploads() }

// EnableAsync starts or stops the background worker. Stopping never discards
// queued tasks; they remain for synchronous processing.
func (s *Scheduler) EnableAsync(enabled bool) {
	s.mu.Lock()
	if enabled == s.async {
		s.mu.Unlock()
		return
	}

	if enabled {
		s.async = true
		s.stopping = false
		s.workerWG.Add(1)
		s.mu.Unlock()
		go s.worker()
		s.logger.Info("async uploads enabled")
		return
	}

	s.stopping = true
	s.async = false
	s.cond.Broadcast()
	s.mu.Unlock()

	s.workerWG.Wait()
	s.logger.Info("async uploads disabled")
}

// PendingCount returns the number of queued tasks.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// PendingBytes returns the total payload size of queued tasks.
func (s *Scheduler) PendingBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.pendingBytes()
}

// SetBandwidth replaces the bandwidth budget in bytes per second.
// A non-positive value disables the budget.
func (s *Scheduler) SetBandwidth(bytesPerSec int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLimiter(bytesPerSec)
}

// SetMaxFrameTime replaces the per-frame time budget.
func (s *Scheduler) SetMaxFrameTime(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d > 0 {
		s.maxFrameTime = d
	}
}

// Stats returns the scheduler's running totals.
func (s *Scheduler) Stats() Stats {
	uploads := s.uploads.Load()
	st := Stats{
		Uploads:  uploads,
		Failures: s.failures.Load(),
		Bytes:    s.bytesUploaded.Load(),
	}
	if uploads > 0 {
		st.AvgDuration = time.Duration(s.totalDuration.Load() / int64(uploads))
	}
	return st
}

// Close stops the worker, drains the remaining tasks synchronously and
// releases the staging buffers.
func (s *Scheduler) Close() error {
	s.EnableAsync(false)
	s.ProcessAllUploads()
	if s.staging != nil {
		s.staging.Clear()
	}
	return nil
}

// worker drains the queue in the background, waiting for new tasks or a stop
// signal. Tasks execute outside the lock.
func (s *Scheduler) worker() {
	defer s.workerWG.Done()

	for {
		s.mu.Lock()
		for s.queue.Len() == 0 && !s.stopping {
			s.cond.Wait()
		}
		if s.stopping {
			s.mu.Unlock()
			return
		}
		t, _ := s.queue.pop()
		s.mu.Unlock()

		s.run(t)
	}
}

// run executes one task. Panics and errors are recorded and logged; they
// never abort the scheduler.
func (s *Scheduler) run(t task) {
	start := s.clock.Now()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("upload panicked: %v", r)
			}
		}()
		return t.fn()
	}()

	if t.release != nil {
		t.release()
	}

	d := s.clock.Since(start)
	if err != nil {
		s.failures.Add(1)
		s.logger.Error("upload failed", "task", t.id, "bytes", t.size, "error", err)
		return
	}

	s.uploads.Add(1)
	s.bytesUploaded.Add(t.size)
	s.totalDuration.Add(int64(d))
	s.logger.Debug("upload completed", "task", t.id, "bytes", t.size, "duration", d)
}

// setLimiter must be called with s.mu held (or before the scheduler is
// shared).
func (s *Scheduler) setLimiter(bytesPerSec int64) {
	if bytesPerSec <= 0 {
		s.limiter = nil
		return
	}
	s.limiter = rate.NewLimiter(rate.Limit(bytesPerSec), int(bytesPerSec))
}
