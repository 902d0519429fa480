package render

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Task is a unit of GPU work run exactly once on the render goroutine
type Task func(rc *RenderContext)

type entry struct {
	seq     uint64
	task    Task
	release func()
}

// QueueStats counts queue traffic
type QueueStats struct {
	ControlPushed uint64 `json:"control_pushed"`
	FramesOffered uint64 `json:"frames_offered"`
	FramesDropped uint64 `json:"frames_dropped"`
	TasksRun      uint64 `json:"tasks_run"`
	TaskPanics    uint64 `json:"task_panics"`
	Pending       int    `json:"pending"`
}

// TaskQueue carries work from producer goroutines to the render goroutine.
// Control tasks are never dropped. Frame tasks share a single slot: offering
// a frame while one is pending evicts the older one. Both kinds run in the
// order they were enqueued.
type TaskQueue struct {
	logger *zap.Logger

	mu      sync.Mutex
	seq     uint64
	control []entry
	frame   *entry
	closed  bool

	pushed  atomic.Uint64
	offered atomic.Uint64
	dropped atomic.Uint64
	ran     atomic.Uint64
	panics  atomic.Uint64
}

// NewTaskQueue creates an empty queue
func NewTaskQueue(logger *zap.Logger) *TaskQueue {
	return &TaskQueue{logger: logger.With(zap.String("component", "queue"))}
}

// Push enqueues a control task. It reports false once the queue is closed.
func (q *TaskQueue) Push(task Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.seq++
	q.control = append(q.control, entry{seq: q.seq, task: task})
	q.pushed.Add(1)
	return true
}

// OfferFrame places a frame task in the frame slot. A frame already waiting
// there is evicted and its release func is called. release is also called if
// the queue is closed. It reports whether the task was accepted.
func (q *TaskQueue) OfferFrame(task Task, release func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		if release != nil {
			release()
		}
		return false
	}
	q.seq++
	stale := q.frame
	q.frame = &entry{seq: q.seq, task: task, release: release}
	q.mu.Unlock()

	q.offered.Add(1)
	if stale != nil {
		q.dropped.Add(1)
		if stale.release != nil {
			stale.release()
		}
	}
	return true
}

// IsEmpty reports whether nothing is pending. The answer may be stale by the
// time the caller acts on it.
func (q *TaskQueue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.control) == 0 && q.frame == nil
}

// PendingFrames returns the number of frame tasks waiting, zero or one
func (q *TaskQueue) PendingFrames() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.frame != nil {
		return 1
	}
	return 0
}

// Len returns the number of pending tasks of both kinds
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.control)
	if q.frame != nil {
		n++
	}
	return n
}

func (q *TaskQueue) swap() []entry {
	q.mu.Lock()
	batch := q.control
	q.control = nil
	frame := q.frame
	q.frame = nil
	q.mu.Unlock()

	if frame == nil {
		return batch
	}
	// the frame slot goes back in sequence position
	i := sort.Search(len(batch), func(i int) bool { return batch[i].seq > frame.seq })
	batch = append(batch, entry{})
	copy(batch[i+1:], batch[i:])
	batch[i] = *frame
	return batch
}

// DrainAndRunAll takes everything pending and runs it in enqueue order on
// the calling goroutine, which must be the render goroutine. Tasks queued
// while draining wait for the next call. It returns the number of tasks run.
func (q *TaskQueue) DrainAndRunAll(rc *RenderContext) int {
	batch := q.swap()
	for _, e := range batch {
		q.run(rc, e)
	}
	return len(batch)
}

func (q *TaskQueue) run(rc *RenderContext, e entry) {
	defer func() {
		if r := recover(); r != nil {
			q.panics.Add(1)
			q.logger.Error("Render task panicked",
				zap.Uint64("seq", e.seq),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()
	q.ran.Add(1)
	e.task(rc)
}

// Close rejects further tasks and releases any frame still pending. Control
// tasks that never ran are dropped.
func (q *TaskQueue) Close() {
	q.mu.Lock()
	q.closed = true
	n := len(q.control)
	q.control = nil
	frame := q.frame
	q.frame = nil
	q.mu.Unlock()

	if frame != nil && frame.release != nil {
		frame.release()
	}
	if n > 0 {
		q.logger.Debug("Discarded pending control tasks", zap.Int("count", n))
	}
}

// Stats returns a snapshot of the counters
func (q *TaskQueue) Stats() QueueStats {
	return QueueStats{
		ControlPushed: q.pushed.Load(),
		FramesOffered: q.offered.Load(),
		FramesDropped: q.dropped.Load(),
		TasksRun:      q.ran.Load(),
		TaskPanics:    q.panics.Load(),
		Pending:       q.Len(),
	}
}
