package render

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestQueueFIFOAcrossKinds(t *testing.T) {
	q := NewTaskQueue(zaptest.NewLogger(t))
	var order []string
	record := func(name string) Task {
		return func(*RenderContext) { order = append(order, name) }
	}

	q.Push(record("a"))
	q.OfferFrame(record("frame"), nil)
	q.Push(record("b"))
	q.Push(record("c"))

	assert.Equal(t, 4, q.Len())
	assert.Equal(t, 4, q.DrainAndRunAll(nil))
	assert.Equal(t, []string{"a", "frame", "b", "c"}, order)
	assert.True(t, q.IsEmpty())
}

func TestQueueReplacedFrameKeepsNewPosition(t *testing.T) {
	q := NewTaskQueue(zaptest.NewLogger(t))
	var order []string
	record := func(name string) Task {
		return func(*RenderContext) { order = append(order, name) }
	}

	q.OfferFrame(record("frame1"), nil)
	q.Push(record("enable"))
	q.OfferFrame(record("frame2"), nil)

	q.DrainAndRunAll(nil)
	assert.Equal(t, []string{"enable", "frame2"}, order)
}

func TestQueueFrameEviction(t *testing.T) {
	q := NewTaskQueue(zaptest.NewLogger(t))
	var released []int
	var ran []int

	for i := 0; i < 5; i++ {
		i := i
		q.OfferFrame(func(*RenderContext) { ran = append(ran, i) }, func() { released = append(released, i) })
		assert.Equal(t, 1, q.PendingFrames())
	}

	assert.Equal(t, []int{0, 1, 2, 3}, released)
	q.DrainAndRunAll(nil)
	assert.Equal(t, []int{4}, ran)

	stats := q.Stats()
	assert.Equal(t, uint64(5), stats.FramesOffered)
	assert.Equal(t, uint64(4), stats.FramesDropped)
	assert.Equal(t, uint64(1), stats.TasksRun)
}

func TestQueueControlNeverDropped(t *testing.T) {
	q := NewTaskQueue(zaptest.NewLogger(t))
	var n int
	for i := 0; i < 100; i++ {
		require.True(t, q.Push(func(*RenderContext) { n++ }))
	}
	q.OfferFrame(func(*RenderContext) {}, nil)
	q.OfferFrame(func(*RenderContext) {}, nil)

	assert.Equal(t, 101, q.Len())
	q.DrainAndRunAll(nil)
	assert.Equal(t, 100, n)
}

func TestQueueTasksQueuedWhileDrainingWait(t *testing.T) {
	q := NewTaskQueue(zaptest.NewLogger(t))
	var second bool
	q.Push(func(*RenderContext) {
		q.Push(func(*RenderContext) { second = true })
	})

	assert.Equal(t, 1, q.DrainAndRunAll(nil))
	assert.False(t, second)
	assert.Equal(t, 1, q.DrainAndRunAll(nil))
	assert.True(t, second)
}

func TestQueuePanicRecovered(t *testing.T) {
	q := NewTaskQueue(zaptest.NewLogger(t))
	var after bool
	q.Push(func(*RenderContext) { panic("boom") })
	q.Push(func(*RenderContext) { after = true })

	assert.NotPanics(t, func() { q.DrainAndRunAll(nil) })
	assert.True(t, after)
	assert.Equal(t, uint64(1), q.Stats().TaskPanics)
}

func TestQueueClose(t *testing.T) {
	q := NewTaskQueue(zaptest.NewLogger(t))
	var released int
	q.Push(func(*RenderContext) { t.Error("control task ran after close") })
	q.OfferFrame(func(*RenderContext) { t.Error("frame ran after close") }, func() { released++ })

	q.Close()
	assert.Equal(t, 1, released)
	assert.True(t, q.IsEmpty())

	assert.False(t, q.Push(func(*RenderContext) {}))
	assert.False(t, q.OfferFrame(func(*RenderContext) {}, func() { released++ }))
	assert.Equal(t, 2, released)
	assert.Equal(t, 0, q.DrainAndRunAll(nil))
}

func TestQueueConcurrentProducers(t *testing.T) {
	q := NewTaskQueue(zaptest.NewLogger(t))

	const producers = 8
	const perProducer = 200
	var ran, released atomic.Int64
	var wg sync.WaitGroup
	stop := make(chan struct{})
	drained := make(chan struct{})

	go func() {
		defer close(drained)
		for {
			select {
			case <-stop:
				q.DrainAndRunAll(nil)
				return
			default:
			}
			assert.LessOrEqual(t, q.PendingFrames(), 1)
			q.DrainAndRunAll(nil)
		}
	}()

	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.OfferFrame(func(*RenderContext) { ran.Add(1) }, func() { released.Add(1) })
			}
		}()
	}
	wg.Wait()
	close(stop)
	<-drained

	total := int64(producers * perProducer)
	assert.Equal(t, total, ran.Load()+released.Load())
	assert.Equal(t, uint64(released.Load()), q.Stats().FramesDropped)
}
