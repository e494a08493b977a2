// Package lane implements the two-layer concurrency scheduler (C3): a
// process-wide registry of named FIFO lanes, each with a configurable
// concurrency cap, plus a Scheduler that enforces the fixed nesting order
// of a per-session serial lane wrapping a global bounded-parallel lane.
package lane

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kestrelrun/agentcore/internal/observability"
	"github.com/kestrelrun/agentcore/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Task is an asynchronous unit of work submitted to a lane.
type Task func(ctx context.Context) (interface{}, error)

// EnqueueOptions configures one Enqueue call.
type EnqueueOptions struct {
	// WarnAfterMs triggers a one-shot OnWait callback if the task is
	// still queued after this many milliseconds.
	WarnAfterMs int
	OnWait      func(waitMs int64, queuePos int)
}

type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	generation int
	enqueuedAt time.Time
	options    EnqueueOptions
	result     chan taskResult
}

type taskResult struct {
	value interface{}
	err   error
}

// state tracks in-flight and queued work for one named lane.
type state struct {
	generation  int
	concurrency int
	queue       []*taskRecord
	running     int
	activeIDs   map[string]bool
	mu          sync.Mutex
}

// EventHandler observes lane lifecycle events.
type EventHandler func(event Event)

// Event describes one lane transition, "enqueued" or "completed".
type Event struct {
	Type   string
	Lane   string
	TaskID string
	Data   map[string]interface{}
}

// Registry is a process-wide table of named lanes.
type Registry struct {
	lanes     map[string]*state
	taskIDSeq int
	mu        sync.RWMutex
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc

	eventHandlers map[string][]EventHandler
	eventMu       sync.RWMutex
}

// NewRegistry creates an empty lane registry.
func NewRegistry() *Registry {
	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		lanes:         make(map[string]*state),
		ctx:           ctx,
		cancel:        cancel,
		eventHandlers: make(map[string][]EventHandler),
	}
}

func (r *Registry) initLane(name string, concurrency int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if concurrency < 1 {
		concurrency = 1
	}
	if _, exists := r.lanes[name]; !exists {
		r.lanes[name] = &state{
			concurrency: concurrency,
			activeIDs:   make(map[string]bool),
		}
		log.Debug().Str("lane", name).Int("concurrency", concurrency).Msg("lane initialized")
	}
}

func (r *Registry) ensureLane(name string, defaultConcurrency int) {
	r.mu.RLock()
	_, exists := r.lanes[name]
	r.mu.RUnlock()
	if !exists {
		r.initLane(name, defaultConcurrency)
	}
}

// Enqueue appends task to the named lane (creating it with maxConcurrent
// if it doesn't exist yet) and blocks until the task settles.
func (r *Registry) Enqueue(ctx context.Context, laneName string, maxConcurrent int, task Task, opts *EnqueueOptions) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(ctx, "agentcore.lane", "lane.enqueue", attribute.String("lane", laneName))
	defer span.End()

	if tracing.GetSessionKey(ctx) == "" {
		ctx = tracing.WithSessionKey(ctx, laneName)
	}
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("lane", laneName).Logger()

	r.ensureLane(laneName, maxConcurrent)

	r.mu.Lock()
	r.taskIDSeq++
	taskID := fmt.Sprintf("%s-%d", laneName, r.taskIDSeq)
	r.mu.Unlock()

	options := EnqueueOptions{}
	if opts != nil {
		options = *opts
	}

	ls := r.lanes[laneName]

	ls.mu.Lock()
	record := &taskRecord{
		id:         taskID,
		task:       task,
		ctx:        ctx,
		generation: ls.generation,
		enqueuedAt: time.Now(),
		options:    options,
		result:     make(chan taskResult, 1),
	}
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	logger.Debug().Str("task_id", taskID).Int("queue_size", queueSize).Msg("task enqueued")
	observability.RecordQueueEnqueue(laneName, queueSize)

	r.emit(Event{Type: "enqueued", Lane: laneName, TaskID: taskID, Data: map[string]interface{}{"queueSize": queueSize}})

	if options.WarnAfterMs > 0 {
		go r.startWarnTimer(record, laneName)
	}

	go r.drain(laneName)

	result := <-record.result
	if result.err != nil {
		span.RecordError(result.err)
		span.SetStatus(codes.Error, result.err.Error())
	}
	return result.value, result.err
}

// drain runs queued tasks while running < concurrency.
func (r *Registry) drain(laneName string) {
	r.mu.RLock()
	ls, ok := r.lanes[laneName]
	r.mu.RUnlock()
	if !ok {
		return
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	for ls.running < ls.concurrency && len(ls.queue) > 0 {
		record := ls.queue[0]
		ls.queue = ls.queue[1:]

		if record.generation != ls.generation {
			record.result <- taskResult{err: fmt.Errorf("task cancelled: lane reset")}
			close(record.result)
			continue
		}

		ls.running++
		ls.activeIDs[record.id] = true

		r.wg.Add(1)
		go r.execute(laneName, record)
	}
}

func (r *Registry) execute(laneName string, record *taskRecord) {
	defer r.wg.Done()

	taskCtx := record.ctx
	if taskCtx == nil {
		taskCtx = context.Background()
	}
	taskCtx, span := tracing.StartSpan(taskCtx, "agentcore.lane", "lane.execute",
		attribute.String("lane", laneName), attribute.String("task_id", record.id))
	defer span.End()

	logger := tracing.LoggerFromContext(taskCtx, log.Logger).With().Str("lane", laneName).Logger()

	runCtx, cancel := context.WithCancel(taskCtx)
	stopCancel := context.AfterFunc(r.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	start := time.Now()
	value, err := record.task(runCtx)
	duration := time.Since(start)

	r.mu.RLock()
	ls := r.lanes[laneName]
	r.mu.RUnlock()

	ls.mu.Lock()
	ls.running--
	delete(ls.activeIDs, record.id)
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	record.result <- taskResult{value: value, err: err}
	close(record.result)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Str("task_id", record.id).Dur("duration", duration).Err(err).Msg("task failed")
	} else {
		logger.Debug().Str("task_id", record.id).Dur("duration", duration).Msg("task completed")
	}

	observability.RecordQueueCompletion(laneName, duration, err == nil, queueSize)
	r.emit(Event{Type: "completed", Lane: laneName, TaskID: record.id, Data: map[string]interface{}{
		"durationMs": duration.Milliseconds(), "success": err == nil,
	}})

	go r.drain(laneName)
}

func (r *Registry) startWarnTimer(record *taskRecord, laneName string) {
	timer := time.NewTimer(time.Duration(record.options.WarnAfterMs) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C:
		r.mu.RLock()
		ls, ok := r.lanes[laneName]
		r.mu.RUnlock()
		if !ok {
			return
		}

		ls.mu.Lock()
		queuePos := -1
		for i, rec := range ls.queue {
			if rec.id == record.id {
				queuePos = i
				break
			}
		}
		ls.mu.Unlock()

		if queuePos >= 0 {
			waitMs := time.Since(record.enqueuedAt).Milliseconds()
			log.Warn().Str("lane", laneName).Str("task_id", record.id).Int64("wait_ms", waitMs).Int("queue_pos", queuePos).
				Msg("task waiting longer than expected")
			if record.options.OnWait != nil {
				record.options.OnWait(waitMs, queuePos)
			}
		}
	case <-r.ctx.Done():
	}
}

// Stats reports queued/running/concurrency for every known lane.
func (r *Registry) Stats() map[string]map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]map[string]int)
	for name, ls := range r.lanes {
		ls.mu.Lock()
		stats[name] = map[string]int{
			"queued":      len(ls.queue),
			"running":     ls.running,
			"concurrency": ls.concurrency,
		}
		ls.mu.Unlock()
	}
	return stats
}

// ClearLane rejects every currently queued (not yet running) task.
func (r *Registry) ClearLane(name string) int {
	r.mu.RLock()
	ls, ok := r.lanes[name]
	r.mu.RUnlock()
	if !ok {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	count := len(ls.queue)
	for _, record := range ls.queue {
		record.result <- taskResult{err: fmt.Errorf("lane cleared")}
		close(record.result)
	}
	ls.queue = nil

	observability.SetQueueSize(name, 0)
	log.Info().Str("lane", name).Int("cleared", count).Msg("lane cleared")
	return count
}

// ResetLane bumps the lane's generation, invalidating in-flight-queued
// tasks from the prior generation and rejecting everything still queued.
func (r *Registry) ResetLane(name string) {
	r.mu.RLock()
	ls, ok := r.lanes[name]
	r.mu.RUnlock()
	if !ok {
		return
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	ls.generation++
	for _, record := range ls.queue {
		record.result <- taskResult{err: fmt.Errorf("lane reset")}
		close(record.result)
	}
	ls.queue = nil

	observability.SetQueueSize(name, 0)
	log.Info().Str("lane", name).Int("generation", ls.generation).Msg("lane reset")
}

// DeleteLane removes a lane's bookkeeping entirely. Only safe when the
// lane is idle (no running or queued tasks); returns false otherwise.
func (r *Registry) DeleteLane(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	ls, ok := r.lanes[name]
	if !ok {
		return true
	}

	ls.mu.Lock()
	idle := ls.running == 0 && len(ls.queue) == 0
	ls.mu.Unlock()

	if !idle {
		return false
	}
	delete(r.lanes, name)
	return true
}

// SetConcurrency changes a lane's concurrency cap, re-draining if it grew.
func (r *Registry) SetConcurrency(name string, concurrency int) {
	r.ensureLane(name, concurrency)

	r.mu.RLock()
	ls := r.lanes[name]
	r.mu.RUnlock()

	ls.mu.Lock()
	old := ls.concurrency
	ls.concurrency = concurrency
	ls.mu.Unlock()

	log.Info().Str("lane", name).Int("old", old).Int("new", concurrency).Msg("lane concurrency updated")
	if concurrency > old {
		go r.drain(name)
	}
}

// WaitForActive blocks until every lane has no running tasks, or timeout.
func (r *Registry) WaitForActive(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		drained := true
		r.mu.RLock()
		for _, ls := range r.lanes {
			ls.mu.Lock()
			if len(ls.activeIDs) > 0 {
				drained = false
			}
			ls.mu.Unlock()
		}
		r.mu.RUnlock()

		if drained {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		<-ticker.C
	}
}

// Close stops accepting new work and waits for in-flight tasks to unwind.
func (r *Registry) Close() error {
	r.cancel()
	r.wg.Wait()
	return nil
}

// On registers a handler for an event type ("enqueued", "completed").
func (r *Registry) On(eventType string, handler EventHandler) {
	r.eventMu.Lock()
	defer r.eventMu.Unlock()
	r.eventHandlers[eventType] = append(r.eventHandlers[eventType], handler)
}

// Off removes every handler registered for an event type.
func (r *Registry) Off(eventType string) {
	r.eventMu.Lock()
	defer r.eventMu.Unlock()
	delete(r.eventHandlers, eventType)
}

func (r *Registry) emit(event Event) {
	r.eventMu.RLock()
	handlers := r.eventHandlers[event.Type]
	r.eventMu.RUnlock()
	for _, h := range handlers {
		h(event)
	}
}
