package hub

import (
	"github.com/pavel-pimenov/verlihub/internal/users"
)

// storeWorkers bounds the registered-user store worker pool (spec.md §5:
// a slow query must not block the poll loop beyond one tick's budget).
const storeWorkers = 4

// storeResultBuffer bounds how many completed store queries may be queued
// for the reactor goroutine to drain before a worker blocks submitting one.
const storeResultBuffer = 256

// storeJob is one queued registered-user store call.
type storeJob struct {
	fn    func(users.Store) (any, error)
	apply func(any, error)
}

// storeResult pairs a completed job's outcome with the callback that must
// run it, deferred until a worker's result reaches the reactor goroutine.
type storeResult struct {
	val   any
	err   error
	apply func(any, error)
}

// startStorePool launches the bounded worker goroutines that execute
// QueryStore jobs against h.store off the reactor goroutine. Call once
// from New; stopped by Shutdown closing h.jobs and waiting on h.workersWG.
func (h *Context) startStorePool() {
	h.jobs = make(chan storeJob, storeWorkers)
	h.results = make(chan storeResult, storeResultBuffer)

	for i := 0; i < storeWorkers; i++ {
		h.workersWG.Add(1)
		go h.storeWorker()
	}
}

func (h *Context) storeWorker() {
	defer h.workersWG.Done()
	for job := range h.jobs {
		val, err := job.fn(h.store)
		h.results <- storeResult{val: val, err: err, apply: job.apply}
	}
}

// QueryStore submits fn to run against the registered-user store on the
// worker pool. apply is called with fn's result on the reactor goroutine
// during a later tick's drainStoreResults — never from the worker itself —
// preserving the single-thread-owns-state invariant (spec.md §4.F) for
// every caller of apply.
func (h *Context) QueryStore(fn func(users.Store) (any, error), apply func(any, error)) {
	h.jobs <- storeJob{fn: fn, apply: apply}
}

// drainStoreResults applies every store result that has arrived since the
// last tick, called from the "run timers" phase of tick() alongside the
// geo cache sweep (spec.md §5, §8: results cross the goroutine boundary
// only through this buffered channel).
func (h *Context) drainStoreResults() {
	for {
		select {
		case r := <-h.results:
			r.apply(r.val, r.err)
		default:
			return
		}
	}
}

// stopStorePool closes the job queue and waits for every in-flight worker
// to finish its current call before returning, so Shutdown can safely
// close the store afterward.
func (h *Context) stopStorePool() {
	close(h.jobs)
	h.workersWG.Wait()
}
