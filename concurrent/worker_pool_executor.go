/**
 * Copyright (c) 2019, The Loom Authors.
 *
 * Permission to use, copy, modify, and/or distribute this software for any
 * purpose with or without fee is hereby granted, provided that the above
 * copyright notice and this permission notice appear in all copies.
 *
 * THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL WARRANTIES
 * WITH REGARD TO THIS SOFTWARE INCLUDING ALL IMPLIED WARRANTIES OF
 * MERCHANTABILITY AND FITNESS. IN NO EVENT SHALL THE AUTHOR BE LIABLE FOR
 * ANY SPECIAL, DIRECT, INDIRECT, OR CONSEQUENTIAL DAMAGES OR ANY DAMAGES
 * WHATSOEVER RESULTING FROM LOSS OF USE, DATA OR PROFITS, WHETHER IN AN
 * ACTION OF CONTRACT, NEGLIGENCE OR OTHER TORTIOUS ACTION, ARISING OUT OF
 * OR IN CONNECTION WITH THE USE OR PERFORMANCE OF THIS SOFTWARE.
 */

package concurrent

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

//===----------------------------------------------------------------------------------------====//
// WorkerPoolExecutorConfig
//===----------------------------------------------------------------------------------------====//

// defaultQueueCapacity is used when WorkerPoolExecutorConfig.QueueCapacity is unset.
const defaultQueueCapacity = 64

// WorkerPoolExecutorConfig contains options to configure a WorkerPoolExecutor.
type WorkerPoolExecutorConfig struct {
	// The maximum number of workers allowed in pool (required, must be greater than 0)
	MaxPoolSize uint32

	// The minimum number of workers to maintain in pool
	MinPoolSize uint32

	// The maximum time for an idle worker beyond MinPoolSize to wait for a new task before
	// retiring. Zero keeps idle workers alive indefinitely.
	KeepAliveTime time.Duration

	// Capacity of the task backlog. Submissions beyond it grow the pool up to MaxPoolSize and
	// then block. If not set, defaultQueueCapacity is used.
	QueueCapacity int
}

// Validate verifies config values.
func (config *WorkerPoolExecutorConfig) Validate() error {
	if config.MaxPoolSize == 0 {
		return errors.New(`WorkerPoolExecutor: MaxPoolSize must be a non-zero value which specifies ` +
			`the maximum number of workers to be created by the executor. If you have no idea, try to ` +
			`set the value to uint32(runtime.GOMAXPROCS(-1)).`)
	}

	if config.MaxPoolSize < config.MinPoolSize {
		return fmt.Errorf(`WorkerPoolExecutor: MaxPoolSize (%d) should be greater than MinPoolSize (%d)`,
			config.MaxPoolSize, config.MinPoolSize)
	}

	if config.QueueCapacity < 0 {
		return fmt.Errorf(`WorkerPoolExecutor: QueueCapacity (%d) cannot be negative`,
			config.QueueCapacity)
	}
	return nil
}

//===----------------------------------------------------------------------------------------====//
// poolState
//===----------------------------------------------------------------------------------------====//

// poolState packs the run state of a WorkerPoolExecutor and its worker count into one atomically
// updated word. Spawning a worker must not race with a shutdown request, so both live in the same
// CAS target: the high 32 bits carry the run state, the low 32 bits the worker count.
type poolState struct {
	word atomic.Int64
}

const (
	// Executor accepts and processes tasks.
	poolStateRunning int64 = 0 << 32
	// Shutdown was requested. Queued tasks are processed but no new tasks are accepted.
	poolStateShutdown int64 = 1 << 32
	// There are no tasks left and all workers have retired.
	poolStateTerminated int64 = 2 << 32

	poolWorkerCountMask int64 = 0xffffffff
)

// runStateOf extracts the run state bits from a state word.
func runStateOf(word int64) int64 {
	return word &^ poolWorkerCountMask
}

// workerCountOf extracts the worker count from a state word.
func workerCountOf(word int64) uint32 {
	return uint32(word & poolWorkerCountMask)
}

func (s *poolState) load() int64 {
	return s.word.Load()
}

// advanceTo transitions the run state forward (RUNNING → SHUTDOWN → TERMINATED only), preserving
// the worker count, and returns the prior word.
func (s *poolState) advanceTo(runState int64) (prev int64) {
	for {
		word := s.word.Load()
		if runStateOf(word) >= runState {
			return word
		}
		if s.word.CompareAndSwap(word, runState|(word&poolWorkerCountMask)) {
			return word
		}
	}
}

// incWorkerCount increments the worker count with CAS against the given observed word, so the
// increment fails if the run state changed since the caller loaded it.
func (s *poolState) incWorkerCount(word int64) bool {
	return s.word.CompareAndSwap(word, word+1)
}

// decWorkerCount decrements the worker count and returns the new word.
func (s *poolState) decWorkerCount() int64 {
	return s.word.Add(-1)
}

//===----------------------------------------------------------------------------------------====//
// WorkerPoolExecutor
//===----------------------------------------------------------------------------------------====//

// WorkerPoolExecutor runs submitted tasks on a pool of goroutine-backed workers.
//
// The pool does not preallocate workers. A worker is created when a task arrives and the pool is
// below MinPoolSize, when a task is queued while no worker is running, or when the backlog is full
// and the pool is below MaxPoolSize; workers beyond MinPoolSize retire after idling for
// KeepAliveTime.
type WorkerPoolExecutor struct {
	// A lock-free word that contains pool run state and worker count
	state poolState

	// Configuration
	config WorkerPoolExecutorConfig

	// Task backlog waiting for a worker
	tasks chan Task

	// Closed when shutdown is requested; unblocks idle workers and blocked submitters.
	shutdownCh chan struct{}

	// Mutex guarding terminations
	mu sync.Mutex

	// Channels waiting for the termination notification. Guarded by mu.
	terminations []chan<- bool
}

// WorkerPoolExecutor implements Executor.
var _ Executor = (*WorkerPoolExecutor)(nil)

// NewWorkerPoolExecutor creates a WorkerPoolExecutor from given config.
func NewWorkerPoolExecutor(config WorkerPoolExecutorConfig) (*WorkerPoolExecutor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	capacity := config.QueueCapacity
	if capacity == 0 {
		capacity = defaultQueueCapacity
	}

	return &WorkerPoolExecutor{
		config:     config,
		tasks:      make(chan Task, capacity),
		shutdownCh: make(chan struct{}),
	}, nil
}

// Submit implements Executor.
//
// On receiving a task while fewer than MinPoolSize workers are running, a new worker is always
// created to process it, even if other workers are idly waiting. Otherwise the task is queued for
// an existing worker; if the queue is full a new worker is created up to MaxPoolSize, and beyond
// that Submit blocks until queue space frees up or the executor shuts down.
func (executor *WorkerPoolExecutor) Submit(task Task) error {
	if task == nil {
		return ErrNilTask
	}

	for {
		word := executor.state.load()
		if runStateOf(word) != poolStateRunning {
			return ErrExecutorShutdown
		}

		// Ensure minimum number of workers.
		if workerCountOf(word) < executor.config.MinPoolSize {
			if executor.addWorker(word, task) {
				return nil
			}
			// Lost the CAS; reload state and retry.
			continue
		}

		// Hand the task to an existing worker if the backlog has room.
		select {
		case executor.tasks <- task:
			if runStateOf(executor.state.load()) != poolStateRunning {
				// A shutdown raced in behind the state check above. The workers (or tryTerminate)
				// drain the backlog, but only if someone notices; make sure of it.
				executor.tryTerminate()
			} else {
				// With MinPoolSize == 0 the pool may be empty; the queue must not go unattended.
				executor.ensureWorker()
			}
			return nil
		default:
		}

		// Backlog full: grow the pool up to the maximum.
		if workerCountOf(word) < executor.config.MaxPoolSize {
			if executor.addWorker(word, task) {
				return nil
			}
			continue
		}

		// Saturated. Block until a worker frees backlog space or the executor shuts down.
		select {
		case executor.tasks <- task:
			return nil
		case <-executor.shutdownCh:
			return ErrExecutorShutdown
		}
	}
}

// Shutdown implements Executor.
func (executor *WorkerPoolExecutor) Shutdown() (terminated <-chan bool, err error) {
	executor.mu.Lock()

	// Create a channel for return which notifies the completion of termination.
	termination := make(chan bool, 1)

	prev := executor.state.advanceTo(poolStateShutdown)
	if runStateOf(prev) >= poolStateTerminated {
		// Executor was already terminated. Fill the returning channel with the signal.
		termination <- true
	} else {
		executor.terminations = append(executor.terminations, termination)
		if runStateOf(prev) == poolStateRunning {
			// First shutdown request: unblock idle workers and blocked submitters.
			close(executor.shutdownCh)
		}
	}

	executor.mu.Unlock()

	// Try to advance to TERMINATED (there may be no workers at all).
	executor.tryTerminate()

	return termination, nil
}

// addWorker starts a worker to run firstTask by incrementing the worker count with CAS against
// the observed state word. A false return means the word changed under the caller, which must
// reload and retry.
func (executor *WorkerPoolExecutor) addWorker(word int64, firstTask Task) bool {
	if !executor.state.incWorkerCount(word) {
		return false
	}
	go executor.runWorker(firstTask)
	return true
}

// ensureWorker guarantees at least one worker is draining the backlog while the executor is
// running.
func (executor *WorkerPoolExecutor) ensureWorker() {
	for {
		word := executor.state.load()
		if runStateOf(word) != poolStateRunning || workerCountOf(word) > 0 {
			return
		}
		if executor.addWorker(word, nil) {
			return
		}
	}
}

// runWorker implements the run loop of one pooled worker.
func (executor *WorkerPoolExecutor) runWorker(firstTask Task) {
	if firstTask != nil {
		firstTask.Run()
	}

	for {
		word := executor.state.load()
		if runStateOf(word) != poolStateRunning {
			break
		}

		keepAlive := executor.config.KeepAliveTime
		if keepAlive > 0 && workerCountOf(word) > executor.config.MinPoolSize {
			timer := time.NewTimer(keepAlive)
			select {
			case task := <-executor.tasks:
				timer.Stop()
				task.Run()
			case <-executor.shutdownCh:
				timer.Stop()
			case <-timer.C:
				if executor.tryRetire() {
					// A task may have slipped in between the timeout and the retirement; do not
					// leave it unattended.
					if len(executor.tasks) > 0 {
						executor.ensureWorker()
					}
					return
				}
			}
		} else {
			select {
			case task := <-executor.tasks:
				task.Run()
			case <-executor.shutdownCh:
			}
		}
	}

	// Shutting down: drain the backlog, then retire.
	for {
		select {
		case task := <-executor.tasks:
			task.Run()
		default:
			executor.exitWorker()
			return
		}
	}
}

// tryRetire removes the calling idle worker from the pool unless that would take the pool below
// MinPoolSize. The CAS admits at most one retirement per observed word, keeping concurrent idle
// workers from dropping below the floor together.
func (executor *WorkerPoolExecutor) tryRetire() bool {
	for {
		word := executor.state.load()
		if runStateOf(word) != poolStateRunning {
			// Let the run loop fall through to the shutdown drain.
			return false
		}
		if workerCountOf(word) <= executor.config.MinPoolSize {
			return false
		}
		if executor.state.word.CompareAndSwap(word, word-1) {
			return true
		}
	}
}

// exitWorker retires the calling worker during shutdown and advances to TERMINATED when it was
// the last one out.
func (executor *WorkerPoolExecutor) exitWorker() {
	word := executor.state.decWorkerCount()
	if runStateOf(word) != poolStateRunning && workerCountOf(word) == 0 {
		executor.tryTerminate()
	}
}

// tryTerminate transitions to TERMINATED if shutdown was requested and every worker has retired,
// then delivers the termination notifications.
func (executor *WorkerPoolExecutor) tryTerminate() {
	word := executor.state.load()
	if runStateOf(word) == poolStateRunning || workerCountOf(word) != 0 {
		return
	}

	// All workers are gone; run anything that raced into the backlog behind their drain.
	for {
		select {
		case task := <-executor.tasks:
			task.Run()
			continue
		default:
		}
		break
	}

	executor.mu.Lock()
	if prev := executor.state.advanceTo(poolStateTerminated); runStateOf(prev) < poolStateTerminated {
		for _, termination := range executor.terminations {
			termination <- true
		}
		executor.terminations = nil
	}
	executor.mu.Unlock()
}
