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

// Package concurrent provides the execution substrate that deferred activity wakeups (and any
// other fire-and-forget work) are dispatched onto.
package concurrent

import "errors"

// Task represents an instance that can be executed by an Executor.
type Task interface {
	// Run performs the task's work. Tasks carry their own completion signalling if they need any;
	// the executor only arranges execution.
	Run()
}

// The TaskFunc type is an adapter to allow the use of ordinary functions as a Task.
type TaskFunc func()

// TaskFunc implements Task.
var _ Task = (TaskFunc)(nil)

// Run implements Task. It calls f().
func (f TaskFunc) Run() {
	f()
}

// Error values to be returned from Submit.
var (
	// ErrExecutorShutdown indicates the executor received a shutdown request and no longer
	// accepts tasks.
	ErrExecutorShutdown = errors.New("executor is shut down")

	// ErrNilTask indicates a nil Task was submitted.
	ErrNilTask = errors.New("cannot submit a nil task")
)

// Executor provides interfaces to manage and to execute tasks.
type Executor interface {
	// Submit arranges for task to be executed. The method only queues the task; the actual
	// execution may occur sometime later on another goroutine.
	Submit(task Task) error

	// Shutdown shuts down the executor. Previously submitted tasks are executed but no new tasks
	// will be accepted. It is a no-op if the executor has already shut down. It returns a channel
	// which receives a notification when all remaining tasks have completed after the shutdown
	// request.
	Shutdown() (terminated <-chan bool, err error)
}
