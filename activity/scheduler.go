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

package activity

import "github.com/botobag/loom/concurrent"

// A Schedulable is an activity with a deferred wakeup pending delivery.
type Schedulable interface {
	// RunScheduledWakeup re-polls the activity and releases the wakeup's reference.
	RunScheduledWakeup()
}

// A WakeupScheduler arranges for deferred wakeups to run on a safe execution context. An
// implementation must guarantee that:
//
//	* activity.RunScheduledWakeup is called exactly once, later, on some goroutine that does not
//	  already hold the activity's mutex.
//	* activity remains live until that call; the caller has taken a reference on the scheduler's
//	  behalf.
//	* the same activity is never scheduled concurrently: a new request arrives only after the
//	  previous RunScheduledWakeup has completed.
type WakeupScheduler interface {
	ScheduleWakeup(activity Schedulable)
}

// InlineWakeupScheduler runs the wakeup immediately on the waking goroutine. The waking goroutine
// never holds the target activity's mutex (a wake from inside the activity's own poll is resolved
// before scheduling), so running inline is safe; the price is that the wake call does not return
// until the re-poll settles out.
type InlineWakeupScheduler struct{}

var _ WakeupScheduler = InlineWakeupScheduler{}

// ScheduleWakeup implements WakeupScheduler.
func (InlineWakeupScheduler) ScheduleWakeup(activity Schedulable) {
	activity.RunScheduledWakeup()
}

// GoWakeupScheduler runs each wakeup on its own goroutine.
type GoWakeupScheduler struct{}

var _ WakeupScheduler = GoWakeupScheduler{}

// ScheduleWakeup implements WakeupScheduler.
func (GoWakeupScheduler) ScheduleWakeup(activity Schedulable) {
	go activity.RunScheduledWakeup()
}

// ExecutorWakeupScheduler dispatches wakeups onto an Executor, typically a worker pool shared by
// many activities. If the executor refuses the task because it has shut down, the wakeup runs
// inline: delivery must happen exactly once regardless.
type ExecutorWakeupScheduler struct {
	Executor concurrent.Executor
}

var _ WakeupScheduler = ExecutorWakeupScheduler{}

// ScheduleWakeup implements WakeupScheduler.
func (s ExecutorWakeupScheduler) ScheduleWakeup(activity Schedulable) {
	if err := s.Executor.Submit(concurrent.TaskFunc(activity.RunScheduledWakeup)); err != nil {
		activity.RunScheduledWakeup()
	}
}
