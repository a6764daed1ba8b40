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

import (
	"reflect"
	"sync/atomic"

	"github.com/botobag/loom/future"
)

// A PromiseFactory constructs the future an activity will drive. It is invoked exactly once,
// under the activity's mutex, with the activity already installed as current.
type PromiseFactory func() future.Future

// OnDone receives the terminal outcome of an activity: the future's ready value, its terminal
// error, or ErrActivityCancelled. It is invoked exactly once per activity, without the activity's
// mutex held.
type OnDone func(result interface{}, err error)

// outcome pairs a settled future's value with its error for handing to OnDone outside the lock.
type outcome struct {
	result interface{}
	err    error
}

//===----------------------------------------------------------------------------------------====//
// PromiseActivity
//===----------------------------------------------------------------------------------------====//

// A PromiseActivity drives one future to completion. It polls the future under its mutex; when
// the future goes pending, wakers handed to whatever it awaits arrange a later re-poll, inline if
// the wake arrives during the activity's own poll and through the WakeupScheduler otherwise.
//
// Execution may be cancelled by orphaning the activity. If execution had not already finished,
// the completion callback fires with ErrActivityCancelled.
type PromiseActivity struct {
	FreestandingActivity

	scheduler WakeupScheduler
	onDone    OnDone

	// Context values installed for the duration of every poll. Fixed at construction.
	holders  []Context
	contexts map[reflect.Type]interface{}

	// The driven future. Guarded by mu; nil once done.
	promise future.Future

	// True once the future has been discarded (completed or cancelled). Terminal. Guarded by mu.
	done bool

	// True iff a deferred wakeup has been handed to the scheduler and not yet executed. The
	// false→true transition gates at-most-one in-flight deferred wakeup per activity.
	wakeupScheduled atomic.Bool
}

var (
	_ Activity    = (*PromiseActivity)(nil)
	_ Schedulable = (*PromiseActivity)(nil)
)

// NewPromiseActivity constructs an activity around the future produced by factory and
// immediately performs the initial poll, so onDone may fire before NewPromiseActivity returns.
// The returned activity carries the caller's primary reference; release it with Orphan.
func NewPromiseActivity(
	factory PromiseFactory,
	scheduler WakeupScheduler,
	onDone OnDone,
	contexts ...Context) *PromiseActivity {

	a := &PromiseActivity{
		scheduler: scheduler,
		onDone:    onDone,
		holders:   contexts,
		contexts:  buildContextTable(contexts),
	}
	a.init(a)

	// The initial poll may hand wakers to other goroutines, exposing a before construction
	// returns: the mutex is required already.
	a.mu.Lock()
	o := a.start(factory)
	a.mu.Unlock()
	if o != nil {
		a.onDone(o.result, o.err)
	}
	return a
}

// RunScheduledWakeup delivers a deferred wakeup. It is called by the WakeupScheduler, exactly
// once per ScheduleWakeup, on a goroutine that does not hold the activity's mutex.
func (a *PromiseActivity) RunScheduledWakeup() {
	if !a.wakeupScheduled.Swap(false) {
		panic("activity: RunScheduledWakeup without a scheduled wakeup")
	}
	a.step()
	a.wakeupComplete()
}

// wakeup implements activityImpl: an owning waker was fired.
func (a *PromiseActivity) wakeup() {
	// A wake from inside this activity's own poll: note it and let the running step loop iterate.
	// The loop is above us in the call stack and already holds mu.
	if a.isCurrent() {
		a.setActionDuringRun(actionWakeup)
		a.wakeupComplete()
		return
	}
	// Polling here is not safe. Ask the scheduler to run the wakeup later; if one is already
	// scheduled the signal coalesces into it.
	if !a.wakeupScheduled.Swap(true) {
		a.scheduler.ScheduleWakeup(a)
	} else {
		a.wakeupComplete()
	}
}

// cancel implements activityImpl.
func (a *PromiseActivity) cancel() {
	// Cancellation requested from inside the future's own poll: record it. The step loop observes
	// Cancel as dominant and terminates without polling again.
	if a.isCurrent() {
		a.setActionDuringRun(actionCancel)
		return
	}
	a.mu.Lock()
	wasDone := a.done
	if !wasDone {
		scope := enterActivity(a, a.contexts)
		a.markDone()
		scope.exit()
	}
	a.mu.Unlock()
	if !wasDone {
		a.onDone(nil, ErrActivityCancelled)
	}
}

// destroy implements activityImpl: the last reference is gone.
func (a *PromiseActivity) destroy() {
	a.mu.Lock()
	if !a.done {
		a.mu.Unlock()
		panic("activity: destroyed before the future was discarded")
	}
	handle := a.handle
	a.handle = nil
	a.mu.Unlock()

	// Break the handle's back-pointer exactly once, then run context release actions.
	if handle != nil {
		handle.dropActivity()
	}
	for _, c := range a.holders {
		c.releaseContext()
	}
}

// step re-runs the future state machine in response to a wakeup, then reports the outcome if the
// future settled.
func (a *PromiseActivity) step() {
	a.mu.Lock()
	if a.done {
		// Wakeups may straggle in after completion; they are no-ops.
		a.mu.Unlock()
		return
	}
	o := a.runStep()
	a.mu.Unlock()
	if o != nil {
		a.onDone(o.result, o.err)
	}
}

// runStep installs the ambience and runs the polling loop. Callers hold mu.
func (a *PromiseActivity) runStep() *outcome {
	scope := enterActivity(a, a.contexts)
	defer scope.exit()
	return a.stepLoop()
}

// start is runStep plus constructing the future from its factory. Called once, from the
// constructor, with mu held.
func (a *PromiseActivity) start(factory PromiseFactory) *outcome {
	scope := enterActivity(a, a.contexts)
	defer scope.exit()
	a.promise = factory()
	return a.stepLoop()
}

// stepLoop polls the future until it settles, is cancelled, or goes pending with no wakeup from
// within the poll. A nil return means the activity is idle, waiting for a waker to fire.
func (a *PromiseActivity) stepLoop() *outcome {
	if !a.isCurrent() {
		panic("activity: step loop running without the activity current")
	}
	for {
		if a.done {
			panic("activity: polling a discarded future")
		}
		result, err := a.promise.Poll()
		if err != nil {
			a.markDone()
			return &outcome{err: err}
		}
		if result != future.PollResultPending {
			a.markDone()
			return &outcome{result: result}
		}
		// Continue looping until no wakeups occur from within the poll.
		switch a.takeActionDuringRun() {
		case actionNone:
			return nil
		case actionWakeup:
			// Repoll immediately.
		case actionCancel:
			// Cancellation dominates any wakeup received in the same poll: the future gets no
			// further chance to complete.
			a.markDone()
			return &outcome{err: ErrActivityCancelled}
		}
	}
}

// markDone discards the future exactly once and flags completion. Callers hold mu and have the
// ambience installed, so a future releasing resources in Drop still observes it.
func (a *PromiseActivity) markDone() {
	if a.done {
		panic("activity: future discarded twice")
	}
	a.done = true
	promise := a.promise
	a.promise = nil
	if dropper, ok := promise.(future.Dropper); ok {
		dropper.Drop()
	}
}
