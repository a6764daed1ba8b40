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
	"errors"
	"sync"
	"sync/atomic"
)

// ErrActivityCancelled is delivered to the completion callback when an activity is cancelled,
// either externally (Orphan) or by the future itself requesting cancellation during a poll. It is
// the only error this package synthesizes; any other terminal error originates from the future.
var ErrActivityCancelled = errors.New("activity was cancelled")

// An Activity tracks execution of a single future, polling it under the activity's own mutex and
// arranging to be woken whenever an external event signals that progress may be possible.
type Activity interface {
	// ForceWakeup requests a re-poll from the outside: it is equivalent to making an owning Waker
	// and firing it immediately. Safe to call from any goroutine. This should be rarely needed;
	// prefer handing out Wakers.
	ForceWakeup()

	// ForceImmediateRepoll makes the running step loop iterate again instead of going idle. It
	// may only be called from within the activity's own poll; a call from anywhere else, including
	// one after the poll that settled the future has returned, panics.
	ForceImmediateRepoll()

	// MakeOwningWaker returns a Waker that keeps this activity alive until the Waker is fired or
	// dropped.
	MakeOwningWaker() Waker

	// MakeNonOwningWaker returns a Waker that does not extend this activity's lifetime. It is the
	// right choice for wakeups that may not be delivered until long after the activity should
	// have been destroyed, such as timer or I/O registrations.
	MakeNonOwningWaker() Waker

	// Orphan releases the caller's primary reference. If the activity has not completed, it is
	// cancelled first, so the completion callback still fires exactly once.
	Orphan()
}

//===----------------------------------------------------------------------------------------====//
// actionDuringRun
//===----------------------------------------------------------------------------------------====//

// actionDuringRun records an action received while the step loop is running, in priority order.
// If more than one action arrives during a run, max resolves which one to honor, so Cancel
// overrides Wakeup.
type actionDuringRun uint8

const (
	// No action occurred during the run.
	actionNone actionDuringRun = iota
	// A wakeup occurred during the run.
	actionWakeup
	// Cancel was requested during the run.
	actionCancel
)

//===----------------------------------------------------------------------------------------====//
// FreestandingActivity
//===----------------------------------------------------------------------------------------====//

// activityImpl is the concrete behavior a FreestandingActivity drives. The embedding activity
// registers itself with init.
type activityImpl interface {
	Activity

	// wakeup delivers an owning waker's signal. One reference is released when wakeup processing
	// completes (wakeupComplete).
	wakeup()

	// cancel requests cancellation of the underlying future.
	cancel()

	// destroy runs when the last reference is released.
	destroy()
}

// A FreestandingActivity is an activity that owns its own synchronization and bookkeeping: the
// mutex under which all polling occurs, the reference count, the action-during-run slot and the
// non-owning wait handle. Concrete activities embed it and register themselves with init.
type FreestandingActivity struct {
	// All polling of the future and all mutation of the bookkeeping occur under mu.
	mu sync.Mutex

	// Current reference count. The creator holds the initial (primary) reference; every owning
	// Waker and every in-flight wakeup holds one more.
	refs atomic.Int32

	// Set when a wakeup or cancellation arrives during future polling; the step loop samples it
	// to decide whether to repoll, go idle, or cancel. Guarded by mu.
	actionDuringRun actionDuringRun

	// Weak indirection for non-owning wakers, created lazily on first request. Allows a very
	// small object to queue for wakeups while the activity itself may be destroyed much earlier.
	// Guarded by mu.
	handle *nonOwningHandle

	impl activityImpl
}

// init registers the embedding activity and takes the initial primary reference.
func (a *FreestandingActivity) init(impl activityImpl) {
	a.impl = impl
	a.refs.Store(1)
}

// ForceWakeup implements Activity.
func (a *FreestandingActivity) ForceWakeup() {
	waker := a.MakeOwningWaker()
	waker.Wakeup()
}

// ForceImmediateRepoll implements Activity.
func (a *FreestandingActivity) ForceImmediateRepoll() {
	if !a.isCurrent() {
		panic("activity: ForceImmediateRepoll called from outside the activity's own poll")
	}
	// Being current implies this goroutine holds mu.
	a.setActionDuringRun(actionWakeup)
}

// MakeOwningWaker implements Activity.
func (a *FreestandingActivity) MakeOwningWaker() Waker {
	a.ref()
	return NewWaker(activityWakeable{activity: a})
}

// MakeNonOwningWaker implements Activity. Callable both from within the activity's own poll
// (where the mutex is already held) and from outside.
func (a *FreestandingActivity) MakeNonOwningWaker() Waker {
	if a.isCurrent() {
		return NewWaker(a.refHandle())
	}
	a.mu.Lock()
	handle := a.refHandle()
	a.mu.Unlock()
	return NewWaker(handle)
}

// refHandle returns the handle with a share taken for a new non-owning waker, creating it on
// first request. Callers hold mu.
func (a *FreestandingActivity) refHandle() *nonOwningHandle {
	if a.handle == nil {
		a.handle = newNonOwningHandle(a)
	}
	a.handle.ref()
	return a.handle
}

// Orphan implements Activity.
func (a *FreestandingActivity) Orphan() {
	a.impl.cancel()
	a.unref()
}

// Cancel requests cancellation of the underlying future without releasing the caller's
// reference. A future may call it on its own activity from within a poll; the step loop then
// terminates with ErrActivityCancelled instead of polling again.
func (a *FreestandingActivity) Cancel() {
	a.impl.cancel()
}

// isCurrent reports whether this activity is being polled on the calling goroutine. True implies
// the calling goroutine holds mu.
func (a *FreestandingActivity) isCurrent() bool {
	return Current() == Activity(a.impl)
}

// setActionDuringRun merges action into the slot with max, so cancellation overrides wakeups.
// Callers hold mu.
func (a *FreestandingActivity) setActionDuringRun(action actionDuringRun) {
	if action > a.actionDuringRun {
		a.actionDuringRun = action
	}
}

// takeActionDuringRun returns the action received since the last call and clears the slot.
// Callers hold mu.
func (a *FreestandingActivity) takeActionDuringRun() actionDuringRun {
	action := a.actionDuringRun
	a.actionDuringRun = actionNone
	return action
}

// wakeupComplete releases the reference held on behalf of an in-flight wakeup. Wakeable
// implementations call it once wakeup processing is done.
func (a *FreestandingActivity) wakeupComplete() {
	a.unref()
}

func (a *FreestandingActivity) ref() {
	a.refs.Add(1)
}

func (a *FreestandingActivity) unref() {
	if a.refs.Add(-1) == 0 {
		a.impl.destroy()
	}
}

// refIfNonzero takes a reference only if the count is currently non-zero: a destroyed activity
// must not be resurrected by a late wakeup.
func (a *FreestandingActivity) refIfNonzero() bool {
	for {
		refs := a.refs.Load()
		if refs == 0 {
			return false
		}
		if a.refs.CompareAndSwap(refs, refs+1) {
			return true
		}
	}
}

//===----------------------------------------------------------------------------------------====//
// activityWakeable
//===----------------------------------------------------------------------------------------====//

// activityWakeable adapts a FreestandingActivity to the Wakeable that owning Wakers target. The
// separate type keeps Wakeup and Drop, which consume a reference, off the activity's public
// surface. All owning Wakers for one activity hold an equal activityWakeable, which is what makes
// them compare equal.
type activityWakeable struct {
	activity *FreestandingActivity
}

var _ Wakeable = activityWakeable{}

// Wakeup implements Wakeable.
func (w activityWakeable) Wakeup() {
	w.activity.impl.wakeup()
}

// Drop implements Wakeable. Discarding an owning waker without firing it still releases the
// reference it held.
func (w activityWakeable) Drop() {
	w.activity.wakeupComplete()
}
