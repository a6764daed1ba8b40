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
	"sync/atomic"

	"github.com/llxisdsh/synx"
)

// nonOwningHandle gives weak-pointer semantics to one activity. Non-owning Wakers target the
// handle rather than the activity, and a late Wakeup promotes the handle's back-pointer to a
// strong reference only if the activity is still alive, refusing a 0→1 resurrection. There is
// therefore no ownership cycle between the activity and its wakeables.
//
// The handle has its own share count: the activity holds one share, dropped when the activity is
// destroyed, and each outstanding non-owning Waker holds one.
type nonOwningHandle struct {
	refs atomic.Int32

	// Guards activity. A spinlock: the critical sections are a pointer read plus a CAS loop.
	mu synx.TicketLock

	activity *FreestandingActivity
}

var _ Wakeable = (*nonOwningHandle)(nil)

func newNonOwningHandle(activity *FreestandingActivity) *nonOwningHandle {
	h := &nonOwningHandle{activity: activity}
	h.refs.Store(1) // the activity's share
	return h
}

func (h *nonOwningHandle) ref() {
	h.refs.Add(1)
}

func (h *nonOwningHandle) unref() {
	// Memory reclamation is the collector's job; the count exists to catch imbalance.
	if h.refs.Add(-1) < 0 {
		panic("activity: non-owning handle over-released")
	}
}

// Wakeup implements Wakeable. Under the handle's lock, attempt to promote the back-pointer to a
// strong reference. On success, feed the activity's wakeup path, which releases the promoted
// reference once wakeup processing completes. On failure the activity is already destroyed and
// the signal is dropped. Either way the waker's share of the handle is released.
func (h *nonOwningHandle) Wakeup() {
	h.mu.Lock()
	activity := h.activity
	if activity != nil && activity.refIfNonzero() {
		h.mu.Unlock()
		activity.impl.wakeup()
	} else {
		h.mu.Unlock()
	}
	h.unref()
}

// Drop implements Wakeable.
func (h *nonOwningHandle) Drop() {
	h.unref()
}

// dropActivity breaks the back-pointer and releases the activity's share. Called exactly once,
// from the activity's destruction.
func (h *nonOwningHandle) dropActivity() {
	h.mu.Lock()
	h.activity = nil
	h.mu.Unlock()
	h.unref()
}
