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

// Package future defines the contract between a pollable asynchronous computation and the
// activity that drives it.
package future

// A Future represents an asynchronous computation.
//
// Futures alone are inert; they must be actively polled to make progress. Each poll either
// settles the future or leaves it pending, and a pending future arranges to be polled again by
// registering a waker against whatever it is waiting on.
//
// Poll is not called in a tight loop. The driving activity calls it once, and again only after a
// registered waker fires to indicate that progress may be possible. An implementation of Poll
// should strive to return quickly and must never block: a future waiting on a slow operation
// offloads the work elsewhere and goes pending instead.
type Future interface {
	// Poll attempts to resolve the future to a final value.
	//
	// The return values are interpreted as follows:
	//
	//	* (PollResultPending, nil): the future is not ready yet.
	//	* ([any other value], nil): the future finished successfully with the value.
	//	* (_, err): the future finished with the error.
	//
	// Once a future has finished, it is not polled again.
	//
	// Polls occur with the driving activity installed as the current activity and with the
	// activity's contexts installed. The future's body may call activity.Current to obtain wakers
	// registering its interest in external events, and activity.CurrentContext to read ambient
	// values.
	Poll() (PollResult, error)
}

// The FutureFunc type is an adapter to allow the use of ordinary functions as Future.
type FutureFunc func() (PollResult, error)

// FutureFunc implements Future.
var _ Future = (FutureFunc)(nil)

// Poll implements Future. It calls f().
func (f FutureFunc) Poll() (PollResult, error) {
	return f()
}

// A Future that holds resources (for example, Wakers stored while pending) may implement Dropper
// to release them when the driving activity discards it. Drop is called exactly once, when the
// future settles or when its activity is cancelled, with the activity still installed as current.
type Dropper interface {
	Drop()
}
