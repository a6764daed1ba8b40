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

// Package activity implements the execution vehicle that drives a future (see package future) to
// completion.
//
// An Activity owns exactly one future and polls it under the activity's mutex. When a poll
// returns pending, the future has registered Wakers against whatever it awaits; firing any of
// them arranges a re-poll, inline when the wake arrives during the activity's own poll and
// through a pluggable WakeupScheduler otherwise. Polling continues until the future settles, the
// activity is cancelled, or the activity is orphaned (which implies cancellation). The terminal
// outcome is delivered to a completion callback exactly once.
//
// The scheduling model is single-goroutine cooperative per activity: many activities may run in
// parallel, but any one activity's future is polled by at most one goroutine at a time. A poll
// must never block; registering wakers against external signals is the only sanctioned way to
// cede control.
//
// Construct an activity with NewPromiseActivity:
//
//	a := activity.NewPromiseActivity(
//		func() future.Future { return newFetch(url) },
//		activity.GoWakeupScheduler{},
//		func(result interface{}, err error) { ... },
//	)
//	defer a.Orphan()
//
// Within a poll the future's body may call activity.Current to obtain wakers for the activity it
// runs under, and activity.CurrentContext to read the ambient values the activity was constructed
// with.
package activity
