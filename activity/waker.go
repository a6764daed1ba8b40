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

// A Wakeable is the single-shot target of a wakeup or drop signal. Queues and event sources store
// Wakeables (through Wakers) to wake activities.
//
// Both operations consume the Wakeable: after calling either, it cannot be used again.
// Implementations typically release a reference on the underlying activity inside both, so the
// two operations are the only paths that settle an outstanding reservation.
type Wakeable interface {
	// Wakeup wakes the underlying activity.
	Wakeup()

	// Drop discards this Wakeable without waking the underlying activity.
	Drop()
}

// Type for Unwakeable.
type unwakeable int

// Wakeup implements Wakeable as a no-op.
func (unwakeable) Wakeup() {}

// Drop implements Wakeable as a no-op.
func (unwakeable) Drop() {}

// Unwakeable is a Wakeable whose operations do nothing. It marks emptied slots: a Waker whose
// target has been taken points at Unwakeable, and so does an empty AtomicWaker.
const Unwakeable unwakeable = 0

// A Waker is an owning handle to one Wakeable.
//
// Wakeup and Drop take the held Wakeable and leave the Waker pointing at Unwakeable, so a Waker
// that has been fired or dropped is inert. The zero Waker is valid and inert. Every Waker must
// eventually be fired or dropped; holding an owning Waker keeps its activity alive, and dropping
// it is the only other way to release that reservation.
//
// A Waker must not be copied after first use: Go cannot express a move-only value, and a copy
// would allow the held Wakeable to be consumed twice.
type Waker struct {
	wakeable Wakeable
}

// NewWaker creates a Waker owning the given Wakeable.
func NewWaker(wakeable Wakeable) Waker {
	return Waker{wakeable: wakeable}
}

// take returns the held Wakeable and leaves the Waker pointing at Unwakeable.
func (w *Waker) take() Wakeable {
	wakeable := w.target()
	w.wakeable = Unwakeable
	return wakeable
}

// target reads the held Wakeable, mapping the zero Waker to Unwakeable.
func (w *Waker) target() Wakeable {
	if w.wakeable == nil {
		return Unwakeable
	}
	return w.wakeable
}

// Wakeup wakes the underlying activity and consumes the Waker.
func (w *Waker) Wakeup() {
	w.take().Wakeup()
}

// Drop discards the Waker without waking the underlying activity.
func (w *Waker) Drop() {
	w.take().Drop()
}

// Equal reports whether both Wakers refer to the same Wakeable. Two owning Wakers for the same
// activity compare equal, which permits deduplication in wait queues.
func (w *Waker) Equal(other *Waker) bool {
	return w.target() == other.target()
}
