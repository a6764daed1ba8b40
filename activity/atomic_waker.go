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
	"unsafe"
)

// An AtomicWaker is a thread-safe slot holding at most one Wakeable. It serves as a single-shot
// rendezvous between a producer registering interest and a consumer delivering a signal.
//
// Set wakes the Wakeable it replaces. This composes so that no registration is silently lost: a
// producer racing with a consumer always has its prior registration honored, either because the
// consumer takes it (and wakes it) or because a subsequent Set takes it (and wakes it).
//
// An AtomicWaker's address is part of its identity; concurrent wakers publish into the cell, so
// it must not be copied after first use.
type AtomicWaker struct {
	// The actual type is Wakeable, boxed so the cell is a single word that can be accessed with
	// atomic.{Load,Swap}Pointer. A nil box reads as Unwakeable, which makes the zero AtomicWaker
	// an empty slot.
	wakeable unsafe.Pointer // *Wakeable
}

// NewAtomicWaker creates an AtomicWaker holding the target taken from waker.
func NewAtomicWaker(waker *Waker) *AtomicWaker {
	w := &AtomicWaker{}
	target := waker.take()
	w.wakeable = unsafe.Pointer(&target)
	return w
}

func (w *AtomicWaker) load() Wakeable {
	p := atomic.LoadPointer(&w.wakeable)
	if p == nil {
		return Unwakeable
	}
	return *(*Wakeable)(p)
}

func (w *AtomicWaker) swap(wakeable Wakeable) Wakeable {
	p := atomic.SwapPointer(&w.wakeable, unsafe.Pointer(&wakeable))
	if p == nil {
		return Unwakeable
	}
	return *(*Wakeable)(p)
}

// Armed returns true if a Wakeable other than Unwakeable is present. The answer is advisory: a
// concurrent Wakeup or Set may change it before the caller acts on it.
func (w *AtomicWaker) Armed() bool {
	return w.load() != Unwakeable
}

// Wakeup takes the held Wakeable, leaving the slot empty, and wakes it.
func (w *AtomicWaker) Wakeup() {
	w.swap(Unwakeable).Wakeup()
}

// Set stores the target taken from waker and wakes the Wakeable it replaces.
func (w *AtomicWaker) Set(waker *Waker) {
	w.swap(waker.take()).Wakeup()
}

// Drop empties the slot and discards the held Wakeable without waking it. An AtomicWaker that
// goes out of use must be dropped so the reservation held by its occupant is released.
func (w *AtomicWaker) Drop() {
	w.swap(Unwakeable).Drop()
}
