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

import "reflect"

// A Context supplies one ambient value to an activity. The value is installed as the current
// context of its kind for the duration of every poll, where the future's body reads it through
// CurrentContext.
//
// The kind of a context is the dynamic type of the supplied value. The set of kinds an activity
// carries is fixed at construction; supplying two contexts of the same kind is a programming
// error.
type Context interface {
	contextKind() reflect.Type
	contextValue() interface{}
	releaseContext()
}

// heldContext implements Context for all three ownership flavors.
type heldContext struct {
	value   interface{}
	release func()
}

func (c *heldContext) contextKind() reflect.Type {
	return reflect.TypeOf(c.value)
}

func (c *heldContext) contextValue() interface{} {
	return c.value
}

func (c *heldContext) releaseContext() {
	if c.release != nil {
		c.release()
	}
}

// WithValue supplies value as an ambient context owned by the activity. Values are installed as
// given; pass a pointer if the future needs to observe mutations.
func WithValue(value interface{}) Context {
	return &heldContext{value: value}
}

// WithPointer supplies a borrowed pointer as an ambient context. The activity takes no ownership:
// the caller keeps ptr valid for the lifetime of the activity.
func WithPointer(ptr interface{}) Context {
	return &heldContext{value: ptr}
}

// WithOwned supplies an owned pointer with a custom release action. release runs exactly once,
// when the activity is destroyed.
func WithOwned(ptr interface{}, release func()) Context {
	return &heldContext{value: ptr, release: release}
}

// ContextKind returns the kind under which value would be installed, for use with
// CurrentContext.
func ContextKind(value interface{}) reflect.Type {
	return reflect.TypeOf(value)
}

// buildContextTable resolves the fixed kind → value table installed during polls.
func buildContextTable(contexts []Context) map[reflect.Type]interface{} {
	if len(contexts) == 0 {
		return nil
	}
	table := make(map[reflect.Type]interface{}, len(contexts))
	for _, c := range contexts {
		kind := c.contextKind()
		if _, exists := table[kind]; exists {
			panic("activity: duplicate context kind " + kind.String())
		}
		table[kind] = c.contextValue()
	}
	return table
}
