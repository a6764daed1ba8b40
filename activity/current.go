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
	"runtime"
	"sync"
)

// currentActivities maps a goroutine ID to the frame of the activity it is currently polling.
// An entry being present implies that goroutine holds the activity's mutex.
var currentActivities sync.Map // goroutine ID → *activityFrame

// activityFrame is one entry of a per-goroutine activity stack. Entering a poll pushes a frame;
// exiting restores the prior one, which permits nesting different activities on one goroutine
// (for example, a scheduler that inlines a sub-activity's poll).
type activityFrame struct {
	activity Activity
	contexts map[reflect.Type]interface{}
	prior    *activityFrame
}

func currentFrame() *activityFrame {
	if frame, ok := currentActivities.Load(goroutineID()); ok {
		return frame.(*activityFrame)
	}
	return nil
}

// Current returns the Activity being polled on the calling goroutine, or nil if there is none.
// A future's body calls it to identify the activity it runs under (for example, to register a
// waker) without the activity being threaded through every call.
func Current() Activity {
	if frame := currentFrame(); frame != nil {
		return frame.activity
	}
	return nil
}

// HaveCurrent returns true if an activity is being polled on the calling goroutine.
func HaveCurrent() bool {
	return currentFrame() != nil
}

// CurrentContext returns the ambient context value of the given kind installed by the activity
// being polled on the calling goroutine, or nil if there is no current activity or it carries no
// context of that kind.
func CurrentContext(kind reflect.Type) interface{} {
	if frame := currentFrame(); frame != nil {
		return frame.contexts[kind]
	}
	return nil
}

// scopedActivity installs an activity and its contexts as current for the duration of a poll:
// enterActivity saves the prior frame and exit restores it. Exit must run on every path out of
// the poll.
type scopedActivity struct {
	gid   uint64
	prior *activityFrame
}

func enterActivity(activity Activity, contexts map[reflect.Type]interface{}) scopedActivity {
	gid := goroutineID()
	var prior *activityFrame
	if frame, ok := currentActivities.Load(gid); ok {
		prior = frame.(*activityFrame)
	}
	currentActivities.Store(gid, &activityFrame{
		activity: activity,
		contexts: contexts,
		prior:    prior,
	})
	return scopedActivity{gid: gid, prior: prior}
}

func (s scopedActivity) exit() {
	if s.prior != nil {
		currentActivities.Store(s.gid, s.prior)
	} else {
		currentActivities.Delete(s.gid)
	}
}

// goroutineID returns the calling goroutine's ID, parsed from the first line of its stack dump
// ("goroutine N [running]: ..."). The runtime offers no portable accessor for it.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		c := buf[i]
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + uint64(c-'0')
	}
	return id
}
