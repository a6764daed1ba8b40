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

package activity_test

import (
	"sync/atomic"

	"github.com/botobag/loom/activity"
	"github.com/botobag/loom/concurrent"
	"github.com/botobag/loom/future"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"golang.org/x/sync/errgroup"
)

var _ = Describe("PromiseActivity", func() {
	var (
		scheduler *manualScheduler
		recorder  *doneRecorder
	)

	BeforeEach(func() {
		scheduler = &manualScheduler{}
		recorder = &doneRecorder{}
	})

	It("completes inline when the future is immediately ready", func() {
		a := activity.NewPromiseActivity(
			func() future.Future { return future.Ready(42) },
			scheduler,
			recorder.OnDone)
		defer a.Orphan()

		Expect(recorder.Calls()).Should(Equal(1))
		Expect(recorder.Result()).Should(Equal(42))
		Expect(recorder.Err()).ShouldNot(HaveOccurred())
		Expect(scheduler.Total()).Should(Equal(0))
	})

	It("completes inline when the future immediately fails", func() {
		a := activity.NewPromiseActivity(
			func() future.Future { return future.Err(errTest) },
			scheduler,
			recorder.OnDone)
		defer a.Orphan()

		Expect(recorder.Calls()).Should(Equal(1))
		Expect(recorder.Err()).Should(MatchError(errTest))
	})

	It("re-polls after an external wake", func() {
		var (
			polls int
			waker activity.Waker
		)
		a := activity.NewPromiseActivity(
			func() future.Future {
				return future.FutureFunc(func() (future.PollResult, error) {
					polls++
					if polls == 1 {
						waker = activity.Current().MakeOwningWaker()
						return future.PollResultPending, nil
					}
					return "ok", nil
				})
			},
			scheduler,
			recorder.OnDone)
		defer a.Orphan()

		Expect(recorder.Calls()).Should(Equal(0))

		// Fire the waker from outside the activity's poll; the re-poll is deferred to the
		// scheduler.
		waker.Wakeup()
		Expect(scheduler.Total()).Should(Equal(1))
		Expect(recorder.Calls()).Should(Equal(0))

		scheduler.RunAll()
		Expect(recorder.Calls()).Should(Equal(1))
		Expect(recorder.Result()).Should(Equal("ok"))
		Expect(polls).Should(Equal(2))
	})

	It("repolls immediately on ForceImmediateRepoll", func() {
		polls := 0
		a := activity.NewPromiseActivity(
			func() future.Future {
				return future.FutureFunc(func() (future.PollResult, error) {
					polls++
					if polls == 1 {
						activity.Current().ForceImmediateRepoll()
						return future.PollResultPending, nil
					}
					return 7, nil
				})
			},
			scheduler,
			recorder.OnDone)
		defer a.Orphan()

		// The second poll ran during construction; the scheduler was never involved.
		Expect(recorder.Calls()).Should(Equal(1))
		Expect(recorder.Result()).Should(Equal(7))
		Expect(polls).Should(Equal(2))
		Expect(scheduler.Total()).Should(Equal(0))
	})

	It("panics when ForceImmediateRepoll is called from outside a poll", func() {
		a := activity.NewPromiseActivity(
			func() future.Future { return future.Ready(nil) },
			scheduler,
			recorder.OnDone)
		defer a.Orphan()

		Expect(func() { a.ForceImmediateRepoll() }).Should(Panic())
	})

	It("cancels when the future requests cancellation during its own poll", func() {
		polls := 0
		a := activity.NewPromiseActivity(
			func() future.Future {
				return future.FutureFunc(func() (future.PollResult, error) {
					polls++
					activity.Current().(*activity.PromiseActivity).Cancel()
					return future.PollResultPending, nil
				})
			},
			scheduler,
			recorder.OnDone)
		defer a.Orphan()

		Expect(recorder.Calls()).Should(Equal(1))
		Expect(recorder.Err()).Should(MatchError(activity.ErrActivityCancelled))
		// The future was not polled again after requesting cancellation.
		Expect(polls).Should(Equal(1))
	})

	It("lets cancellation dominate a wakeup received in the same poll", func() {
		polls := 0
		a := activity.NewPromiseActivity(
			func() future.Future {
				return future.FutureFunc(func() (future.PollResult, error) {
					polls++
					current := activity.Current()
					// Request both: the repoll must never happen.
					current.ForceImmediateRepoll()
					current.(*activity.PromiseActivity).Cancel()
					return future.PollResultPending, nil
				})
			},
			scheduler,
			recorder.OnDone)
		defer a.Orphan()

		Expect(recorder.Calls()).Should(Equal(1))
		Expect(recorder.Err()).Should(MatchError(activity.ErrActivityCancelled))
		Expect(polls).Should(Equal(1))
	})

	It("cancels on Orphan and ignores the pending wake that raced in", func() {
		var waker activity.Waker
		a := activity.NewPromiseActivity(
			func() future.Future {
				return future.FutureFunc(func() (future.PollResult, error) {
					if !waker.Equal(&activity.Waker{}) {
						// A second poll would re-arm; this scenario never reaches it.
						return nil, errTest
					}
					waker = activity.Current().MakeOwningWaker()
					return future.PollResultPending, nil
				})
			},
			scheduler,
			recorder.OnDone)

		// A wake is queued with the scheduler but not yet delivered...
		waker.Wakeup()
		Expect(scheduler.Pending()).Should(Equal(1))

		// ...when the primary reference goes away.
		a.Orphan()
		Expect(recorder.Calls()).Should(Equal(1))
		Expect(recorder.Err()).Should(MatchError(activity.ErrActivityCancelled))

		// The late delivery observes completion and is a no-op beyond releasing its reference.
		scheduler.RunAll()
		Expect(recorder.Calls()).Should(Equal(1))
	})

	It("re-polls on a non-owning wake obtained during a poll", func() {
		var (
			polls int
			waker activity.Waker
		)
		a := activity.NewPromiseActivity(
			func() future.Future {
				return future.FutureFunc(func() (future.PollResult, error) {
					polls++
					if polls == 1 {
						// Registering against the current activity from inside its own poll is
						// the common case; the activity's mutex is already held here.
						waker = activity.Current().MakeNonOwningWaker()
						return future.PollResultPending, nil
					}
					return "woken", nil
				})
			},
			scheduler,
			recorder.OnDone)
		defer a.Orphan()

		waker.Wakeup()
		Expect(scheduler.Total()).Should(Equal(1))
		scheduler.RunAll()

		Expect(recorder.Calls()).Should(Equal(1))
		Expect(recorder.Result()).Should(Equal("woken"))
	})

	It("tolerates a non-owning wake long after the activity is gone", func() {
		a := activity.NewPromiseActivity(
			func() future.Future {
				return future.FutureFunc(func() (future.PollResult, error) {
					return future.PollResultPending, nil
				})
			},
			scheduler,
			recorder.OnDone)

		waker := a.MakeNonOwningWaker()

		a.Orphan()
		Expect(recorder.Calls()).Should(Equal(1))
		Expect(recorder.Err()).Should(MatchError(activity.ErrActivityCancelled))

		// The promotion attempt fails cleanly; no callback re-invocation, no crash.
		waker.Wakeup()
		Expect(recorder.Calls()).Should(Equal(1))
		Expect(scheduler.Total()).Should(Equal(0))
	})

	It("drops a future's stored resources when cancelled", func() {
		dropped := false
		a := activity.NewPromiseActivity(
			func() future.Future {
				return &droppableFuture{onDrop: func() { dropped = true }}
			},
			scheduler,
			recorder.OnDone)

		Expect(dropped).Should(BeFalse())
		a.Orphan()
		Expect(dropped).Should(BeTrue())
		Expect(recorder.Err()).Should(MatchError(activity.ErrActivityCancelled))
	})

	It("treats MakeOwningWaker().Wakeup() and ForceWakeup() alike", func() {
		polls := 0
		ready := false
		a := activity.NewPromiseActivity(
			func() future.Future {
				return future.FutureFunc(func() (future.PollResult, error) {
					polls++
					if !ready {
						return future.PollResultPending, nil
					}
					return "done", nil
				})
			},
			scheduler,
			recorder.OnDone)
		defer a.Orphan()

		waker := a.MakeOwningWaker()
		waker.Wakeup()
		Expect(scheduler.Total()).Should(Equal(1))
		scheduler.RunAll()
		Expect(polls).Should(Equal(2))

		a.ForceWakeup()
		Expect(scheduler.Total()).Should(Equal(2))
		scheduler.RunAll()
		Expect(polls).Should(Equal(3))

		ready = true
		a.ForceWakeup()
		scheduler.RunAll()
		Expect(recorder.Calls()).Should(Equal(1))
		Expect(recorder.Result()).Should(Equal("done"))
	})

	It("is unaffected by dropping an owning waker without firing it", func() {
		ready := false
		a := activity.NewPromiseActivity(
			func() future.Future {
				return future.FutureFunc(func() (future.PollResult, error) {
					if !ready {
						return future.PollResultPending, nil
					}
					return "done", nil
				})
			},
			scheduler,
			recorder.OnDone)
		defer a.Orphan()

		waker := a.MakeOwningWaker()
		waker.Drop()
		Expect(recorder.Calls()).Should(Equal(0))

		ready = true
		a.ForceWakeup()
		scheduler.RunAll()
		Expect(recorder.Result()).Should(Equal("done"))
	})

	It("hands out equal owning wakers and equal non-owning ones distinct from them", func() {
		a := activity.NewPromiseActivity(
			func() future.Future {
				return future.FutureFunc(func() (future.PollResult, error) {
					return future.PollResultPending, nil
				})
			},
			scheduler,
			recorder.OnDone)

		w1 := a.MakeOwningWaker()
		w2 := a.MakeOwningWaker()
		Expect(w1.Equal(&w2)).Should(BeTrue())

		// All non-owning wakers share the activity's handle, so they compare equal to each other
		// but not to owning wakers.
		n1 := a.MakeNonOwningWaker()
		n2 := a.MakeNonOwningWaker()
		Expect(n1.Equal(&n2)).Should(BeTrue())
		Expect(n1.Equal(&w1)).Should(BeFalse())

		w1.Drop()
		w2.Drop()
		n1.Drop()
		n2.Drop()
		a.Orphan()
	})

	It("invokes the completion callback exactly once under a wake storm", func() {
		const (
			numWakers      = 8
			wakesPerWaker  = 100
			pollConcurrent = int32(1)
		)

		var (
			allFired  atomic.Bool
			inPoll    int32
			violation atomic.Bool
			polls     int32
		)

		a := activity.NewPromiseActivity(
			func() future.Future {
				return future.FutureFunc(func() (future.PollResult, error) {
					// The mutex serializes polling; more than one goroutine in here at once
					// would break it.
					if atomic.AddInt32(&inPoll, 1) > pollConcurrent {
						violation.Store(true)
					}
					atomic.AddInt32(&polls, 1)
					defer atomic.AddInt32(&inPoll, -1)

					if allFired.Load() {
						return "stormed", nil
					}
					return future.PollResultPending, nil
				})
			},
			activity.GoWakeupScheduler{},
			recorder.OnDone)

		var group errgroup.Group
		for i := 0; i < numWakers; i++ {
			group.Go(func() error {
				for j := 0; j < wakesPerWaker; j++ {
					a.ForceWakeup()
				}
				return nil
			})
		}
		Expect(group.Wait()).Should(Succeed())

		allFired.Store(true)
		a.ForceWakeup()

		Eventually(recorder.Calls).Should(Equal(1))
		Consistently(recorder.Calls).Should(Equal(1))
		Expect(recorder.Result()).Should(Equal("stormed"))
		Expect(violation.Load()).Should(BeFalse())
		Expect(atomic.LoadInt32(&polls)).Should(BeNumerically(">=", 2))

		a.Orphan()
	})

	It("defers wakeups through a worker pool executor", func() {
		executor, err := concurrent.NewWorkerPoolExecutor(concurrent.WorkerPoolExecutorConfig{
			MaxPoolSize: 2,
		})
		Expect(err).ShouldNot(HaveOccurred())

		var ready atomic.Bool
		a := activity.NewPromiseActivity(
			func() future.Future {
				return future.FutureFunc(func() (future.PollResult, error) {
					if !ready.Load() {
						return future.PollResultPending, nil
					}
					return "pooled", nil
				})
			},
			activity.ExecutorWakeupScheduler{Executor: executor},
			recorder.OnDone)
		defer a.Orphan()

		ready.Store(true)
		a.ForceWakeup()

		Eventually(recorder.Calls).Should(Equal(1))
		Expect(recorder.Result()).Should(Equal("pooled"))

		terminated, err := executor.Shutdown()
		Expect(err).ShouldNot(HaveOccurred())
		Eventually(terminated).Should(Receive())
	})
})

// droppableFuture never settles and records when the activity discards it.
type droppableFuture struct {
	onDrop func()
}

func (f *droppableFuture) Poll() (future.PollResult, error) {
	return future.PollResultPending, nil
}

func (f *droppableFuture) Drop() {
	f.onDrop()
}

var errTest = testError("test error")

type testError string

func (e testError) Error() string { return string(e) }
