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

package concurrent_test

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/botobag/loom/concurrent"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"golang.org/x/sync/errgroup"
)

var _ = Describe("WorkerPoolExecutor", func() {
	It("cannot be created with invalid pool size", func() {
		var err error

		_, err = concurrent.NewWorkerPoolExecutor(concurrent.WorkerPoolExecutorConfig{})
		Expect(err.Error()).Should(ContainSubstring("MaxPoolSize must be a non-zero value"))

		_, err = concurrent.NewWorkerPoolExecutor(concurrent.WorkerPoolExecutorConfig{
			MaxPoolSize: 50,
			MinPoolSize: 100,
		})
		Expect(err.Error()).Should(ContainSubstring("MaxPoolSize (50) should be greater than MinPoolSize (100)"))

		_, err = concurrent.NewWorkerPoolExecutor(concurrent.WorkerPoolExecutorConfig{
			MaxPoolSize:   1,
			QueueCapacity: -1,
		})
		Expect(err.Error()).Should(ContainSubstring("QueueCapacity (-1) cannot be negative"))
	})

	It("rejects a nil task", func() {
		executor, err := concurrent.NewWorkerPoolExecutor(concurrent.WorkerPoolExecutorConfig{
			MaxPoolSize: 1,
		})
		Expect(err).ShouldNot(HaveOccurred())

		Expect(executor.Submit(nil)).Should(MatchError(concurrent.ErrNilTask))

		Expect(shutdownExecutor(executor)).Should(Succeed())
	})

	It("can execute a task without pool", func() {
		executor, err := concurrent.NewWorkerPoolExecutor(concurrent.WorkerPoolExecutorConfig{
			MinPoolSize: 0,
			MaxPoolSize: uint32(runtime.GOMAXPROCS(-1)),
		})
		Expect(err).ShouldNot(HaveOccurred())

		ran := make(chan bool, 1)
		Expect(executor.Submit(concurrent.TaskFunc(func() {
			ran <- true
		}))).Should(Succeed())

		Eventually(ran).Should(Receive())

		Expect(shutdownExecutor(executor)).Should(Succeed())
	})

	It("can execute multiple tasks with pool", func() {
		executor, err := concurrent.NewWorkerPoolExecutor(concurrent.WorkerPoolExecutorConfig{
			MinPoolSize: 4,
			MaxPoolSize: 8,
		})
		Expect(err).ShouldNot(HaveOccurred())

		var x int32
		task := concurrent.TaskFunc(func() {
			atomic.AddInt32(&x, 1)
		})

		// Dispatch the task 100 times.
		const TIMES = 100
		for i := 0; i < TIMES; i++ {
			Expect(executor.Submit(task)).Should(Succeed())
		}

		// Shutdown drains previously submitted tasks before terminating.
		Expect(shutdownExecutor(executor)).Should(Succeed())
		Expect(atomic.LoadInt32(&x)).Should(Equal(int32(TIMES)))
	})

	It("accepts concurrent submissions", func() {
		executor, err := concurrent.NewWorkerPoolExecutor(concurrent.WorkerPoolExecutorConfig{
			MinPoolSize:   2,
			MaxPoolSize:   8,
			QueueCapacity: 16,
		})
		Expect(err).ShouldNot(HaveOccurred())

		const (
			numSubmitters     = 8
			tasksPerSubmitter = 50
		)

		var x int32
		var group errgroup.Group
		for i := 0; i < numSubmitters; i++ {
			group.Go(func() error {
				for j := 0; j < tasksPerSubmitter; j++ {
					if err := executor.Submit(concurrent.TaskFunc(func() {
						atomic.AddInt32(&x, 1)
					})); err != nil {
						return err
					}
				}
				return nil
			})
		}
		Expect(group.Wait()).Should(Succeed())

		Expect(shutdownExecutor(executor)).Should(Succeed())
		Expect(atomic.LoadInt32(&x)).Should(Equal(int32(numSubmitters * tasksPerSubmitter)))
	})

	It("refuses tasks after shutdown", func() {
		executor, err := concurrent.NewWorkerPoolExecutor(concurrent.WorkerPoolExecutorConfig{
			MaxPoolSize: 1,
		})
		Expect(err).ShouldNot(HaveOccurred())

		Expect(shutdownExecutor(executor)).Should(Succeed())

		Expect(executor.Submit(concurrent.TaskFunc(func() {}))).Should(
			MatchError(concurrent.ErrExecutorShutdown))
	})

	It("notifies every shutdown caller", func() {
		executor, err := concurrent.NewWorkerPoolExecutor(concurrent.WorkerPoolExecutorConfig{
			MaxPoolSize: 2,
		})
		Expect(err).ShouldNot(HaveOccurred())

		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer GinkgoRecover()
				Expect(shutdownExecutor(executor)).Should(Succeed())
			}()
		}
		wg.Wait()
	})

	It("unblocks a saturated submitter on shutdown", func() {
		executor, err := concurrent.NewWorkerPoolExecutor(concurrent.WorkerPoolExecutorConfig{
			MaxPoolSize:   1,
			QueueCapacity: 1,
		})
		Expect(err).ShouldNot(HaveOccurred())

		// Occupy the only worker until the test finishes.
		release := make(chan struct{})
		Expect(executor.Submit(concurrent.TaskFunc(func() {
			<-release
		}))).Should(Succeed())

		// Fill the backlog.
		Expect(executor.Submit(concurrent.TaskFunc(func() {}))).Should(Succeed())

		// This submission has nowhere to go and blocks until shutdown rejects it.
		blocked := make(chan error, 1)
		go func() {
			blocked <- executor.Submit(concurrent.TaskFunc(func() {}))
		}()

		terminated, err := executor.Shutdown()
		Expect(err).ShouldNot(HaveOccurred())
		Eventually(blocked).Should(Receive(MatchError(concurrent.ErrExecutorShutdown)))

		close(release)
		Eventually(terminated).Should(Receive())
	})
})
