package worker

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"omnidesk.app/core/core/config"
	"omnidesk.app/core/internal/model"
	"omnidesk.app/core/internal/queue"
)

var _ = Describe("Scheduler", func() {
	var (
		ctx       context.Context
		orgs      *mockOrganizationStore
		producer  *mockProducer
		scheduler *Scheduler
	)

	frozen := time.Date(2026, 8, 30, 14, 42, 0, 0, time.UTC)

	BeforeEach(func() {
		ctx = context.Background()
		orgs = &mockOrganizationStore{
			listFn: func(ctx context.Context) ([]model.Organization, error) {
				return []model.Organization{{ID: 1}, {ID: 2}}, nil
			},
		}
		producer = &mockProducer{}
		scheduler = NewScheduler(config.SchedulerConfig{
			RecurringInterval: 24 * time.Hour,
			AnalyticsInterval: time.Hour,
			EmailPollInterval: time.Minute,
		}, orgs, producer, nil)
		scheduler.now = func() time.Time { return frozen }
	})

	Describe("task construction", func() {
		It("keys recurring scans to the organization and day", func() {
			task, err := scheduler.taskFor(queue.TaskTypeRecurringScan, 7)
			Expect(err).NotTo(HaveOccurred())
			Expect(task.TaskType).To(Equal(queue.TaskTypeRecurringScan))
			Expect(task.OrganizationID).To(Equal(int64(7)))
			Expect(task.DedupeKey).To(Equal("recurring:7:2026-08-30"))
		})

		It("keys analytics rollups to the organization, day and hour", func() {
			task, err := scheduler.taskFor(queue.TaskTypeAnalyticsRollup, 7)
			Expect(err).NotTo(HaveOccurred())
			Expect(task.Day).To(Equal("2026-08-30"))
			Expect(task.DedupeKey).To(Equal("analytics:7:2026-08-30:2026-08-30T14"))
		})

		It("rejects task types that are not scheduled", func() {
			_, err := scheduler.taskFor(queue.TaskTypeTicketProcess, 7)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("fan-out", func() {
		It("enqueues one task per organization", func() {
			var keys []string
			producer.enqueueScheduledFn = func(ctx context.Context, task queue.Task) (bool, error) {
				keys = append(keys, task.DedupeKey)
				return true, nil
			}

			scheduler.enqueuePerOrganization(ctx, queue.TaskTypeRecurringScan)
			Expect(keys).To(ConsistOf("recurring:1:2026-08-30", "recurring:2:2026-08-30"))
		})

		It("continues past per-organization enqueue failures", func() {
			var enqueued []int64
			producer.enqueueScheduledFn = func(ctx context.Context, task queue.Task) (bool, error) {
				if task.OrganizationID == 1 {
					return false, errors.New("redis unavailable")
				}
				enqueued = append(enqueued, task.OrganizationID)
				return true, nil
			}

			scheduler.enqueuePerOrganization(ctx, queue.TaskTypeAnalyticsRollup)
			Expect(enqueued).To(Equal([]int64{2}))
		})
	})
})
