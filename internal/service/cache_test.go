package service

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"omnidesk.app/core/internal/model"
)

var _ = Describe("memoryCache", func() {
	var (
		ctx   context.Context
		now   time.Time
		cache *memoryCache
	)

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
		cache = NewMemoryCache().(*memoryCache)
		cache.now = func() time.Time { return now }
	})

	It("returns stored values before the TTL elapses", func() {
		Expect(cache.Set(ctx, "k", "v", time.Minute)).To(Succeed())

		val, err := cache.Get(ctx, "k")
		Expect(err).NotTo(HaveOccurred())
		Expect(val).To(Equal("v"))
	})

	It("treats expired keys as missing", func() {
		Expect(cache.Set(ctx, "k", "v", time.Minute)).To(Succeed())
		now = now.Add(2 * time.Minute)

		val, err := cache.Get(ctx, "k")
		Expect(err).NotTo(HaveOccurred())
		Expect(val).To(BeEmpty())
	})

	It("returns empty for unknown keys", func() {
		val, err := cache.Get(ctx, "missing")
		Expect(err).NotTo(HaveOccurred())
		Expect(val).To(BeEmpty())
	})

	It("deletes keys", func() {
		Expect(cache.Set(ctx, "k", "v", time.Minute)).To(Succeed())
		Expect(cache.Delete(ctx, "k")).To(Succeed())

		val, err := cache.Get(ctx, "k")
		Expect(err).NotTo(HaveOccurred())
		Expect(val).To(BeEmpty())
	})

	It("evicts dead entries on write", func() {
		Expect(cache.Set(ctx, "old", "v", time.Minute)).To(Succeed())
		now = now.Add(2 * time.Minute)
		Expect(cache.Set(ctx, "new", "v", time.Minute)).To(Succeed())

		Expect(cache.entries).NotTo(HaveKey("old"))
		Expect(cache.entries).To(HaveKey("new"))
	})
})

var _ = Describe("WidgetSessions", func() {
	var (
		ctx      context.Context
		sessions *WidgetSessions
	)

	BeforeEach(func() {
		ctx = context.Background()
		sessions = NewWidgetSessions(NewMemoryCache())
	})

	It("mints a token bound to the visitor", func() {
		token, visitor, err := sessions.Mint(ctx, "vis-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(token).NotTo(BeEmpty())
		Expect(visitor).To(Equal("vis-1"))

		ok, err := sessions.Validate(ctx, token, "vis-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
	})

	It("generates a visitor id on first boot", func() {
		token, visitor, err := sessions.Mint(ctx, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(visitor).NotTo(BeEmpty())

		ok, err := sessions.Validate(ctx, token, visitor)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
	})

	It("rejects tokens presented for a different visitor", func() {
		token, _, err := sessions.Mint(ctx, "vis-1")
		Expect(err).NotTo(HaveOccurred())

		ok, err := sessions.Validate(ctx, token, "vis-2")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("rejects empty tokens and visitors", func() {
		ok, err := sessions.Validate(ctx, "", "vis-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())

		ok, err = sessions.Validate(ctx, "tok", "")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("revokes sessions", func() {
		token, _, err := sessions.Mint(ctx, "vis-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(sessions.Revoke(ctx, token)).To(Succeed())

		ok, err := sessions.Validate(ctx, token, "vis-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("AnalyticsService", func() {
	It("recounts the day and upserts the aggregate", func() {
		ctx := context.Background()
		tickets := &mockTicketStore{}
		stats := &mockStatsStore{}

		var countedDay time.Time
		tickets.countDailyFn = func(ctx context.Context, orgID int64, day time.Time) (*model.DailyStats, error) {
			countedDay = day
			return &model.DailyStats{OrganizationID: orgID, Day: day, TicketsOpened: 4}, nil
		}
		var upserted *model.DailyStats
		stats.upsertDailyFn = func(ctx context.Context, s *model.DailyStats) error {
			upserted = s
			return nil
		}

		svc := NewAnalyticsService(tickets, stats)
		local := time.Date(2026, 8, 29, 23, 30, 0, 0, time.FixedZone("CEST", 2*3600))

		Expect(svc.RollupDay(ctx, 1, local)).To(Succeed())
		Expect(countedDay).To(Equal(time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)))
		Expect(upserted.TicketsOpened).To(Equal(4))
	})
})
