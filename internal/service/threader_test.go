package service

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"omnidesk.app/core/common/id"
	"omnidesk.app/core/internal/channel"
	"omnidesk.app/core/internal/model"
	"omnidesk.app/core/internal/store"
)

var _ = Describe("Threader", func() {
	var (
		ctx      context.Context
		tickets  *mockTicketStore
		threader *Threader
		conn     *model.ChannelConnection
	)

	inbound := func() *channel.InboundMessage {
		return &channel.InboundMessage{
			Platform:          model.PlatformSlack,
			ExternalMessageID: "1727000000.000100",
			ExternalThreadKey: "C123:U456",
			SenderExternalID:  "U456",
			SenderDisplayName: "Jo Doe",
			SenderEmail:       "jo@example.com",
			Body:              "I cannot log in\nIt says invalid token",
			ReplyTarget:       map[string]string{"channel": "C123", "thread_ts": "1727000000.000100"},
		}
	}

	BeforeEach(func() {
		Expect(id.Init(1)).To(Succeed())
		ctx = context.Background()
		tickets = &mockTicketStore{}
		threader = NewThreader(tickets)
		conn = &model.ChannelConnection{ID: 3, OrganizationID: 1, Platform: model.PlatformSlack, IsActive: true}
	})

	It("opens a new ticket when no open thread matches", func() {
		var created *model.Ticket
		tickets.createFn = func(ctx context.Context, t *model.Ticket) error {
			created = t
			return nil
		}
		var appended *model.TicketMessage
		tickets.appendMessageFn = func(ctx context.Context, m *model.TicketMessage) error {
			appended = m
			return nil
		}

		result, err := threader.Route(ctx, conn, inbound())
		Expect(err).NotTo(HaveOccurred())
		Expect(result.IsNewTicket).To(BeTrue())

		Expect(created).NotTo(BeNil())
		Expect(created.Subject).To(Equal("I cannot log in"))
		Expect(created.CustomerEmail).To(Equal("jo@example.com"))
		Expect(created.ThreadKey).To(Equal("C123:U456"))
		Expect(created.Status).To(Equal(model.TicketStatusOpen))
		Expect(created.Metadata).To(HaveKeyWithValue("reply_channel", "C123"))

		Expect(appended.SenderType).To(Equal(model.SenderCustomer))
		Expect(appended.Metadata).To(HaveKeyWithValue("external_message_id", "1727000000.000100"))
	})

	It("appends to the matching open ticket and repoints the reply target", func() {
		existing := &model.Ticket{ID: 42, OrganizationID: 1, Status: model.TicketStatusOpen}
		tickets.findOpenByThreadKeyFn = func(ctx context.Context, orgID, connID int64, email, key string) (*model.Ticket, error) {
			return existing, nil
		}
		tickets.createFn = func(ctx context.Context, t *model.Ticket) error {
			Fail("must not create a second open ticket for the thread")
			return nil
		}
		var merged map[string]string
		tickets.mergeMetadataFn = func(ctx context.Context, ticketID int64, md map[string]string) error {
			Expect(ticketID).To(Equal(int64(42)))
			merged = md
			return nil
		}

		msg := inbound()
		msg.ReplyTarget["thread_ts"] = "1727000099.000200"

		result, err := threader.Route(ctx, conn, msg)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.IsNewTicket).To(BeFalse())
		Expect(result.Ticket.ID).To(Equal(int64(42)))
		Expect(merged).To(HaveKeyWithValue("reply_thread_ts", "1727000099.000200"))
	})

	It("falls back to find when the create loses the unique-index race", func() {
		winner := &model.Ticket{ID: 7, OrganizationID: 1, Status: model.TicketStatusOpen}
		findCalls := 0
		tickets.findOpenByThreadKeyFn = func(ctx context.Context, orgID, connID int64, email, key string) (*model.Ticket, error) {
			findCalls++
			if findCalls == 1 {
				return nil, store.ErrNotFound
			}
			return winner, nil
		}
		tickets.createFn = func(ctx context.Context, t *model.Ticket) error {
			return store.ErrDuplicateThread
		}

		result, err := threader.Route(ctx, conn, inbound())
		Expect(err).NotTo(HaveOccurred())
		Expect(result.IsNewTicket).To(BeFalse())
		Expect(result.Ticket.ID).To(Equal(int64(7)))
	})

	It("serializes concurrent routes for the same thread key", func() {
		var open atomic.Pointer[model.Ticket]
		var creates int32

		tickets.findOpenByThreadKeyFn = func(ctx context.Context, orgID, connID int64, email, key string) (*model.Ticket, error) {
			if t := open.Load(); t != nil {
				return t, nil
			}
			return nil, store.ErrNotFound
		}
		tickets.createFn = func(ctx context.Context, t *model.Ticket) error {
			atomic.AddInt32(&creates, 1)
			open.Store(t)
			return nil
		}

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer GinkgoRecover()
				_, err := threader.Route(ctx, conn, inbound())
				Expect(err).NotTo(HaveOccurred())
			}()
		}
		wg.Wait()

		Expect(atomic.LoadInt32(&creates)).To(Equal(int32(1)))
	})
})

var _ = Describe("subjectFrom", func() {
	It("uses the first line", func() {
		Expect(subjectFrom("hello there\nsecond line")).To(Equal("hello there"))
	})

	It("truncates long bodies", func() {
		subject := subjectFrom(strings.Repeat("a", 300))
		Expect(len(subject)).To(BeNumerically("<=", maxSubjectLen+3))
		Expect(subject).To(HaveSuffix("..."))
	})
})

var _ = Describe("keyedMutex", func() {
	It("releases and cleans up entries at zero references", func() {
		var km keyedMutex

		unlock := km.lock("k")
		done := make(chan struct{})
		go func() {
			defer GinkgoRecover()
			u := km.lock("k")
			u()
			close(done)
		}()

		Consistently(done, "50ms").ShouldNot(BeClosed())
		unlock()
		Eventually(done).Should(BeClosed())
	})
})
