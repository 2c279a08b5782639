package service

import (
	"context"
	"errors"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"omnidesk.app/core/internal/model"
	"omnidesk.app/core/internal/queue"
	"omnidesk.app/core/internal/service/sender"
	"omnidesk.app/core/internal/store"
)

const testEncryptionKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

var _ = Describe("Relay", func() {
	var (
		ctx           context.Context
		tickets       *mockTicketStore
		connections   *mockConnectionStore
		organizations *mockOrganizationStore
		members       *mockMemberStore
		credentials   *CredentialService
		slack         *mockSender
		producer      *mockProducer
		relay         *Relay

		conn *model.ChannelConnection
	)

	connID := int64(5)

	ticket := func() *model.Ticket {
		return &model.Ticket{
			ID:             42,
			OrganizationID: 1,
			ConnectionID:   &connID,
			Metadata: map[string]string{
				"channel":         "C100",
				"reply_thread_ts": "1724.002",
			},
		}
	}

	message := func() *model.TicketMessage {
		return &model.TicketMessage{ID: 77, TicketID: 42, Body: "All sorted now."}
	}

	BeforeEach(func() {
		ctx = context.Background()
		tickets = &mockTicketStore{}
		connections = &mockConnectionStore{}
		organizations = &mockOrganizationStore{
			getByIDFn: func(ctx context.Context, id int64) (*model.Organization, error) {
				return &model.Organization{ID: id, Name: "Acme"}, nil
			},
		}
		members = &mockMemberStore{}
		slack = &mockSender{platform: model.PlatformSlack}
		producer = &mockProducer{}

		var err error
		credentials, err = NewCredentialService(testEncryptionKey, connections, nil)
		Expect(err).NotTo(HaveOccurred())

		blob, err := credentials.Encrypt(model.Credentials{AccessToken: "xoxb-token"})
		Expect(err).NotTo(HaveOccurred())
		conn = &model.ChannelConnection{
			ID:                   connID,
			OrganizationID:       1,
			Platform:             model.PlatformSlack,
			IsActive:             true,
			EncryptedCredentials: blob,
			Metadata:             map[string]string{"bot_user_id": "B01"},
		}
		connections.getByIDFn = func(ctx context.Context, id int64) (*model.ChannelConnection, error) {
			return conn, nil
		}

		relay = NewRelay(tickets, connections, organizations, members, credentials, sender.NewRegistry(slack), producer)
	})

	It("sends the reply to the origin platform with the merged target", func() {
		var got sender.Request
		var gotCreds model.Credentials
		slack.sendFn = func(ctx context.Context, creds model.Credentials, req sender.Request) error {
			got, gotCreds = req, creds
			return nil
		}

		Expect(relay.Deliver(ctx, ticket(), message(), nil)).To(BeTrue())
		Expect(got.Text).To(Equal("All sorted now."))
		Expect(got.Target).To(HaveKeyWithValue("channel", "C100"))
		Expect(got.Target).To(HaveKeyWithValue("thread_ts", "1724.002"))
		Expect(got.Target).To(HaveKeyWithValue("bot_user_id", "B01"))
		Expect(gotCreds.AccessToken).To(Equal("xoxb-token"))
	})

	It("prefers reply target keys over stale seeded keys", func() {
		t := ticket()
		t.Metadata["thread_ts"] = "1724.001"

		var got sender.Request
		slack.sendFn = func(ctx context.Context, creds model.Credentials, req sender.Request) error {
			got = req
			return nil
		}

		Expect(relay.Deliver(ctx, t, message(), nil)).To(BeTrue())
		Expect(got.Target).To(HaveKeyWithValue("thread_ts", "1724.002"))
	})

	It("skips tickets with no origin connection", func() {
		t := ticket()
		t.ConnectionID = nil

		Expect(relay.Deliver(ctx, t, message(), nil)).To(BeFalse())
	})

	It("skips inactive connections", func() {
		conn.IsActive = false
		Expect(relay.Deliver(ctx, ticket(), message(), nil)).To(BeFalse())
	})

	It("skips flagged connections", func() {
		flagged := time.Now()
		conn.FlaggedAt = &flagged
		Expect(relay.Deliver(ctx, ticket(), message(), nil)).To(BeFalse())
	})

	It("returns false when the platform send fails", func() {
		slack.sendFn = func(ctx context.Context, creds model.Credentials, req sender.Request) error {
			return errors.New("channel_not_found")
		}

		Expect(relay.Deliver(ctx, ticket(), message(), nil)).To(BeFalse())
	})

	It("brands human replies with the organization and agent names", func() {
		authorID := int64(9)
		members.getByIDFn = func(ctx context.Context, id int64) (*model.Member, error) {
			return &model.Member{ID: id, Name: "Dana"}, nil
		}

		var got sender.Request
		slack.sendFn = func(ctx context.Context, creds model.Credentials, req sender.Request) error {
			got = req
			return nil
		}

		Expect(relay.Deliver(ctx, ticket(), message(), &authorID)).To(BeTrue())
		Expect(strings.HasPrefix(got.Text, "Acme (via Dana)\n\n")).To(BeTrue())
	})

	It("falls back to the organization name when the author is gone", func() {
		authorID := int64(9)
		members.getByIDFn = func(ctx context.Context, id int64) (*model.Member, error) {
			return nil, store.ErrNotFound
		}

		var got sender.Request
		slack.sendFn = func(ctx context.Context, creds model.Credentials, req sender.Request) error {
			got = req
			return nil
		}

		Expect(relay.Deliver(ctx, ticket(), message(), &authorID)).To(BeTrue())
		Expect(strings.HasPrefix(got.Text, "Acme\n\n")).To(BeTrue())
	})

	It("leaves automated replies unbranded", func() {
		var got sender.Request
		slack.sendFn = func(ctx context.Context, creds model.Credentials, req sender.Request) error {
			got = req
			return nil
		}

		Expect(relay.Deliver(ctx, ticket(), message(), nil)).To(BeTrue())
		Expect(got.Text).To(Equal("All sorted now."))
	})

	It("routes email replies through the outbound email queue", func() {
		conn.Platform = model.PlatformEmail

		Expect(relay.Deliver(ctx, ticket(), message(), nil)).To(BeTrue())
		Expect(producer.tasks).To(HaveLen(1))
		task := producer.tasks[0]
		Expect(task.TaskType).To(Equal(queue.TaskTypeOutboundEmail))
		Expect(task.TicketID).To(HaveValue(Equal(int64(42))))
		Expect(task.MessageID).To(HaveValue(Equal(int64(77))))
		Expect(task.ConnectionID).To(HaveValue(Equal(connID)))
	})

	It("returns false when the email enqueue fails", func() {
		conn.Platform = model.PlatformEmail
		producer.enqueueFn = func(ctx context.Context, task queue.Task) error {
			return errors.New("redis down")
		}

		Expect(relay.Deliver(ctx, ticket(), message(), nil)).To(BeFalse())
	})
})
