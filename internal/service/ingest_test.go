package service

import (
	"context"
	"errors"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"omnidesk.app/core/common/id"
	"omnidesk.app/core/internal/channel"
	"omnidesk.app/core/internal/model"
	"omnidesk.app/core/internal/queue"
)

type fakeAdapter struct {
	platform    model.Platform
	verifyFn    func(creds model.Credentials, body []byte, headers http.Header) bool
	normalizeFn func(conn *model.ChannelConnection, body []byte) (*channel.InboundMessage, error)
}

func (a *fakeAdapter) Platform() model.Platform { return a.platform }

func (a *fakeAdapter) VerifySignature(creds model.Credentials, body []byte, headers http.Header) bool {
	if a.verifyFn != nil {
		return a.verifyFn(creds, body, headers)
	}
	return true
}

func (a *fakeAdapter) Normalize(conn *model.ChannelConnection, body []byte) (*channel.InboundMessage, error) {
	if a.normalizeFn != nil {
		return a.normalizeFn(conn, body)
	}
	return nil, nil
}

type fakePoller struct {
	fakeAdapter
	fetchFn func(ctx context.Context, conn *model.ChannelConnection, creds model.Credentials, cursor string) ([]channel.InboundMessage, string, error)
}

func (p *fakePoller) FetchNewSince(ctx context.Context, conn *model.ChannelConnection, creds model.Credentials, cursor string) ([]channel.InboundMessage, string, error) {
	if p.fetchFn != nil {
		return p.fetchFn(ctx, conn, creds, cursor)
	}
	return nil, "", nil
}

var _ = Describe("IngestService", func() {
	var (
		ctx         context.Context
		tickets     *mockTicketStore
		connections *mockConnectionStore
		members     *mockMemberStore
		adapter     *fakeAdapter
		credentials *CredentialService
		producer    *mockProducer
		ingest      *IngestService

		conn *model.ChannelConnection
	)

	inbound := func() *channel.InboundMessage {
		return &channel.InboundMessage{
			Platform:          model.PlatformSlack,
			ExternalMessageID: "1724.100",
			ExternalThreadKey: "C1:U1",
			SenderExternalID:  "U1",
			SenderEmail:       "jo@example.com",
			Body:              "help, billing page is blank",
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		Expect(id.Init(1)).To(Succeed())

		tickets = &mockTicketStore{}
		connections = &mockConnectionStore{}
		members = &mockMemberStore{}
		adapter = &fakeAdapter{platform: model.PlatformSlack}
		producer = &mockProducer{}

		var err error
		credentials, err = NewCredentialService(testEncryptionKey, connections, nil)
		Expect(err).NotTo(HaveOccurred())
		blob, err := credentials.Encrypt(model.Credentials{SigningSecret: "sek"})
		Expect(err).NotTo(HaveOccurred())

		conn = &model.ChannelConnection{
			ID:                   5,
			OrganizationID:       1,
			Platform:             model.PlatformSlack,
			IsActive:             true,
			EncryptedCredentials: blob,
		}
		connections.getByIDFn = func(ctx context.Context, id int64) (*model.ChannelConnection, error) {
			return conn, nil
		}

		ingest = NewIngestService(
			connections,
			channel.NewRegistry(adapter),
			NewIdentityResolver(members),
			NewThreader(tickets),
			credentials,
			producer,
			tickets,
		)
	})

	Describe("HandleWebhook", func() {
		It("verifies, threads, persists, and enqueues triage", func() {
			adapter.normalizeFn = func(conn *model.ChannelConnection, body []byte) (*channel.InboundMessage, error) {
				return inbound(), nil
			}

			var created *model.Ticket
			tickets.createFn = func(ctx context.Context, t *model.Ticket) error {
				created = t
				return nil
			}

			Expect(ingest.HandleWebhook(ctx, 5, model.PlatformSlack, []byte(`{}`), http.Header{})).To(Succeed())
			Expect(created).NotTo(BeNil())
			Expect(producer.tasks).To(HaveLen(1))
			Expect(producer.tasks[0].TaskType).To(Equal(queue.TaskTypeTicketProcess))
			Expect(producer.tasks[0].TicketID).To(HaveValue(Equal(created.ID)))
		})

		It("rejects failed signature checks with no side effects", func() {
			adapter.verifyFn = func(creds model.Credentials, body []byte, headers http.Header) bool {
				Expect(creds.SigningSecret).To(Equal("sek"))
				return false
			}
			tickets.createFn = func(ctx context.Context, t *model.Ticket) error {
				Fail("verification failure must not create tickets")
				return nil
			}

			err := ingest.HandleWebhook(ctx, 5, model.PlatformSlack, []byte(`{}`), http.Header{})
			Expect(err).To(MatchError(ErrVerificationFailed))
			Expect(producer.tasks).To(BeEmpty())
		})

		It("rejects inactive connections", func() {
			conn.IsActive = false
			err := ingest.HandleWebhook(ctx, 5, model.PlatformSlack, []byte(`{}`), http.Header{})
			Expect(err).To(MatchError(ErrConnectionUnavailable))
		})

		It("rejects platform mismatches", func() {
			err := ingest.HandleWebhook(ctx, 5, model.PlatformDiscord, []byte(`{}`), http.Header{})
			Expect(err).To(MatchError(ErrConnectionUnavailable))
		})

		It("treats dropped payloads as success", func() {
			adapter.normalizeFn = func(conn *model.ChannelConnection, body []byte) (*channel.InboundMessage, error) {
				return nil, nil
			}

			Expect(ingest.HandleWebhook(ctx, 5, model.PlatformSlack, []byte(`{}`), http.Header{})).To(Succeed())
			Expect(producer.tasks).To(BeEmpty())
		})
	})

	Describe("HandleInbound", func() {
		It("drops redelivered external messages", func() {
			tickets.seenExternalMessageFn = func(ctx context.Context, connectionID int64, externalMessageID string) (bool, error) {
				return externalMessageID == "1724.100", nil
			}
			tickets.createFn = func(ctx context.Context, t *model.Ticket) error {
				Fail("duplicate must not create a ticket")
				return nil
			}

			Expect(ingest.HandleInbound(ctx, conn, inbound())).To(Succeed())
			Expect(producer.tasks).To(BeEmpty())
		})

		It("suppresses messages from internal team members", func() {
			members.getByEmailFn = func(ctx context.Context, orgID int64, email string) (*model.Member, error) {
				return &model.Member{ID: 2, IsActive: true}, nil
			}
			tickets.createFn = func(ctx context.Context, t *model.Ticket) error {
				Fail("internal sender must not create a ticket")
				return nil
			}

			Expect(ingest.HandleInbound(ctx, conn, inbound())).To(Succeed())
			Expect(producer.tasks).To(BeEmpty())
		})

		It("acknowledges the webhook even when the enqueue fails", func() {
			producer.enqueueFn = func(ctx context.Context, task queue.Task) error {
				return errors.New("redis down")
			}

			Expect(ingest.HandleInbound(ctx, conn, inbound())).To(Succeed())
		})
	})

	Describe("PollOnce", func() {
		var poller *fakePoller

		BeforeEach(func() {
			poller = &fakePoller{fakeAdapter: fakeAdapter{platform: model.PlatformEmail}}
			ingest = NewIngestService(
				connections,
				channel.NewRegistry(poller),
				NewIdentityResolver(members),
				NewThreader(tickets),
				credentials,
				producer,
				tickets,
			)
			connections.listActiveByPlatformFn = func(ctx context.Context, platform model.Platform) ([]model.ChannelConnection, error) {
				return []model.ChannelConnection{*conn}, nil
			}
		})

		It("ingests fetched messages and advances the cursor", func() {
			poller.fetchFn = func(ctx context.Context, c *model.ChannelConnection, creds model.Credentials, cursor string) ([]channel.InboundMessage, string, error) {
				Expect(cursor).To(BeEmpty())
				return []channel.InboundMessage{*inbound()}, "hist-42", nil
			}

			var savedCursor string
			connections.updateCursorFn = func(ctx context.Context, id int64, cursor string) error {
				savedCursor = cursor
				return nil
			}

			ingest.PollOnce(ctx)
			Expect(producer.tasks).To(HaveLen(1))
			Expect(savedCursor).To(Equal("hist-42"))
		})

		It("keeps the old cursor when a message fails to ingest", func() {
			poller.fetchFn = func(ctx context.Context, c *model.ChannelConnection, creds model.Credentials, cursor string) ([]channel.InboundMessage, string, error) {
				return []channel.InboundMessage{*inbound()}, "hist-43", nil
			}
			tickets.seenExternalMessageFn = func(ctx context.Context, connectionID int64, externalMessageID string) (bool, error) {
				return false, errors.New("db gone")
			}
			connections.updateCursorFn = func(ctx context.Context, id int64, cursor string) error {
				Fail("cursor must not advance past a failed message")
				return nil
			}

			ingest.PollOnce(ctx)
		})

		It("flags the connection on an authorization failure", func() {
			poller.fetchFn = func(ctx context.Context, c *model.ChannelConnection, creds model.Credentials, cursor string) ([]channel.InboundMessage, string, error) {
				return nil, "", channel.ErrUnauthorized
			}

			var flagged int64
			connections.flagFn = func(ctx context.Context, id int64, reason string) error {
				flagged = id
				return nil
			}

			ingest.PollOnce(ctx)
			Expect(flagged).To(Equal(int64(5)))
		})

		It("skips flagged connections", func() {
			now := conn.CreatedAt
			conn.FlaggedAt = &now
			poller.fetchFn = func(ctx context.Context, c *model.ChannelConnection, creds model.Credentials, cursor string) ([]channel.InboundMessage, string, error) {
				Fail("flagged connections must not be polled")
				return nil, "", nil
			}

			ingest.PollOnce(ctx)
		})
	})
})
