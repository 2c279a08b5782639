package channel

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"omnidesk.app/core/internal/model"
)

func slackSign(secret, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:%s", ts, body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

var _ = Describe("SlackAdapter", func() {
	var (
		adapter *SlackAdapter
		creds   model.Credentials
		now     time.Time
	)

	BeforeEach(func() {
		now = time.Now()
		adapter = NewSlackAdapter()
		adapter.now = func() time.Time { return now }
		creds = model.Credentials{SigningSecret: "8f742231b10e8888abcd99yyyzzz85a5"}
	})

	Describe("VerifySignature", func() {
		It("accepts a correctly signed request", func() {
			body := []byte(`{"type":"event_callback"}`)
			ts := strconv.FormatInt(now.Unix(), 10)
			headers := http.Header{}
			headers.Set("X-Slack-Request-Timestamp", ts)
			headers.Set("X-Slack-Signature", slackSign(creds.SigningSecret, ts, body))

			Expect(adapter.VerifySignature(creds, body, headers)).To(BeTrue())
		})

		It("rejects a tampered body", func() {
			ts := strconv.FormatInt(now.Unix(), 10)
			headers := http.Header{}
			headers.Set("X-Slack-Request-Timestamp", ts)
			headers.Set("X-Slack-Signature", slackSign(creds.SigningSecret, ts, []byte("original")))

			Expect(adapter.VerifySignature(creds, []byte("tampered"), headers)).To(BeFalse())
		})

		It("rejects a stale timestamp", func() {
			body := []byte(`{}`)
			ts := strconv.FormatInt(now.Add(-10*time.Minute).Unix(), 10)
			headers := http.Header{}
			headers.Set("X-Slack-Request-Timestamp", ts)
			headers.Set("X-Slack-Signature", slackSign(creds.SigningSecret, ts, body))

			Expect(adapter.VerifySignature(creds, body, headers)).To(BeFalse())
		})

		It("rejects when the signing secret is missing", func() {
			Expect(adapter.VerifySignature(model.Credentials{}, []byte(`{}`), http.Header{})).To(BeFalse())
		})
	})

	Describe("Normalize", func() {
		conn := &model.ChannelConnection{Platform: model.PlatformSlack}

		It("normalizes a plain user message", func() {
			body := []byte(`{"type":"event_callback","event":{"type":"message","user":"U123","text":"my invoice is wrong","ts":"1700000000.000100","channel":"C456"}}`)

			msg, err := adapter.Normalize(conn, body)
			Expect(err).NotTo(HaveOccurred())
			Expect(msg).NotTo(BeNil())
			Expect(msg.Platform).To(Equal(model.PlatformSlack))
			Expect(msg.ExternalMessageID).To(Equal("1700000000.000100"))
			Expect(msg.ExternalThreadKey).To(Equal("C456:U123"))
			Expect(msg.SenderEmail).To(Equal("U123@slack.local"))
			Expect(msg.ReplyTarget).To(HaveKeyWithValue("channel", "C456"))
		})

		It("threads replies on the root thread_ts", func() {
			body := []byte(`{"type":"event_callback","event":{"type":"message","user":"U123","text":"still broken","ts":"1700000099.000200","thread_ts":"1700000000.000100","channel":"C456"}}`)

			msg, err := adapter.Normalize(conn, body)
			Expect(err).NotTo(HaveOccurred())
			Expect(msg.ExternalThreadKey).To(Equal("C456:1700000000.000100"))
			Expect(msg.ReplyTarget).To(HaveKeyWithValue("thread_ts", "1700000000.000100"))
		})

		It("drops bot messages", func() {
			body := []byte(`{"type":"event_callback","event":{"type":"message","bot_id":"B99","user":"U123","text":"automated","ts":"1.2","channel":"C456"}}`)

			msg, err := adapter.Normalize(conn, body)
			Expect(err).NotTo(HaveOccurred())
			Expect(msg).To(BeNil())
		})

		It("drops message edits and deletions", func() {
			body := []byte(`{"type":"event_callback","event":{"type":"message","subtype":"message_changed","user":"U123","text":"edited","ts":"1.2","channel":"C456"}}`)

			msg, err := adapter.Normalize(conn, body)
			Expect(err).NotTo(HaveOccurred())
			Expect(msg).To(BeNil())
		})

		It("drops empty text", func() {
			body := []byte(`{"type":"event_callback","event":{"type":"message","user":"U123","text":"   ","ts":"1.2","channel":"C456"}}`)

			msg, err := adapter.Normalize(conn, body)
			Expect(err).NotTo(HaveOccurred())
			Expect(msg).To(BeNil())
		})

		It("returns an error for malformed JSON", func() {
			_, err := adapter.Normalize(conn, []byte(`{not json`))
			Expect(err).To(HaveOccurred())
		})
	})
})
