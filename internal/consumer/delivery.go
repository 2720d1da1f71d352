package consumer

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sneh-joshi/dmq/internal/broker"
	"github.com/sneh-joshi/dmq/internal/types"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body, prefixed
// with "sha256=", when the subscription has a secret.
const SignatureHeader = "X-Dmq-Signature"

// webhookPayload is the JSON body POSTed to the webhook URL.
type webhookPayload struct {
	Channel  types.ChannelID  `json:"channel"`
	Messages []webhookMessage `json:"messages"`
	// Head is the MQC head right after the last message, so the receiver
	// can verify the batch against its own running head.
	Head types.Hash `json:"head"`
}

type webhookMessage struct {
	Index  uint64            `json:"index"`
	SentAt types.BlockNumber `json:"sent_at"`
	Body   string            `json:"body"` // base64-encoded
}

// Sign returns the SignatureHeader value for body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// deliverPage POSTs res to the subscription URL.
// Returns nil only when the endpoint responds with HTTP 200 OK.
func deliverPage(ctx context.Context, client *http.Client, sub *Subscription, res broker.ReadResult) error {
	p := webhookPayload{
		Channel:  sub.Channel,
		Messages: make([]webhookMessage, 0, len(res.Messages)),
		Head:     res.Head,
	}
	for i, m := range res.Messages {
		p.Messages = append(p.Messages, webhookMessage{
			Index:  res.FirstIndex + uint64(i),
			SentAt: m.SentAt,
			Body:   base64.StdEncoding.EncodeToString(m.Msg),
		})
	}

	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("consumer: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("consumer: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	// Sign the request body when a secret is provided.
	if sub.secret != "" {
		req.Header.Set(SignatureHeader, Sign(sub.secret, body))
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("consumer: POST to %s: %w", sub.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("consumer: endpoint returned %d", resp.StatusCode)
	}
	return nil
}
