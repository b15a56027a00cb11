// Package external is the anti-corruption layer between the queue core and
// third-party providers. The delivery client routes all outbound HTTP
// through a circuit breaker so a dead provider fails fast instead of
// burning each job's full retry budget on timeouts.
package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"inkwell/internal/queue"
	"inkwell/internal/types"
)

// sendGridEndpoint is the mail-send API.
const sendGridEndpoint = "https://api.sendgrid.com/v3/mail/send"

// SendGridConfig holds the delivery client settings.
type SendGridConfig struct {
	APIKey      string
	FromAddress string
	FromName    string
	SendTimeout time.Duration
	Logger      *slog.Logger
}

// SendGridClient delivers notifications over the SendGrid v3 mail API. It
// performs exactly one send attempt per Deliver call; retry scheduling
// belongs to the job processor, not the transport.
type SendGridClient struct {
	client      *http.Client
	breaker     *gobreaker.CircuitBreaker[*http.Response]
	apiKey      string
	fromAddress string
	fromName    string
	logger      *slog.Logger
}

// NewSendGridClient creates the delivery client. The breaker opens after
// consecutive provider failures and recovers via half-open probes.
func NewSendGridClient(cfg SendGridConfig) *SendGridClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "sendgrid",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &SendGridClient{
		client:      &http.Client{Timeout: timeout},
		breaker:     cb,
		apiKey:      cfg.APIKey,
		fromAddress: cfg.FromAddress,
		fromName:    cfg.FromName,
		logger:      logger,
	}
}

// sendGridPayload is the subset of the v3 mail-send body this client uses.
type sendGridPayload struct {
	Personalizations []struct {
		To []sendGridAddress `json:"to"`
	} `json:"personalizations"`
	From    sendGridAddress   `json:"from"`
	Subject string            `json:"subject"`
	Content []sendGridContent `json:"content"`
}

type sendGridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Deliver sends one notification. Return contract matches queue.Deliverer:
// (true, nil) on acceptance, (false, nil) when the provider rejected the
// message, (false, err) on transport failure or open breaker. The processor
// treats the last two identically and consumes retry budget.
func (c *SendGridClient) Deliver(ctx context.Context, content *types.Content, address string) (bool, error) {
	payload := sendGridPayload{
		From:    sendGridAddress{Email: c.fromAddress, Name: c.fromName},
		Subject: content.Subject,
		Content: []sendGridContent{{Type: "text/html", Value: content.Body}},
	}
	payload.Personalizations = []struct {
		To []sendGridAddress `json:"to"`
	}{{To: []sendGridAddress{{Email: address}}}}

	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("marshalling send payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sendGridEndpoint, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("building send request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if reqID := types.GetRequestID(ctx); reqID != "" {
		req.Header.Set("X-Request-Id", reqID)
	}

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		r, doErr := c.client.Do(req)
		if doErr != nil {
			return nil, doErr
		}
		// 429 and 5xx count as breaker failures; client errors do not, a
		// bad address must not open the circuit for everyone else.
		if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
			return r, fmt.Errorf("provider returned %d", r.StatusCode)
		}
		return r, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return false, types.NewAppError(
				types.ErrCodeUpstreamDelivery,
				"delivery circuit breaker is open",
				err,
			)
		}
		if resp != nil {
			resp.Body.Close()
		}
		return false, types.NewAppError(types.ErrCodeUpstreamDelivery, "provider send failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return true, nil
	}

	// Provider-side rejection (bad payload, suppressed address). Read a
	// bounded slice of the body for the log.
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	c.logger.WarnContext(ctx, "provider rejected message",
		"status", resp.StatusCode,
		"detail", string(detail),
	)
	return false, nil
}

var _ queue.Deliverer = (*SendGridClient)(nil)
