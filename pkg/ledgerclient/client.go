/**
 * @description
 * This package provides a client for the external ledger's REST API (Connect
 * accounts, Issuing and balances). It encapsulates authenticated, form-encoded
 * requests and classifies every failure into a domain.ErrorKind exactly once.
 *
 * Key features:
 * - Bearer authentication with the platform secret key.
 * - `Stripe-Account` scoping for calls made on behalf of a connected account.
 * - `Idempotency-Key` on every create call that receives one.
 * - One request per operation. The client never retries.
 *
 * @dependencies
 * - net/http, net/url, encoding/json, log/slog: standard library transport.
 * - internal/domain for the request models and the error taxonomy.
 */
package ledgerclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/piggybank/onboarding-service/internal/domain"
)

const defaultTimeout = 30 * time.Second

// Client is a client for the ledger API.
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new ledger API client. A zero timeout falls back to 30s.
func NewClient(baseURL, secretKey string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With("component", "ledger_client"),
	}
}

// request describes one call to the ledger.
type request struct {
	op             string
	method         string
	path           string
	form           url.Values
	query          url.Values
	account        string // connected account the call acts on behalf of
	idempotencyKey string
}

// do is a helper function to make HTTP requests to the ledger API. Non-2xx
// responses and transport failures come back as *domain.Error.
func (c *Client) do(ctx context.Context, r request, target interface{}) error {
	endpoint := c.baseURL + r.path
	if len(r.query) > 0 {
		endpoint += "?" + r.query.Encode()
	}

	var body io.Reader
	if r.form != nil {
		body = strings.NewReader(r.form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, r.method, endpoint, body)
	if err != nil {
		return domain.UnknownError("failed to create ledger request", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if r.form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if r.account != "" {
		req.Header.Set("Stripe-Account", r.account)
	}
	if r.idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", r.idempotencyKey)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("ledger request failed", "op", r.op, "method", r.method, "path", r.path, "error", err)
		return domain.UnknownError("ledger is unreachable, try again", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.UnknownError("failed to read ledger response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		classified := classifyResponse(resp.StatusCode, respBody)
		c.logger.Warn("ledger returned non-success status",
			"op", r.op,
			"status", resp.StatusCode,
			"kind", classified.Kind,
			"code", classified.Code,
			"field", classified.Field,
			"duration_ms", time.Since(started).Milliseconds(),
		)
		return classified
	}

	c.logger.Debug("ledger request completed", "op", r.op, "status", resp.StatusCode, "duration_ms", time.Since(started).Milliseconds())

	if target != nil {
		if err := json.Unmarshal(respBody, target); err != nil {
			return domain.UnknownError(fmt.Sprintf("failed to decode ledger %s response", r.op), err)
		}
	}
	return nil
}

func pathEscape(id string) string {
	return url.PathEscape(id)
}
