package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"arbiter/internal/config"
	"arbiter/internal/services"
)

const defaultHTTPTimeout = 30 * time.Second

// Commitment is the provenance record submitted to the ledger: enough to
// later prove which report was produced for which source.
type Commitment struct {
	JobID       string `json:"job_id"`
	SourceRef   string `json:"source_ref"`
	Fingerprint string `json:"fingerprint"`
	ReportHash  string `json:"report_hash"`
}

// Receipt is the ledger's acknowledgement of a committed record.
type Receipt struct {
	TransactionID string    `json:"transaction_id"`
	CommittedAt   time.Time `json:"committed_at"`
}

// Client commits provenance records. Implementations classify failures with
// the services sentinels: ErrInsufficientFunds, ErrRejected, ErrNetwork.
type Client interface {
	Commit(ctx context.Context, commitment Commitment) (Receipt, error)
}

// HTTPClient talks to the ledger's REST endpoint.
type HTTPClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPClient builds a ledger client from configuration.
func NewHTTPClient(cfg config.Ledger) *HTTPClient {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &HTTPClient{
		endpoint:   strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/"),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// WithHTTPClient overrides the underlying HTTP client (for testing).
func (c *HTTPClient) WithHTTPClient(client *http.Client) {
	if client != nil {
		c.httpClient = client
	}
}

// Commit implements Client.
func (c *HTTPClient) Commit(ctx context.Context, commitment Commitment) (Receipt, error) {
	var receipt Receipt
	if c.endpoint == "" {
		return receipt, services.Wrap(services.ErrConfiguration, "committing", "ledger", "endpoint required", nil)
	}
	encoded, err := json.Marshal(commitment)
	if err != nil {
		return receipt, services.Wrap(services.ErrRejected, "committing", "ledger", "encode commitment", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/commitments", bytes.NewReader(encoded))
	if err != nil {
		return receipt, services.Wrap(services.ErrNetwork, "committing", "ledger", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return receipt, services.Wrap(services.ErrTimeout, "committing", "ledger", "commit timed out", err)
		}
		var urlErr *url.Error
		if errors.As(err, &urlErr) && urlErr.Timeout() {
			return receipt, services.Wrap(services.ErrTimeout, "committing", "ledger", "commit timed out", err)
		}
		return receipt, services.Wrap(services.ErrNetwork, "committing", "ledger", "http error", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return receipt, services.Wrap(services.ErrNetwork, "committing", "ledger", "read response", err)
	}

	switch {
	case resp.StatusCode == http.StatusPaymentRequired:
		return receipt, services.Wrap(services.ErrInsufficientFunds, "committing", "ledger", snippet(body), nil)
	case resp.StatusCode >= http.StatusInternalServerError:
		return receipt, services.Wrap(services.ErrNetwork, "committing", "ledger", snippet(body), nil)
	case resp.StatusCode >= http.StatusBadRequest:
		return receipt, services.Wrap(services.ErrRejected, "committing", "ledger", snippet(body), nil)
	}

	if err := json.Unmarshal(body, &receipt); err != nil {
		return receipt, services.Wrap(services.ErrRejected, "committing", "ledger", "decode receipt", err)
	}
	if receipt.TransactionID == "" {
		return receipt, services.Wrap(services.ErrRejected, "committing", "ledger", "receipt missing transaction id", nil)
	}
	return receipt, nil
}

func snippet(body []byte) string {
	clean := strings.Join(strings.Fields(string(body)), " ")
	const limit = 160
	if len(clean) > limit {
		clean = clean[:limit] + "..."
	}
	if clean == "" {
		return "ledger error"
	}
	return clean
}
