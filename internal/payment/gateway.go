package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PushRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	PayerHandle string          `json:"payer_handle"`
	OrderRef    uuid.UUID       `json:"order_ref"`
	Description string          `json:"description,omitempty"`
}

// Gateway initiates an asynchronous push payment against the external
// mobile-money provider. The provider confirms later through the webhook;
// retries with backoff happen here at initiation only, never at
// reconciliation, which is receiver-driven.
type Gateway interface {
	InitiatePush(ctx context.Context, req PushRequest) (correlationID string, err error)
}

type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPGateway(baseURL, apiKey string) *HTTPGateway {
	return &HTTPGateway{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

const initiateRetries = 3

func (g *HTTPGateway) InitiatePush(ctx context.Context, req PushRequest) (string, error) {
	var lastErr error
	for i := 0; i < initiateRetries; i++ {
		if i > 0 {
			backoff := time.Duration(1<<i) * time.Second
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}
		correlationID, err := g.initiate(ctx, req)
		if err == nil {
			return correlationID, nil
		}
		lastErr = err
	}
	return "", errors.Wrapf(lastErr, "initiate push failed after %d attempts", initiateRetries)
}

func (g *HTTPGateway) initiate(ctx context.Context, req PushRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/push", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("gateway returned %d", resp.StatusCode)
	}

	var out struct {
		CorrelationID string `json:"correlation_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errors.Wrap(err, "decode gateway response")
	}
	if out.CorrelationID == "" {
		return "", errors.New("gateway response missing correlation id")
	}
	return out.CorrelationID, nil
}
