package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"

	"ticket-engine/internal/domain"
)

// HTTPDisburser pushes the net amount to the host through the payment
// provider's disbursement endpoint.
type HTTPDisburser struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPDisburser(baseURL, apiKey string) *HTTPDisburser {
	return &HTTPDisburser{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (d *HTTPDisburser) Disburse(ctx context.Context, payout domain.Payout) error {
	body, err := json.Marshal(map[string]any{
		"payout_id": payout.ID,
		"event_id":  payout.EventID,
		"amount":    payout.NetAmount,
		"currency":  "USD",
	})
	if err != nil {
		return errors.Wrap(err, "marshal disburse request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/v1/disburse", bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build disburse request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.apiKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "disburse request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Newf("disburse returned status %d", resp.StatusCode)
	}
	return nil
}
