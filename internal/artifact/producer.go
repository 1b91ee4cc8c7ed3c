package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"

	"ticket-engine/internal/domain"
)

// Artifacts are the durable, human-presentable renderings of a ticket.
type Artifacts struct {
	DocumentURL string `json:"document_url"`
	ImageURL    string `json:"image_url"`
}

// Producer renders the presentable ticket document and scannable credential
// image. Rendering is decoupled from payment state: a failure here never
// rolls back a committed order.
type Producer interface {
	Render(ctx context.Context, ticket domain.Ticket, event domain.Event) (Artifacts, error)
}

// HTTPProducer calls an external rendering service.
type HTTPProducer struct {
	baseURL string
	client  *http.Client
}

func NewHTTPProducer(baseURL string) *HTTPProducer {
	return &HTTPProducer{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *HTTPProducer) Render(ctx context.Context, ticket domain.Ticket, event domain.Event) (Artifacts, error) {
	body, err := json.Marshal(map[string]any{
		"ticket_id":  ticket.ID,
		"ticket_no":  ticket.TicketNo,
		"qr_code_id": ticket.QRCodeID,
		"tier":       ticket.TierName,
		"event_id":   event.ID,
		"event_name": event.Name,
		"start_at":   event.StartAt,
	})
	if err != nil {
		return Artifacts{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/render", bytes.NewReader(body))
	if err != nil {
		return Artifacts{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Artifacts{}, errors.Wrap(err, "call artifact producer")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Artifacts{}, fmt.Errorf("artifact producer returned %d", resp.StatusCode)
	}

	var out Artifacts
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Artifacts{}, errors.Wrap(err, "decode artifact response")
	}
	return out, nil
}
