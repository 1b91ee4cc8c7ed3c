package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	mongoadapter "ticket-engine/internal/adapters/mongo"
	"ticket-engine/internal/adapters/postgres"
	"ticket-engine/internal/config"
	"ticket-engine/internal/domain"
	"ticket-engine/internal/idempotency"
	"ticket-engine/internal/observability"
	"ticket-engine/internal/payment"
	"ticket-engine/internal/reservation"
	"ticket-engine/internal/scheduler"
	"ticket-engine/internal/ticket"
)

type Handlers struct {
	cfg         *config.Config
	store       *postgres.Store
	coordinator *reservation.Coordinator
	reconciler  *payment.Reconciler
	tickets     *ticket.Manager
	scheduler   *scheduler.Scheduler
	gateway     payment.Gateway
	idemp       *idempotency.Idempotency
	catalog     *mongoadapter.CatalogRepository
	audit       *mongoadapter.AuditLogger
	logger      observability.Logger
}

func NewHandlers(
	cfg *config.Config,
	store *postgres.Store,
	coordinator *reservation.Coordinator,
	reconciler *payment.Reconciler,
	tickets *ticket.Manager,
	sched *scheduler.Scheduler,
	gateway payment.Gateway,
	idemp *idempotency.Idempotency,
	catalog *mongoadapter.CatalogRepository,
	audit *mongoadapter.AuditLogger,
	logger observability.Logger,
) *Handlers {
	return &Handlers{
		cfg:         cfg,
		store:       store,
		coordinator: coordinator,
		reconciler:  reconciler,
		tickets:     tickets,
		scheduler:   sched,
		gateway:     gateway,
		idemp:       idemp,
		catalog:     catalog,
		audit:       audit,
		logger:      logger,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, _ := json.Marshal(v)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Checkout opens the reservation, creates the pending order and initiates
// the push payment. The order and its holds are created in one transaction,
// the order row first so the holds' order reference resolves; payment
// initiation happens after, and a definitive initiation failure releases the
// hold again.
func (h *Handlers) Checkout(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("Idempotency-Key")
	if key != "" {
		existing, err := h.idemp.Get(r.Context(), key)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if existing != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(existing.Status)
			w.Write(existing.Result)
			return
		}
	}

	var req struct {
		EventID     uuid.UUID `json:"event_id"`
		BuyerID     uuid.UUID `json:"buyer_id"`
		PayerHandle string    `json:"payer_handle"`
		Items       []struct {
			TierName string `json:"tier"`
			Quantity int    `json:"quantity"`
		} `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Items) == 0 || req.PayerHandle == "" {
		writeError(w, http.StatusBadRequest, "items and payer_handle are required")
		return
	}

	event, err := h.store.GetEvent(r.Context(), req.EventID)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if event.Status != domain.EventStatusPublished {
		writeError(w, http.StatusConflict, "event is not on sale")
		return
	}

	items := make([]domain.OrderItem, 0, len(req.Items))
	for _, it := range req.Items {
		tier, err := h.store.GetTier(r.Context(), req.EventID, it.TierName)
		if errors.Is(err, domain.ErrTierNotFound) {
			writeError(w, http.StatusNotFound, "tier not found: "+it.TierName)
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		items = append(items, domain.OrderItem{TierName: tier.Name, Quantity: it.Quantity, UnitPrice: tier.UnitPrice})
	}

	order := domain.NewOrder(req.EventID, req.BuyerID, req.PayerHandle, items, domain.FeeSchedule{
		PlatformRate:   h.cfg.PlatformFeeRate,
		ProcessingRate: h.cfg.ProcessingFeeRate,
	}, time.Now().UTC())

	var holds []domain.Hold
	err = runSerializable(r.Context(), h.store, func(txCtx context.Context) error {
		if txErr := h.store.CreateOrder(txCtx, order); txErr != nil {
			return txErr
		}
		var txErr error
		holds, txErr = h.coordinator.Open(txCtx, order)
		return txErr
	})
	switch {
	case errors.Is(err, domain.ErrInsufficientInventory):
		writeError(w, http.StatusConflict, "insufficient inventory")
		return
	case errors.Is(err, domain.ErrTierNotFound):
		writeError(w, http.StatusNotFound, "tier not found")
		return
	case errors.Is(err, domain.ErrSerializationFailure):
		writeError(w, http.StatusConflict, "conflict, try again")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	correlationID, err := h.gateway.InitiatePush(r.Context(), payment.PushRequest{
		Amount:      order.Total(),
		Currency:    "USD",
		PayerHandle: order.PayerHandle,
		OrderRef:    order.ID,
	})
	if err != nil {
		if _, rerr := h.coordinator.Resolve(r.Context(), order.ID, reservation.OutcomeRelease); rerr != nil {
			h.logger.Error("failed to release hold after initiation failure", rerr)
		}
		if _, ferr := h.store.FailOrder(r.Context(), order.ID, "payment initiation failed"); ferr != nil {
			h.logger.Error("failed to fail order after initiation failure", ferr)
		}
		writeError(w, http.StatusBadGateway, "payment initiation failed")
		return
	}

	if err := h.store.SetOrderCorrelation(r.Context(), order.ID, correlationID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]any{
		"order_id":       order.ID,
		"total":          order.Total(),
		"correlation_id": correlationID,
		"expires_at":     holds[0].ExpiresAt.Format(time.RFC3339),
	}
	data, _ := json.Marshal(resp)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	w.Write(data)

	if key != "" {
		if err := h.idemp.Set(r.Context(), key, idempotency.Response{Status: http.StatusCreated, Result: data}); err != nil {
			h.logger.Error("failed to cache idempotent response", err)
		}
	}
}

// PaymentWebhook absorbs provider notifications. Anything short of an
// internal failure acknowledges with 200 so the provider stops retrying.
func (h *Handlers) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var n payment.Notification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if n.CorrelationID == "" {
		writeError(w, http.StatusBadRequest, "correlation_id is required")
		return
	}

	result, err := h.reconciler.Apply(r.Context(), n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": string(result)})
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	order, err := h.store.GetOrder(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"order_id":       order.ID,
		"status":         order.PaymentStatus,
		"items":          order.Items,
		"subtotal":       order.Subtotal,
		"processing_fee": order.ProcessingFee,
		"total":          order.Total(),
		"failure_reason": order.FailureReason,
	})
}

// Scan redeems a ticket credential. The response always carries the
// ticket's resulting or current status so gate staff can distinguish
// already-used from not-yet-active from invalid.
func (h *Handlers) Scan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QRCodeID  string `json:"qr_code_id"`
		ScannerID string `json:"scanner_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.tickets.Redeem(r.Context(), req.QRCodeID, req.ScannerID)
	if h.audit != nil {
		h.audit.LogRedemption(r.Context(), req.QRCodeID, req.ScannerID, string(result.Status))
	}

	resp := map[string]any{"status": result.Status}
	if result.RedeemedAt != nil {
		resp["redeemed_at"] = result.RedeemedAt.Format(time.RFC3339)
		resp["redeemed_by"] = result.RedeemedBy
	}
	if result.ActivatesAt != nil {
		resp["activates_at"] = result.ActivatesAt.Format(time.RFC3339)
	}

	var notYet *domain.NotYetActiveError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, domain.ErrAlreadyRedeemed),
		errors.Is(err, domain.ErrTicketCancelled):
		writeJSON(w, http.StatusConflict, resp)
	case errors.As(err, &notYet):
		writeJSON(w, http.StatusConflict, resp)
	case errors.Is(err, domain.ErrInvalidCredential):
		writeJSON(w, http.StatusNotFound, resp)
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *Handlers) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		HostID      uuid.UUID `json:"host_id"`
		Name        string    `json:"name"`
		Venue       string    `json:"venue"`
		Description string    `json:"description"`
		StartAt     time.Time `json:"start_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" || req.StartAt.IsZero() {
		writeError(w, http.StatusBadRequest, "name and start_at are required")
		return
	}

	event := domain.Event{
		ID:          uuid.New(),
		HostID:      req.HostID,
		Name:        req.Name,
		StartAt:     req.StartAt.UTC(),
		Status:      domain.EventStatusPublished,
		PayoutState: domain.PayoutStatePending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.store.CreateEvent(r.Context(), event); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if h.catalog != nil {
		doc := mongoadapter.EventDoc{
			ID:          event.ID,
			Name:        req.Name,
			Description: req.Description,
			Venue:       req.Venue,
			StartAt:     event.StartAt,
			CreatedAt:   event.CreatedAt,
		}
		if err := h.catalog.UpsertEvent(r.Context(), doc); err != nil {
			h.logger.Error("failed to upsert catalog doc", err)
		}
	}

	writeJSON(w, http.StatusCreated, map[string]any{"event_id": event.ID})
}

func (h *Handlers) CreateTier(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	var req struct {
		Name      string          `json:"name"`
		UnitPrice decimal.Decimal `json:"unit_price"`
		Capacity  int             `json:"capacity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" || req.Capacity <= 0 {
		writeError(w, http.StatusBadRequest, "name and positive capacity are required")
		return
	}

	err = h.store.CreateTier(r.Context(), domain.Tier{
		EventID:   eventID,
		Name:      req.Name,
		UnitPrice: req.UnitPrice,
		Capacity:  req.Capacity,
	})
	if errors.Is(err, domain.ErrConflict) {
		writeError(w, http.StatusConflict, "tier already exists")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"event_id": eventID, "tier": req.Name})
}

// CompleteEvent marks the event finished and enqueues the payout task. The
// task's dedupe key and the event-level CAS keep repeated calls harmless.
func (h *Handlers) CompleteEvent(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	if _, err := h.store.GetEvent(r.Context(), eventID); errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "event not found")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if _, err := h.store.CompleteEvent(r.Context(), eventID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	err = h.scheduler.ScheduleAt(r.Context(), domain.TaskKindPayoutAggregate,
		scheduler.EventIDPayload{EventID: eventID},
		domain.TaskKindPayoutAggregate+":"+eventID.String(), time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"event_id": eventID, "status": domain.EventStatusCompleted})
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}
