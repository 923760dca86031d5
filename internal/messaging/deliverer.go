package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/splitkaro/billpipe/internal/models"
	"github.com/splitkaro/billpipe/internal/recovery"
	"github.com/splitkaro/billpipe/internal/store"
)

// ErrAllChannelsFailed is returned when neither delivery tier accepted the
// message.
var ErrAllChannelsFailed = errors.New("all delivery channels failed")

// DeliveryResult reports how an outbound message was delivered.
type DeliveryResult struct {
	Success    bool
	MethodUsed models.DeliveryMethod
}

// Deliverer routes outbound messages through WhatsApp first and falls back
// to SMS. Each tier sits behind its own circuit breaker so a failing channel
// is skipped without burning its timeout on every message.
type Deliverer struct {
	primary    Service
	fallback   Service
	primaryCB  *recovery.CircuitBreaker
	fallbackCB *recovery.CircuitBreaker
	store      store.Store
}

// NewDeliverer creates a two tier deliverer. The fallback service and store
// may be nil; delivery then degrades to the primary tier only.
func NewDeliverer(primary, fallback Service, st store.Store) *Deliverer {
	return &Deliverer{
		primary:    primary,
		fallback:   fallback,
		primaryCB:  recovery.NewCircuitBreaker(recovery.DefaultFailureThreshold, recovery.DefaultRecoveryTimeout),
		fallbackCB: recovery.NewCircuitBreaker(recovery.DefaultFailureThreshold, recovery.DefaultRecoveryTimeout),
		store:      st,
	}
}

// Deliver sends body to the recipient, trying WhatsApp then SMS. The
// returned result names the channel that accepted the message.
func (d *Deliverer) Deliver(ctx context.Context, to string, body string) (DeliveryResult, error) {
	slog.Debug("Deliverer Deliver invoked", "to", to, "body_length", len(body))

	primaryErr := d.primaryCB.Do(func() error {
		return d.primary.SendMessage(ctx, to, body)
	})
	if primaryErr == nil {
		d.recordReceipt(to, models.DeliveryMethodWhatsApp, "sent")
		return DeliveryResult{Success: true, MethodUsed: models.DeliveryMethodWhatsApp}, nil
	}
	if errors.Is(primaryErr, recovery.ErrBreakerOpen) {
		slog.Warn("Deliverer primary channel breaker open, skipping to fallback", "to", to)
	} else {
		slog.Warn("Deliverer primary channel failed", "error", primaryErr, "to", to)
	}

	if d.fallback == nil {
		d.recordReceipt(to, models.DeliveryMethodWhatsApp, "failed")
		return DeliveryResult{}, fmt.Errorf("%w: %v", ErrAllChannelsFailed, primaryErr)
	}

	fallbackErr := d.fallbackCB.Do(func() error {
		return d.fallback.SendMessage(ctx, to, body)
	})
	if fallbackErr == nil {
		slog.Info("Deliverer delivered via SMS fallback", "to", to)
		d.recordReceipt(to, models.DeliveryMethodSMS, "sent")
		return DeliveryResult{Success: true, MethodUsed: models.DeliveryMethodSMS}, nil
	}

	slog.Error("Deliverer all channels failed", "to", to, "primary_error", primaryErr, "fallback_error", fallbackErr)
	d.recordReceipt(to, models.DeliveryMethodSMS, "failed")
	return DeliveryResult{}, fmt.Errorf("%w: whatsapp: %v; sms: %v", ErrAllChannelsFailed, primaryErr, fallbackErr)
}

// BreakerStatus reports both channel breakers for health endpoints.
func (d *Deliverer) BreakerStatus() map[string]interface{} {
	return map[string]interface{}{
		"whatsapp": d.primaryCB.Status(),
		"sms":      d.fallbackCB.Status(),
	}
}

func (d *Deliverer) recordReceipt(to string, method models.DeliveryMethod, status string) {
	if d.store == nil {
		return
	}
	receipt := models.Receipt{To: to, Method: method, Status: status, Time: time.Now().Unix()}
	if err := d.store.AddReceipt(receipt); err != nil {
		slog.Warn("Deliverer failed to persist receipt", "error", err, "to", to)
	}
}
