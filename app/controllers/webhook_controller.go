package controllers

import (
	"context"
	"encoding/json"
	"log"
	"net/url"
	"time"

	"github.com/gestaobancar/pixapi/internal/pkg/reconcile"
	"github.com/gofiber/fiber/v2"
)

// NotificationProcessor is the reconciliation engine surface the webhook
// boundary needs.
type NotificationProcessor interface {
	ProcessNotification(ctx context.Context, n reconcile.Notification, rawPayload []byte) (reconcile.Outcome, error)
	ProcessPixResult(ctx context.Context, txID, status string, rawPayload []byte) (reconcile.Outcome, error)
}

type WebhookController struct {
	engine NotificationProcessor
}

func NewWebhookController(engine NotificationProcessor) *WebhookController {
	return &WebhookController{engine: engine}
}

// HandleMercadoPagoWebhook receives gateway payment notifications. The
// contract with the gateway: a 200 stops redelivery, anything else invites a
// retry. So non-actionable and unreconcilable events are acknowledged with
// 200, and only retryable internal faults surface as 503.
func (wc *WebhookController) HandleMercadoPagoWebhook(c *fiber.Ctx) error {
	body := append([]byte(nil), c.Body()...)

	query := url.Values{}
	for k, v := range c.Queries() {
		query.Set(k, v)
	}

	n, ok := reconcile.ParseNotification(body, query)
	if !ok {
		return c.JSON(fiber.Map{"ok": true, "ignored": true})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()

	outcome, err := wc.engine.ProcessNotification(ctx, n, body)
	if err != nil {
		log.Printf("[webhook] reconciliation failed for payment %s: %v", n.PaymentID, err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"ok": false})
	}
	return c.JSON(outcomeResponse(outcome))
}

type pixWebhookRequest struct {
	TxID   string `json:"txid"`
	Status string `json:"status"`
}

// HandlePixWebhook receives the legacy PIX callback that identifies the
// invoice by txid.
func (wc *WebhookController) HandlePixWebhook(c *fiber.Ctx) error {
	body := append([]byte(nil), c.Body()...)

	var req pixWebhookRequest
	if err := json.Unmarshal(body, &req); err != nil || req.TxID == "" {
		return c.JSON(fiber.Map{"ok": true, "ignored": true})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()

	outcome, err := wc.engine.ProcessPixResult(ctx, req.TxID, req.Status, body)
	if err != nil {
		log.Printf("[webhook] pix reconciliation failed for txid %s: %v", req.TxID, err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"ok": false})
	}
	return c.JSON(outcomeResponse(outcome))
}

func outcomeResponse(outcome reconcile.Outcome) fiber.Map {
	resp := fiber.Map{"ok": true}
	switch outcome {
	case reconcile.OutcomeDuplicate:
		resp["duplicate"] = true
	case reconcile.OutcomeIgnored, reconcile.OutcomeUnreconcilable, reconcile.OutcomeMirrored:
		resp["ignored"] = true
	}
	return resp
}
