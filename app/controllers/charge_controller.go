package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gestaobancar/pixapi/internal/pkg/gateway"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

const statusCacheTTL = 15 * time.Second

// GatewayClient is the slice of the payment gateway the charge endpoints use.
type GatewayClient interface {
	CreateCharge(ctx context.Context, in gateway.ChargeInput) (*gateway.ChargeResult, error)
	FetchPayment(ctx context.Context, paymentID string) (*gateway.PaymentRecord, error)
}

// StatusCache holds short-lived payment snapshots so UI polling does not
// hammer the gateway.
type StatusCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

type ChargeController struct {
	gateway  GatewayClient
	cache    StatusCache
	validate *validator.Validate
}

func NewChargeController(gw GatewayClient, cache StatusCache) *ChargeController {
	return &ChargeController{
		gateway:  gw,
		cache:    cache,
		validate: validator.New(),
	}
}

type createChargeRequest struct {
	FaturaID          string  `json:"faturaId" validate:"required"`
	Descricao         string  `json:"descricao"`
	Valor             float64 `json:"valor" validate:"required,gt=0"`
	VencimentoISO     string  `json:"vencimentoISO"`
	IdempotencyKey    string  `json:"idempotencyKey"`
	ExternalReference string  `json:"externalReference"`
	PayerName         string  `json:"payerName"`
	PayerCpf          string  `json:"payerCpf"`
	PayerEmail        string  `json:"payerEmail" validate:"required,email"`
}

// HandleCreateCharge creates a PIX charge for an invoice and returns the QR
// code material the frontend renders.
func (cc *ChargeController) HandleCreateCharge(c *fiber.Ctx) error {
	var req createChargeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ok": false, "msg": "faturaId e valor numérico são obrigatórios"})
	}
	if err := cc.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ok": false, "msg": "faturaId, valor positivo e payerEmail válido são obrigatórios"})
	}

	var dueAt *time.Time
	if req.VencimentoISO != "" {
		t, err := time.Parse(time.RFC3339, req.VencimentoISO)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ok": false, "msg": "vencimentoISO inválido"})
		}
		dueAt = &t
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	result, err := cc.gateway.CreateCharge(ctx, gateway.ChargeInput{
		InvoiceID:      req.FaturaID,
		Description:    req.Descricao,
		Amount:         req.Valor,
		DueAt:          dueAt,
		IdempotencyKey: req.IdempotencyKey,
		PayerName:      req.PayerName,
		PayerTaxID:     req.PayerCpf,
		PayerEmail:     req.PayerEmail,
		CorrelationRef: req.ExternalReference,
	})
	if err != nil {
		return chargeErrorResponse(c, err)
	}

	return c.JSON(fiber.Map{
		"ok":            true,
		"faturaId":      req.FaturaID,
		"paymentId":     result.PaymentID,
		"status":        result.Status,
		"qr_copia_cola": result.QRText,
		"qr_base64":     result.QRImageBase64,
	})
}

// HandlePaymentStatus returns the current gateway status for a payment id,
// with a short cache in front of the gateway.
func (cc *ChargeController) HandlePaymentStatus(c *fiber.Ctx) error {
	paymentID := c.Params("paymentId")
	if paymentID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ok": false, "msg": "paymentId é obrigatório"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	cacheKey := "mp:payment:" + paymentID
	if cc.cache != nil {
		if cached, err := cc.cache.Get(ctx, cacheKey); err == nil && cached != "" {
			var record gateway.PaymentRecord
			if err := json.Unmarshal([]byte(cached), &record); err == nil {
				return c.JSON(fiber.Map{
					"ok":     true,
					"status": record.Status,
					"detail": record.StatusDetail,
					"data":   json.RawMessage(cached),
				})
			}
		}
	}

	record, err := cc.gateway.FetchPayment(ctx, paymentID)
	if err != nil {
		return chargeErrorResponse(c, err)
	}
	if cc.cache != nil {
		// Best effort: a cold cache just means one more gateway round trip.
		_ = cc.cache.Set(ctx, cacheKey, string(record.Raw), statusCacheTTL)
	}

	return c.JSON(fiber.Map{
		"ok":     true,
		"status": record.Status,
		"detail": record.StatusDetail,
		"data":   json.RawMessage(record.Raw),
	})
}

func chargeErrorResponse(c *fiber.Ctx, err error) error {
	var rejected *gateway.RejectedError
	switch {
	case errors.As(err, &rejected):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ok": false, "msg": rejected.Error()})
	case errors.Is(err, gateway.ErrNotConfigured):
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"ok": false, "msg": err.Error()})
	case errors.Is(err, gateway.ErrUnavailable):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"ok": false, "msg": err.Error()})
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ok": false, "msg": err.Error()})
	}
}
