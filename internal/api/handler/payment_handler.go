package handler

import (
	"context"
	"net/http"

	"github.com/ghostzx3/telegrupos-payments/internal/api/middleware"
	"github.com/ghostzx3/telegrupos-payments/internal/domain"
	"github.com/ghostzx3/telegrupos-payments/internal/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type PaymentService interface {
	CreatePayment(ctx context.Context, userID string, req domain.CreatePaymentRequest) (*domain.CreatePaymentResponse, error)
}

type StatusReader interface {
	GetStatus(ctx context.Context, userID, paymentID string) (*domain.StatusView, error)
}

type PaymentHandler struct {
	service PaymentService
	reader  StatusReader
}

func NewPaymentHandler(service PaymentService, reader StatusReader) *PaymentHandler {
	return &PaymentHandler{
		service: service,
		reader:  reader,
	}
}

// CreatePayment godoc
// @Summary      Create a PIX payment
// @Description  Prices the plan and opens a PIX charge for a group entitlement
// @Tags         payments
// @Accept       json
// @Produce      json
// @Param        request  body      domain.CreatePaymentRequest  true  "Plan purchase"
// @Success      201      {object}  domain.CreatePaymentResponse
// @Failure      400      {object}  map[string]string
// @Failure      401      {object}  map[string]string
// @Failure      500      {object}  map[string]string
// @Router       /payments [post]
func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	var req domain.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.service.CreatePayment(c.Request.Context(), middleware.UserID(c), req)
	if err != nil {
		writeError(c, "failed to create payment", err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// GetStatus godoc
// @Summary      Poll a payment
// @Description  Returns the stored status; expired is derived from expiresAt at read time
// @Tags         payments
// @Produce      json
// @Param        id   path      string  true  "Payment id"
// @Success      200  {object}  domain.StatusView
// @Failure      404  {object}  map[string]string
// @Router       /payments/{id}/status [get]
func (h *PaymentHandler) GetStatus(c *gin.Context) {
	view, err := h.reader.GetStatus(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		writeError(c, "failed to read payment status", err)
		return
	}

	c.JSON(http.StatusOK, view)
}

// writeError maps the error kind to a status. Only the typed message reaches
// the caller; causes stay in the logs.
func writeError(c *gin.Context, summary string, err error) {
	_ = c.Error(err)
	switch domain.KindOf(err) {
	case domain.KindValidation:
		c.JSON(http.StatusBadRequest, gin.H{"error": summary, "details": domain.PublicMessage(err)})
	case domain.KindNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": domain.PublicMessage(err)})
	case domain.KindConflict:
		c.JSON(http.StatusConflict, gin.H{"error": summary, "details": domain.PublicMessage(err)})
	default:
		logger.Error(summary, zap.Error(err), zap.String("kind", string(domain.KindOf(err))))
		c.JSON(http.StatusInternalServerError, gin.H{"error": summary, "details": domain.PublicMessage(err)})
	}
}
