package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ghostzx3/telegrupos-payments/internal/domain"
	"github.com/ghostzx3/telegrupos-payments/internal/integration/pixgateway"
	"github.com/ghostzx3/telegrupos-payments/internal/logger"
	"github.com/ghostzx3/telegrupos-payments/internal/metrics"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	signatureHeader           = "x-signature"
	maxWebhookBody            = 1 << 20
	defaultSignatureTolerance = 5 * time.Minute
)

type WebhookProcessor interface {
	Handle(ctx context.Context, n domain.WebhookNotification) (domain.WebhookResult, error)
}

type WebhookHandler struct {
	processor WebhookProcessor
	secret    string
	tolerance time.Duration
	now       func() time.Time
}

type WebhookOption func(*WebhookHandler)

// WithSignatureTolerance bounds how far a signature's ts may be from now.
func WithSignatureTolerance(d time.Duration) WebhookOption {
	return func(h *WebhookHandler) {
		if d > 0 {
			h.tolerance = d
		}
	}
}

func WithSignatureClock(now func() time.Time) WebhookOption {
	return func(h *WebhookHandler) { h.now = now }
}

// NewWebhookHandler verifies signatures only when secret is non-empty.
func NewWebhookHandler(processor WebhookProcessor, secret string, opts ...WebhookOption) *WebhookHandler {
	h := &WebhookHandler{
		processor: processor,
		secret:    secret,
		tolerance: defaultSignatureTolerance,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleWebhook godoc
// @Summary      Receive a provider notification
// @Description  Applies a paid notification once; duplicates are acknowledged with processed=false
// @Tags         webhooks
// @Accept       json
// @Produce      json
// @Param        X-Signature  header    string  false  "ts=<unix>,v1=<hmac-sha256 hex>"
// @Success      200          {object}  domain.WebhookResult
// @Failure      401          {object}  map[string]string
// @Failure      404          {object}  domain.WebhookResult
// @Failure      500          {object}  map[string]string
// @Router       /payments/webhook [post]
func (h *WebhookHandler) HandleWebhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	notification, err := pixgateway.ParseWebhook(body)
	if err != nil {
		metrics.IncWebhook(metrics.WebhookRejected)
		c.JSON(http.StatusBadRequest, gin.H{"error": domain.PublicMessage(err)})
		return
	}

	if !h.validSignature(c.GetHeader(signatureHeader), notification.TransactionID) {
		logger.Warn("invalid webhook signature detected",
			zap.String("external_id", notification.TransactionID),
			zap.String("signature", logger.Mask(c.GetHeader(signatureHeader))),
		)
		metrics.IncWebhook(metrics.WebhookRejected)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	result, err := h.processor.Handle(c.Request.Context(), notification)
	if err != nil {
		_ = c.Error(err)
		switch domain.KindOf(err) {
		case domain.KindNotFound:
			c.JSON(http.StatusNotFound, gin.H{"received": true, "processed": false, "error": domain.PublicMessage(err)})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process webhook"})
		}
		return
	}

	c.JSON(http.StatusOK, result)
}

// validSignature checks x-signature: ts=<unix>,v1=<hex> against
// HMAC-SHA256(secret, "id:<transactionId>;ts:<ts>;").
func (h *WebhookHandler) validSignature(header, transactionID string) bool {
	if h.secret == "" {
		return true
	}
	if header == "" {
		return false
	}

	var ts, hash string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "ts":
			ts = kv[1]
		case "v1":
			hash = kv[1]
		}
	}

	if ts == "" || hash == "" || !h.fresh(ts) {
		return false
	}

	return hmac.Equal([]byte(hash), []byte(Sign(h.secret, transactionID, ts)))
}

// fresh accepts ts in unix seconds or milliseconds within the tolerance window.
func (h *WebhookHandler) fresh(ts string) bool {
	n, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || n <= 0 {
		return false
	}
	signedAt := time.Unix(n, 0)
	if n > 1e12 {
		signedAt = time.UnixMilli(n)
	}
	age := h.now().Sub(signedAt)
	if age < 0 {
		age = -age
	}
	return age <= h.tolerance
}

// Sign returns the v1 value for a notification; exported for test clients.
func Sign(secret, transactionID, ts string) string {
	manifest := fmt.Sprintf("id:%s;ts:%s;", transactionID, ts)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest))
	return hex.EncodeToString(mac.Sum(nil))
}
