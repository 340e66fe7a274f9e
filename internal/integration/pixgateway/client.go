package pixgateway

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/ghostzx3/telegrupos-payments/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultExpiresInSeconds = 3600
	defaultTimeout          = 10 * time.Second

	opCreateCharge = "create_charge"
	opGetStatus    = "get_status"
)

var tracer = otel.Tracer("github.com/ghostzx3/telegrupos-payments/internal/integration/pixgateway")

type Config struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	CreatePaths []string
	// StatusPaths contain an {id} placeholder for the provider charge id.
	StatusPaths []string
}

// Client talks to the PIX provider. It holds no mutable state and is safe for concurrent use.
type Client struct {
	httpClient  *resty.Client
	timeout     time.Duration
	createPaths []string
	statusPaths []string
	validate    *validator.Validate
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetAuthToken(cfg.APIKey).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)

	return &Client{
		httpClient:  httpClient,
		timeout:     timeout,
		createPaths: append([]string(nil), cfg.CreatePaths...),
		statusPaths: append([]string(nil), cfg.StatusPaths...),
		validate:    validator.New(),
	}
}

type chargeBody struct {
	Value             int64     `json:"value"`
	Description       string    `json:"description"`
	ExpiresIn         int       `json:"expires_in"`
	WebhookURL        string    `json:"webhook_url,omitempty"`
	ExternalReference string    `json:"external_reference,omitempty"`
	Payer             payerBody `json:"payer"`
}

type payerBody struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// CreateCharge validates locally, then probes the create candidates in order.
func (c *Client) CreateCharge(ctx context.Context, req domain.ChargeRequest) (*domain.Charge, error) {
	ctx, span := tracer.Start(ctx, "pixgateway.CreateCharge")
	defer span.End()

	if req.ExpiresInSeconds == 0 {
		req.ExpiresInSeconds = defaultExpiresInSeconds
	}
	if err := c.validate.Struct(req); err != nil {
		span.SetStatus(codes.Error, "invalid charge request")
		return nil, domain.NewValidationError("invalid charge request", err)
	}

	body := chargeBody{
		Value:             req.Amount,
		Description:       req.Description,
		ExpiresIn:         req.ExpiresInSeconds,
		WebhookURL:        req.CallbackURL,
		ExternalReference: req.ExternalReference,
		Payer:             payerBody{Name: req.PayerName, Email: req.PayerEmail},
	}
	// One key for every candidate so a provider that saw an earlier attempt can dedupe.
	idempotencyKey := uuid.NewString()

	var charge *domain.Charge
	err := c.probe(ctx, opCreateCharge, c.createPaths,
		func(ctx context.Context, path string) (*resty.Response, error) {
			return c.httpClient.R().
				SetContext(ctx).
				SetHeader("X-Idempotency-Key", idempotencyKey).
				SetBody(body).
				Post(path)
		},
		func(raw []byte) error {
			normalized, err := normalizeCharge(raw)
			if err != nil {
				return err
			}
			charge = normalized
			return nil
		},
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(domain.KindOf(err)))
		return nil, err
	}
	span.SetAttributes(attribute.String("pix.external_id", charge.ExternalID))
	return charge, nil
}

// GetStatus is read-only; persisting what it returns is up to the caller.
func (c *Client) GetStatus(ctx context.Context, externalID string) (*domain.ChargeStatus, error) {
	ctx, span := tracer.Start(ctx, "pixgateway.GetStatus")
	defer span.End()
	span.SetAttributes(attribute.String("pix.external_id", externalID))

	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, domain.NewValidationError("external id is required", nil)
	}

	paths := make([]string, len(c.statusPaths))
	for i, p := range c.statusPaths {
		paths[i] = strings.ReplaceAll(p, "{id}", url.PathEscape(externalID))
	}

	var status *domain.ChargeStatus
	err := c.probe(ctx, opGetStatus, paths,
		func(ctx context.Context, path string) (*resty.Response, error) {
			return c.httpClient.R().SetContext(ctx).Get(path)
		},
		func(raw []byte) error {
			normalized, err := normalizeStatus(raw, externalID)
			if err != nil {
				return err
			}
			status = normalized
			return nil
		},
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(domain.KindOf(err)))
		return nil, err
	}
	return status, nil
}
