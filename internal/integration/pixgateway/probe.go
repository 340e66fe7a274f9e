package pixgateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ghostzx3/telegrupos-payments/internal/domain"
	"github.com/ghostzx3/telegrupos-payments/internal/logger"
	"github.com/ghostzx3/telegrupos-payments/internal/metrics"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeSkip
	outcomeFatal
)

func (o outcome) String() string {
	switch o {
	case outcomeSuccess:
		return "success"
	case outcomeSkip:
		return "skip"
	default:
		return "fatal"
	}
}

// decision is the verdict on a single candidate endpoint.
type decision struct {
	outcome outcome
	err     error
}

// classify decides what one candidate's answer means for the whole probe.
// Auth and malformed-request failures stop probing because no other path can
// fix them; missing routes, server errors and transport failures move on.
func classify(status int, body []byte, transportErr error) decision {
	if transportErr != nil {
		return decision{outcomeSkip, fmt.Errorf("transport failure: %w", transportErr)}
	}
	switch {
	case status >= 200 && status < 300:
		return decision{outcome: outcomeSuccess}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return decision{outcomeFatal, domain.NewAuthError("payment provider rejected credentials", fmt.Errorf("status %d", status))}
	case status == http.StatusBadRequest:
		return decision{outcomeFatal, domain.NewValidationError("payment provider rejected the request: "+providerMessage(body), nil)}
	case status == http.StatusNotFound || status == http.StatusMethodNotAllowed:
		return decision{outcomeSkip, fmt.Errorf("candidate route not found (status %d)", status)}
	default:
		return decision{outcomeSkip, fmt.Errorf("candidate returned status %d", status)}
	}
}

type sendFunc func(ctx context.Context, path string) (*resty.Response, error)

// acceptFunc turns a 2xx body into a result; an error demotes the candidate to a skip.
type acceptFunc func(body []byte) error

// probe tries paths strictly in order, one at a time, each bounded by its own timeout.
func (c *Client) probe(ctx context.Context, operation string, paths []string, send sendFunc, accept acceptFunc) error {
	var last error
	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			return domain.NewUnavailableError("payment provider unavailable", err)
		}

		start := time.Now()
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		resp, err := send(attemptCtx, path)
		cancel()

		var status int
		var body []byte
		if resp != nil && err == nil {
			status = resp.StatusCode()
			body = resp.Body()
		}

		d := classify(status, body, err)
		if d.outcome == outcomeSuccess {
			if aerr := accept(body); aerr != nil {
				d = decision{outcomeSkip, aerr}
			}
		}
		metrics.ObserveProbe(operation, d.outcome.String(), time.Since(start))

		switch d.outcome {
		case outcomeSuccess:
			logger.Debug("payment provider candidate accepted",
				zap.String("operation", operation),
				zap.Int("candidate", i),
				zap.Int("status", status),
			)
			return nil
		case outcomeFatal:
			logger.Warn("payment provider probe stopped",
				zap.String("operation", operation),
				zap.Int("candidate", i),
				zap.Int("status", status),
				zap.Error(d.err),
			)
			return d.err
		}

		logger.Debug("payment provider candidate skipped",
			zap.String("operation", operation),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Error(d.err),
		)
		last = d.err
	}
	return domain.NewUnavailableError("payment provider unavailable", last)
}
