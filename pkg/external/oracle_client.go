package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/morbidity-triage-server/internal/domain"
)

// RequestObserver is notified after every oracle round trip.
type RequestObserver func(op string, statusCode int, duration time.Duration, err error)

// OracleClient talks to the classification oracle over HTTP. Lookups and
// predictions sit behind separate circuit breakers so an outage of the
// department list does not block classification.
type OracleClient struct {
	http        *resty.Client
	limiter     *rate.Limiter
	lookups     *gobreaker.CircuitBreaker
	predictions *gobreaker.CircuitBreaker
	logger      *logrus.Logger
	observer    RequestObserver
}

// OracleOption customizes an OracleClient.
type OracleOption func(*OracleClient)

// WithObserver installs a callback invoked after each request.
func WithObserver(o RequestObserver) OracleOption {
	return func(c *OracleClient) { c.observer = o }
}

// NewOracleClient creates a client for cfg.BaseURL. Lookups (GET) are
// attempted cfg.RetryCount times, waiting RetryDelay*n before the n-th
// retry; each attempt runs under cfg.Timeout. Predictions are sent once.
func NewOracleClient(cfg domain.OracleConfig, logger *logrus.Logger, opts ...OracleOption) *OracleClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 20
	}
	if cfg.RetryCount < 1 {
		cfg.RetryCount = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}

	c := &OracleClient{
		http: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(cfg.Timeout).
			SetLogger(logger).
			SetHeader("Accept", "application/json").
			SetRetryCount(cfg.RetryCount-1).
			SetRetryWaitTime(cfg.RetryDelay).
			SetRetryMaxWaitTime(cfg.RetryDelay*time.Duration(cfg.RetryCount)).
			SetRetryAfter(linearBackoff(cfg.RetryDelay)).
			AddRetryCondition(retryableLookup),
		limiter:     rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit),
		lookups:     newCircuitBreaker("oracle-lookups", CircuitBreakerConfig{}, logger),
		predictions: newCircuitBreaker("oracle-predictions", CircuitBreakerConfig{}, logger),
		logger:      logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// linearBackoff waits delay after the first failed attempt, 2*delay after
// the second and so on.
func linearBackoff(delay time.Duration) resty.RetryAfterFunc {
	return func(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
		if resp == nil || resp.Request == nil || resp.Request.Attempt < 1 {
			return delay, nil
		}
		return delay * time.Duration(resp.Request.Attempt), nil
	}
}

// retryableLookup retries GET requests that failed in transport or with a
// 5xx status. Cancellation is final.
func retryableLookup(resp *resty.Response, err error) bool {
	if resp == nil || resp.Request == nil || resp.Request.Method != http.MethodGet {
		return false
	}
	if err != nil {
		return !errors.Is(err, context.Canceled)
	}
	return resp.StatusCode() >= http.StatusInternalServerError
}

// Departamentos fetches GET /api/departamentos.
func (c *OracleClient) Departamentos(ctx context.Context) ([]domain.Region, error) {
	return c.areas(ctx, "departamentos", "/api/departamentos")
}

// Municipios fetches GET /api/municipios/{id}.
func (c *OracleClient) Municipios(ctx context.Context, departamentoID string) ([]domain.Region, error) {
	return c.areas(ctx, "municipios", "/api/municipios/"+url.PathEscape(departamentoID))
}

// Predict posts the first-stage payload to /api/predict.
func (c *OracleClient) Predict(ctx context.Context, payload domain.RequestPayload) ([]byte, error) {
	return c.do(ctx, c.predictions, "predict", http.MethodPost, "/api/predict", payload)
}

// PredictCausas posts the second-stage payload to /api/predict_causas.
func (c *OracleClient) PredictCausas(ctx context.Context, payload domain.CauseRequestPayload) ([]byte, error) {
	return c.do(ctx, c.predictions, "predict_causas", http.MethodPost, "/api/predict_causas", payload)
}

func (c *OracleClient) areas(ctx context.Context, op, path string) ([]domain.Region, error) {
	body, err := c.do(ctx, c.lookups, op, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var resp AreaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &domain.DataShapeError{Op: op, Reason: err.Error()}
	}
	if !resp.Success {
		reason := "success=false"
		if resp.Error != "" {
			reason = resp.Error
		}
		return nil, &domain.DataShapeError{Op: op, Reason: reason}
	}
	if resp.Data == nil {
		return nil, &domain.DataShapeError{Op: op, Reason: "missing data"}
	}
	return resp.Regions(), nil
}

func (c *OracleClient) do(ctx context.Context, breaker *gobreaker.CircuitBreaker, op, method, path string, body interface{}) ([]byte, error) {
	start := time.Now()
	status := 0

	if err := c.limiter.Wait(ctx); err != nil {
		err = &domain.NetworkError{Op: op, Err: fmt.Errorf("rate limiter: %w", err)}
		c.observe(op, status, start, err)
		return nil, err
	}

	result, err := breaker.Execute(func() (interface{}, error) {
		req := c.http.R().SetContext(ctx)
		if body != nil {
			req.SetHeader("Content-Type", "application/json").SetBody(body)
		}
		resp, err := req.Execute(method, path)
		if resp != nil {
			status = resp.StatusCode()
		}
		if err != nil {
			return nil, &domain.NetworkError{Op: op, Err: err}
		}
		if !resp.IsSuccess() {
			return nil, &domain.NetworkError{Op: op, StatusCode: status}
		}
		return resp.Body(), nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = &domain.NetworkError{Op: op, Err: err}
		}
		c.logger.WithFields(logrus.Fields{
			"op":          op,
			"status_code": status,
			"error":       err.Error(),
		}).Warn("Oracle request failed")
		c.observe(op, status, start, err)
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"op":          op,
		"status_code": status,
		"duration":    time.Since(start).String(),
	}).Debug("Oracle request completed")
	c.observe(op, status, start, nil)
	return result.([]byte), nil
}

func (c *OracleClient) observe(op string, status int, start time.Time, err error) {
	if c.observer != nil {
		c.observer(op, status, time.Since(start), err)
	}
}
