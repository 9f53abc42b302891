package remote

import (
	"context"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-player-cache/types"
	"github.com/saiset-co/sai-player-cache/utils"
)

// HTTPSource fetches the full player directory from the upstream service.
// One GET, the whole record set as a JSON array; no pagination, no deltas.
type HTTPSource struct {
	logger  types.Logger
	config  *types.RemoteConfig
	client  *fasthttp.Client
	breaker *CircuitBreaker
	url     string
}

func NewHTTPSource(logger types.Logger, config *types.RemoteConfig) (*HTTPSource, error) {
	if config == nil || config.BaseURL == "" {
		return nil, types.Errorf(types.ErrRemoteFetchFailed, "base_url is required")
	}

	timeout := config.Timeout.Std()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &HTTPSource{
		logger: logger,
		config: config,
		client: &fasthttp.Client{
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		},
		breaker: NewCircuitBreaker(config.CircuitBreaker, logger),
		url:     config.BaseURL + config.Path,
	}, nil
}

// FetchAll returns the complete current record set, or an error. A
// cancelled context aborts between attempts and the caller never sees a
// partial result, so no tier is ever populated from an aborted fetch.
func (h *HTTPSource) FetchAll(ctx context.Context) ([]types.Record, error) {
	if !h.breaker.CanExecute() {
		return nil, types.ErrCircuitBreakerOpen
	}

	attempts := h.config.Retries + 1
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if attempt > 0 {
			backoff := time.Duration(attempt) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		records, err := h.fetchOnce()
		if err == nil {
			h.breaker.RecordSuccess()
			h.logger.Debug("Remote fetch completed",
				zap.Int("records", len(records)),
				zap.Int("attempt", attempt+1))
			return records, nil
		}

		lastErr = err
		h.logger.Warn("Remote fetch attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	h.breaker.RecordFailure()
	return nil, lastErr
}

func (h *HTTPSource) fetchOnce() ([]types.Record, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(h.url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")

	timeout := h.config.Timeout.Std()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	if err := h.client.DoTimeout(req, resp, timeout); err != nil {
		return nil, types.WrapError(types.ErrRemoteFetchFailed, err.Error())
	}

	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, types.Errorf(types.ErrRemoteFetchFailed, "status: %d", resp.StatusCode())
	}

	var records []types.Record
	if err := utils.Unmarshal(resp.Body(), &records); err != nil {
		return nil, types.WrapError(types.ErrRemoteResponseInvalid, err.Error())
	}

	return records, nil
}

// BreakerHealthChecker reports the breaker state for the health endpoint.
func (h *HTTPSource) BreakerHealthChecker() types.HealthChecker {
	return func(ctx context.Context) types.HealthCheck {
		check := types.HealthCheck{
			Name:      "remote_source",
			LastCheck: time.Now(),
		}

		switch h.breaker.State() {
		case StateBreakerOpen:
			check.Status = types.StatusUnhealthy
			check.Message = "circuit breaker open"
		case StateBreakerHalfOpen:
			check.Status = types.StatusUnknown
			check.Message = "circuit breaker half-open"
		default:
			check.Status = types.StatusHealthy
		}

		return check
	}
}
