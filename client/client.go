package client

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/giro-sync/metrics"
	"github.com/saiset-co/giro-sync/types"
	"github.com/saiset-co/giro-sync/utils"
)

type State int32

const (
	StateRunning State = iota
	StateStopped
)

// Envelope is the response shape every backend endpoint uses.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *EnvelopeError  `json:"error,omitempty"`
}

type EnvelopeError struct {
	Message string      `json:"message" validate:"required"`
	Code    string      `json:"code,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

type Option func(*HTTPClient)

// WithDial replaces the transport dialer, e.g. with an in-memory listener.
func WithDial(dial fasthttp.DialFunc) Option {
	return func(c *HTTPClient) {
		c.client.Dial = dial
	}
}

func WithMetrics(metrics types.MetricsManager) Option {
	return func(c *HTTPClient) {
		c.metrics = metrics
	}
}

// HTTPClient is the fetch client: it performs REST calls against the
// backend, decodes the response envelope and classifies failures.
type HTTPClient struct {
	logger         types.Logger
	metrics        types.MetricsManager
	client         *fasthttp.Client
	config         types.BackendConfig
	baseURL        string
	circuitBreaker *CircuitBreaker
	validator      *validator.Validate
	state          atomic.Value
	stopCh         chan struct{}
}

func NewHTTPClient(logger types.Logger, config *types.BackendConfig, opts ...Option) (*HTTPClient, error) {
	if config == nil || config.BaseURL == "" {
		return nil, types.Errorf(types.ErrConfigInvalidPath, "backend.base_url is required")
	}

	c := &HTTPClient{
		logger:  logger,
		config:  *config,
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		client: &fasthttp.Client{
			ReadTimeout:  config.Timeout,
			WriteTimeout: config.Timeout,
		},
		circuitBreaker: NewCircuitBreaker(config.CircuitBreaker, logger),
		validator:      validator.New(validator.WithRequiredStructEnabled()),
		stopCh:         make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = metrics.NewNoop()
	}

	c.state.Store(StateRunning)

	return c, nil
}

func (c *HTTPClient) Start() error {
	return nil
}

func (c *HTTPClient) Stop() error {
	if !c.state.CompareAndSwap(StateRunning, StateStopped) {
		return types.ErrServerNotRunning
	}

	close(c.stopCh)
	c.client.CloseIdleConnections()

	c.logger.Debug("HTTP client closed", zap.String("base_url", c.baseURL))
	return nil
}

func (c *HTTPClient) IsRunning() bool {
	return c.state.Load().(State) == StateRunning
}

func (c *HTTPClient) CircuitBreaker() *CircuitBreaker {
	return c.circuitBreaker
}

func (c *HTTPClient) Get(ctx context.Context, path string, query map[string]string, out interface{}) error {
	return c.Do(ctx, &types.Request{Method: fasthttp.MethodGet, Path: path, Query: query}, out)
}

func (c *HTTPClient) Post(ctx context.Context, path string, body, out interface{}) error {
	return c.Do(ctx, &types.Request{Method: fasthttp.MethodPost, Path: path, Body: body}, out)
}

func (c *HTTPClient) Put(ctx context.Context, path string, body, out interface{}) error {
	return c.Do(ctx, &types.Request{Method: fasthttp.MethodPut, Path: path, Body: body}, out)
}

func (c *HTTPClient) Delete(ctx context.Context, path string, out interface{}) error {
	return c.Do(ctx, &types.Request{Method: fasthttp.MethodDelete, Path: path}, out)
}

// Do performs the request with retries. Any failure is a *types.RequestError.
func (c *HTTPClient) Do(ctx context.Context, r *types.Request, out interface{}) error {
	if !c.IsRunning() {
		return &types.RequestError{Kind: types.KindNetwork, Err: types.ErrClientStopped}
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	if err := c.buildRequest(req, r); err != nil {
		return err
	}

	startTime := time.Now()
	err := c.executeWithRetries(ctx, req, resp, r, out)

	result := "success"
	var reqErr *types.RequestError
	if err != nil {
		result = "error"
		if e, ok := err.(*types.RequestError); ok {
			reqErr = e
			result = e.Kind.String()
		}
	}

	c.metrics.Counter("client_requests_total", map[string]string{
		"method": r.Method,
		"result": result,
	}).Inc()
	c.metrics.Histogram("client_request_duration_seconds",
		[]float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		map[string]string{"method": r.Method},
	).ObserveSince(startTime)

	if reqErr != nil {
		c.logger.Debug("Backend request failed",
			zap.String("method", r.Method),
			zap.String("path", r.Path),
			zap.String("kind", reqErr.Kind.String()),
			zap.Int("status", reqErr.Status),
			zap.Error(reqErr))
		return reqErr
	}

	return err
}

func (c *HTTPClient) buildRequest(req *fasthttp.Request, r *types.Request) error {
	method := r.Method
	if method == "" {
		method = fasthttp.MethodGet
	}

	req.SetRequestURI(c.baseURL + "/" + strings.TrimLeft(r.Path, "/"))
	req.Header.SetMethod(method)
	req.Header.Set(fasthttp.HeaderAccept, "application/json")

	for key, value := range r.Query {
		if value != "" {
			req.URI().QueryArgs().Add(key, value)
		}
	}

	for key, value := range c.config.Headers {
		req.Header.Set(key, value)
	}
	for key, value := range r.Headers {
		req.Header.Set(key, value)
	}

	if r.Body != nil {
		body, err := utils.Marshal(r.Body)
		if err != nil {
			return &types.RequestError{Kind: types.KindClient, Message: "failed to encode request body", Err: err}
		}
		req.SetBody(body)
		req.Header.SetContentType("application/json")
	}

	return nil
}

func (c *HTTPClient) executeWithRetries(ctx context.Context, req *fasthttp.Request, resp *fasthttp.Response, r *types.Request, out interface{}) error {
	var lastErr *types.RequestError

	retries := c.config.Retries
	if !isReadMethod(r.Method) {
		retries = 0
	}

	for attempt := 0; attempt <= retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return &types.RequestError{Kind: types.KindNetwork, Err: err}
		}

		if !c.circuitBreaker.CanExecute() {
			return &types.RequestError{Kind: types.KindNetwork, Err: types.ErrCircuitBreakerOpen}
		}

		resp.Reset()
		err := c.client.DoDeadline(req, resp, c.deadline(ctx))
		lastErr = c.handleResponse(resp, err, out)

		if isBreakerFailure(lastErr) {
			c.circuitBreaker.RecordFailure()
		} else {
			c.circuitBreaker.RecordSuccess()
		}

		if lastErr == nil {
			return nil
		}

		if !lastErr.IsRetryable() {
			return lastErr
		}

		if attempt < retries {
			backoff := c.backoff(attempt)

			c.logger.Debug("Retrying request",
				zap.String("method", r.Method),
				zap.String("path", r.Path),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr))

			timer := time.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return &types.RequestError{Kind: types.KindNetwork, Err: ctx.Err()}
			case <-c.stopCh:
				timer.Stop()
				return &types.RequestError{Kind: types.KindNetwork, Err: types.ErrClientStopped}
			}
		}
	}

	return lastErr
}

// isReadMethod reports whether a failed request may be sent again. Writes
// are sent once: a 5xx can arrive after the backend committed them.
func isReadMethod(method string) bool {
	switch method {
	case "", fasthttp.MethodGet, fasthttp.MethodHead:
		return true
	default:
		return false
	}
}

func (c *HTTPClient) deadline(ctx context.Context) time.Time {
	timeout := c.config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	return deadline
}

// backoff doubles InitialBackoff per attempt and caps it at MaxBackoff.
func (c *HTTPClient) backoff(attempt int) time.Duration {
	backoff := c.config.InitialBackoff
	if backoff <= 0 {
		return 0
	}

	for i := 0; i < attempt; i++ {
		backoff *= 2
		if c.config.MaxBackoff > 0 && backoff >= c.config.MaxBackoff {
			return c.config.MaxBackoff
		}
	}

	if c.config.MaxBackoff > 0 && backoff > c.config.MaxBackoff {
		return c.config.MaxBackoff
	}
	return backoff
}

func (c *HTTPClient) handleResponse(resp *fasthttp.Response, err error, out interface{}) *types.RequestError {
	if err != nil {
		return &types.RequestError{Kind: types.KindNetwork, Err: classifyTransportError(err)}
	}

	status := resp.StatusCode()
	envelope, decodeErr := c.decodeEnvelope(resp.Body())

	if status >= 200 && status < 300 {
		if decodeErr != nil {
			return &types.RequestError{Kind: types.KindServer, Status: status, Message: "malformed response", Err: decodeErr}
		}

		if !envelope.Success {
			if envelope.Error == nil {
				return &types.RequestError{Kind: types.KindServer, Status: status, Message: "malformed response", Err: types.ErrEnvelopeInvalid}
			}
			return envelopeError(types.KindClient, status, envelope.Error)
		}

		if out == nil || len(envelope.Data) == 0 || string(envelope.Data) == "null" {
			return nil
		}
		if err = sonic.ConfigDefault.Unmarshal(envelope.Data, out); err != nil {
			return &types.RequestError{
				Kind:    types.KindServer,
				Status:  status,
				Message: "malformed response data",
				Err:     types.Errorf(types.ErrEnvelopeInvalid, "%v", err),
			}
		}
		return nil
	}

	kind := types.KindServer
	switch {
	case status == fasthttp.StatusTooManyRequests:
		kind = types.KindRateLimited
	case status == fasthttp.StatusRequestTimeout:
		kind = types.KindNetwork
	case status >= 400 && status < 500:
		kind = types.KindClient
	}

	if decodeErr == nil && envelope.Error != nil {
		return envelopeError(kind, status, envelope.Error)
	}

	return &types.RequestError{Kind: kind, Status: status, Message: fasthttp.StatusMessage(status)}
}

func (c *HTTPClient) decodeEnvelope(body []byte) (*Envelope, error) {
	if len(body) == 0 {
		return nil, types.Errorf(types.ErrEnvelopeInvalid, "empty body")
	}

	envelope := &Envelope{}
	if err := utils.Unmarshal(body, envelope); err != nil {
		return nil, types.Errorf(types.ErrEnvelopeInvalid, "%v", err)
	}

	if envelope.Error != nil {
		if err := c.validator.Struct(envelope.Error); err != nil {
			return nil, types.Errorf(types.ErrEnvelopeInvalid, "error body: %v", err)
		}
	}

	return envelope, nil
}

func envelopeError(kind types.ErrorKind, status int, e *EnvelopeError) *types.RequestError {
	return &types.RequestError{
		Kind:    kind,
		Status:  status,
		Message: e.Message,
		Code:    e.Code,
		Details: e.Details,
	}
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.Is(err, fasthttp.ErrTimeout) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return types.WrapError(err, "request timeout")
	}
	return err
}
