package client

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
	"go.uber.org/zap/zaptest"

	"github.com/saiset-co/giro-sync/logger"
	"github.com/saiset-co/giro-sync/types"
)

type bank struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func newTestClient(t *testing.T, handler fasthttp.RequestHandler, mutate func(*types.BackendConfig)) *HTTPClient {
	t.Helper()

	ln := fasthttputil.NewInmemoryListener()
	server := &fasthttp.Server{Handler: handler}
	go func() { _ = server.Serve(ln) }()
	t.Cleanup(func() { _ = ln.Close() })

	config := &types.BackendConfig{
		BaseURL:        "http://backend.local/api",
		Timeout:        time.Second,
		Retries:        2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     4 * time.Millisecond,
	}
	if mutate != nil {
		mutate(config)
	}

	c, err := NewHTTPClient(logger.NewZapWrapper(zaptest.NewLogger(t)), config,
		WithDial(func(string) (net.Conn, error) { return ln.Dial() }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Stop() })

	return c
}

func respond(ctx *fasthttp.RequestCtx, status int, body string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBodyString(body)
}

func TestHTTPClient_Success(t *testing.T) {
	t.Parallel()

	var gotPath, gotQuery, gotHeader string
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		gotPath = string(ctx.Path())
		gotQuery = string(ctx.QueryArgs().Peek("page"))
		gotHeader = string(ctx.Request.Header.Peek("X-Client"))
		respond(ctx, 200, `{"success":true,"data":[{"id":"b1","name":"Banesco"}]}`)
	}, func(cfg *types.BackendConfig) {
		cfg.Headers = map[string]string{"X-Client": "back-office"}
	})

	var banks []bank
	err := c.Get(context.Background(), "/banks", map[string]string{"page": "2", "empty": ""}, &banks)
	require.NoError(t, err)
	require.Len(t, banks, 1)
	assert.Equal(t, "Banesco", banks[0].Name)
	assert.Equal(t, "/api/banks", gotPath)
	assert.Equal(t, "2", gotQuery)
	assert.Equal(t, "back-office", gotHeader)
}

func TestHTTPClient_ErrorTaxonomy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		body      string
		sentinel  error
		message   string
		code      string
		retryable bool
	}{
		{
			name:     "client error keeps server message",
			status:   400,
			body:     `{"success":false,"error":{"message":"amount must be positive","code":"VALIDATION"}}`,
			sentinel: types.ErrClient,
			message:  "amount must be positive",
			code:     "VALIDATION",
		},
		{
			name:     "success false with 200 is a client error",
			status:   200,
			body:     `{"success":false,"error":{"message":"insufficient balance"}}`,
			sentinel: types.ErrClient,
			message:  "insufficient balance",
		},
		{
			name:      "rate limited",
			status:    429,
			body:      `{"success":false,"error":{"message":"slow down"}}`,
			sentinel:  types.ErrRateLimited,
			message:   "slow down",
			retryable: true,
		},
		{
			name:      "server error",
			status:    500,
			body:      `oops`,
			sentinel:  types.ErrServer,
			retryable: true,
		},
		{
			name:      "malformed success envelope",
			status:    200,
			body:      `{"success":`,
			sentinel:  types.ErrServer,
			retryable: true,
		},
		{
			name:      "error body without message",
			status:    200,
			body:      `{"success":false,"error":{"code":"X"}}`,
			sentinel:  types.ErrServer,
			retryable: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
				respond(ctx, tt.status, tt.body)
			}, func(cfg *types.BackendConfig) {
				cfg.Retries = 0
			})

			err := c.Get(context.Background(), "/giros", nil, nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.sentinel), "got %v", err)
			assert.Equal(t, tt.retryable, types.IsRetryable(err))

			var reqErr *types.RequestError
			require.ErrorAs(t, err, &reqErr)
			if tt.message != "" {
				assert.Equal(t, tt.message, reqErr.Message)
			}
			assert.Equal(t, tt.code, reqErr.Code)
		})
	}
}

func TestHTTPClient_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		if calls.Add(1) < 3 {
			respond(ctx, 503, `{"success":false,"error":{"message":"unavailable"}}`)
			return
		}
		respond(ctx, 200, `{"success":true,"data":{"id":"b1","name":"Mercantil"}}`)
	}, nil)

	var got bank
	require.NoError(t, c.Get(context.Background(), "/banks/b1", nil, &got))
	assert.Equal(t, "Mercantil", got.Name)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPClient_DoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		calls.Add(1)
		respond(ctx, 404, `{"success":false,"error":{"message":"not found"}}`)
	}, nil)

	err := c.Get(context.Background(), "/giros/missing", nil, nil)
	require.ErrorIs(t, err, types.ErrClient)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPClient_DoesNotRetryWrites(t *testing.T) {
	t.Parallel()

	methods := []string{fasthttp.MethodPost, fasthttp.MethodPut, fasthttp.MethodDelete}
	for _, method := range methods {
		method := method
		t.Run(method, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
				if calls.Add(1) == 1 {
					respond(ctx, 503, `{"success":false,"error":{"message":"unavailable"}}`)
					return
				}
				respond(ctx, 200, `{"success":true,"data":{"id":"g2"}}`)
			}, nil)

			err := c.Do(context.Background(), &types.Request{Method: method, Path: "/giros", Body: map[string]string{"currency": "USD"}}, nil)
			require.ErrorIs(t, err, types.ErrServer)
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestHTTPClient_RetriesRateLimitedUntilExhausted(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		calls.Add(1)
		respond(ctx, 429, `{"success":false,"error":{"message":"slow down"}}`)
	}, nil)

	err := c.Get(context.Background(), "/dashboard/stats", nil, nil)
	require.ErrorIs(t, err, types.ErrRateLimited)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPClient_SendsJSONBody(t *testing.T) {
	t.Parallel()

	var gotMethod, gotBody, gotType string
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		gotMethod = string(ctx.Method())
		gotBody = string(ctx.PostBody())
		gotType = string(ctx.Request.Header.ContentType())
		respond(ctx, 201, `{"success":true,"data":{"id":"g1"}}`)
	}, nil)

	var out struct {
		ID string `json:"id"`
	}
	err := c.Post(context.Background(), "/giros", map[string]interface{}{"amount": 100}, &out)
	require.NoError(t, err)
	assert.Equal(t, "g1", out.ID)
	assert.Equal(t, fasthttp.MethodPost, gotMethod)
	assert.JSONEq(t, `{"amount":100}`, gotBody)
	assert.Equal(t, "application/json", gotType)
}

func TestHTTPClient_StoppedClientFailsAsNetwork(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		respond(ctx, 200, `{"success":true}`)
	}, nil)
	require.NoError(t, c.Stop())

	err := c.Get(context.Background(), "/banks", nil, nil)
	require.ErrorIs(t, err, types.ErrNetwork)
	require.ErrorIs(t, err, types.ErrClientStopped)
	require.ErrorIs(t, c.Stop(), types.ErrServerNotRunning)
}

func TestHTTPClient_CanceledContext(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		respond(ctx, 200, `{"success":true}`)
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Get(ctx, "/banks", nil, nil)
	require.ErrorIs(t, err, types.ErrNetwork)
	require.ErrorIs(t, err, context.Canceled)
}

func TestHTTPClient_Backoff(t *testing.T) {
	t.Parallel()

	c := &HTTPClient{config: types.BackendConfig{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
	}}

	assert.Equal(t, 100*time.Millisecond, c.backoff(0))
	assert.Equal(t, 200*time.Millisecond, c.backoff(1))
	assert.Equal(t, 400*time.Millisecond, c.backoff(2))
	assert.Equal(t, 800*time.Millisecond, c.backoff(3))
	assert.Equal(t, time.Second, c.backoff(4))
	assert.Equal(t, time.Second, c.backoff(20))
}

func TestHTTPClient_CircuitBreakerOpens(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		calls.Add(1)
		respond(ctx, 502, `bad gateway`)
	}, func(cfg *types.BackendConfig) {
		cfg.Retries = 0
		cfg.CircuitBreaker = &types.CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: 2,
			RecoveryTimeout:  time.Hour,
		}
	})

	for i := 0; i < 2; i++ {
		require.ErrorIs(t, c.Get(context.Background(), "/banks", nil, nil), types.ErrServer)
	}

	err := c.Get(context.Background(), "/banks", nil, nil)
	require.ErrorIs(t, err, types.ErrNetwork)
	require.ErrorIs(t, err, types.ErrCircuitBreakerOpen)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, StateBreakerOpen, c.CircuitBreaker().State())
}
