package giro

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/giro-sync/cache"
	"github.com/saiset-co/giro-sync/invalidation"
	"github.com/saiset-co/giro-sync/prefetch"
	"github.com/saiset-co/giro-sync/types"
)

// CurrentRateID is the detail id under which the current exchange rate is cached.
const CurrentRateID = "current"

type Option func(*API)

// WithPrefetcher routes Prefetch* helpers through a scheduler so that
// background warm-ups share its worker pool.
func WithPrefetcher(p *prefetch.Scheduler) Option {
	return func(a *API) {
		a.prefetcher = p
	}
}

// API is the typed data layer. Reads go through the cache store; writes go
// through the invalidation router once the backend has accepted them.
type API struct {
	logger     types.Logger
	client     types.Fetcher
	store      *cache.Store
	router     *invalidation.Router
	prefetcher *prefetch.Scheduler
	validator  *validator.Validate
}

func NewAPI(logger types.Logger, client types.Fetcher, store *cache.Store, router *invalidation.Router, opts ...Option) *API {
	a := &API{
		logger:    logger,
		client:    client,
		store:     store,
		router:    router,
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

func (a *API) Store() *cache.Store {
	return a.store
}

func (a *API) Giros(ctx context.Context, filter GiroFilter) (GiroPage, error) {
	params := filter.params()
	return cache.Query(ctx, a.store, types.ListKey(KindGiros, params), get[GiroPage](a, "/giros", params))
}

func (a *API) Giro(ctx context.Context, id string) (Giro, error) {
	if id == "" {
		return Giro{}, types.Errorf(types.ErrInputInvalid, "empty giro id")
	}
	return cache.Query(ctx, a.store, types.DetailKey(KindGiros, id), get[Giro](a, "/giros/"+id, nil))
}

func (a *API) MinoristaBalance(ctx context.Context, minoristaID string) (MinoristaBalance, error) {
	if minoristaID == "" {
		return MinoristaBalance{}, types.Errorf(types.ErrInputInvalid, "empty minorista id")
	}
	return cache.Query(ctx, a.store, types.DetailKey(KindMinoristaBalance, minoristaID),
		get[MinoristaBalance](a, "/minoristas/"+minoristaID+"/balance", nil))
}

func (a *API) Minoristas(ctx context.Context) ([]Minorista, error) {
	return cache.Query(ctx, a.store, types.ListKey(KindMinoristas, nil), get[[]Minorista](a, "/minoristas", nil))
}

func (a *API) Transferencistas(ctx context.Context) ([]Transferencista, error) {
	return cache.Query(ctx, a.store, types.ListKey(KindTransferencistas, nil),
		get[[]Transferencista](a, "/transferencistas", nil))
}

func (a *API) Banks(ctx context.Context) ([]Bank, error) {
	return cache.Query(ctx, a.store, types.ListKey(KindBanks, nil), get[[]Bank](a, "/banks", nil))
}

func (a *API) BankAccounts(ctx context.Context) ([]BankAccount, error) {
	return cache.Query(ctx, a.store, types.ListKey(KindBankAccounts, nil), get[[]BankAccount](a, "/bank-accounts", nil))
}

func (a *API) ExchangeRates(ctx context.Context) ([]ExchangeRate, error) {
	return cache.Query(ctx, a.store, types.ListKey(KindExchangeRates, nil), get[[]ExchangeRate](a, "/exchange-rates", nil))
}

func (a *API) CurrentExchangeRate(ctx context.Context) (ExchangeRate, error) {
	return cache.Query(ctx, a.store, types.DetailKey(KindExchangeRates, CurrentRateID),
		get[ExchangeRate](a, "/exchange-rates/current", nil))
}

func (a *API) Recharges(ctx context.Context, filter RechargeFilter) ([]Recharge, error) {
	params := filter.params()
	return cache.Query(ctx, a.store, types.ListKey(KindRecharges, params), get[[]Recharge](a, "/recharges", params))
}

func (a *API) Users(ctx context.Context, filter UserFilter) ([]User, error) {
	params := filter.params()
	return cache.Query(ctx, a.store, types.ListKey(KindUsers, params), get[[]User](a, "/users", params))
}

func (a *API) DashboardStats(ctx context.Context) (DashboardStats, error) {
	return cache.Query(ctx, a.store, types.ListKey(KindDashboard, nil), get[DashboardStats](a, "/dashboard/stats", nil))
}

func (a *API) Currencies(ctx context.Context) ([]string, error) {
	return cache.Query(ctx, a.store, types.ListKey(KindCurrencies, nil), func(context.Context) ([]string, error) {
		return append([]string(nil), Currencies...), nil
	})
}

func (a *API) GiroStatuses(ctx context.Context) ([]GiroStatus, error) {
	return cache.Query(ctx, a.store, types.ListKey(KindGiroStatuses, nil), func(context.Context) ([]GiroStatus, error) {
		return append([]GiroStatus(nil), GiroStatuses...), nil
	})
}

// PrefetchGiro warms a giro detail, e.g. on hover in a list.
func (a *API) PrefetchGiro(ctx context.Context, id string) {
	if id == "" {
		return
	}
	a.prefetch(ctx, types.DetailKey(KindGiros, id), erase(get[Giro](a, "/giros/"+id, nil)))
}

// PrefetchNextPage queues the page after filter.Page in the background.
func (a *API) PrefetchNextPage(filter GiroFilter) bool {
	next := filter
	if next.Page < 1 {
		next.Page = 1
	}
	next.Page++

	params := next.params()
	fn := erase(get[GiroPage](a, "/giros", params))
	key := types.ListKey(KindGiros, params)

	if a.prefetcher == nil {
		a.prefetch(context.Background(), key, fn)
		return true
	}
	return a.prefetcher.Schedule(key, fn)
}

// PrefetchReferenceData warms the lookups every form needs.
func (a *API) PrefetchReferenceData(ctx context.Context) {
	a.prefetch(ctx, types.ListKey(KindBanks, nil), erase(get[[]Bank](a, "/banks", nil)))
	a.prefetch(ctx, types.DetailKey(KindExchangeRates, CurrentRateID),
		erase(get[ExchangeRate](a, "/exchange-rates/current", nil)))
	a.prefetch(ctx, types.ListKey(KindCurrencies, nil), func(context.Context) (interface{}, error) {
		return append([]string(nil), Currencies...), nil
	})
	a.prefetch(ctx, types.ListKey(KindGiroStatuses, nil), func(context.Context) (interface{}, error) {
		return append([]GiroStatus(nil), GiroStatuses...), nil
	})
}

func (a *API) prefetch(ctx context.Context, key types.CacheKey, fn types.FetchFunc) {
	if a.prefetcher != nil {
		a.prefetcher.Prefetch(ctx, key, fn)
		return
	}

	if _, err := a.store.Prefetch(ctx, key, fn); err != nil {
		a.logger.Debug("Prefetch failed", zap.String("key", key.String()), zap.Error(err))
	}
}

func (a *API) validate(input interface{}) error {
	if err := a.validator.Struct(input); err != nil {
		return types.Errorf(types.ErrInputInvalid, "%v", err)
	}
	return nil
}

func get[T any](a *API, path string, params map[string]string) func(ctx context.Context) (T, error) {
	return call[T](a, fasthttp.MethodGet, path, params, nil)
}

func call[T any](a *API, method, path string, params map[string]string, body interface{}) func(ctx context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		var out T
		err := a.client.Do(ctx, &types.Request{Method: method, Path: path, Query: params, Body: body}, &out)
		return out, err
	}
}

func erase[T any](fn func(ctx context.Context) (T, error)) types.FetchFunc {
	return func(ctx context.Context) (interface{}, error) {
		return fn(ctx)
	}
}
