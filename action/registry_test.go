package action_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/saiset-co/giro-sync/action"
	"github.com/saiset-co/giro-sync/logger"
	"github.com/saiset-co/giro-sync/metrics"
	"github.com/saiset-co/giro-sync/types"
)

func TestRegistry_DispatchAndDispose(t *testing.T) {
	t.Parallel()

	registry := action.NewRegistry(logger.NewZapWrapper(zaptest.NewLogger(t)))

	var calls []string
	disposeA := registry.On("giros.created", func(msg *types.ActionMessage) error {
		calls = append(calls, "a:"+msg.MessageID)
		return nil
	})
	registry.On("giros.created", func(msg *types.ActionMessage) error {
		calls = append(calls, "b:"+msg.MessageID)
		return nil
	})

	assert.Equal(t, []string{"giros.created"}, registry.Events())
	assert.Equal(t, 2, registry.Dispatch(&types.ActionMessage{Action: "giros.created", MessageID: "1"}))
	assert.Equal(t, []string{"a:1", "b:1"}, calls)

	disposeA()
	disposeA()

	assert.Equal(t, 1, registry.Dispatch(&types.ActionMessage{Action: "giros.created", MessageID: "2"}))
	assert.Equal(t, []string{"a:1", "b:1", "b:2"}, calls)
	assert.Equal(t, 0, registry.Dispatch(&types.ActionMessage{Action: "banks.updated"}))
}

func TestRegistry_FailingHandlersDoNotStopOthers(t *testing.T) {
	t.Parallel()

	log := logger.NewZapWrapper(zaptest.NewLogger(t))
	m, err := metrics.NewPrometheusMetrics(log, nil)
	require.NoError(t, err)

	registry := action.NewRegistry(log, action.WithRegistryMetrics(m))

	delivered := 0
	registry.On("recharges.approved", func(*types.ActionMessage) error {
		return errors.New("boom")
	})
	registry.On("recharges.approved", func(*types.ActionMessage) error {
		panic("handler bug")
	})
	registry.On("recharges.approved", func(*types.ActionMessage) error {
		delivered++
		return nil
	})

	assert.Equal(t, 3, registry.Dispatch(&types.ActionMessage{Action: "recharges.approved"}))
	assert.Equal(t, 1, delivered)

	failed := m.Counter("push_events_dispatched_total", map[string]string{"event": "recharges.approved", "result": "error"})
	assert.Equal(t, float64(2), failed.Get())
}

func TestRegistry_InvalidInput(t *testing.T) {
	t.Parallel()

	registry := action.NewRegistry(logger.NewZapWrapper(zaptest.NewLogger(t)))

	dispose := registry.On("", func(*types.ActionMessage) error { return nil })
	dispose()
	registry.On("giros.created", nil)

	assert.Empty(t, registry.Events())
	assert.Equal(t, 0, registry.Dispatch(nil))
	assert.Equal(t, 0, registry.Dispatch(&types.ActionMessage{}))
}
