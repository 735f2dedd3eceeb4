package prometheus

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poscore/cafegate"
)

func testEngine(t *testing.T) *cafegate.Engine {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	engine, err := cafegate.New().
		WithRedis(client).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	return engine
}

func TestCollectorRegistersAndGathers(t *testing.T) {
	engine := testEngine(t)

	registry := prometheus.NewPedanticRegistry()
	require.NoError(t, registry.Register(NewCollector(engine, "cafegate")))

	families, err := registry.Gather()
	require.NoError(t, err)

	// Every engine counter plus the audit drop counter.
	assert.Len(t, families, len(cafegate.MetricIDs())+1)

	names := make(map[string]bool, len(families))
	for _, family := range families {
		names[family.GetName()] = true
	}
	assert.True(t, names["cafegate_login_failure_total"])
	assert.True(t, names["cafegate_audit_events_dropped_total"])
}

func TestCollectorReflectsEngineActivity(t *testing.T) {
	engine := testEngine(t)

	// No staff provider is wired, so a login is rejected before any
	// counter moves; the validate path is what we can exercise here.
	_, err := engine.Validate(context.Background(), "no-such-token")
	assert.ErrorIs(t, err, cafegate.ErrSessionNotFound)

	registry := prometheus.NewPedanticRegistry()
	require.NoError(t, registry.Register(NewCollector(engine, "cafegate")))

	families, err := registry.Gather()
	require.NoError(t, err)

	var found bool
	for _, family := range families {
		if family.GetName() == "cafegate_validate_success_total" {
			found = true
			require.Len(t, family.GetMetric(), 1)
			assert.Equal(t, float64(0), family.GetMetric()[0].GetCounter().GetValue())
		}
	}
	assert.True(t, found)
}
