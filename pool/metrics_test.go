package pool

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t, &fakeFactory{}, Options{Name: "orders"})

	a, err := p.Acquire(ctx)
	require.NoError(t, err)
	b, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, a.Close())
	defer b.Close()

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewCollector(func() []*Pool { return []*Pool{p} })))

	expected := `
# HELP poolman_connections_created_total Total number of connections created by the factory
# TYPE poolman_connections_created_total counter
poolman_connections_created_total{pool="orders"} 2
# HELP poolman_connections_idle Current number of connections on the free list
# TYPE poolman_connections_idle gauge
poolman_connections_idle{pool="orders"} 1
# HELP poolman_connections_active Current number of outstanding leases
# TYPE poolman_connections_active gauge
poolman_connections_active{pool="orders"} 1
`
	err = testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"poolman_connections_created_total",
		"poolman_connections_idle",
		"poolman_connections_active",
	)
	assert.NoError(t, err)

	count, err := testutil.GatherAndCount(reg, "poolman_leaks_total", "poolman_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestCollectorWithoutPools(t *testing.T) {
	c := NewCollector(func() []*Pool { return nil })
	assert.Equal(t, 0, testutil.CollectAndCount(c))
}
