package metrics_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aretw0/demandd/internal/metrics"
	"github.com/aretw0/demandd/pkg/pool"
	"github.com/aretw0/demandd/pkg/runner"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RunnerHooks(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	mr := runner.NewMetaRunner(runner.WithHooks(m.Hooks()))
	require.NoError(t, mr.Register(func(ctx context.Context) (any, error) {
		return nil, errors.New("boom")
	}, runner.LoopA, "fails"))

	_, err = mr.RunOne(context.Background(), func(ctx context.Context) (any, error) { return nil, nil }, runner.Thread)
	require.NoError(t, err)

	require.Error(t, mr.Run(context.Background()))

	expected := `
# HELP demandd_payload_exits_total Service payload exits, by flavour and exit kind.
# TYPE demandd_payload_exits_total counter
demandd_payload_exits_total{exit="error",flavour="loop-a"} 1
# HELP demandd_payloads_registered_total Service payloads registered, by flavour.
# TYPE demandd_payloads_registered_total counter
demandd_payloads_registered_total{flavour="loop-a"} 1
# HELP demandd_runner_failures_total Runners that failed because of a payload, by flavour.
# TYPE demandd_runner_failures_total counter
demandd_runner_failures_total{flavour="loop-a"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"demandd_payload_exits_total", "demandd_payloads_registered_total", "demandd_runner_failures_total"))
	count, err := testutil.GatherAndCount(reg, "demandd_run_one_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMetrics_RegisterPool(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	p := pool.NewStatic(3)
	p.SetSignals(8, 0.5, 0.25)
	require.NoError(t, m.RegisterPool(p))

	expected := `
# HELP demandd_pool_demand Demand requested at the head of the pipeline.
# TYPE demandd_pool_demand gauge
demandd_pool_demand 3
# HELP demandd_pool_supply Resources currently provided by the pool.
# TYPE demandd_pool_supply gauge
demandd_pool_supply 8
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "demandd_pool_demand", "demandd_pool_supply"))

	p.SetDemand(5)
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(strings.Replace(expected, "demand 3", "demand 5", 1)), "demandd_pool_demand", "demandd_pool_supply"))

	assert.Error(t, m.RegisterPool(p), "registering twice must fail")
}

func TestMetrics_DuplicateRegistration(t *testing.T) {
	reg := metrics.NewRegistry()
	_, err := metrics.New(reg)
	require.NoError(t, err)

	_, err = metrics.New(reg)
	assert.Error(t, err)
}
