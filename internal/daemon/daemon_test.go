package daemon

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/demandd/internal/config"
	"github.com/aretw0/demandd/internal/logging"
	"github.com/aretw0/demandd/pkg/runner"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type probeMock struct {
	mock.Mock
}

func (m *probeMock) PendingJobs(ctx context.Context, partition string) (int, error) {
	args := m.Called(ctx, partition)
	return args.Int(0), args.Error(1)
}

func parse(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(yaml))
	require.NoError(t, err)
	return cfg
}

func newDaemon(t *testing.T, yaml string, opts ...Option) *Daemon {
	t.Helper()
	opts = append([]Option{WithRegistry(prometheus.NewRegistry())}, opts...)
	d, err := New(parse(t, yaml), nil, opts...)
	require.NoError(t, err)
	return d
}

// start runs d in the background and returns the channel Run reports to.
func start(t *testing.T, d *Daemon) <-chan error {
	t.Helper()
	errs := make(chan error, 1)
	go func() { errs <- d.Run(context.Background()) }()
	require.Eventually(t, d.Runner().Running, time.Second, time.Millisecond)
	return errs
}

func awaitRun(t *testing.T, errs <-chan error) error {
	t.Helper()
	select {
	case err := <-errs:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
		return nil
	}
}

func TestDaemon_Pipeline(t *testing.T) {
	probe := &probeMock{}
	probe.On("PendingJobs", mock.Anything, "gpu").Return(3, nil)

	d := newDaemon(t, `
http: {addr: "127.0.0.1:0"}
pool: {type: static, demand: 1}
pipeline:
  - type: buffer
    options: {window: 20ms}
  - type: stopper
    options: {partition: gpu, interval: 20ms}
`, WithJobProbe(probe))
	errs := start(t, d)

	req, err := http.NewRequest(http.MethodPut, "http://"+d.Addr()+"/demand", strings.NewReader(`{"demand": 4}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Eventually(t, func() bool { return d.base.Demand() == 4 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 4.0, d.Head().Demand())

	resp, err = http.Get("http://" + d.Addr() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "demandd_pool_demand 4")

	d.Stop()
	assert.NoError(t, awaitRun(t, errs))
	probe.AssertCalled(t, "PendingJobs", mock.Anything, "gpu")
}

func TestDaemon_RedisPool(t *testing.T) {
	s := miniredis.RunT(t)
	s.HSet("site:pool", "supply", "16")

	d := newDaemon(t, `
http: {addr: ""}
pool:
  type: redis
  demand: 2
  options: {addr: "`+s.Addr()+`", key: "site:pool", interval: 10ms}
`)
	assert.Empty(t, d.Addr())
	errs := start(t, d)

	assert.Eventually(t, func() bool { return s.HGet("site:pool", "demand") == "2" }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return d.Head().Supply() == 16 }, time.Second, 5*time.Millisecond)

	d.Head().SetDemand(7)
	assert.Eventually(t, func() bool { return s.HGet("site:pool", "demand") == "7" }, time.Second, 5*time.Millisecond)

	d.Stop()
	assert.NoError(t, awaitRun(t, errs))
}

func TestDaemon_ServerFailureAborts(t *testing.T) {
	d := newDaemon(t, `http: {addr: "127.0.0.1:0"}`)
	errs := start(t, d)

	require.NoError(t, d.listener.Close())

	err := awaitRun(t, errs)
	var abort *runner.AbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, runner.Thread, abort.Flavour)
	assert.Equal(t, "http", abort.Payload)
}

func TestDaemon_ContextCancel(t *testing.T) {
	d := newDaemon(t, `http: {addr: "127.0.0.1:0"}`)
	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() { errs <- d.Run(ctx) }()
	require.Eventually(t, d.Runner().Running, time.Second, time.Millisecond)

	cancel()
	assert.NoError(t, awaitRun(t, errs))

	// the listener is released
	ln, err := net.Listen("tcp", d.Addr())
	require.NoError(t, err)
	ln.Close()
}

func TestDaemon_StopBeforeRun(t *testing.T) {
	d := newDaemon(t, `http: {addr: "127.0.0.1:0"}`)
	d.Stop()
	assert.NoError(t, d.Run(context.Background()))
}

func TestNew_ListenConflict(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	_, err = New(parse(t, `http: {addr: "`+ln.Addr().String()+`"}`), nil, WithRegistry(prometheus.NewRegistry()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}

func TestNew_DuplicateRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	cfg := parse(t, `http: {addr: ""}`)

	_, err := New(cfg, nil, WithRegistry(reg))
	require.NoError(t, err)
	_, err = New(cfg, nil, WithRegistry(reg))
	assert.Error(t, err)
}

func TestSignalManager(t *testing.T) {
	forced := make(chan struct{})
	sm := newSignalManager(context.Background(), logging.NewNop(), func() { close(forced) })
	go sm.watch()
	defer sm.Stop()

	sm.signals <- os.Interrupt
	select {
	case <-sm.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled by the first signal")
	}

	select {
	case <-forced:
		t.Fatal("forced after a single signal")
	default:
	}

	sm.signals <- syscall.SIGTERM
	select {
	case <-forced:
	case <-time.After(time.Second):
		t.Fatal("second signal did not force exit")
	}
}

func TestSignalManager_Stop(t *testing.T) {
	sm := NewSignalManager(context.Background(), logging.NewNop(), func() {
		t.Error("unexpected force")
	})
	sm.Stop()
	sm.Stop()
	assert.True(t, errors.Is(sm.Context().Err(), context.Canceled))
}
