package runner_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/demandd/pkg/loop"
	"github.com/aretw0/demandd/pkg/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlavour(t *testing.T) {
	for _, f := range runner.Flavours() {
		parsed, err := runner.ParseFlavour(f.String())
		require.NoError(t, err)
		assert.Equal(t, f, parsed)
	}

	parsed, err := runner.ParseFlavour(" Loop-B ")
	require.NoError(t, err)
	assert.Equal(t, runner.LoopB, parsed)

	_, err = runner.ParseFlavour("trio")
	assert.ErrorIs(t, err, runner.ErrUnknownFlavour)

	var f runner.Flavour
	require.NoError(t, f.UnmarshalText([]byte("loop-a")))
	assert.Equal(t, runner.LoopA, f)
	assert.True(t, f.Cooperative())
	assert.False(t, runner.Thread.Cooperative())
	assert.False(t, runner.Flavour(0).Valid())

	_, err = runner.Flavour(9).MarshalText()
	assert.ErrorIs(t, err, runner.ErrUnknownFlavour)
}

func TestThreadRunner_Lifecycle(t *testing.T) {
	r := runner.NewThreadRunner()
	assert.Equal(t, runner.Idle, r.State())
	assert.False(t, r.Ready())
	assert.ErrorIs(t, r.Wait(context.Background()), runner.ErrNotRunning)

	cancelled := make(chan struct{})
	require.NoError(t, r.Register(func(ctx context.Context) (any, error) {
		<-ctx.Done()
		close(cancelled)
		return nil, ctx.Err()
	}, "svc"))
	assert.True(t, r.Ready())

	require.NoError(t, r.Start())
	assert.ErrorIs(t, r.Start(), runner.ErrAlreadyStarted)
	assert.Equal(t, runner.Running, r.State())

	errs := make(chan error, 1)
	go func() { errs <- r.Wait(context.Background()) }()

	r.Stop()
	r.Stop()
	select {
	case err := <-errs:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Stop")
	}
	<-cancelled

	assert.Equal(t, runner.Stopped, r.State())
	assert.False(t, r.Ready())
	assert.ErrorIs(t, r.Register(func(ctx context.Context) (any, error) { return nil, nil }, "late"), runner.ErrStopped)
	assert.ErrorIs(t, r.Start(), runner.ErrStopped)
}

func TestThreadRunner_Failure(t *testing.T) {
	r := runner.NewThreadRunner()
	boom := errors.New("boom")
	require.NoError(t, r.Register(func(ctx context.Context) (any, error) {
		return nil, boom
	}, "boom"))

	err := r.Run(context.Background())
	var failure *runner.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, runner.Thread, failure.Flavour)
	assert.Equal(t, "boom", failure.Payload)
	assert.Same(t, boom, failure.Cause)
	assert.Equal(t, runner.Failed, r.State())
}

func TestThreadRunner_SubroutineMayComplete(t *testing.T) {
	r := runner.NewThreadRunner()
	require.NoError(t, r.Register(func(ctx context.Context) (any, error) { return nil, nil }, "once"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, r.Run(ctx))
	assert.Equal(t, runner.Stopped, r.State())
}

func TestEventLoopRunner_SubroutineMayComplete(t *testing.T) {
	for _, f := range []runner.Flavour{runner.LoopA, runner.LoopB} {
		t.Run(f.String(), func(t *testing.T) {
			r, err := runner.NewEventLoopRunner(f)
			require.NoError(t, err)
			require.NoError(t, r.Register(func(ctx context.Context) (any, error) { return nil, nil }, "once"))

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			assert.NoError(t, r.Run(ctx))
			assert.Equal(t, runner.Stopped, r.State())
		})
	}
}

func TestThreadRunner_RunOneAnyState(t *testing.T) {
	r := runner.NewThreadRunner()
	value, err := r.RunOne(context.Background(), func(ctx context.Context) (any, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, value)

	r.Stop()
	value, err = r.RunOne(context.Background(), func(ctx context.Context) (any, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, value)
}

func TestEventLoopRunner_RejectsThreadFlavour(t *testing.T) {
	_, err := runner.NewEventLoopRunner(runner.Thread)
	assert.ErrorIs(t, err, runner.ErrUnknownFlavour)
}

func TestEventLoopRunner_RunOne(t *testing.T) {
	r, err := runner.NewEventLoopRunner(runner.LoopA)
	require.NoError(t, err)

	_, err = r.RunOne(context.Background(), func(ctx context.Context) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, runner.ErrNotRunning)

	require.NoError(t, r.Start())

	value, err := r.RunOne(context.Background(), func(ctx context.Context) (any, error) {
		task, ok := loop.FromContext(ctx)
		if !ok {
			return nil, errors.New("not on the loop")
		}
		return task.Name(), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "run-one", value)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.RunOne(ctx, func(ctx context.Context) (any, error) {
		for {
			if err := loop.Sleep(ctx, 5*time.Millisecond); err != nil {
				return nil, err
			}
		}
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	r.Stop()
	require.NoError(t, r.Wait(context.Background()))

	_, err = r.RunOne(context.Background(), func(ctx context.Context) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, runner.ErrStopped)
}

func TestEventLoopRunner_PanicInRunOne(t *testing.T) {
	r, err := runner.NewEventLoopRunner(runner.LoopB)
	require.NoError(t, err)
	require.NoError(t, r.Start())
	defer r.Stop()

	_, err = r.RunOne(context.Background(), func(ctx context.Context) (any, error) {
		panic("kaboom")
	})
	var panicErr *runner.PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "kaboom", panicErr.Value)
}

func TestEventLoopRunner_AbandonsStuckLoop(t *testing.T) {
	r, err := runner.NewEventLoopRunner(runner.LoopB, runner.WithShutdownGrace(20*time.Millisecond))
	require.NoError(t, err)

	release := make(chan struct{})
	defer close(release)
	require.NoError(t, r.Register(func(ctx context.Context) (any, error) {
		// never yields, so cancellation is never observed
		<-release
		return nil, nil
	}, "stuck"))
	require.NoError(t, r.Start())

	time.Sleep(10 * time.Millisecond)
	r.Stop()

	start := time.Now()
	assert.NoError(t, r.Wait(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, runner.Stopped, r.State())
}
