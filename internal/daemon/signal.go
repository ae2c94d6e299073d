package daemon

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/aretw0/demandd/internal/logging"
)

// SignalManager turns SIGINT and SIGTERM into context cancellation. The
// first signal cancels the context so the daemon can drain its payloads. A
// second one calls force, which is expected to exit the process.
type SignalManager struct {
	ctx     context.Context
	cancel  context.CancelFunc
	signals chan os.Signal
	force   func()
	logger  *slog.Logger
	done    chan struct{}
	once    sync.Once
}

// NewSignalManager starts listening for signals. A nil force defaults to
// os.Exit(130).
func NewSignalManager(parent context.Context, logger *slog.Logger, force func()) *SignalManager {
	sm := newSignalManager(parent, logger, force)
	signal.Notify(sm.signals, os.Interrupt, syscall.SIGTERM)
	go sm.watch()
	return sm
}

func newSignalManager(parent context.Context, logger *slog.Logger, force func()) *SignalManager {
	if logger == nil {
		logger = logging.NewNop()
	}
	if force == nil {
		force = func() { os.Exit(130) }
	}
	ctx, cancel := context.WithCancel(parent)
	return &SignalManager{
		ctx:     ctx,
		cancel:  cancel,
		signals: make(chan os.Signal, 2),
		force:   force,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Context is cancelled on the first signal or on Stop.
func (sm *SignalManager) Context() context.Context {
	return sm.ctx
}

// Stop releases the signal handlers and cancels the context.
func (sm *SignalManager) Stop() {
	sm.once.Do(func() {
		signal.Stop(sm.signals)
		close(sm.done)
		sm.cancel()
	})
}

func (sm *SignalManager) watch() {
	received := 0
	for {
		select {
		case <-sm.done:
			return
		case sig := <-sm.signals:
			received++
			if received == 1 {
				sm.logger.Info("shutting down, signal again to force", "signal", sig.String())
				sm.cancel()
				continue
			}
			sm.logger.Warn("forced exit", "signal", sig.String())
			sm.force()
			return
		}
	}
}
