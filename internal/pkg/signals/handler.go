package signals

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/endorses/paper/internal/pkg/constants"
	"github.com/endorses/paper/internal/pkg/logger"
)

var shutdownSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP}

// SetupHandler cancels the provided context on SIGINT, SIGTERM, or SIGHUP.
// Returns a cleanup function that should be called when the signal handler is no longer needed
func SetupHandler(ctx context.Context, cancel context.CancelFunc) (cleanup func()) {
	return SetupHandlerWithCallback(ctx, cancel)
}

// SetupHandlerWithCallback calls onSignal when a shutdown signal arrives.
// The cleanup function stops signal delivery and waits for the watcher
// goroutine to exit.
func SetupHandlerWithCallback(ctx context.Context, onSignal func()) (cleanup func()) {
	sigCh := make(chan os.Signal, constants.SignalChannelBuffer)
	signal.Notify(sigCh, shutdownSignals...)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case sig := <-sigCh:
			logger.Info("Received signal, initiating shutdown", "signal", sig.String())
			onSignal()
		case <-ctx.Done():
		case <-stop:
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(stop)
		<-done
	}
}

// WithCancelOnSignal derives a context that is cancelled by the first
// shutdown signal. The returned stop function releases the handler and
// cancels the context.
func WithCancelOnSignal(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	cleanup := SetupHandler(ctx, cancel)
	return ctx, func() {
		cleanup()
		cancel()
	}
}

// WaitForSignal blocks until a signal (SIGINT, SIGTERM, or SIGHUP) is received
func WaitForSignal() os.Signal {
	sigCh := make(chan os.Signal, constants.SignalChannelBuffer)
	signal.Notify(sigCh, shutdownSignals...)
	defer signal.Stop(sigCh)

	sig := <-sigCh
	logger.Info("Received signal", "signal", sig.String())
	return sig
}
