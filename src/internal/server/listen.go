// Package server binds the listeners for the HTTP and gRPC endpoints.
//
// A relaunched process starts while its predecessor may still be releasing
// the same ports, so binding is retried with exponential backoff.
package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/charmbracelet/log"
)

// ListenOptions controls the bind retry
type ListenOptions struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultListenOptions waits up to roughly the removal delay used by the
// switch, which is when the previous process is guaranteed gone.
func DefaultListenOptions() ListenOptions {
	return ListenOptions{
		MaxTries:        10,
		InitialInterval: 250 * time.Millisecond,
		MaxElapsedTime:  15 * time.Second,
	}
}

// Listen opens a TCP listener on addr, retrying while the address is in use
func Listen(ctx context.Context, addr string, opts ListenOptions, logger *log.Logger) (net.Listener, error) {
	if logger == nil {
		logger = log.Default()
	}
	if opts.MaxTries == 0 {
		opts.MaxTries = 1
	}

	b := backoff.NewExponentialBackOff()
	if opts.InitialInterval > 0 {
		b.InitialInterval = opts.InitialInterval
	}

	var lc net.ListenConfig
	attempt := 0
	lis, err := backoff.Retry(ctx, func() (net.Listener, error) {
		attempt++
		lis, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			logger.Debug("Bind failed, retrying", "addr", addr, "attempt", attempt, "err", err)
			return nil, err
		}
		return lis, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(opts.MaxTries),
		backoff.WithMaxElapsedTime(opts.MaxElapsedTime),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s after %d attempts: %w", addr, attempt, err)
	}
	if attempt > 1 {
		logger.Info("Bound after retry", "addr", addr, "attempts", attempt)
	}
	return lis, nil
}
