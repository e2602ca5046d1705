package main

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type reconciler interface {
	RunOnce(ctx context.Context)
}

type reconcileTicker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

type tickerFactory func(time.Duration) reconcileTicker

func startReconcileWorker(ctx context.Context, logger *slog.Logger, engine reconciler, interval time.Duration) func() {
	return startReconcileWorkerWithTicker(ctx, logger, engine, interval, func(d time.Duration) reconcileTicker {
		return timeTicker{ticker: time.NewTicker(d)}
	})
}

func startReconcileWorkerWithTicker(
	ctx context.Context,
	logger *slog.Logger,
	engine reconciler,
	interval time.Duration,
	newTicker tickerFactory,
) func() {
	if engine == nil || interval <= 0 {
		return func() {}
	}
	workerCtx, cancel := context.WithCancel(ctx)
	ticker := newTicker(interval)
	done := make(chan struct{})
	go func() {
		defer func() {
			ticker.Stop()
			close(done)
		}()
		engine.RunOnce(workerCtx)
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C():
				engine.RunOnce(workerCtx)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
			if logger != nil {
				logger.Info("reconcile worker stopped")
			}
		})
	}
}
