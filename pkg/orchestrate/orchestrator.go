// Package orchestrate runs the archivers for each trigger delivery.
package orchestrate

import (
	"context"
	"sync"
	"time"

	"github.com/vllry/transit-archive/pkg/trigger"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type RailFetcher interface {
	Fetch(ctx context.Context) error
}

type BusFetcher interface {
	Fetch(ctx context.Context, trigger time.Time) error
}

type StaticFetcher interface {
	Fetch(ctx context.Context) error
}

type Orchestrator struct {
	rail   RailFetcher
	bus    BusFetcher
	static StaticFetcher
	logger *zap.Logger
}

func New(rail RailFetcher, bus BusFetcher, static StaticFetcher, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{rail: rail, bus: bus, static: static, logger: logger}
}

// Handle dispatches t to the run for its channel.
func (o *Orchestrator) Handle(ctx context.Context, t trigger.Trigger) error {
	switch t.Channel {
	case trigger.Realtime:
		return o.Realtime(ctx, t)
	case trigger.Static:
		return o.Static(ctx, t)
	default:
		return errors.Errorf("unknown trigger channel %q", t.Channel)
	}
}

// Realtime archives rail and bus data. Both run to completion even if the
// other fails; any failure is returned so the trigger can be redelivered.
func (o *Orchestrator) Realtime(ctx context.Context, t trigger.Trigger) error {
	logger := o.invocationLogger(t)
	logger.Info("Retrieved trigger event")

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result *multierror.Error
	)
	run := func(name string, fn func() error) {
		defer wg.Done()
		err := fn()
		if err != nil {
			logger.Error("Archive failed", zap.String("archiver", name), zap.Error(err))
			mu.Lock()
			result = multierror.Append(result, errors.Wrapf(err, "%s archive", name))
			mu.Unlock()
			return
		}
		logger.Info("Archive completed", zap.String("archiver", name))
	}

	wg.Add(2)
	go run("rail", func() error { return o.rail.Fetch(ctx) })
	go run("bus", func() error { return o.bus.Fetch(ctx, t.Time) })
	wg.Wait()

	return result.ErrorOrNil()
}

// Static archives the static schedule. It takes nothing from the trigger
// beyond its delivery.
func (o *Orchestrator) Static(ctx context.Context, t trigger.Trigger) error {
	logger := o.invocationLogger(t)
	logger.Info("Retrieved trigger event")

	if err := o.static.Fetch(ctx); err != nil {
		logger.Error("Archive failed", zap.String("archiver", "static"), zap.Error(err))
		return errors.Wrap(err, "static archive")
	}
	logger.Info("Archive completed", zap.String("archiver", "static"))
	return nil
}

func (o *Orchestrator) invocationLogger(t trigger.Trigger) *zap.Logger {
	return o.logger.With(
		zap.String("invocation", uuid.NewString()),
		zap.String("channel", string(t.Channel)),
		zap.Time("trigger_time", t.Time),
	)
}
