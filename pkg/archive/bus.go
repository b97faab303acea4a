package archive

import (
	"bytes"
	"context"
	"net/url"
	"time"

	"github.com/vllry/transit-archive/pkg/ledger"
	"github.com/vllry/transit-archive/pkg/routes"
	"github.com/vllry/transit-archive/pkg/store"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultBusTrackerURL  = "https://www.ctabustracker.com/bustime/api/v2/getvehicles"
	DefaultBusConcurrency = 4
)

type BusConfig struct {
	URL         string
	APIKey      string
	Batches     []routes.Batch
	Concurrency int // Maximum in-flight requests.
}

// BusArchiver stores one combined snapshot of every bus route per trigger.
type BusArchiver struct {
	Deps
	cfg BusConfig
}

func NewBusArchiver(cfg BusConfig, deps Deps) *BusArchiver {
	if cfg.URL == "" {
		cfg.URL = DefaultBusTrackerURL
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = DefaultBusConcurrency
	}
	return &BusArchiver{Deps: deps.withDefaults(), cfg: cfg}
}

// Fetch queries every route batch and writes the responses, in batch order,
// as a single JSON array keyed by the trigger time. Nothing is written unless
// every batch succeeds.
func (a *BusArchiver) Fetch(ctx context.Context, trigger time.Time) error {
	if trigger.IsZero() {
		return errors.New("bus fetch requires a trigger time")
	}

	a.Logger.Info("Fetching bus data", zap.Int("batches", len(a.cfg.Batches)))

	bodies := make([][]byte, len(a.cfg.Batches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)
	for i, batch := range a.cfg.Batches {
		i, batch := i, batch
		g.Go(func() error {
			res, err := a.Client.Get(gctx, a.cfg.URL, a.params(batch))
			if err != nil {
				return errors.Wrapf(err, "failed to fetch bus routes %s", batch.Join())
			}
			bodies[i] = res.Body
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	payload := combine(bodies)
	key := BusKey(trigger)

	a.Logger.Info("Storing bus data", zap.String("uri", a.Store.URI(key)))
	if err := a.Store.Write(ctx, key, payload, store.WriteOptions{ContentType: contentTypeJSON}); err != nil {
		return errors.Wrap(err, "failed to store bus data")
	}
	a.Logger.Info("Bus data successfully stored", zap.Int("bytes", len(payload)))

	a.record(ctx, ledger.NewEntry(ledger.KindBus, key, trigger, payload))
	return nil
}

func (a *BusArchiver) params(batch routes.Batch) url.Values {
	return url.Values{
		"format": {"json"},
		"rt":     {batch.Join()},
		"key":    {a.cfg.APIKey},
		"tmres":  {"s"},
	}
}

// combine wraps each body as one element of a JSON array.
func combine(bodies [][]byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte('[')
	buf.Write(bytes.Join(bodies, []byte(",\n")))
	buf.WriteByte(']')
	return buf.Bytes()
}
