// Package archive fetches CTA rail, bus and static schedule data and stores
// the raw payloads under timestamp-derived keys.
package archive

import (
	"context"
	"net/url"

	"github.com/vllry/transit-archive/pkg/fetch"
	"github.com/vllry/transit-archive/pkg/ledger"
	"github.com/vllry/transit-archive/pkg/store"

	"go.uber.org/zap"
)

const (
	contentTypeJSON = "application/json"
	contentTypeZip  = "application/zip"
	contentTypeText = "text/plain; charset=utf-8"
)

// Fetcher is the upstream HTTP capability. *fetch.Client implements it.
type Fetcher interface {
	Get(ctx context.Context, rawURL string, params url.Values) (*fetch.Response, error)
	Head(ctx context.Context, rawURL string) (*fetch.Response, error)
}

// Deps are the collaborators shared by every archiver.
type Deps struct {
	Client Fetcher
	Store  store.Store
	Ledger ledger.Ledger // Optional.
	Logger *zap.Logger   // Optional.
}

func (d Deps) withDefaults() Deps {
	if d.Ledger == nil {
		d.Ledger = ledger.Nop{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return d
}

// record adds e to the ledger. The bucket is authoritative, so a ledger
// failure is logged and not returned.
func (d Deps) record(ctx context.Context, e ledger.Entry) {
	if err := d.Ledger.Record(ctx, e); err != nil {
		d.Logger.Warn("Failed to record archive in ledger", zap.String("key", e.Key), zap.Error(err))
	}
}
