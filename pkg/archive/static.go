package archive

import (
	"context"
	"net/http"
	"time"

	"github.com/vllry/transit-archive/pkg/ledger"
	"github.com/vllry/transit-archive/pkg/store"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	DefaultStaticGTFSURL = "https://www.transitchicago.com/downloads/sch_data/google_transit.zip"

	// NoETag stands in for a missing ETag header. It never matches a stored value.
	NoETag = "<No ETag Provided>"
)

type StaticConfig struct {
	URL string
	Now func() time.Time // Defaults to time.Now.
}

// StaticArchiver downloads the static GTFS zip when its ETag has changed
// since the last archived copy.
type StaticArchiver struct {
	Deps
	cfg StaticConfig
}

func NewStaticArchiver(cfg StaticConfig, deps Deps) *StaticArchiver {
	if cfg.URL == "" {
		cfg.URL = DefaultStaticGTFSURL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &StaticArchiver{Deps: deps.withDefaults(), cfg: cfg}
}

// Fetch runs one check-and-archive cycle. The ETag record is only updated
// after the zip has been stored.
func (a *StaticArchiver) Fetch(ctx context.Context) error {
	previous, found, err := a.previousETag(ctx)
	if err != nil {
		return err
	}
	if found {
		a.Logger.Info("Most recently fetched static GTFS zip file had ETag", zap.String("etag", previous))
	} else {
		a.Logger.Info("No previous ETag record, will download current GTFS zip file", zap.String("key", ETagRecordKey))
	}

	head, err := a.Client.Head(ctx, a.cfg.URL)
	if err != nil {
		return errors.Wrap(err, "failed to probe static GTFS ETag")
	}
	current := head.Header.Get("ETag")
	if current == "" {
		current = NoETag
	}
	a.Logger.Info("Currently available static GTFS zip file has ETag", zap.String("etag", current))

	if found && current != NoETag && current == previous {
		a.Logger.Info("Latest ETag matches current ETag, skipping download")
		return nil
	}

	res, err := a.Client.Get(ctx, a.cfg.URL, nil)
	if err != nil {
		return errors.Wrap(err, "failed to download static GTFS")
	}

	date := a.modifiedDate(res.Header)
	keys, err := store.ListAll(ctx, a.Store, StaticDir(date))
	if err != nil {
		return err
	}
	key := StaticKey(date, NextStaticIndex(StaticDir(date), keys))

	a.Logger.Info("Downloading newer version and storing", zap.String("uri", a.Store.URI(key)))
	if err := a.Store.Write(ctx, key, res.Body, store.WriteOptions{ContentType: contentTypeZip}); err != nil {
		return errors.Wrap(err, "failed to store static GTFS")
	}
	a.Logger.Info("Successfully saved file, updating ETag")

	if err := a.Store.Write(ctx, ETagRecordKey, []byte(current), store.WriteOptions{ContentType: contentTypeText}); err != nil {
		return errors.Wrap(err, "failed to update ETag record")
	}
	a.Logger.Info("Successfully updated ETag", zap.String("etag", current))

	entry := ledger.NewEntry(ledger.KindStatic, key, a.cfg.Now(), res.Body)
	entry.ETag = current
	a.record(ctx, entry)
	return nil
}

func (a *StaticArchiver) previousETag(ctx context.Context) (string, bool, error) {
	b, err := a.Store.Read(ctx, ETagRecordKey)
	if errors.Is(err, store.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "failed to read ETag record")
	}
	return string(b), true, nil
}

// modifiedDate is the Last-Modified time in GMT, or the current UTC time when
// the header is missing or unparseable.
func (a *StaticArchiver) modifiedDate(h http.Header) time.Time {
	if lm := h.Get("Last-Modified"); lm != "" {
		t, err := http.ParseTime(lm)
		if err == nil {
			return t.UTC()
		}
		a.Logger.Warn("Unparseable Last-Modified header, using current date", zap.String("last_modified", lm))
	}
	return a.cfg.Now().UTC()
}
