package archive

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/vllry/transit-archive/pkg/ledger"
	"github.com/vllry/transit-archive/pkg/store"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const DefaultTrainTrackerURL = "https://lapi.transitchicago.com/api/1.0/ttpositions.aspx"

// RailLines are the Train Tracker route codes requested on every fetch.
var RailLines = []string{"Red", "Blue", "Brn", "G", "Org", "P", "Pink", "Y"}

// ErrMalformedResponse is returned when an upstream payload lacks a required field.
var ErrMalformedResponse = errors.New("malformed upstream response")

type RailConfig struct {
	URL    string
	APIKey string
}

// RailArchiver stores Train Tracker position snapshots keyed by their own timestamp.
type RailArchiver struct {
	Deps
	cfg RailConfig
}

func NewRailArchiver(cfg RailConfig, deps Deps) *RailArchiver {
	if cfg.URL == "" {
		cfg.URL = DefaultTrainTrackerURL
	}
	return &RailArchiver{Deps: deps.withDefaults(), cfg: cfg}
}

// positionsResponse is the part of a ttpositions response we read.
type positionsResponse struct {
	CTATT struct {
		Tmst string `json:"tmst"`
	} `json:"ctatt"`
}

func (a *RailArchiver) Fetch(ctx context.Context) error {
	a.Logger.Info("Fetching rail data")

	res, err := a.Client.Get(ctx, a.cfg.URL, url.Values{
		"rt":         {strings.Join(RailLines, ",")},
		"outputType": {"JSON"},
		"key":        {a.cfg.APIKey},
	})
	if err != nil {
		return errors.Wrap(err, "failed to fetch rail data")
	}

	tmst, at, err := parseTimestamp(res.Body)
	if err != nil {
		return err
	}

	key := RailKey(tmst, at)
	a.Logger.Info("Storing rail data", zap.String("uri", a.Store.URI(key)))
	err = a.Store.Write(ctx, key, res.Body, store.WriteOptions{
		ContentType: contentTypeJSON,
		CustomTime:  at,
	})
	if err != nil {
		return errors.Wrap(err, "failed to store rail data")
	}
	a.Logger.Info("Rail data successfully stored", zap.Int("bytes", len(res.Body)))

	a.record(ctx, ledger.NewEntry(ledger.KindRail, key, at, res.Body))
	return nil
}

// parseTimestamp extracts ctatt.tmst, a Chicago local time without zone.
func parseTimestamp(body []byte) (string, time.Time, error) {
	var parsed positionsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", time.Time{}, errors.Wrapf(ErrMalformedResponse, "rail response is not json: %v", err)
	}

	tmst := parsed.CTATT.Tmst
	if tmst == "" {
		return "", time.Time{}, errors.Wrap(ErrMalformedResponse, "rail response has no ctatt.tmst")
	}

	at, err := time.ParseInLocation(railLayout, tmst, CentralTime)
	if err != nil {
		return "", time.Time{}, errors.Wrapf(ErrMalformedResponse, "rail timestamp %q: %v", tmst, err)
	}

	return tmst, at, nil
}
