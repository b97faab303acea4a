package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vllry/transit-archive/pkg/ledger"
	"github.com/vllry/transit-archive/pkg/routes"
)

var busTrigger = time.Date(2022, 8, 22, 1, 2, 3, 0, time.UTC)

const busKey = "realtime/raw/bus/2022/08/21/2022-08-21T20_02_03.json"

// busServer echoes the requested routes. Requests for failRoutes answer 500
// for the first failures attempts.
type busServer struct {
	mu         sync.Mutex
	seen       []string
	failRoutes string
	failures   int32
	attempts   int32
}

func (b *busServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("format") != "json" || q.Get("key") != "fakeBusKey" || q.Get("tmres") != "s" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	rt := q.Get("rt")
	b.mu.Lock()
	b.seen = append(b.seen, rt)
	b.mu.Unlock()

	if rt == b.failRoutes && atomic.AddInt32(&b.attempts, 1) <= b.failures {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	// Delay the first batch so it completes last.
	if rt == "1,2" {
		time.Sleep(50 * time.Millisecond)
	}
	fmt.Fprintf(w, `{"bustime-response":{"rt":%q}}`, rt)
}

func busBatches() []routes.Batch {
	return []routes.Batch{{"1", "2"}, {"3", "X4"}, {"5"}}
}

func TestBusArchiver_Fetch(t *testing.T) {
	srv := httptest.NewServer(&busServer{})
	defer srv.Close()

	deps, s, l, logs := testDeps(t, 10)
	a := NewBusArchiver(BusConfig{URL: srv.URL, APIKey: "fakeBusKey", Batches: busBatches(), Concurrency: 3}, deps)

	require.NoError(t, a.Fetch(context.Background(), busTrigger))

	obj, ok := s.Get(busKey)
	require.True(t, ok)
	assert.Equal(t, "application/json", obj.Options.ContentType)
	assert.Equal(t,
		`[{"bustime-response":{"rt":"1,2"}},`+"\n"+
			`{"bustime-response":{"rt":"3,X4"}},`+"\n"+
			`{"bustime-response":{"rt":"5"}}]`,
		string(obj.Content))

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(obj.Content, &decoded))
	assert.Len(t, decoded, 3)

	entries := l.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.KindBus, entries[0].Kind)
	assert.Equal(t, busKey, entries[0].Key)

	assert.Equal(t, []string{
		"Fetching bus data",
		"Storing bus data",
		"Bus data successfully stored",
	}, messages(logs))
}

func TestBusArchiver_Fetch_queriesEveryBatch(t *testing.T) {
	bs := &busServer{}
	srv := httptest.NewServer(bs)
	defer srv.Close()

	b, err := routes.NewDefaultBatcher()
	require.NoError(t, err)

	deps, s, _, _ := testDeps(t, 10)
	a := NewBusArchiver(BusConfig{URL: srv.URL, APIKey: "fakeBusKey", Batches: b.Batches()}, deps)
	require.NoError(t, a.Fetch(context.Background(), busTrigger))

	assert.Len(t, bs.seen, 13)
	assert.Contains(t, bs.seen, "1,2,3,4,X4,5,6,7,8,8A")
	assert.Contains(t, bs.seen, "171,172,192,201,206")
	assert.Equal(t, []string{busKey}, s.Writes())
}

func TestBusArchiver_Fetch_retries(t *testing.T) {
	tests := []struct {
		name        string
		failures    int32
		expectErr   bool
		expectWrite bool
	}{
		{name: "recovers after two server errors", failures: 2, expectWrite: true},
		{name: "fails after three server errors", failures: 3, expectErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			bs := &busServer{failRoutes: "3,X4", failures: tc.failures}
			srv := httptest.NewServer(bs)
			defer srv.Close()

			deps, s, l, _ := testDeps(t, 10)
			a := NewBusArchiver(BusConfig{URL: srv.URL, APIKey: "fakeBusKey", Batches: busBatches()}, deps)

			err := a.Fetch(context.Background(), busTrigger)
			assert.Equal(t, int32(3), atomic.LoadInt32(&bs.attempts))
			if tc.expectErr {
				assert.Error(t, err)
				assert.Empty(t, s.Writes())
				assert.Empty(t, l.Entries())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []string{busKey}, s.Writes())
		})
	}
}

func TestBusArchiver_Fetch_noBatches(t *testing.T) {
	deps, s, _, _ := testDeps(t, 10)
	a := NewBusArchiver(BusConfig{URL: "http://unused.invalid", APIKey: "fakeBusKey"}, deps)

	require.NoError(t, a.Fetch(context.Background(), busTrigger))
	obj, ok := s.Get(busKey)
	require.True(t, ok)
	assert.Equal(t, "[]", string(obj.Content))
}

func TestBusArchiver_Fetch_requiresTrigger(t *testing.T) {
	deps, s, _, _ := testDeps(t, 10)
	a := NewBusArchiver(BusConfig{APIKey: "fakeBusKey", Batches: busBatches()}, deps)

	assert.Error(t, a.Fetch(context.Background(), time.Time{}))
	assert.Empty(t, s.Writes())
}

func TestBusArchiver_Fetch_storageFailure(t *testing.T) {
	srv := httptest.NewServer(&busServer{})
	defer srv.Close()

	deps, s, l, _ := testDeps(t, 10)
	s.WriteErr = errors.New("bucket unavailable")
	a := NewBusArchiver(BusConfig{URL: srv.URL, APIKey: "fakeBusKey", Batches: busBatches()}, deps)

	err := a.Fetch(context.Background(), busTrigger)
	assert.ErrorContains(t, err, "bucket unavailable")
	assert.Empty(t, l.Entries())
}

func TestBusArchiver_Fetch_ledgerFailureIsNotFatal(t *testing.T) {
	srv := httptest.NewServer(&busServer{})
	defer srv.Close()

	deps, s, l, logs := testDeps(t, 10)
	l.Err = errors.New("db down")
	a := NewBusArchiver(BusConfig{URL: srv.URL, APIKey: "fakeBusKey", Batches: busBatches()}, deps)

	require.NoError(t, a.Fetch(context.Background(), busTrigger))
	assert.Equal(t, []string{busKey}, s.Writes())
	assert.Equal(t, 1, logs.FilterMessage("Failed to record archive in ledger").Len())
}
