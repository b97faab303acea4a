package archive

import (
	"testing"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vllry/transit-archive/pkg/fetch"
	"github.com/vllry/transit-archive/pkg/ledger"
	"github.com/vllry/transit-archive/pkg/store"
)

// testDeps wires a retrying client without delays, a fake store, a fake
// ledger and an observed logger.
func testDeps(t *testing.T, pageSize int) (Deps, *store.FakeStore, *ledger.FakeLedger, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	client := fetch.NewClient(
		fetch.WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
		fetch.WithLogger(logger),
	)
	s := store.NewFakeStore(pageSize)
	l := &ledger.FakeLedger{}

	return Deps{Client: client, Store: s, Ledger: l, Logger: logger}, s, l, logs
}

func messages(logs *observer.ObservedLogs) []string {
	var out []string
	for _, e := range logs.All() {
		out = append(out, e.Message)
	}
	return out
}
