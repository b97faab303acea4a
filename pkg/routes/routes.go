// Package routes loads the bus route list and splits it into the fixed-size
// batches accepted by the Bus Tracker getvehicles endpoint.
package routes

import (
	"bufio"
	"bytes"
	_ "embed"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// BatchSize is the maximum number of routes the Bus Tracker API accepts per request.
const BatchSize = 10

//go:embed bus_routes.txt
var defaultRoutes []byte

// Batch is an ordered group of at most BatchSize route identifiers.
type Batch []string

// Join renders the batch as the comma list used in the rt query parameter.
func (b Batch) Join() string {
	return strings.Join(b, ",")
}

// Batcher holds the route list, partitioned once at construction.
type Batcher struct {
	batches []Batch
}

// NewDefaultBatcher builds a Batcher from the route list compiled into the binary.
func NewDefaultBatcher() (*Batcher, error) {
	return NewBatcher(bytes.NewReader(defaultRoutes))
}

// NewBatcherFromFile builds a Batcher from a route file on disk.
func NewBatcherFromFile(path string) (*Batcher, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open route file %s", path)
	}
	defer f.Close()

	return NewBatcher(f)
}

// NewBatcher reads a route resource: a header line, then one route per line
// with the identifier as the first comma-delimited field.
func NewBatcher(r io.Reader) (*Batcher, error) {
	ids, err := readRouteIDs(r)
	if err != nil {
		return nil, err
	}

	return &Batcher{batches: partition(ids, BatchSize)}, nil
}

// Batches returns the route batches in source order.
// The returned slice is a copy; callers may not mutate the Batcher through it.
func (b *Batcher) Batches() []Batch {
	out := make([]Batch, len(b.batches))
	copy(out, b.batches)
	return out
}

// Len returns the number of routes across all batches.
func (b *Batcher) Len() int {
	n := 0
	for _, batch := range b.batches {
		n += len(batch)
	}
	return n
}

func readRouteIDs(r io.Reader) ([]string, error) {
	var ids []string

	scanner := bufio.NewScanner(r)
	header := true
	for scanner.Scan() {
		if header {
			header = false
			continue
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		id, _, _ := strings.Cut(line, ",")
		ids = append(ids, strings.TrimSpace(id))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read route list")
	}

	return ids, nil
}

func partition(ids []string, size int) []Batch {
	batches := make([]Batch, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}

		batch := make(Batch, end-start)
		copy(batch, ids[start:end])
		batches = append(batches, batch)
	}

	return batches
}
