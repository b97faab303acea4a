package routes

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func routeFile(n int) string {
	var sb strings.Builder
	sb.WriteString("route_id,route_type\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, "R%d,3\n", i)
	}
	return sb.String()
}

func TestBatcher_Batches(t *testing.T) {
	tests := []struct {
		name        string
		routes      int
		wantBatches int
		wantLast    int
	}{
		{name: "no data lines", routes: 0, wantBatches: 0},
		{name: "single route", routes: 1, wantBatches: 1, wantLast: 1},
		{name: "exactly one batch", routes: 10, wantBatches: 1, wantLast: 10},
		{name: "one over", routes: 11, wantBatches: 2, wantLast: 1},
		{name: "several batches", routes: 125, wantBatches: 13, wantLast: 5},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b, err := NewBatcher(strings.NewReader(routeFile(tc.routes)))
			require.NoError(t, err)

			batches := b.Batches()
			require.Len(t, batches, tc.wantBatches)
			assert.Equal(t, tc.routes, b.Len())

			var flat []string
			for i, batch := range batches {
				if i < len(batches)-1 {
					assert.Len(t, batch, BatchSize)
				} else {
					assert.Len(t, batch, tc.wantLast)
				}
				flat = append(flat, batch...)
			}

			for i, id := range flat {
				assert.Equal(t, fmt.Sprintf("R%d", i), id)
			}
		})
	}
}

func TestNewBatcher_parsesFirstField(t *testing.T) {
	input := "route_id,route_long_name\n" +
		"1,Bronzeville/Union Station\n" +
		"\n" +
		" X9 ,Ashland Express\n" +
		"J14\n"

	b, err := NewBatcher(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, []Batch{{"1", "X9", "J14"}}, b.Batches())
}

func TestNewBatcher_headerOnly(t *testing.T) {
	b, err := NewBatcher(strings.NewReader("route_id,route_type"))
	require.NoError(t, err)
	assert.Empty(t, b.Batches())
}

func TestNewDefaultBatcher(t *testing.T) {
	b, err := NewDefaultBatcher()
	require.NoError(t, err)

	batches := b.Batches()
	require.Len(t, batches, 13)
	assert.Equal(t, "1,2,3,4,X4,5,6,7,8,8A", batches[0].Join())
	assert.Equal(t, "9,X9,10,11,12,J14,15,18,20,21", batches[1].Join())
	assert.Equal(t, "171,172,192,201,206", batches[12].Join())
}

func TestBatcher_BatchesIsACopy(t *testing.T) {
	b, err := NewBatcher(strings.NewReader(routeFile(3)))
	require.NoError(t, err)

	first := b.Batches()
	first[0] = Batch{"mutated"}

	assert.Equal(t, Batch{"R0", "R1", "R2"}, b.Batches()[0])
}

func TestNewBatcherFromFile_missing(t *testing.T) {
	_, err := NewBatcherFromFile("/nonexistent/bus_routes.txt")
	assert.Error(t, err)
}
