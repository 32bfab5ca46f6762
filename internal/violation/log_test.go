package violation

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogKeepsMostRecentN(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		capacity int
		inserts  int
	}{
		{"under capacity", 10, 4},
		{"exactly full", 10, 10},
		{"overflow", 10, 25},
		{"capacity one", 1, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			l := NewLog(tt.capacity)
			for i := range tt.inserts {
				l.Add(Record{ID: fmt.Sprint(i), OccurredAt: epoch.Add(time.Duration(i) * time.Second)})
			}

			snap := l.Snapshot()
			want := min(tt.inserts, tt.capacity)
			require.Len(t, snap, want)
			for i, r := range snap {
				assert.Equal(t, fmt.Sprint(tt.inserts-1-i), r.ID)
				if i > 0 {
					assert.True(t, r.OccurredAt.Before(snap[i-1].OccurredAt))
				}
			}
		})
	}
}

func TestLogSnapshotIsACopy(t *testing.T) {
	t.Parallel()

	l := NewLog(2)
	l.Add(Record{ID: "a"})
	snap := l.Snapshot()
	snap[0].ID = "mutated"

	assert.Equal(t, "a", l.Snapshot()[0].ID)
}

func TestLogDefaultsAndClear(t *testing.T) {
	t.Parallel()

	l := NewLog(0)
	assert.Equal(t, DefaultLogCapacity, l.Capacity())
	l.Add(Record{ID: "a"})
	l.Clear()
	assert.Equal(t, 0, l.Len())
}
