package firestore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextCreatedAt(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		prev time.Time
		want time.Time
		out  time.Time
	}{
		{
			name: "first message keeps its time",
			want: base.Add(1500 * time.Nanosecond),
			out:  base.Add(time.Microsecond),
		},
		{
			name: "later time is kept",
			prev: base,
			want: base.Add(time.Second),
			out:  base.Add(time.Second),
		},
		{
			name: "equal time is bumped",
			prev: base,
			want: base,
			out:  base.Add(time.Microsecond),
		},
		{
			name: "earlier time is bumped past prev",
			prev: base,
			want: base.Add(-time.Minute),
			out:  base.Add(time.Microsecond),
		},
		{
			name: "same microsecond is bumped",
			prev: base.Add(2 * time.Microsecond),
			want: base.Add(2*time.Microsecond + 900*time.Nanosecond),
			out:  base.Add(3 * time.Microsecond),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := nextCreatedAt(tt.prev, tt.want)
			assert.True(t, got.Equal(tt.out), "got %s, want %s", got, tt.out)
			if !tt.prev.IsZero() {
				assert.True(t, got.After(tt.prev))
			}
		})
	}
}
