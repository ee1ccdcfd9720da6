package membership

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"

	"gymdesk/internal/clock"
)

func TestNextCode(t *testing.T) {
	tests := []struct {
		last    string
		want    string
		wantErr bool
	}{
		{last: "", want: "XF001"},
		{last: "XF001", want: "XF002"},
		{last: "XF009", want: "XF010"},
		{last: "XF099", want: "XF100"},
		{last: "XF999", want: "XF1000"},
		{last: "XF1000", want: "XF1001"},
		{last: "XF", wantErr: true},
		{last: "AB123", wantErr: true},
		{last: "XF12a", wantErr: true},
		{last: "XF-12", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.last, func(t *testing.T) {
			got, err := NextCode(tt.last)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCodeLess(t *testing.T) {
	assert.True(t, CodeLess("XF999", "XF1000"))
	assert.True(t, CodeLess("XF001", "XF002"))
	assert.False(t, CodeLess("XF010", "XF009"))
	assert.False(t, CodeLess("XF005", "XF005"))
	assert.True(t, CodeLess("XF000123", "XF1000"))
	assert.True(t, CodeLess("XF-LEGACY-0001", "XF001"))
	assert.False(t, CodeLess("XF001", "legacy-7"))
}

// TestCodeSequenceProperty checks that successive allocations are distinct
// and ascend in storage order, across the three-digit boundary.
func TestCodeSequenceProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		start := rapid.Uint64Range(0, 5000).Draw(t, "start")
		steps := rapid.IntRange(1, 50).Draw(t, "steps")

		last := ""
		if start > 0 {
			last = FormatCode(start)
		}
		seen := map[string]bool{}
		for i := 0; i < steps; i++ {
			next, err := NextCode(last)
			if err != nil {
				t.Fatalf("NextCode(%q): %v", last, err)
			}
			if seen[next] {
				t.Fatalf("code %s issued twice", next)
			}
			if last != "" && !CodeLess(last, next) {
				t.Fatalf("%s does not sort after %s", next, last)
			}
			n, err := ParseCode(next)
			if err != nil || FormatCode(n) != next {
				t.Fatalf("code %s does not round-trip", next)
			}
			seen[next] = true
			last = next
		}
	})
}

type fixedSource struct {
	code string
	err  error
}

func (f fixedSource) MaxCode(context.Context) (string, error) { return f.code, f.err }

func TestAllocatorFallsBackOnMalformedMax(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	clk := clock.NewManual(time.UnixMicro(1_700_000_123_456))
	a := NewAllocator(clk, zap.New(core))

	code, err := a.Next(context.Background(), fixedSource{code: "legacy-7"})
	require.NoError(t, err)
	assert.Equal(t, "XF123456", code)
	assert.True(t, strings.HasPrefix(code, CodePrefix))
	assert.Equal(t, 1, logs.Len())
}

func TestAllocatorPropagatesStorageError(t *testing.T) {
	a := NewAllocator(clock.System{}, zap.NewNop())
	boom := errors.New("boom")
	_, err := a.Next(context.Background(), fixedSource{err: boom})
	assert.ErrorIs(t, err, boom)
}
