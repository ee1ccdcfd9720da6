package membership

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"gymdesk/internal/clock"
)

// CodePrefix is the fixed tag of every external member code.
const CodePrefix = "XF"

const (
	codeDigits     = 3
	fallbackModulo = 1_000_000
)

// FormatCode renders sequence number n as an external code.
func FormatCode(n uint64) string {
	return fmt.Sprintf("%s%0*d", CodePrefix, codeDigits, n)
}

// ParseCode returns the sequence number of a well-formed code.
func ParseCode(code string) (uint64, error) {
	digits, ok := strings.CutPrefix(code, CodePrefix)
	if !ok || digits == "" {
		return 0, fmt.Errorf("member code %q: missing %s prefix or number", code, CodePrefix)
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("member code %q: non-digit suffix", code)
		}
	}
	n, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("member code %q: %w", code, err)
	}
	return n, nil
}

// NextCode computes the code following last. An empty last starts the
// sequence at 1.
func NextCode(last string) (string, error) {
	if last == "" {
		return FormatCode(1), nil
	}
	n, err := ParseCode(last)
	if err != nil {
		return "", err
	}
	return FormatCode(n + 1), nil
}

// CodeLess orders codes the way storage picks the maximum. Well-formed codes
// compare by sequence number and sort after every malformed code; malformed
// codes compare by length, then lexicographically.
func CodeLess(a, b string) bool {
	na, errA := ParseCode(a)
	nb, errB := ParseCode(b)
	switch {
	case errA == nil && errB == nil:
		return na < nb
	case errA == nil || errB == nil:
		return errA != nil
	case len(a) != len(b):
		return len(a) < len(b)
	}
	return a < b
}

// WellFormed reports whether code is a prefix followed by a decimal number.
func WellFormed(code string) bool {
	_, err := ParseCode(code)
	return err == nil
}

// CodeSource reads the highest issued code.
type CodeSource interface {
	MaxCode(ctx context.Context) (string, error)
}

// Allocator issues external member codes.
type Allocator struct {
	clock  clock.Clock
	logger *zap.Logger
}

// NewAllocator creates an allocator.
func NewAllocator(c clock.Clock, logger *zap.Logger) *Allocator {
	return &Allocator{clock: c, logger: logger}
}

// Next returns the code after the highest one in src. A malformed maximum
// does not fail the caller: a time-derived code is issued instead and the
// unique constraint on codes catches the unlikely collision.
func (a *Allocator) Next(ctx context.Context, src CodeSource) (string, error) {
	last, err := src.MaxCode(ctx)
	if err != nil {
		return "", err
	}
	code, err := NextCode(last)
	if err != nil {
		code = a.fallback()
		a.logger.Warn("malformed maximum member code, using time-derived code",
			zap.String("max_code", last),
			zap.String("code", code),
			zap.Error(err),
		)
	}
	return code, nil
}

func (a *Allocator) fallback() string {
	micros := a.clock.Now().UnixMicro() % fallbackModulo
	if micros < 0 {
		micros = -micros
	}
	return fmt.Sprintf("%s%06d", CodePrefix, micros)
}
