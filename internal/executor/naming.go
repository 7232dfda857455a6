package executor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
)

// DefaultPattern is used when no pattern is configured.
const DefaultPattern = "Thread ${counter} - ${name}"

// ErrInvalidPattern is returned when a name pattern keeps an unresolved
// ${...} token after substitution.
var ErrInvalidPattern = errors.New("executor: invalid name pattern")

const (
	tokenCounter  = "${counter}"
	tokenName     = "${name}"
	tokenLongName = "${longName}"

	// dollarMark stands in for '$' in caller names during substitution.
	dollarMark = "\x00dollar\x00"
)

var counter atomic.Uint64

// NextCounter allocates the next value of the process-wide name counter.
func NextCounter() uint64 { return counter.Add(1) }

// ResolveName substitutes pattern tokens with name and, when the pattern
// uses ${counter}, a freshly allocated counter value. An empty pattern means
// DefaultPattern.
func ResolveName(pattern, name string) (string, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	var seq uint64
	if strings.Contains(pattern, tokenCounter) {
		seq = NextCounter()
	}
	return resolve(pattern, name, seq)
}

// ValidatePattern checks pattern without allocating a counter value.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return nil
	}
	_, err := resolve(pattern, "", 0)
	return err
}

func resolve(pattern, name string, seq uint64) (string, error) {
	longName := strings.ReplaceAll(name, "$", dollarMark)
	shortName := longName
	if i := strings.IndexByte(shortName, '?'); i >= 0 {
		shortName = shortName[:i]
	}

	out := strings.ReplaceAll(pattern, tokenCounter, strconv.FormatUint(seq, 10))
	out = strings.ReplaceAll(out, tokenLongName, longName)
	out = strings.ReplaceAll(out, tokenName, shortName)
	if strings.Contains(out, "${") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPattern, pattern)
	}
	return strings.ReplaceAll(out, dollarMark, "$"), nil
}
