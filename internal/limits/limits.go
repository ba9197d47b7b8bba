// Package limits discovers how much memory image decoding may use.
package limits

import (
	"github.com/pbnjay/memory"
	"github.com/pkg/errors"
	"math"
	"regexp"
	"runtime/debug"
	"strconv"
	"strings"
)

var ErrInvalidLimit = errors.New("invalid memory limit")

// Unlimited disables the memory check
const Unlimited int64 = -1

var rxLimit = regexp.MustCompile(`^(\d+)([KMG]?)$`)

// ParseMemoryLimit reads limits written as 128M, 512K, 2G or plain bytes; -1 means unlimited
func ParseMemoryLimit(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "-1" {
		return Unlimited, nil
	}

	match := rxLimit.FindStringSubmatch(s)
	if match == nil {
		return 0, errors.Wrapf(ErrInvalidLimit, "could not parse %q", s)
	}

	n, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidLimit, "could not parse %q: %v", s, err)
	}

	shift := map[string]uint{"": 0, "K": 10, "M": 20, "G": 30}[match[2]]
	if n > math.MaxInt64>>shift {
		return 0, errors.Wrapf(ErrInvalidLimit, "%q does not fit in 64 bits", s)
	}

	return n << shift, nil
}

// MemoryCeiling resolves the ceiling in bytes. A configured value wins, then
// GOMEMLIMIT, then the physical memory of the host. Unlimited and 0 (unknown)
// both mean no check should be made.
func MemoryCeiling(configured string) (int64, error) {
	if strings.TrimSpace(configured) != "" {
		return ParseMemoryLimit(configured)
	}

	// a negative input only reads the current limit
	if limit := debug.SetMemoryLimit(-1); limit > 0 && limit != math.MaxInt64 {
		return limit, nil
	}

	total := memory.TotalMemory()
	if total == 0 || total > math.MaxInt64 {
		return 0, nil
	}

	return int64(total), nil
}

// Exceeds reports whether estimated bytes do not fit under the ceiling
func Exceeds(estimated, ceiling int64) bool {
	if ceiling <= 0 {
		return false
	}

	return estimated > ceiling
}
