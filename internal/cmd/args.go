package cmd

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/s-hammon/memloc/internal/memscan"
)

const maxPid = 1 << 22

// parsePid accepts "self", a numeric pid, or a substring of a process name.
func parsePid(s string) (int, error) {
	if s == "self" {
		return os.Getpid(), nil
	}

	pid, err := strconv.Atoi(s)
	if err != nil {
		return memscan.FindPidBySubstring(s)
	}
	if pid <= 0 || pid > maxPid {
		return 0, fmt.Errorf("invalid PID %q", s)
	}

	return pid, nil
}

// parseInterval understands 500us, 250ms and 2s, plus anything
// time.ParseDuration takes.
func parseInterval(s string) (time.Duration, error) {
	units := []struct {
		suffix string
		unit   time.Duration
	}{
		{"us", time.Microsecond},
		{"ms", time.Millisecond},
		{"s", time.Second},
	}

	d, err := time.ParseDuration(s)
	for _, u := range units {
		num, ok := strings.CutSuffix(s, u.suffix)
		if !ok {
			continue
		}

		if n, perr := strconv.ParseUint(num, 10, 32); perr == nil {
			d, err = time.Duration(n)*u.unit, nil
		}
		break
	}

	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	if d <= 0 {
		return 0, errors.New("interval must be positive")
	}

	return d, nil
}
