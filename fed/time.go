package fed

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Time is simulated time in nanoseconds since the start of execution.
type Time int64

const (
	// Epsilon is the smallest representable time step.
	Epsilon Time = 1
	// MaxTime requests "run until nothing else happens".
	MaxTime Time = math.MaxInt64
	// InitialTime is the granted time right after entering executing mode.
	InitialTime Time = 0
)

// Seconds converts a number of seconds to simulated time. NaN has no
// simulated time and converts to InitialTime.
func Seconds(s float64) Time {
	if math.IsNaN(s) {
		return InitialTime
	}
	if s >= float64(MaxTime)/1e9 {
		return MaxTime
	}
	return Time(math.Round(s * 1e9))
}

// Duration converts a wall-clock style duration to simulated time.
func Duration(d time.Duration) Time {
	return Time(d)
}

// Seconds returns t as floating point seconds.
func (t Time) Seconds() float64 {
	return float64(t) / 1e9
}

// String formats t the way time.Duration does ("1h30m0s"); MaxTime prints as "max".
func (t Time) String() string {
	if t == MaxTime {
		return "max"
	}
	return time.Duration(t).String()
}

// ParseTime accepts either a plain number of seconds ("1800", "0.5") or a Go
// duration string ("15s", "1h").
func ParseTime(s string) (Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty time value", ErrConfig)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("%w: time %q is not a finite number", ErrConfig, s)
		}
		if f < 0 {
			return 0, fmt.Errorf("%w: negative time %q", ErrConfig, s)
		}
		return Seconds(f), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid time %q", ErrConfig, s)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: negative time %q", ErrConfig, s)
	}
	return Duration(d), nil
}

// UnmarshalYAML lets config files write times as seconds or duration strings.
func (t *Time) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("%w: line %d: time must be a scalar", ErrConfig, node.Line)
	}
	parsed, err := ParseTime(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*t = parsed
	return nil
}

func maxTime(a, b Time) Time {
	if a > b {
		return a
	}
	return b
}
