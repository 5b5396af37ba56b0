package fed

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// CoreType identifies the transport of the coordination core.
type CoreType string

const (
	CoreZMQ    CoreType = "zmq"
	CoreZMQSS  CoreType = "zmq_ss"
	CoreTCP    CoreType = "tcp"
	CoreTCPSS  CoreType = "tcp_ss"
	CoreUDP    CoreType = "udp"
	CoreIPC    CoreType = "ipc"
	CoreInproc CoreType = "inproc"
	CoreTest   CoreType = "test"
)

// coreTypeAliases maps accepted core type spellings to their canonical identifier.
var coreTypeAliases = map[string]CoreType{
	"zmq":          CoreZMQ,
	"zeromq":       CoreZMQ,
	"default":      CoreZMQ,
	"zmq_ss":       CoreZMQSS,
	"zmqss":        CoreZMQSS,
	"tcp":          CoreTCP,
	"tcp_ss":       CoreTCPSS,
	"tcpss":        CoreTCPSS,
	"udp":          CoreUDP,
	"ipc":          CoreIPC,
	"interprocess": CoreIPC,
	"inproc":       CoreInproc,
	"test":         CoreTest,
}

// ParseCoreType resolves a core type name, case-insensitively.
func ParseCoreType(s string) (CoreType, error) {
	t, ok := coreTypeAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: unrecognized core type %q", ErrConfig, s)
	}
	return t, nil
}

// ValueOrder selects which queued value Subscription.Value returns when more
// than one update lands in the same granted-time window.
type ValueOrder string

const (
	// FirstArrived returns the earliest update of the window, matching
	// FNCS-style consumers that read values[0].
	FirstArrived ValueOrder = "first"
	// LastArrived returns the most recent update of the window.
	LastArrived ValueOrder = "last"
)

var validValueOrders = map[ValueOrder]bool{
	FirstArrived: true,
	LastArrived:  true,
	"":           true, // empty defaults to first
}

// Config holds the federate info set before the federate is created.
type Config struct {
	CoreType       CoreType      // transport of the coordination core
	CoreName       string        // optional core name; defaults to the broker name
	CoreInitString string        // e.g. "--federates=2 --broker=loadshed"
	TimeDelta      Time          // minimum advance between two grants (0 = any later time)
	WaitLimit      time.Duration // limit on barrier and grant waits (0 = wait forever)
	ConnectRetries int           // extra attempts when the core cannot be reached
	Backoff        BackoffConfig // delay between connection attempts
	ValueOrder     ValueOrder    // "first" (default) or "last"
}

// NewConfig returns a Config for the in-process core with a single federate.
func NewConfig() *Config {
	return &Config{
		CoreType:       CoreInproc,
		CoreInitString: "--federates=1",
		ConnectRetries: 3,
		Backoff:        DefaultBackoffConfig(),
		ValueOrder:     FirstArrived,
	}
}

// SetCoreType sets the core type from its name; unknown names fail with ErrConfig.
func (c *Config) SetCoreType(name string) error {
	t, err := ParseCoreType(name)
	if err != nil {
		return err
	}
	c.CoreType = t
	return nil
}

// Validate checks the config before a federate is created from it. Core type
// aliases such as "default" are replaced by their canonical type.
func (c *Config) Validate() error {
	t, err := ParseCoreType(string(c.CoreType))
	if err != nil {
		return err
	}
	c.CoreType = t
	if c.TimeDelta < 0 {
		return fmt.Errorf("%w: time delta must be non-negative, got %s", ErrConfig, c.TimeDelta)
	}
	if c.WaitLimit < 0 {
		return fmt.Errorf("%w: wait limit must be non-negative, got %s", ErrConfig, c.WaitLimit)
	}
	if c.ConnectRetries < 0 {
		return fmt.Errorf("%w: connect retries must be non-negative, got %d", ErrConfig, c.ConnectRetries)
	}
	if !validValueOrders[c.ValueOrder] {
		return fmt.Errorf("%w: unknown value order %q", ErrConfig, c.ValueOrder)
	}
	if _, err := ParseInitString(c.CoreInitString); err != nil {
		return err
	}
	return nil
}

// InitOptions are the core parameters carried in the init string.
type InitOptions struct {
	Federates int           // number of federates the barriers wait for
	Broker    string        // federation name; federates with the same broker share a core
	Timeout   time.Duration // overrides Config.WaitLimit when set
}

// ParseInitString parses a core init string such as "--federates=2 --broker=main".
func ParseInitString(s string) (InitOptions, error) {
	opts := InitOptions{}
	fs := pflag.NewFlagSet("core", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.IntVar(&opts.Federates, "federates", 1, "number of federates in the federation")
	fs.IntVarP(&opts.Federates, "minfed", "f", 1, "alias of --federates")
	fs.StringVar(&opts.Broker, "broker", "default", "federation name")
	fs.DurationVar(&opts.Timeout, "timeout", 0, "coordination wait limit")
	if err := fs.Parse(strings.Fields(s)); err != nil {
		return InitOptions{}, fmt.Errorf("%w: init string %q: %v", ErrConfig, s, err)
	}
	if fs.NArg() > 0 {
		return InitOptions{}, fmt.Errorf("%w: init string %q: unexpected argument %q", ErrConfig, s, fs.Arg(0))
	}
	if opts.Federates < 1 {
		return InitOptions{}, fmt.Errorf("%w: init string %q: federates must be >= 1", ErrConfig, s)
	}
	if opts.Broker == "" {
		return InitOptions{}, fmt.Errorf("%w: init string %q: empty broker name", ErrConfig, s)
	}
	return opts, nil
}
