package scenario

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tesp-cosim/cosim/fed"
	_ "github.com/tesp-cosim/cosim/fed/broker" // registers the inproc and test cores
	"github.com/tesp-cosim/cosim/fed/trace"
)

// Federate names used by RunLoadshed.
const (
	DriverName  = "loadshed"
	MonitorName = "monitor"
)

// Options configure RunLoadshed.
type Options struct {
	Stop       fed.Time
	Schedule   Schedule
	CoreType   string // defaults to the runtime default (inproc)
	InitString string // defaults to "--federates=2 --broker=loadshed"
	WaitLimit  time.Duration
	Trace      *trace.SimulationTrace
	Runtime    *fed.Runtime // optional; a private runtime is created and closed otherwise
}

// Result is what the monitor saw.
type Result struct {
	Observations []Observation
	DriverTime   fed.Time
	MonitorTime  fed.Time
}

// RunLoadshed runs the loadshed driver and a monitor as two federates of one
// federation until opts.Stop. Both federates are finalized before it
// returns, whatever the outcome.
func RunLoadshed(ctx context.Context, opts Options) (*Result, error) {
	if err := opts.Schedule.Validate(); err != nil {
		return nil, err
	}
	rt := opts.Runtime
	if rt == nil {
		rt = fed.NewRuntime()
		defer func() {
			if err := rt.Close(); err != nil {
				logrus.Warnf("Closing runtime: %v", err)
			}
		}()
	}

	cfg := fed.NewConfig()
	if opts.CoreType != "" {
		if err := cfg.SetCoreType(opts.CoreType); err != nil {
			return nil, err
		}
	}
	cfg.CoreInitString = "--federates=2 --broker=loadshed"
	if opts.InitString != "" {
		cfg.CoreInitString = opts.InitString
	}
	cfg.WaitLimit = opts.WaitLimit

	driverFed, err := rt.CreateFederate(DriverName, cfg)
	if err != nil {
		return nil, err
	}
	defer finalize(driverFed)
	monitorFed, err := rt.CreateFederate(MonitorName, cfg)
	if err != nil {
		return nil, err
	}
	defer finalize(monitorFed)
	driverFed.SetTrace(opts.Trace)
	monitorFed.SetTrace(opts.Trace)

	monitor, err := NewMonitor(monitorFed, nil, opts.Schedule.Endpoint, opts.Stop)
	if err != nil {
		return nil, err
	}
	driver, err := NewDriver(driverFed, opts.Schedule, opts.Stop, monitor.EndpointName())
	if err != nil {
		return nil, err
	}
	if _, err := monitorFed.RegisterSubscriptionWithOptions(driver.PublicationKey(), fed.SubscriptionOptions{Type: fed.TypeString, List: true}); err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer finalize(driverFed)
		return driver.Run(gctx)
	})
	g.Go(func() error {
		defer finalize(monitorFed)
		return monitor.Run(gctx)
	})
	err = g.Wait()
	res := &Result{
		Observations: monitor.Observations(),
		DriverTime:   driverFed.CurrentTime(),
		MonitorTime:  monitorFed.CurrentTime(),
	}
	return res, err
}

// finalize is best effort: errors are logged, a second call is ignored.
func finalize(f *fed.Federate) {
	if f.State() == fed.StateFinalized {
		return
	}
	if err := f.Finalize(); err != nil && !errors.Is(err, fed.ErrAlreadyFinalized) {
		logrus.Warnf("Finalizing %s: %v", f.Name(), err)
	}
}
