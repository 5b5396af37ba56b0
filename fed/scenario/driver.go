package scenario

import (
	"context"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/tesp-cosim/cosim/fed"
)

// driverQueries are logged once the driver is executing.
var driverQueries = []string{"federates", "endpoints", "publications", "isinit"}

// Driver publishes the schedule's switch values at their exact times.
type Driver struct {
	fed      *fed.Federate
	pub      *fed.Publication
	ep       *fed.Endpoint
	schedule Schedule
	stop     fed.Time
}

// NewDriver registers the status publication (and endpoint, when the
// schedule names one) on f. destination is where endpoint messages go.
func NewDriver(f *fed.Federate, schedule Schedule, stop fed.Time, destination string) (*Driver, error) {
	if err := schedule.Validate(); err != nil {
		return nil, err
	}
	pub, err := f.RegisterPublication(schedule.Publication, fed.TypeString, "")
	if err != nil {
		return nil, err
	}
	d := &Driver{fed: f, pub: pub, schedule: schedule, stop: stop}
	if schedule.Endpoint != "" {
		ep, err := f.RegisterEndpoint(schedule.Endpoint)
		if err != nil {
			return nil, err
		}
		ep.SetDefaultDestination(destination)
		d.ep = ep
	}
	return d, nil
}

// PublicationKey returns the federation-visible key of the status publication.
func (d *Driver) PublicationKey() string { return d.pub.Key() }

// Run enters executing mode, publishes every action scheduled at or before
// the stop time, then advances to the stop time.
func (d *Driver) Run(ctx context.Context) error {
	f := d.fed
	if err := f.EnterExecutingMode(ctx); err != nil {
		return err
	}
	for _, q := range driverQueries {
		answer, err := f.Query("federation", q)
		if err != nil {
			logrus.Debugf("Query %s failed: %v", q, err)
			continue
		}
		logrus.Debugf("%s=%s", q, answer)
	}

	for _, a := range d.schedule.Switchings {
		if a.At > d.stop {
			break
		}
		if err := advance(ctx, f, a.At); err != nil {
			return err
		}
		if err := d.apply(a); err != nil {
			return err
		}
	}
	return advance(ctx, f, d.stop)
}

func (d *Driver) apply(a Action) error {
	state := SwitchState(a.Value)
	logrus.Infof("Switching %s to %s at second %g", d.pub.Key(), state, d.fed.CurrentTime().Seconds())
	if err := d.pub.PublishString(strconv.Itoa(a.Value)); err != nil {
		return err
	}
	if d.ep != nil && d.ep.DefaultDestination() != "" {
		if err := d.ep.SendDefault([]byte(state)); err != nil {
			return fmt.Errorf("sending switch state: %w", err)
		}
	}
	return nil
}

// advance requests time until the federate has been granted target.
func advance(ctx context.Context, f *fed.Federate, target fed.Time) error {
	for f.CurrentTime() < target {
		if _, err := f.RequestTime(ctx, target); err != nil {
			return err
		}
	}
	return nil
}
