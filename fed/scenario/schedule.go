// Package scenario drives the loadshed switching scenario: a driver
// federate publishes a switch status on a fixed schedule and a monitor
// federate records what it observes at each granted time.
package scenario

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tesp-cosim/cosim/fed"
)

// Switch states sent to the status endpoint.
const (
	StateClosed = "CLOSED"
	StateOpen   = "OPEN"
)

// Action publishes Value once the driver has been granted At.
type Action struct {
	At    fed.Time `yaml:"at"`
	Value int      `yaml:"value"`
}

// UnmarshalYAML accepts either a two-element sequence [seconds, value] or a
// mapping with "at" and "value".
func (a *Action) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		if len(node.Content) != 2 {
			return fmt.Errorf("%w: line %d: switching must be [time, value]", fed.ErrConfig, node.Line)
		}
		if err := node.Content[0].Decode(&a.At); err != nil {
			return err
		}
		if err := node.Content[1].Decode(&a.Value); err != nil {
			return fmt.Errorf("%w: line %d: switching value: %v", fed.ErrConfig, node.Line, err)
		}
		return nil
	case yaml.MappingNode:
		type plain Action
		var p plain
		if err := node.Decode(&p); err != nil {
			return err
		}
		*a = Action(p)
		return nil
	}
	return fmt.Errorf("%w: line %d: switching must be a sequence or a mapping", fed.ErrConfig, node.Line)
}

// Schedule is the switching plan of the loadshed driver.
type Schedule struct {
	// Publication is the local name of the status publication.
	Publication string `yaml:"publication"`
	// Endpoint is the local name of the status endpoint; empty disables messages.
	Endpoint   string   `yaml:"endpoint"`
	Switchings []Action `yaml:"switchings"`
}

// DefaultLoadshedSchedule closes the switch at 0, opens it at 1800s, closes
// it at 5400s, opens it at 16200s and closes it again at 19800s.
func DefaultLoadshedSchedule() Schedule {
	return Schedule{
		Publication: "sw_status",
		Endpoint:    "sw_status",
		Switchings: []Action{
			{At: fed.Seconds(0), Value: 1},
			{At: fed.Seconds(1800), Value: 0},
			{At: fed.Seconds(5400), Value: 1},
			{At: fed.Seconds(16200), Value: 0},
			{At: fed.Seconds(19800), Value: 1},
		},
	}
}

// LoadSchedule reads a YAML schedule. Fields missing from the file keep the
// values of DefaultLoadshedSchedule.
func LoadSchedule(path string) (Schedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Schedule{}, fmt.Errorf("reading schedule: %w", err)
	}
	s := DefaultLoadshedSchedule()
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Schedule{}, fmt.Errorf("%w: parsing schedule %s: %v", fed.ErrConfig, path, err)
	}
	if err := s.Validate(); err != nil {
		return Schedule{}, err
	}
	return s, nil
}

// Validate checks that switching times strictly increase and that every
// value is 0 or 1.
func (s Schedule) Validate() error {
	if s.Publication == "" {
		return fmt.Errorf("%w: schedule has no publication name", fed.ErrConfig)
	}
	for i, a := range s.Switchings {
		if a.At < 0 {
			return fmt.Errorf("%w: switching %d at negative time %s", fed.ErrConfig, i, a.At)
		}
		if i > 0 && a.At <= s.Switchings[i-1].At {
			return fmt.Errorf("%w: switching %d at %s does not follow %s", fed.ErrConfig, i, a.At, s.Switchings[i-1].At)
		}
		if a.Value != 0 && a.Value != 1 {
			return fmt.Errorf("%w: switching %d has value %d, want 0 or 1", fed.ErrConfig, i, a.Value)
		}
	}
	return nil
}

// SwitchState names the switch position for a schedule value.
func SwitchState(value int) string {
	if value == 1 {
		return StateClosed
	}
	return StateOpen
}
