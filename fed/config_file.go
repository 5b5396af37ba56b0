package fed

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig is a federate description loadable from a YAML (or JSON) file.
// It accepts HELICS-style publication/subscription/endpoint lists as well as
// the FNCS "values" map keyed by local name.
// Nil pointer fields mean "not set in the file" and keep the NewConfig default.
type FileConfig struct {
	Name           string                 `yaml:"name"`
	CoreType       string                 `yaml:"core_type"`
	CoreName       string                 `yaml:"core_name"`
	CoreInitString string                 `yaml:"core_init_string"`
	TimeDelta      *Time                  `yaml:"time_delta"`
	WaitLimit      *time.Duration         `yaml:"wait_limit"`
	ConnectRetries *int                   `yaml:"connect_retries"`
	ValueOrder     string                 `yaml:"value_order"`
	Publications   []PublicationConfig    `yaml:"publications"`
	Subscriptions  []SubscriptionConfig   `yaml:"subscriptions"`
	Values         map[string]ValueConfig `yaml:"values"`
	Endpoints      []EndpointConfig       `yaml:"endpoints"`
}

// PublicationConfig describes one publication.
type PublicationConfig struct {
	Key    string `yaml:"key"`
	Type   string `yaml:"type"`
	Units  string `yaml:"units"`
	Global bool   `yaml:"global"`
}

// SubscriptionConfig describes one subscription.
type SubscriptionConfig struct {
	Key     string  `yaml:"key"`
	Name    string  `yaml:"name"`
	Type    string  `yaml:"type"`
	Units   string  `yaml:"units"`
	Default *string `yaml:"default"`
	List    bool    `yaml:"list"`
}

// ValueConfig is the FNCS form of a subscription, keyed by local name.
type ValueConfig struct {
	Topic   string  `yaml:"topic"`
	Default *string `yaml:"default"`
	Type    string  `yaml:"type"`
	List    bool    `yaml:"list"`
}

// EndpointConfig describes one endpoint.
type EndpointConfig struct {
	Name        string `yaml:"name"`
	Global      bool   `yaml:"global"`
	Destination string `yaml:"destination"`
}

// LoadConfig reads and parses a federate config file.
func LoadConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading federate config: %w", err)
	}
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("%w: parsing federate config %s: %v", ErrConfig, path, err)
	}
	if err := fc.Validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

// Validate checks names and types in the file.
func (fc *FileConfig) Validate() error {
	if fc.Name == "" {
		return fmt.Errorf("%w: federate config has no name", ErrConfig)
	}
	if fc.CoreType != "" {
		if _, err := ParseCoreType(fc.CoreType); err != nil {
			return err
		}
	}
	if !validValueOrders[ValueOrder(fc.ValueOrder)] {
		return fmt.Errorf("%w: unknown value order %q", ErrConfig, fc.ValueOrder)
	}
	for i, p := range fc.Publications {
		if p.Key == "" {
			return fmt.Errorf("%w: publication %d has no key", ErrConfig, i)
		}
		if _, err := ParseValueType(p.Type); err != nil {
			return err
		}
	}
	for i, s := range fc.Subscriptions {
		if s.Key == "" {
			return fmt.Errorf("%w: subscription %d has no key", ErrConfig, i)
		}
		if _, err := ParseValueType(s.Type); err != nil {
			return err
		}
	}
	for name, v := range fc.Values {
		if v.Topic == "" {
			return fmt.Errorf("%w: value %q has no topic", ErrConfig, name)
		}
		if _, err := ParseValueType(v.Type); err != nil {
			return err
		}
	}
	for i, e := range fc.Endpoints {
		if e.Name == "" {
			return fmt.Errorf("%w: endpoint %d has no name", ErrConfig, i)
		}
	}
	return nil
}

// FederateConfig builds the Config for the file, starting from NewConfig defaults.
func (fc *FileConfig) FederateConfig() (*Config, error) {
	cfg := NewConfig()
	if fc.CoreType != "" {
		if err := cfg.SetCoreType(fc.CoreType); err != nil {
			return nil, err
		}
	}
	cfg.CoreName = fc.CoreName
	if fc.CoreInitString != "" {
		cfg.CoreInitString = fc.CoreInitString
	}
	if fc.TimeDelta != nil {
		cfg.TimeDelta = *fc.TimeDelta
	}
	if fc.WaitLimit != nil {
		cfg.WaitLimit = *fc.WaitLimit
	}
	if fc.ConnectRetries != nil {
		cfg.ConnectRetries = *fc.ConnectRetries
	}
	if fc.ValueOrder != "" {
		cfg.ValueOrder = ValueOrder(fc.ValueOrder)
	}
	return cfg, cfg.Validate()
}

// subscriptionOptions flattens both subscription forms, FNCS values sorted by name.
func (fc *FileConfig) subscriptionOptions() ([]string, []SubscriptionOptions, error) {
	var keys []string
	var opts []SubscriptionOptions
	add := func(key, name, typ, units string, def *string, list bool) error {
		t, err := ParseValueType(typ)
		if err != nil {
			return err
		}
		o := SubscriptionOptions{Name: name, Type: t, Units: units, List: list}
		if def != nil {
			v, err := ParseValue(t, *def)
			if err != nil {
				return fmt.Errorf("default of subscription %q: %w", key, err)
			}
			o.Default = &v
		}
		keys = append(keys, key)
		opts = append(opts, o)
		return nil
	}
	for _, s := range fc.Subscriptions {
		if err := add(s.Key, s.Name, s.Type, s.Units, s.Default, s.List); err != nil {
			return nil, nil, err
		}
	}
	names := make([]string, 0, len(fc.Values))
	for name := range fc.Values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v := fc.Values[name]
		if err := add(v.Topic, name, v.Type, "", v.Default, v.List); err != nil {
			return nil, nil, err
		}
	}
	return keys, opts, nil
}

// CreateFederateFromConfig loads a federate config file, creates the
// federate and registers every interface it declares.
func (r *Runtime) CreateFederateFromConfig(path string) (*Federate, error) {
	fc, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	cfg, err := fc.FederateConfig()
	if err != nil {
		return nil, err
	}
	keys, subOpts, err := fc.subscriptionOptions()
	if err != nil {
		return nil, err
	}
	f, err := r.CreateFederate(fc.Name, cfg)
	if err != nil {
		return nil, err
	}
	if err := f.registerFromFile(fc, keys, subOpts); err != nil {
		_ = f.Finalize()
		return nil, err
	}
	return f, nil
}

func (f *Federate) registerFromFile(fc *FileConfig, keys []string, subOpts []SubscriptionOptions) error {
	for _, p := range fc.Publications {
		var err error
		if p.Global {
			_, err = f.RegisterGlobalPublication(p.Key, ValueType(p.Type), p.Units)
		} else {
			_, err = f.RegisterPublication(p.Key, ValueType(p.Type), p.Units)
		}
		if err != nil {
			return err
		}
	}
	for i, key := range keys {
		if _, err := f.RegisterSubscriptionWithOptions(key, subOpts[i]); err != nil {
			return err
		}
	}
	for _, e := range fc.Endpoints {
		var ep *Endpoint
		var err error
		if e.Global {
			ep, err = f.RegisterGlobalEndpoint(e.Name)
		} else {
			ep, err = f.RegisterEndpoint(e.Name)
		}
		if err != nil {
			return err
		}
		ep.SetDefaultDestination(e.Destination)
	}
	return nil
}
