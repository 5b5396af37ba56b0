package fed

import (
	"fmt"
)

// SubscriptionOptions configure a subscription beyond its target key.
type SubscriptionOptions struct {
	Name    string    // local name reported by Events; defaults to the key
	Type    ValueType // expected type, used to parse Default
	Units   string
	Default *Value // returned by Value until the first update arrives
	List    bool   // the consumer reads every queued update through Values
}

// Subscription is a named input of a federate bound to a publication key.
type Subscription struct {
	name    string
	key     string
	typ     ValueType
	units   string
	list    bool
	order   ValueOrder
	def     Value
	hasDef  bool
	last    Value
	hasLast bool
	window  []Value
}

// Name returns the local name.
func (s *Subscription) Name() string { return s.name }

// Key returns the publication key this subscription targets.
func (s *Subscription) Key() string { return s.key }

// Type returns the expected value type.
func (s *Subscription) Type() ValueType { return s.typ }

// Units returns the declared units.
func (s *Subscription) Units() string { return s.units }

// IsList reports whether the subscription was declared as a list.
func (s *Subscription) IsList() bool { return s.list }

// Updated reports whether the latest grant delivered at least one value.
func (s *Subscription) Updated() bool { return len(s.window) > 0 }

// Value returns the value for the current granted-time window. With several
// updates in the window, the federate's ValueOrder picks the first or last
// arrival. Without updates it returns the last value ever received, or the
// default (the zero value of the type when none was configured).
func (s *Subscription) Value() Value {
	if n := len(s.window); n > 0 {
		if s.order == LastArrived {
			return s.window[n-1]
		}
		return s.window[0]
	}
	if s.hasLast {
		return s.last
	}
	if s.hasDef {
		return s.def
	}
	return Value{Type: s.typ}
}

// Values returns every update of the current window in arrival order.
func (s *Subscription) Values() []Value {
	return append([]Value(nil), s.window...)
}

func (s *Subscription) receive(v Value) {
	s.window = append(s.window, v)
	s.last = v
	s.hasLast = true
}

func (s *Subscription) resetWindow() {
	s.window = s.window[:0]
}

// RegisterSubscription subscribes to the publication key.
func (f *Federate) RegisterSubscription(key, units string) (*Subscription, error) {
	return f.RegisterSubscriptionWithOptions(key, SubscriptionOptions{Units: units})
}

// RegisterSubscriptionWithOptions subscribes to key under a local name with
// an optional default value.
func (f *Federate) RegisterSubscriptionWithOptions(key string, opts SubscriptionOptions) (*Subscription, error) {
	if err := f.checkState("register subscription", StateCreated, StateInitializing); err != nil {
		return nil, err
	}
	if key == "" {
		return nil, fmt.Errorf("%w: empty subscription key", ErrConfig)
	}
	name := opts.Name
	if name == "" {
		name = key
	}
	if _, ok := f.subs[name]; ok {
		return nil, fmt.Errorf("%w: subscription %q already registered by %q", ErrDuplicateName, name, f.name)
	}
	typ, err := ParseValueType(string(opts.Type))
	if err != nil {
		return nil, err
	}
	if _, ok := f.subsByKey[key]; !ok {
		if err := f.core.RegisterSubscription(f.id, key); err != nil {
			return nil, err
		}
	}
	s := &Subscription{
		name:  name,
		key:   key,
		typ:   typ,
		units: opts.Units,
		list:  opts.List,
		order: f.cfg.ValueOrder,
	}
	if opts.Default != nil {
		s.def = *opts.Default
		s.hasDef = true
	}
	f.subs[name] = s
	f.subsByKey[key] = append(f.subsByKey[key], s)
	f.subOrder = append(f.subOrder, s)
	f.log.Debugf("Registered subscription %s -> %s", name, key)
	return s, nil
}
