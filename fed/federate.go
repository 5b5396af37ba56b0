package fed

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"

	"github.com/sirupsen/logrus"

	"github.com/tesp-cosim/cosim/fed/trace"
)

// State is the lifecycle state of a federate.
type State string

const (
	StateCreated      State = "created"
	StateInitializing State = "initializing"
	StateExecuting    State = "executing"
	StateFinalized    State = "finalized"
)

// Federate is one participant of a federation. It is driven by a single
// goroutine: none of its methods may be called concurrently.
type Federate struct {
	name  string
	id    FederateID
	cfg   Config
	core  Core
	log   *logrus.Entry
	trace *trace.SimulationTrace

	state   State
	granted Time

	pubs      map[string]*Publication
	pubOrder  []*Publication
	subs      map[string]*Subscription   // by local name
	subsByKey map[string][]*Subscription // by target key
	subOrder  []*Subscription
	endpoints map[string]*Endpoint // by full name
	epOrder   []*Endpoint

	// events holds the subscription names updated by the latest grant;
	// eventCursor marks how many have been consumed through Events.
	events      []string
	eventCursor int
}

func newFederate(name string, id FederateID, cfg Config, core Core) *Federate {
	if cfg.ValueOrder == "" {
		cfg.ValueOrder = FirstArrived
	}
	return &Federate{
		name:      name,
		id:        id,
		cfg:       cfg,
		core:      core,
		log:       logrus.WithField("federate", name),
		state:     StateCreated,
		pubs:      make(map[string]*Publication),
		subs:      make(map[string]*Subscription),
		subsByKey: make(map[string][]*Subscription),
		endpoints: make(map[string]*Endpoint),
	}
}

// Name returns the federate name.
func (f *Federate) Name() string { return f.name }

// State returns the lifecycle state.
func (f *Federate) State() State { return f.state }

// CurrentTime returns the latest granted time.
func (f *Federate) CurrentTime() Time { return f.granted }

// Config returns a copy of the config the federate was created with.
func (f *Federate) Config() Config { return f.cfg }

// SetTrace attaches a trace that records grants, publications and deliveries.
// A trace may be shared by several federates.
func (f *Federate) SetTrace(st *trace.SimulationTrace) { f.trace = st }

// checkState returns nil if the federate is in one of the allowed states.
func (f *Federate) checkState(op string, allowed ...State) error {
	if f.state == StateFinalized {
		return fmt.Errorf("%w: %s on federate %q", ErrAlreadyFinalized, op, f.name)
	}
	for _, s := range allowed {
		if f.state == s {
			return nil
		}
	}
	return fmt.Errorf("%w: %s on federate %q in state %s", ErrInvalidState, op, f.name, f.state)
}

// EnterInitializingMode waits until every federate of the federation has
// entered initializing mode.
func (f *Federate) EnterInitializingMode(ctx context.Context) error {
	if err := f.checkState("enter initializing mode", StateCreated); err != nil {
		return err
	}
	f.log.Debug("Entering initializing mode")
	if err := f.core.EnterInitializing(ctx, f.id); err != nil {
		return fmt.Errorf("federate %q entering initializing mode: %w", f.name, err)
	}
	f.state = StateInitializing
	return nil
}

// EnterExecutingMode waits until every federate of the federation has entered
// executing mode. A federate still in created state passes through
// initializing mode first. Calling it again while executing is a no-op.
func (f *Federate) EnterExecutingMode(ctx context.Context) error {
	if f.state == StateExecuting {
		f.log.Debug("Already in executing mode")
		return nil
	}
	if f.state == StateCreated {
		if err := f.EnterInitializingMode(ctx); err != nil {
			return err
		}
	}
	if err := f.checkState("enter executing mode", StateInitializing); err != nil {
		return err
	}
	f.log.Info("Entering executing mode")
	if err := f.core.EnterExecuting(ctx, f.id); err != nil {
		return fmt.Errorf("federate %q entering executing mode: %w", f.name, err)
	}
	f.state = StateExecuting
	f.granted = InitialTime
	return nil
}

// RequestTime blocks until the federation grants a time the caller must act
// on: either target itself or an earlier time at which values or messages
// arrive for this federate. Grants that reach neither are absorbed here, so
// the returned times are non-decreasing and a loop of
//
//	for granted < target { granted, err = f.RequestTime(ctx, target) }
//
// terminates. Requests for a time at or before the current time return the
// current time.
func (f *Federate) RequestTime(ctx context.Context, target Time) (Time, error) {
	for {
		g, filed, err := f.requestOnce(ctx, target)
		if err != nil {
			return f.granted, err
		}
		if g >= target || filed > 0 {
			return g, nil
		}
		f.log.Tracef("Intermediate grant %s while requesting %s", g, target)
	}
}

// RequestTimeStep performs a single request/grant exchange and returns the
// granted time, which may fall short of target when other federates force an
// earlier grant.
func (f *Federate) RequestTimeStep(ctx context.Context, target Time) (Time, error) {
	g, _, err := f.requestOnce(ctx, target)
	if err != nil {
		return f.granted, err
	}
	return g, nil
}

// RequestNextStep requests the current time plus the time delta (or the
// smallest possible step when no delta is configured).
func (f *Federate) RequestNextStep(ctx context.Context) (Time, error) {
	step := maxTime(f.cfg.TimeDelta, Epsilon)
	target := MaxTime
	if f.granted < MaxTime-step {
		target = f.granted + step
	}
	return f.RequestTime(ctx, target)
}

// SetTimeDelta changes the minimum advance of every later grant while the
// federate is executing. RequestNextStep steps by the new delta.
func (f *Federate) SetTimeDelta(delta Time) error {
	if err := f.checkState("set time delta", StateExecuting); err != nil {
		return err
	}
	if delta < 0 {
		return fmt.Errorf("%w: time delta must be non-negative, got %s", ErrConfig, delta)
	}
	if err := f.core.UpdateTimeDelta(f.id, delta); err != nil {
		return fmt.Errorf("federate %q updating time delta: %w", f.name, err)
	}
	f.cfg.TimeDelta = delta
	f.log.Debugf("Time delta set to %s", delta)
	return nil
}

func (f *Federate) requestOnce(ctx context.Context, target Time) (Time, int, error) {
	if err := f.checkState("request time", StateExecuting); err != nil {
		return f.granted, 0, err
	}
	if target < 0 {
		return f.granted, 0, fmt.Errorf("%w: negative time request %s", ErrConfig, target)
	}
	grant, err := f.core.RequestTime(ctx, f.id, target)
	if err != nil {
		return f.granted, 0, fmt.Errorf("federate %q requesting %s: %w", f.name, target, err)
	}
	if grant.Time < f.granted {
		return f.granted, 0, fmt.Errorf("%w: core granted %s after %s", ErrInvalidState, grant.Time, f.granted)
	}
	f.granted = grant.Time
	filed := f.applyGrant(grant)
	f.trace.RecordGrant(trace.GrantRecord{
		Federate:  f.name,
		Requested: int64(target),
		Granted:   int64(grant.Time),
		Updates:   len(grant.Deliveries),
	})
	return grant.Time, filed, nil
}

// applyGrant starts a new granted-time window and files the deliveries. It
// returns how many reached a subscription or endpoint.
func (f *Federate) applyGrant(grant Grant) int {
	f.events = f.events[:0]
	f.eventCursor = 0
	for _, s := range f.subOrder {
		s.resetWindow()
	}
	filed := 0
	seen := make(map[string]bool)
	for _, d := range grant.Deliveries {
		switch d.Kind {
		case DeliveryValue:
			v, err := DecodeValue(d.Payload)
			if err != nil {
				f.log.Warnf("Dropping undecodable value on %s from %s: %v", d.Key, d.Source, err)
				continue
			}
			if len(f.subsByKey[d.Key]) > 0 {
				filed++
			}
			for _, s := range f.subsByKey[d.Key] {
				s.receive(v)
				if !seen[s.name] {
					seen[s.name] = true
					f.events = append(f.events, s.name)
				}
			}
			f.trace.RecordDelivery(trace.DeliveryRecord{
				Federate: f.name,
				Key:      d.Key,
				Source:   d.Source,
				Stamp:    int64(d.Stamp),
				Granted:  int64(grant.Time),
				Value:    v.String(),
			})
		case DeliveryMessage:
			ep, ok := f.endpoints[d.Key]
			if !ok {
				f.log.Warnf("Dropping message for unknown endpoint %s", d.Key)
				continue
			}
			filed++
			ep.receive(&Message{
				ID:          d.MessageID,
				Source:      d.Source,
				Destination: d.Key,
				Time:        d.Stamp,
				Data:        d.Payload,
			})
		}
	}
	if len(grant.Deliveries) > 0 {
		f.log.Debugf("Granted %s with %d deliveries", grant.Time, len(grant.Deliveries))
	}
	return filed
}

// Events yields the names of the subscriptions updated by the latest grant.
// Iteration consumes the events: a second pass within the same window yields
// only the names not consumed yet. The next grant starts a fresh sequence.
func (f *Federate) Events() iter.Seq[string] {
	return func(yield func(string) bool) {
		for f.eventCursor < len(f.events) {
			name := f.events[f.eventCursor]
			f.eventCursor++
			if !yield(name) {
				return
			}
		}
	}
}

// Subscription returns the subscription registered under name.
func (f *Federate) Subscription(name string) (*Subscription, error) {
	s, ok := f.subs[name]
	if !ok {
		return nil, fmt.Errorf("%w: subscription %q on federate %q", ErrUnknownKey, name, f.name)
	}
	return s, nil
}

// Publication returns the publication registered under key (global key or
// local name).
func (f *Federate) Publication(key string) (*Publication, error) {
	if p, ok := f.pubs[key]; ok {
		return p, nil
	}
	if p, ok := f.pubs[f.localKey(key)]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: publication %q on federate %q", ErrUnknownKey, key, f.name)
}

// Endpoint returns the endpoint registered under name (full or local).
func (f *Federate) Endpoint(name string) (*Endpoint, error) {
	if ep, ok := f.endpoints[name]; ok {
		return ep, nil
	}
	if ep, ok := f.endpoints[f.localKey(name)]; ok {
		return ep, nil
	}
	return nil, fmt.Errorf("%w: endpoint %q on federate %q", ErrUnknownKey, name, f.name)
}

// Publications returns the publications in registration order.
func (f *Federate) Publications() []*Publication {
	return append([]*Publication(nil), f.pubOrder...)
}

// Subscriptions returns the subscriptions in registration order.
func (f *Federate) Subscriptions() []*Subscription {
	return append([]*Subscription(nil), f.subOrder...)
}

// Endpoints returns the endpoints in registration order.
func (f *Federate) Endpoints() []*Endpoint {
	return append([]*Endpoint(nil), f.epOrder...)
}

func (f *Federate) localKey(name string) string {
	return f.name + "/" + name
}

// Query answers federate-local queries ("name", "state", "current_time")
// itself and forwards everything else to the core. An empty target or the
// federate's own name selects this federate for core queries that support it.
func (f *Federate) Query(target, query string) (string, error) {
	if target == "" || target == f.name {
		var answer any
		switch query {
		case "name":
			answer = f.name
		case "state":
			answer = string(f.state)
		case "current_time":
			answer = f.granted.Seconds()
		}
		if answer != nil {
			out, err := json.Marshal(answer)
			if err != nil {
				return "", err
			}
			return string(out), nil
		}
		target = f.name
	}
	if f.state == StateFinalized {
		return "", fmt.Errorf("%w: query on federate %q", ErrAlreadyFinalized, f.name)
	}
	return f.core.Query(target, query)
}

// Finalize leaves the federation and releases everything the federate
// registered. The first call succeeds; later calls fail with
// ErrAlreadyFinalized.
func (f *Federate) Finalize() error {
	if f.state == StateFinalized {
		return fmt.Errorf("%w: federate %q", ErrAlreadyFinalized, f.name)
	}
	f.state = StateFinalized
	f.log.Infof("Finalizing at %s", f.granted)
	if err := f.core.Finalize(f.id); err != nil {
		return fmt.Errorf("federate %q finalize: %w", f.name, err)
	}
	return nil
}
