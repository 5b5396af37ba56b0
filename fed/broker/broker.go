// Package broker implements the in-process coordination core behind the
// "inproc" and "test" core types. Importing it (usually with a blank import)
// registers both factories with package fed.
//
// The broker keeps one member per registered federate and grants time
// conservatively: a federate waiting for time is granted the earliest of its
// request, its next pending delivery and what every other executing federate
// could still send it. Values and messages are stamped with the granted time
// of the sender and delivered at the receiver's first grant at or after the
// stamp.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/tesp-cosim/cosim/fed"
)

type phase int

const (
	phaseCreated phase = iota
	phaseInitializing
	phaseExecuting
	phaseFinalized
)

func (p phase) String() string {
	switch p {
	case phaseCreated:
		return "created"
	case phaseInitializing:
		return "initializing"
	case phaseExecuting:
		return "executing"
	case phaseFinalized:
		return "finalized"
	}
	return "unknown"
}

type member struct {
	id      fed.FederateID
	name    string
	opts    fed.FederateOptions
	phase   phase
	granted fed.Time

	// set while a RequestTime call is parked in the broker
	waiting bool
	request fed.Time
	grantCh chan struct{}
	result  *fed.Grant

	pending   *deliveryHeap
	pubs      []string
	subs      []string
	endpoints []string
	execReady bool
}

// candidate is the earliest time the member could be granted if nothing
// else constrained it.
func (m *member) candidate() fed.Time {
	c := min(m.request, m.pending.earliest())
	if m.granted <= fed.MaxTime-m.opts.TimeDelta {
		c = max(c, m.granted+m.opts.TimeDelta)
	}
	return c
}

type publication struct {
	owner *member
	typ   fed.ValueType
	units string
}

// Broker is an in-process fed.Core. It is safe for concurrent use by the
// goroutines driving its federates.
type Broker struct {
	name     string
	typ      fed.CoreType
	expected int
	clock    clock.Clock
	log      *logrus.Entry

	mu        sync.Mutex
	members   []*member // registration order
	byName    map[string]*member
	pubs      map[string]*publication
	subs      map[string][]*member // key -> subscribers
	endpoints map[string]*member

	initCh   chan struct{}
	initDone bool
	execCh   chan struct{}
	execDone bool

	done   chan struct{}
	closed bool
}

// New creates a broker that releases its barriers once opts.Federates
// federates have arrived.
func New(opts fed.CoreOptions) (*Broker, error) {
	expected := opts.Federates
	if expected == 0 {
		expected = 1
	}
	if expected < 0 {
		return nil, fmt.Errorf("%w: federate count must be positive, got %d", fed.ErrConfig, opts.Federates)
	}
	name := opts.Name
	if name == "" {
		name = "default"
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	b := &Broker{
		name:      name,
		typ:       opts.Type,
		expected:  expected,
		clock:     clk,
		log:       logrus.WithField("core", name),
		byName:    make(map[string]*member),
		pubs:      make(map[string]*publication),
		subs:      make(map[string][]*member),
		endpoints: make(map[string]*member),
		initCh:    make(chan struct{}),
		execCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	b.log.Debugf("Created %s core expecting %d federates", opts.Type, expected)
	return b, nil
}

// Name returns the core name.
func (b *Broker) Name() string { return b.name }

// member looks up id; the caller holds b.mu.
func (b *Broker) member(id fed.FederateID) (*member, error) {
	if b.closed {
		return nil, fmt.Errorf("%w: core %s is closed", fed.ErrConnection, b.name)
	}
	if int(id) < 0 || int(id) >= len(b.members) {
		return nil, fmt.Errorf("%w: unknown federate id %d", fed.ErrInvalidState, id)
	}
	m := b.members[id]
	if m.phase == phaseFinalized {
		return nil, fmt.Errorf("%w: federate %q", fed.ErrAlreadyFinalized, m.name)
	}
	return m, nil
}

func (b *Broker) RegisterFederate(name string, opts fed.FederateOptions) (fed.FederateID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, fmt.Errorf("%w: core %s is closed", fed.ErrConnection, b.name)
	}
	if _, ok := b.byName[name]; ok {
		return 0, fmt.Errorf("%w: federate %q already registered with core %s", fed.ErrDuplicateName, name, b.name)
	}
	if b.initDone {
		return 0, fmt.Errorf("%w: federation %s already past initialization", fed.ErrInvalidState, b.name)
	}
	if len(b.members) >= b.expected {
		return 0, fmt.Errorf("%w: federation %s is full (%d federates)", fed.ErrConfig, b.name, b.expected)
	}
	m := &member{
		id:      fed.FederateID(len(b.members)),
		name:    name,
		opts:    opts,
		phase:   phaseCreated,
		pending: newDeliveryHeap(),
	}
	b.members = append(b.members, m)
	b.byName[name] = m
	b.log.Debugf("Registered federate %s as %d", name, m.id)
	return m.id, nil
}

func (b *Broker) RegisterPublication(id fed.FederateID, key string, typ fed.ValueType, units string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, err := b.member(id)
	if err != nil {
		return err
	}
	if p, ok := b.pubs[key]; ok {
		return fmt.Errorf("%w: publication %q already registered by %q", fed.ErrDuplicateName, key, p.owner.name)
	}
	b.pubs[key] = &publication{owner: m, typ: typ, units: units}
	m.pubs = append(m.pubs, key)
	return nil
}

func (b *Broker) RegisterSubscription(id fed.FederateID, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, err := b.member(id)
	if err != nil {
		return err
	}
	for _, s := range b.subs[key] {
		if s == m {
			return nil
		}
	}
	b.subs[key] = append(b.subs[key], m)
	m.subs = append(m.subs, key)
	return nil
}

func (b *Broker) RegisterEndpoint(id fed.FederateID, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, err := b.member(id)
	if err != nil {
		return err
	}
	if owner, ok := b.endpoints[name]; ok {
		return fmt.Errorf("%w: endpoint %q already registered by %q", fed.ErrDuplicateName, name, owner.name)
	}
	b.endpoints[name] = m
	m.endpoints = append(m.endpoints, name)
	return nil
}

// EnterInitializing blocks until every expected federate has entered
// initializing mode (or finalized).
func (b *Broker) EnterInitializing(ctx context.Context, id fed.FederateID) error {
	b.mu.Lock()
	m, err := b.member(id)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	if m.phase != phaseCreated {
		b.mu.Unlock()
		return fmt.Errorf("%w: federate %q is %s", fed.ErrInvalidState, m.name, m.phase)
	}
	m.phase = phaseInitializing
	b.checkBarriers()
	ch := b.initCh
	b.mu.Unlock()

	if err := b.wait(ctx, m, ch); err != nil {
		return fmt.Errorf("initialization barrier of %s: %w", b.name, err)
	}
	return nil
}

// EnterExecuting blocks until every expected federate has entered executing
// mode (or finalized). The granted time of the federate starts at zero.
func (b *Broker) EnterExecuting(ctx context.Context, id fed.FederateID) error {
	b.mu.Lock()
	m, err := b.member(id)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	if m.phase != phaseInitializing || !b.initDone {
		b.mu.Unlock()
		return fmt.Errorf("%w: federate %q cannot enter executing mode while %s", fed.ErrInvalidState, m.name, m.phase)
	}
	m.execReady = true
	b.checkBarriers()
	ch := b.execCh
	b.mu.Unlock()

	if err := b.wait(ctx, m, ch); err != nil {
		return fmt.Errorf("execution barrier of %s: %w", b.name, err)
	}
	return nil
}

// checkBarriers releases the barriers whose quorum is reached. The caller
// holds b.mu.
func (b *Broker) checkBarriers() {
	if len(b.members) < b.expected {
		return
	}
	if !b.initDone {
		for _, m := range b.members {
			if m.phase == phaseCreated {
				return
			}
		}
		b.initDone = true
		close(b.initCh)
		b.log.Infof("All %d federates initializing", len(b.members))
	}
	if !b.execDone {
		for _, m := range b.members {
			if m.phase != phaseFinalized && !m.execReady {
				return
			}
		}
		b.execDone = true
		for _, m := range b.members {
			if m.phase != phaseFinalized {
				m.phase = phaseExecuting
				m.granted = fed.InitialTime
			}
		}
		b.warnUnresolved()
		close(b.execCh)
		b.log.Infof("All %d federates executing", len(b.members))
	}
}

// warnUnresolved logs subscriptions whose key has no publisher.
func (b *Broker) warnUnresolved() {
	keys := make([]string, 0, len(b.subs))
	for key := range b.subs {
		if _, ok := b.pubs[key]; !ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		b.log.Warnf("Subscription %s has no publisher", key)
	}
}

// wait blocks on ch, honouring the context, the member's wait limit and
// Close.
func (b *Broker) wait(ctx context.Context, m *member, ch <-chan struct{}) error {
	var timeout <-chan time.Time
	if m.opts.WaitLimit > 0 {
		t := b.clock.Timer(m.opts.WaitLimit)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case <-ch:
		return nil
	case <-b.done:
		return fmt.Errorf("%w: core %s closed", fed.ErrConnection, b.name)
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout:
		return fmt.Errorf("%w: federate %q waited %s", fed.ErrHandshakeTimeout, m.name, m.opts.WaitLimit)
	}
}

// RequestTime parks the federate until the broker can grant it a time.
func (b *Broker) RequestTime(ctx context.Context, id fed.FederateID, target fed.Time) (fed.Grant, error) {
	b.mu.Lock()
	m, err := b.member(id)
	if err != nil {
		b.mu.Unlock()
		return fed.Grant{}, err
	}
	if m.phase != phaseExecuting {
		b.mu.Unlock()
		return fed.Grant{}, fmt.Errorf("%w: federate %q requested time while %s", fed.ErrInvalidState, m.name, m.phase)
	}
	if m.waiting {
		b.mu.Unlock()
		return fed.Grant{}, fmt.Errorf("%w: federate %q already has a pending request", fed.ErrInvalidState, m.name)
	}
	m.waiting = true
	m.request = target
	m.result = nil
	m.grantCh = make(chan struct{})
	ch := m.grantCh
	b.coordinate()
	b.mu.Unlock()

	waitErr := b.wait(ctx, m, ch)

	b.mu.Lock()
	defer b.mu.Unlock()
	if m.result != nil {
		g := *m.result
		m.result = nil
		return g, nil
	}
	m.waiting = false
	return fed.Grant{}, waitErr
}

// coordinate grants every waiting member that can advance, repeating until
// a full pass changes nothing. The caller holds b.mu.
func (b *Broker) coordinate() {
	for changed := true; changed; {
		changed = false
		for _, m := range b.members {
			if !m.waiting {
				continue
			}
			if t, ok := b.grantable(m); ok {
				b.grant(m, t)
				changed = true
			}
		}
	}
}

func (b *Broker) grantable(m *member) (fed.Time, bool) {
	g := m.granted
	if m.request <= g || m.pending.earliest() <= g {
		return g, true
	}
	bound := fed.MaxTime
	for _, k := range b.members {
		if k == m || k.phase != phaseExecuting {
			continue
		}
		if k.waiting {
			bound = min(bound, k.candidate())
		} else {
			bound = min(bound, k.granted)
		}
	}
	t := min(m.candidate(), bound)
	return t, t > g
}

func (b *Broker) grant(m *member, t fed.Time) {
	m.granted = t
	m.waiting = false
	m.result = &fed.Grant{Time: t, Deliveries: m.pending.popUntil(t)}
	close(m.grantCh)
	m.grantCh = nil
	b.log.Tracef("Granted %s to %s (%d deliveries)", t, m.name, len(m.result.Deliveries))
}

// UpdateTimeDelta changes the minimum advance of an executing federate and
// re-evaluates every parked request against it.
func (b *Broker) UpdateTimeDelta(id fed.FederateID, delta fed.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, err := b.member(id)
	if err != nil {
		return err
	}
	if m.phase != phaseExecuting {
		return fmt.Errorf("%w: federate %q changed its time delta while %s", fed.ErrInvalidState, m.name, m.phase)
	}
	if delta < 0 {
		return fmt.Errorf("%w: time delta must be non-negative, got %s", fed.ErrConfig, delta)
	}
	m.opts.TimeDelta = delta
	b.log.Debugf("Federate %s time delta now %s", m.name, delta)
	b.coordinate()
	return nil
}

// Publish stamps the payload with the publisher's granted time and queues it
// for every subscriber of key.
func (b *Broker) Publish(id fed.FederateID, key string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, err := b.member(id)
	if err != nil {
		return err
	}
	if m.phase != phaseExecuting {
		return fmt.Errorf("%w: federate %q published while %s", fed.ErrInvalidState, m.name, m.phase)
	}
	p, ok := b.pubs[key]
	if !ok || p.owner != m {
		return fmt.Errorf("%w: federate %q does not own publication %q", fed.ErrUnknownKey, m.name, key)
	}
	for _, s := range b.subs[key] {
		s.pending.schedule(fed.Delivery{
			Kind:    fed.DeliveryValue,
			Key:     key,
			Source:  m.name,
			Stamp:   m.granted,
			Payload: payload,
		})
	}
	b.coordinate()
	return nil
}

// Send queues a message for the federate owning the destination endpoint.
func (b *Broker) Send(id fed.FederateID, source, destination string, payload []byte, messageID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, err := b.member(id)
	if err != nil {
		return err
	}
	if m.phase != phaseExecuting {
		return fmt.Errorf("%w: federate %q sent while %s", fed.ErrInvalidState, m.name, m.phase)
	}
	if owner, ok := b.endpoints[source]; !ok || owner != m {
		return fmt.Errorf("%w: federate %q does not own endpoint %q", fed.ErrUnknownKey, m.name, source)
	}
	dst, ok := b.endpoints[destination]
	if !ok {
		return fmt.Errorf("%w: no endpoint %q", fed.ErrUnknownKey, destination)
	}
	dst.pending.schedule(fed.Delivery{
		Kind:      fed.DeliveryMessage,
		Key:       destination,
		Source:    source,
		Stamp:     m.granted,
		Payload:   payload,
		MessageID: messageID,
	})
	b.coordinate()
	return nil
}

// Finalize removes the federate and everything it registered, then lets the
// remaining federates advance without it.
func (b *Broker) Finalize(id fed.FederateID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, err := b.member(id)
	if err != nil {
		return err
	}
	m.phase = phaseFinalized
	m.waiting = false
	for _, key := range m.pubs {
		delete(b.pubs, key)
	}
	for _, key := range m.subs {
		subs := b.subs[key]
		for i, s := range subs {
			if s == m {
				subs = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(subs) == 0 {
			delete(b.subs, key)
		} else {
			b.subs[key] = subs
		}
	}
	for _, name := range m.endpoints {
		delete(b.endpoints, name)
	}
	m.pubs, m.subs, m.endpoints = nil, nil, nil
	m.pending = newDeliveryHeap()
	delete(b.byName, m.name)
	b.log.Debugf("Federate %s finalized at %s", m.name, m.granted)

	b.checkBarriers()
	b.coordinate()
	return nil
}

// Query answers federation queries (target "", "federation", "root" or the
// core name) and per-federate queries (target = federate name). Answers are
// JSON encoded.
func (b *Broker) Query(target, query string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", fmt.Errorf("%w: core %s is closed", fed.ErrConnection, b.name)
	}
	var answer any
	var ok bool
	switch target {
	case "", "federation", "root", b.name:
		answer, ok = b.federationQuery(query)
	default:
		m, found := b.byName[target]
		if !found {
			return "", fmt.Errorf("%w: query target %q", fed.ErrUnknownKey, target)
		}
		answer, ok = b.federateQuery(m, query)
	}
	if !ok {
		return "", fmt.Errorf("%w: query %q on %q", fed.ErrUnknownKey, query, target)
	}
	out, err := json.Marshal(answer)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (b *Broker) federationQuery(query string) (any, bool) {
	switch query {
	case "name":
		return b.name, true
	case "federates":
		names := []string{}
		for _, m := range b.members {
			if m.phase != phaseFinalized {
				names = append(names, m.name)
			}
		}
		return names, true
	case "publications":
		return sortedKeys(b.pubs), true
	case "subscriptions":
		return sortedKeys(b.subs), true
	case "endpoints":
		return sortedKeys(b.endpoints), true
	case "isinit":
		return b.initDone, true
	case "isconnected":
		return !b.closed, true
	case "current_time":
		times := make(map[string]float64)
		for _, m := range b.members {
			if m.phase != phaseFinalized {
				times[m.name] = m.granted.Seconds()
			}
		}
		return times, true
	}
	return nil, false
}

func (b *Broker) federateQuery(m *member, query string) (any, bool) {
	switch query {
	case "name":
		return m.name, true
	case "state":
		return m.phase.String(), true
	case "publications":
		return sortedCopy(m.pubs), true
	case "subscriptions":
		return sortedCopy(m.subs), true
	case "endpoints":
		return sortedCopy(m.endpoints), true
	case "isinit":
		return m.phase != phaseCreated, true
	case "current_time":
		return m.granted.Seconds(), true
	}
	return nil, false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedCopy(s []string) []string {
	out := append([]string{}, s...)
	sort.Strings(out)
	return out
}

// Close wakes every waiting federate with ErrConnection. Later calls on the
// broker fail with ErrConnection. Close is idempotent.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.done)
	b.log.Debug("Core closed")
	return nil
}
