package fed

import (
	"fmt"

	"github.com/google/uuid"
)

// Message is a unit of data sent between endpoints.
type Message struct {
	ID          string
	Source      string
	Destination string
	Time        Time // granted time of the sender when it was sent
	Data        []byte
}

// Endpoint is a named message mailbox owned by a federate.
type Endpoint struct {
	fed         *Federate
	name        string
	defaultDest string
	inbox       []*Message
}

// Name returns the federation-visible endpoint name.
func (e *Endpoint) Name() string { return e.name }

// DefaultDestination returns the destination used by SendDefault.
func (e *Endpoint) DefaultDestination() string { return e.defaultDest }

// SetDefaultDestination sets the destination used by SendDefault.
func (e *Endpoint) SetDefaultDestination(dest string) { e.defaultDest = dest }

// RegisterEndpoint registers an endpoint under "<federate>/<name>".
func (f *Federate) RegisterEndpoint(name string) (*Endpoint, error) {
	return f.registerEndpoint(f.localKey(name))
}

// RegisterGlobalEndpoint registers an endpoint whose name is used verbatim.
func (f *Federate) RegisterGlobalEndpoint(name string) (*Endpoint, error) {
	return f.registerEndpoint(name)
}

func (f *Federate) registerEndpoint(name string) (*Endpoint, error) {
	if err := f.checkState("register endpoint", StateCreated, StateInitializing); err != nil {
		return nil, err
	}
	if _, ok := f.endpoints[name]; ok {
		return nil, fmt.Errorf("%w: endpoint %q already registered by %q", ErrDuplicateName, name, f.name)
	}
	if err := f.core.RegisterEndpoint(f.id, name); err != nil {
		return nil, err
	}
	ep := &Endpoint{fed: f, name: name}
	f.endpoints[name] = ep
	f.epOrder = append(f.epOrder, ep)
	f.log.Debugf("Registered endpoint %s", name)
	return ep, nil
}

// Send queues data for the destination endpoint. It is delivered at the
// receiver's first grant at or after the sender's current granted time.
func (e *Endpoint) Send(dest string, data []byte) error {
	f := e.fed
	if err := f.checkState("send from "+e.name, StateExecuting); err != nil {
		return err
	}
	if dest == "" {
		return fmt.Errorf("%w: endpoint %q has no destination", ErrConfig, e.name)
	}
	id := uuid.New().String()
	if err := f.core.Send(f.id, e.name, dest, append([]byte(nil), data...), id); err != nil {
		return fmt.Errorf("endpoint %q sending to %q: %w", e.name, dest, err)
	}
	f.log.Debugf("Sent %d bytes %s -> %s at %s", len(data), e.name, dest, f.granted)
	return nil
}

// SendDefault sends data to the default destination.
func (e *Endpoint) SendDefault(data []byte) error {
	return e.Send(e.defaultDest, data)
}

// HasMessage reports whether a received message is waiting.
func (e *Endpoint) HasMessage() bool { return len(e.inbox) > 0 }

// PendingCount returns the number of received messages not read yet.
func (e *Endpoint) PendingCount() int { return len(e.inbox) }

// Receive pops the oldest received message.
func (e *Endpoint) Receive() (*Message, bool) {
	if len(e.inbox) == 0 {
		return nil, false
	}
	m := e.inbox[0]
	e.inbox = e.inbox[1:]
	return m, true
}

func (e *Endpoint) receive(m *Message) {
	e.inbox = append(e.inbox, m)
}
