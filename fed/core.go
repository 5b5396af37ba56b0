package fed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// FederateID identifies a federate inside one Core.
type FederateID int

// DeliveryKind distinguishes value updates from endpoint messages.
type DeliveryKind int

const (
	DeliveryValue DeliveryKind = iota
	DeliveryMessage
)

// Delivery is a value update or message routed by a Core. Stamp is the
// granted time of the sender when it was sent; the receiver sees it at its
// first grant >= Stamp.
type Delivery struct {
	Kind      DeliveryKind
	Key       string // publication key, or destination endpoint for messages
	Source    string // publishing federate, or source endpoint for messages
	Stamp     Time
	Payload   []byte
	MessageID string // set for messages only
	Seq       uint64 // assigned by the core, orders deliveries with equal stamps
}

// Grant is the result of one time request.
type Grant struct {
	Time       Time
	Deliveries []Delivery // ordered by stamp, then send order
}

// FederateOptions carry the per-federate coordination parameters.
type FederateOptions struct {
	TimeDelta Time
	WaitLimit time.Duration
}

// Core is the coordination backend of a federation. The methods that wait
// (the two mode barriers and RequestTime) block until the federation allows
// the transition, the context ends, or the wait limit of the federate elapses.
type Core interface {
	Name() string
	RegisterFederate(name string, opts FederateOptions) (FederateID, error)
	RegisterPublication(id FederateID, key string, typ ValueType, units string) error
	RegisterSubscription(id FederateID, key string) error
	RegisterEndpoint(id FederateID, name string) error
	EnterInitializing(ctx context.Context, id FederateID) error
	EnterExecuting(ctx context.Context, id FederateID) error
	RequestTime(ctx context.Context, id FederateID, target Time) (Grant, error)
	UpdateTimeDelta(id FederateID, delta Time) error
	Publish(id FederateID, key string, payload []byte) error
	Send(id FederateID, source, destination string, payload []byte, messageID string) error
	Finalize(id FederateID) error
	Query(target, query string) (string, error)
	Close() error
}

// CoreOptions are passed to a CoreFactory when a Runtime first needs a core.
type CoreOptions struct {
	Type      CoreType
	Name      string
	Federates int
	Clock     clock.Clock
}

// CoreFactory creates a core. Errors wrapping ErrConnection are retried.
type CoreFactory func(opts CoreOptions) (Core, error)

var (
	factoriesMu   sync.RWMutex
	coreFactories = map[CoreType]CoreFactory{}
)

// RegisterCoreFactory makes a core type available to Runtime.CreateFederate.
// Backends call it from init(). A nil factory removes the registration.
func RegisterCoreFactory(t CoreType, f CoreFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if f == nil {
		delete(coreFactories, t)
		return
	}
	coreFactories[t] = f
}

func lookupCoreFactory(t CoreType) (CoreFactory, error) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := coreFactories[t]
	if !ok {
		return nil, fmt.Errorf("%w: no core available for type %q", ErrConnection, t)
	}
	return f, nil
}
