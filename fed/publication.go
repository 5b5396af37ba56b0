package fed

import (
	"fmt"

	"github.com/tesp-cosim/cosim/fed/trace"
)

// Publication is a named output of a federate with a declared value type.
type Publication struct {
	fed    *Federate
	key    string
	typ    ValueType
	units  string
	global bool
}

// Key returns the federation-visible key.
func (p *Publication) Key() string { return p.key }

// Type returns the declared value type.
func (p *Publication) Type() ValueType { return p.typ }

// Units returns the declared units (may be empty).
func (p *Publication) Units() string { return p.units }

// IsGlobal reports whether the key is used as-is rather than prefixed with the federate name.
func (p *Publication) IsGlobal() bool { return p.global }

// RegisterGlobalPublication registers a publication whose key is used
// verbatim across the federation.
func (f *Federate) RegisterGlobalPublication(key string, typ ValueType, units string) (*Publication, error) {
	return f.registerPublication(key, typ, units, true)
}

// RegisterPublication registers a publication under "<federate>/<name>".
func (f *Federate) RegisterPublication(name string, typ ValueType, units string) (*Publication, error) {
	return f.registerPublication(f.localKey(name), typ, units, false)
}

func (f *Federate) registerPublication(key string, typ ValueType, units string, global bool) (*Publication, error) {
	if err := f.checkState("register publication", StateCreated, StateInitializing); err != nil {
		return nil, err
	}
	if key == "" {
		return nil, fmt.Errorf("%w: empty publication key", ErrConfig)
	}
	t, err := ParseValueType(string(typ))
	if err != nil {
		return nil, err
	}
	if _, ok := f.pubs[key]; ok {
		return nil, fmt.Errorf("%w: publication %q already registered by %q", ErrDuplicateName, key, f.name)
	}
	if err := f.core.RegisterPublication(f.id, key, t, units); err != nil {
		return nil, err
	}
	p := &Publication{fed: f, key: key, typ: t, units: units, global: global}
	f.pubs[key] = p
	f.pubOrder = append(f.pubOrder, p)
	f.log.Debugf("Registered publication %s (%s)", key, t)
	return p, nil
}

// Publish sends v to every subscriber of the publication. Subscribers see it
// at their first grant at or after the current granted time of the publisher.
func (p *Publication) Publish(v Value) error {
	f := p.fed
	if err := f.checkState("publish "+p.key, StateExecuting); err != nil {
		return err
	}
	if v.Type != p.typ {
		return fmt.Errorf("%w: publication %q declared %s, got %s", ErrTypeMismatch, p.key, p.typ, v.Type)
	}
	payload, err := EncodeValue(v)
	if err != nil {
		return fmt.Errorf("encoding value for %q: %w", p.key, err)
	}
	if err := f.core.Publish(f.id, p.key, payload); err != nil {
		return fmt.Errorf("federate %q publishing %q: %w", f.name, p.key, err)
	}
	f.log.Debugf("Published %s=%s at %s", p.key, v, f.granted)
	f.trace.RecordPublication(trace.PublicationRecord{
		Federate: f.name,
		Key:      p.key,
		Time:     int64(f.granted),
		Value:    v.String(),
	})
	return nil
}

func (p *Publication) PublishString(s string) error { return p.Publish(StringValue(s)) }

func (p *Publication) PublishDouble(x float64) error { return p.Publish(DoubleValue(x)) }

func (p *Publication) PublishInt(i int64) error { return p.Publish(IntValue(i)) }

func (p *Publication) PublishVector(v []float64) error { return p.Publish(VectorValue(v)) }

func (p *Publication) PublishComplex(c complex128) error { return p.Publish(ComplexValue(c)) }
