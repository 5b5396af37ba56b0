// Package trace records the time grants, publications and deliveries of
// federates for later analysis. It stores pure data types and does not
// depend on the fed package; times are simulated nanoseconds.
package trace

// GrantRecord captures a single time request and the grant it produced.
type GrantRecord struct {
	Federate  string `cbor:"1,keyasint"`
	Requested int64  `cbor:"2,keyasint"`
	Granted   int64  `cbor:"3,keyasint"`
	Updates   int    `cbor:"4,keyasint,omitempty"` // deliveries carried by the grant
}

// PublicationRecord captures a value published by a federate.
type PublicationRecord struct {
	Federate string `cbor:"1,keyasint"`
	Key      string `cbor:"2,keyasint"`
	Time     int64  `cbor:"3,keyasint"`
	Value    string `cbor:"4,keyasint"`
}

// DeliveryRecord captures a value received by a federate at a grant.
type DeliveryRecord struct {
	Federate string `cbor:"1,keyasint"`
	Key      string `cbor:"2,keyasint"`
	Source   string `cbor:"3,keyasint"`
	Stamp    int64  `cbor:"4,keyasint"` // publisher's granted time
	Granted  int64  `cbor:"5,keyasint"` // receiver's granted time
	Value    string `cbor:"6,keyasint"`
}
