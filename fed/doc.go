// Package fed provides a time-stepped co-simulation federate client.
//
// # Reading Guide
//
// Start with these files to understand the client protocol:
//   - federate.go: Federate lifecycle (created → initializing → executing → finalized)
//     and the time request/grant loop
//   - core.go: the narrow Core interface a coordination backend implements
//   - publication.go, subscription.go, endpoint.go: data exchange handles
//
// # Architecture
//
// The fed package defines the client and the Core interface; backends live in
// sub-packages:
//   - fed/broker/: in-process coordination core (core types "inproc" and "test")
//   - fed/trace/: grant and publication trace recording
//   - fed/scenario/: scripted scenario drivers (loadshed switch schedule)
//
// Backends register themselves through RegisterCoreFactory from an init()
// function. Importing fed/broker (directly or blank) is enough to make the
// in-process core types available to Runtime.CreateFederate.
//
// A Federate is owned by a single goroutine. Several federates may run in one
// process as long as each is driven by its own goroutine; they share only the
// Core, which synchronizes internally.
package fed
