// Package events defines the canonical event taxonomy produced by agent
// sessions and the Sink contract every push channel implements.
//
// Event types are organized by source:
//   - SessionEvent: normalized output of one agent process
//   - Envelope: what a Sink receives; wraps session, job and staging payloads
package events
