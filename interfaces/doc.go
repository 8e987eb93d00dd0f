// Package interfaces defines the types, errors and collaborator contracts
// shared by the rendezvous packages.
//
// # Rendezvous
//
// Rendezvous hands out party indices: InitializeSession creates a session
// and Join assigns the next index of the session's current round. Indices of
// one round run 1..threshold without gaps or repeats; once a round is full
// the next Join starts a fresh round under the same session token.
//
// SignupRecordStore persists one SignupRecord per session and offers
// AtomicUpdate as the only way to change it.
//
// # Key-value store
//
// KVStore is the versioned store everything is persisted in. Besides Get and
// Put it must provide CompareAndSwap, a write conditioned on the version that
// was read, and must report a missing key (ErrKeyNotFound) distinctly from a
// failing store (ErrStoreUnavailable).
//
// KVStoreLocation parses store URIs such as bolt:///var/lib/rendezvous/store.db
// or vault://vault:8200/secret/rendezvous.
package interfaces
