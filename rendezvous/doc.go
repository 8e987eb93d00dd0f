// Package rendezvous assigns sequential party indices to participants of a
// threshold key generation ceremony.
//
// A ceremony starts with InitializeSession, which persists a signup record
// at index 0. Each Join with the session token and the ceremony threshold
// advances the record by one inside a single atomic update of the record
// store; the join after the threshold-th starts a new round with a fresh
// round id and index 1:
//
//	InitializeSession()  -> S1
//	Join(S1, 2)          -> {1, R1}
//	Join(S1, 2)          -> {2, R1}
//	Join(S1, 2)          -> {1, R2}
//
// An index that was persisted is consumed even if the caller went away
// before seeing the response.
package rendezvous
