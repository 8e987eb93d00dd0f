// Package rendezvoushandler exposes the session coordinator over HTTP.
//
// Routes:
//
//	POST /initializekeygen  creates a session and returns its token
//	POST /signupkeygen      assigns the caller the next party index of a session
//
// Errors are reported as plain-text bodies with the status chosen by
// StatusForError: 400 for malformed requests, 404 for unknown sessions, 409
// when the session record stayed contended past the retry budget and 503
// when the backing store cannot be reached.
package rendezvoushandler
