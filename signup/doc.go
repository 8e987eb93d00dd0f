// Package signup persists signup records in a key-value store under
// "signup-keygen-<session token>" and serializes their updates.
package signup
