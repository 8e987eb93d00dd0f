// Package storage implements interfaces.KVStore on several backends:
//
//   - mem://       process-local map, for tests and single-node development
//   - bolt://      bbolt database file, compare-and-swap inside one transaction
//   - vault://     HashiCorp Vault KV v2, compare-and-swap via check-and-set
//   - s3://        one object per key, version kept in object metadata
//
// # Store URI format
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Examples:
//
//	mem://
//	bolt:///var/lib/rendezvous/store.db?bucket=kv
//	vault://vault.example.com:8200/secret/rendezvous?tls=true&role=coordinator
//	s3://ACCESS:SECRET@bucket/rendezvous?region=eu-west-1&endpoint=https://minio:9000
//
// KVStoreFactory turns a URI into a store. Vault credentials are supplied with
// WithVaultToken or WithTLSAuth.
//
// # Versions
//
// Every backend numbers the writes of a key starting at 1. CompareAndSwap with
// expected version 0 creates a key only if it does not exist.
//
// The S3 backend reads the version with a HEAD request and then uploads with
// If-None-Match or If-Match on the ETag it saw, so a concurrent writer makes
// the upload fail with ErrVersionConflict. The endpoint must support
// conditional writes.
package storage
