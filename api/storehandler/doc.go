// Package storehandler exposes raw get and set of key/value pairs over the
// rendezvous key-value store.
//
// Keys under the signup record prefix are readable but never writable here,
// signup records change only through the coordinator.
package storehandler
