// Command rendezvous-server runs the rendezvous coordinator HTTP service.
//
// Usage:
//
//	rendezvous-server --listen-addr 0.0.0.0:8000 --store bolt:///var/lib/rendezvous/store.db
//
// Every flag can also be set from its environment variable, see --help.
package main
