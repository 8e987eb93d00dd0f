/*
Package api holds the wire types and server configuration of the rendezvous
HTTP service.

Subpackages:

  - server: HTTP server lifecycle, health, drain and pprof endpoints
  - rendezvoushandler: session initialization and party join endpoints
  - storehandler: raw get/set of store entries

# Endpoints

	POST /initializekeygen   -> InitializeSessionResponse
	POST /signupkeygen       JoinRequest -> JoinResponse
	POST /get                Index -> Entry
	POST /set                Entry -> SetResponse
	GET  /livez, /readyz, /drain, /undrain

Every handler package ships a small client next to its handler, built on
net/http with the same types.
*/
package api
