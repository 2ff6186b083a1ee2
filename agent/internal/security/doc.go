// Package security inspects the TLS certificates of the endpoints the agent
// talks to (the server and a remote health source) so expiring or expired
// certificates show up in the agent log before deliveries start failing.
package security
