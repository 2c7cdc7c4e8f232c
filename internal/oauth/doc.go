// Package oauth implements the browser-facing provider login flow.
//
// It isolates redirect/state/token choreography from the rest of the service
// so the account contract stays stable even as the provider integration
// evolves: initiation writes a one-time correlation entry, the callback
// consumes it, exchanges the authorization code under PKCE, fetches the
// remote profile, and reconciles it with a local account.
package oauth
