// Package sso implements the redirect handshake between the portal and the
// external identity host.
//
// Every page load gets a PageLoad whose Process inspects the callback
// parameters (auth_token, wp_login, logged_in) once and returns an Outcome
// describing what the HTTP layer should do next:
//
//	Idle -> TokenReceived       store token, strip params, reload
//	     -> WpLoginAck          strip params
//	     -> NeedsSessionCheck   navigate to the identity host check-session endpoint
//	     -> NoOp
//
// Later calls to Process on the same PageLoad return NoOp.
//
// The Bridge also owns the explicit login-to-wordpress redirect, logout and
// validation of password reset deep links.
package sso
