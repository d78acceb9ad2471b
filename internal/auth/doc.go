// Package auth owns the access token and its refresh lifecycle.
//
// A [Session] moves through three states:
//
//	loading -> authenticated | unauthenticated
//	authenticated -> unauthenticated   (logout, failed refresh)
//	unauthenticated -> authenticated   (login callback)
//
// The token is read synchronously with [Session.Token] by every outbound request and by the push channel.
// A 401 from any call goes through [Session.HandleUnauthorized], which runs at most one refresh at a time.
// The refresh credential is an HTTP-only cookie held by the [HTTPRemote] cookie jar and is never read by this package.
//
// The access token and the OAuth CSRF state are mirrored to a [Store] (sqlite or redis) so a later process can restore them.
package auth
