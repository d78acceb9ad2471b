// Package server provides the local HTTP callback used by the OAuth login round trip.
//
// # Routing
//
// [BasicRouter] registers method-qualified [http.ServeMux] patterns behind a [Middleware] chain.
// [RequestLogger] logs method, path, status and duration of each callback request.
//
// # OAuth Callback Handler
//
// [OAuthHandler] implements the OAuth2 authorization code callback.
//
// [PrepareLogin] generates a state token and mirrors it into the session store under auth.KeyOAuthState.
// The handler checks the callback's state against that stored value, consumes it, exchanges the authorization
// code for tokens and sends the result through a channel. The exchange runs on the auth remote's HTTP client
// so the refresh cookie set by the token endpoint lands in the same cookie jar later refreshes read from.
//
// It only processes one callback to prevent replay attacks.
//
// A [Handler] carries its own route patterns, so the login command only mounts it.
package server
