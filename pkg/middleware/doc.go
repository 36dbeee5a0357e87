// Package middleware provides HTTP authentication middleware.
//
// Authenticator reads "Authorization: Bearer <credential>", resolves it
// through the auth.Resolver (session token or bzr_ API key) and stores the
// resulting *auth.Identity on the request context:
//
//	authn := middleware.NewAuthenticator(resolver, metrics)
//	router.Handle("/v1/publishers", authn.Required(h))
//
//	identity := middleware.GetIdentity(r)
//
// Required rejects anonymous requests with 401. Optional lets them through
// without an identity but still rejects a credential that fails to verify.
package middleware
