// Package auth authenticates marketplace callers.
//
// # Credentials
//
// Two bearer credential kinds are accepted:
//
//   - Session tokens: opaque to bazaar and verified by the identity provider
//     (OIDC ID tokens via OIDCVerifier, or HS256 tokens via HMACVerifier).
//     A verified session yields Identity{SubjectID}.
//   - API keys: long-lived, publisher scoped, recognized by the "bzr_"
//     prefix. Format: bzr_[base64url(32 random bytes)]. Only the SHA256 hash
//     and a short display prefix are stored; the plaintext is shown once.
//     A valid key yields Identity{SubjectID, PublisherID}.
//
// # Resolution
//
//	resolver := auth.NewResolver(verifier, store, dispatcher, logger)
//	identity, err := resolver.Resolve(ctx, bearer)
//	if apperrors.KindOf(err) == apperrors.KindUnauthenticated {
//		// 401
//	}
//
// Unknown, expired and revoked keys all fail with the same error. The key's
// last-used time is updated through the TaskRunner after the lookup and its
// failure is only logged.
package auth
