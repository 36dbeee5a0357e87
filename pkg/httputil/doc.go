// Package httputil provides the HTTP plumbing shared by bazaar handlers.
//
// Every error reply has the body {"error": "...", "code": "..."} where code
// is the apperrors kind. WriteError performs the mapping:
//
//	unauthenticated  401
//	not_found        404
//	conflict         409
//	invalid_state    409
//	invalid_input    400
//	internal         500 (message is always "internal server error")
//
// The middleware stack assigns request ids, attaches a request-scoped
// logger, logs each request, recovers panics and caps body sizes:
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware(logger),
//		httputil.LoggingMiddleware,
//		httputil.RecoveryMiddleware,
//	)
package httputil
