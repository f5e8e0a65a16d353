// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Errors
//
// WriteServiceError maps billing sentinel errors onto statuses:
//
//	ErrValidation             400
//	ErrEligibility            403
//	ErrNotFound               404
//	ErrInvalidState           409
//	ErrImmutableField         409
//	ErrConcurrentModification 409
//	ErrAlreadyExists          409
//	ErrUnavailable            503
//
// Anything else is a 500 whose message is not echoed to the client.
//
// # Request Parsing
//
//	var req enrollRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.ContentTypeMiddleware,
//		httputil.MaxBytesMiddleware(1<<20),
//	)
package httputil
