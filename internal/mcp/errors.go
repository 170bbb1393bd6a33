package mcp

import "github.com/antigravity-dev/taskmind/internal/apperr"

// rpcErrorFor maps a domain error to a JSON-RPC error object, carrying the
// apperr.Code string in Data so clients can branch without parsing
// Message (spec.md §7's "data.code=ErrKind" propagation policy).
func rpcErrorFor(err error) *RPCError {
	code := apperr.CodeOf(err)
	rpcCode := ErrCodeInternal
	switch code {
	case apperr.Validation, apperr.Hierarchy, apperr.Cycle, apperr.OrderSet, apperr.Derived:
		rpcCode = ErrCodeInvalidParams
	case apperr.NotFound:
		rpcCode = ErrCodeMethodNotFound
	case apperr.NamespaceBinding, apperr.Conflict, apperr.Timeout, apperr.Transport, apperr.Internal:
		rpcCode = ErrCodeInternal
	}
	return &RPCError{
		Code:    rpcCode,
		Message: err.Error(),
		Data:    ErrorData{Code: string(code)},
	}
}
