package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Session errors
	CodeSessionExpired      Code = "SESSION_EXPIRED"
	CodeSessionLockedOut    Code = "SESSION_LOCKED_OUT"
	CodeSessionLoggedOut    Code = "SESSION_LOGGED_OUT"
	CodeSessionNotFound     Code = "SESSION_NOT_FOUND"
	CodeSessionTokenInvalid Code = "SESSION_TOKEN_INVALID"

	// Budget errors
	CodeBudgetExceeded Code = "BUDGET_EXCEEDED"

	// Moderation errors
	CodeContentRejected Code = "CONTENT_REJECTED"
	CodeLowPedagogy     Code = "LOW_PEDAGOGY"

	// Reservation errors
	CodeReservationInvalid  Code = "RESERVATION_INVALID"
	CodeReservationConsumed Code = "RESERVATION_CONSUMED"

	// Infrastructure errors
	CodeAuditWriteFailed  Code = "AUDIT_WRITE_FAILED"
	CodeEncryptionFailure Code = "ENCRYPTION_FAILURE"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - malformed caller input
	case CodeSessionTokenInvalid,
		CodeReservationInvalid:
		return codes.InvalidArgument

	// FailedPrecondition - state disallows the operation
	case CodeSessionExpired,
		CodeSessionLoggedOut,
		CodeReservationConsumed:
		return codes.FailedPrecondition

	// PermissionDenied - policy denials
	case CodeSessionLockedOut,
		CodeContentRejected:
		return codes.PermissionDenied

	// ResourceExhausted - budget limits
	case CodeBudgetExceeded:
		return codes.ResourceExhausted

	// NotFound
	case CodeSessionNotFound,
		CodeNotFound:
		return codes.NotFound

	// Unavailable - governance infrastructure failures
	case CodeAuditWriteFailed,
		CodeEncryptionFailure:
		return codes.Unavailable

	default:
		return codes.Internal
	}
}
