package i18n

// Error codes must match the codes defined in internal/platform/errors/codes.go.
// These are duplicated as strings to avoid an import cycle.
const (
	CodeUnknown             = "UNKNOWN"
	CodeSessionExpired      = "SESSION_EXPIRED"
	CodeSessionLockedOut    = "SESSION_LOCKED_OUT"
	CodeSessionLoggedOut    = "SESSION_LOGGED_OUT"
	CodeSessionNotFound     = "SESSION_NOT_FOUND"
	CodeSessionTokenInvalid = "SESSION_TOKEN_INVALID"
	CodeBudgetExceeded      = "BUDGET_EXCEEDED"
	CodeContentRejected     = "CONTENT_REJECTED"
	CodeLowPedagogy         = "LOW_PEDAGOGY"
	CodeReservationInvalid  = "RESERVATION_INVALID"
	CodeReservationConsumed = "RESERVATION_CONSUMED"
	CodeAuditWriteFailed    = "AUDIT_WRITE_FAILED"
	CodeEncryptionFailure   = "ENCRYPTION_FAILURE"
	CodeNotFound            = "NOT_FOUND"
)

// messagesEnUS holds the en-US message templates, keyed by error code.
var messagesEnUS = map[Code]string{
	CodeUnknown:             "Something went wrong. Please try again in a little while.",
	CodeSessionExpired:      "Your play session took a rest. Sign in again to keep going!",
	CodeSessionLockedOut:    "Let's take a short break. You can try signing in again soon.",
	CodeSessionLoggedOut:    "You signed out. Sign in again whenever you're ready to play!",
	CodeSessionNotFound:     "We couldn't find your play session. Sign in again to keep going!",
	CodeSessionTokenInvalid: "Something went wrong. Please try again in a little while.",
	CodeBudgetExceeded:      "You've used all your helper time for today. Come back tomorrow for more!",
	CodeContentRejected:     "Let's try saying that a different, kinder way.",
	CodeLowPedagogy:         "Can you ask that in a way that helps you learn something new?",
	CodeReservationInvalid:  "Something went wrong. Please try again in a little while.",
	CodeReservationConsumed: "Something went wrong. Please try again in a little while.",
	CodeAuditWriteFailed:    "The game helper is taking a nap. Please try again in a little while.",
	CodeEncryptionFailure:   "The game helper is taking a nap. Please try again in a little while.",
	CodeNotFound:            "We couldn't find that. Please try again in a little while.",
}
