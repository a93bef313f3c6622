package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrSubjectAccessOnly ErrCode = "SUBJECT_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation ErrCode = "VALIDATION_ERROR"
	ErrInvalidID  ErrCode = "INVALID_ID"

	// ─── Assessment-specific ───────────────────────────────────────────
	ErrAssessmentNotFound     ErrCode = "ASSESSMENT_NOT_FOUND"
	ErrAssessmentNotPublished ErrCode = "ASSESSMENT_NOT_PUBLISHED"
	ErrSessionActive          ErrCode = "SESSION_ALREADY_ACTIVE"
	ErrNoLiveSession          ErrCode = "NO_LIVE_SESSION"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "An authentication token is required."
	case ErrTokenInvalid:
		return "The authentication token is invalid or expired."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrSubjectAccessOnly:
		return "This resource is limited to assessment candidates."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."

	// ─── Assessment-specific ───────────────────────────────────────────
	case ErrAssessmentNotFound:
		return "Assessment not found."
	case ErrAssessmentNotPublished:
		return "This assessment is not published yet."
	case ErrSessionActive:
		return "This assessment is already open in another window or device."
	case ErrNoLiveSession:
		return "No live session for this assessment."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Internal server error."
	default:
		return "An unexpected error occurred."
	}
}
