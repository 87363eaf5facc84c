package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Task queue & claim errors
// 12000-12999: Bot & archive errors
// 13000-13999: Compile & match execution errors
// 14000-14999: Rating errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError     ErrorCode = 10100
	RecordNotFound    ErrorCode = 10101
	TransactionFailed ErrorCode = 10102

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200
	CacheMiss  ErrorCode = 10201

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	RequiredFieldEmpty ErrorCode = 10302

	// Object storage errors (10400-10499)
	StorageError   ErrorCode = 10400
	ObjectNotFound ErrorCode = 10401
	UploadFailed   ErrorCode = 10402

	// ========== Task Queue & Claim Errors (11000-11999) ==========

	TaskNotFound       ErrorCode = 11000
	TaskNotClaimable   ErrorCode = 11001
	ClaimConflict      ErrorCode = 11002
	RetriesExhausted   ErrorCode = 11003
	TaskNotContinuable ErrorCode = 11004
	SnapshotNotFound   ErrorCode = 11005
	TaskAlreadyQueued  ErrorCode = 11006

	// ========== Bot & Archive Errors (12000-12999) ==========

	BotNotFound         ErrorCode = 12000
	ArchiveCorrupt      ErrorCode = 12001
	ArchiveTooLarge     ErrorCode = 12002
	HashMismatch        ErrorCode = 12003
	ArchiveUnpackFailed ErrorCode = 12004

	// ========== Compile & Match Execution Errors (13000-13999) ==========

	CompileFailed        ErrorCode = 13000
	LanguageNotSupported ErrorCode = 13001
	SandboxSetupFailed   ErrorCode = 13100
	EngineFailed         ErrorCode = 13101
	EngineOutputInvalid  ErrorCode = 13102
	MatchAborted         ErrorCode = 13103

	// ========== Rating Errors (14000-14999) ==========

	RatingUpdateFailed  ErrorCode = 14000
	ParticipantNotFound ErrorCode = 14001
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Database
	DatabaseError:     "Database operation failed",
	RecordNotFound:    "Record not found in database",
	TransactionFailed: "Database transaction failed",

	// Cache
	CacheError: "Cache operation failed",
	CacheMiss:  "Cache miss",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	RequiredFieldEmpty: "Required field is empty",

	// Object storage
	StorageError:   "Object storage operation failed",
	ObjectNotFound: "Object not found in storage",
	UploadFailed:   "Object upload failed",

	// Task queue & claim
	TaskNotFound:       "Task not found",
	TaskNotClaimable:   "Task cannot be claimed",
	ClaimConflict:      "Task was claimed by another worker",
	RetriesExhausted:   "Task retries exhausted",
	TaskNotContinuable: "Task is not in a continuable state",
	SnapshotNotFound:   "Game snapshot not found",
	TaskAlreadyQueued:  "A task is already queued for this user",

	// Bot & archive
	BotNotFound:         "Bot not found",
	ArchiveCorrupt:      "Bot archive is corrupt",
	ArchiveTooLarge:     "Bot archive exceeds the maximum size",
	HashMismatch:        "Archive checksum mismatch",
	ArchiveUnpackFailed: "Failed to unpack bot archive",

	// Compile & match execution
	CompileFailed:        "Compilation failed",
	LanguageNotSupported: "Programming language not supported",
	SandboxSetupFailed:   "Sandbox setup failed",
	EngineFailed:         "Match engine execution failed",
	EngineOutputInvalid:  "Match engine produced invalid output",
	MatchAborted:         "Match aborted before execution",

	// Rating
	RatingUpdateFailed:  "Rating update failed",
	ParticipantNotFound: "Match participant not found",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == Unauthorized:
		return 401
	case c == Forbidden:
		return 403
	case c == NotFound, c == TaskNotFound, c == BotNotFound, c == ObjectNotFound, c == SnapshotNotFound, c == RecordNotFound:
		return 404
	case c == TooManyRequests:
		return 429
	case c == ClaimConflict, c == TaskAlreadyQueued:
		return 409
	case c == ServiceUnavailable:
		return 503
	case c >= 10300 && c < 10400:
		return 400
	case c == InvalidParams, c == TaskNotContinuable:
		return 400
	default:
		return 500
	}
}
