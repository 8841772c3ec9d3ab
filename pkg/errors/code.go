package errors

import "net/http"

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Challenge module errors
// 12000-12999: Submission module errors
// 13000-13999: Grading & Execution errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	TooManyRequests     ErrorCode = 10004
	ServiceUnavailable  ErrorCode = 10005
	Timeout             ErrorCode = 10006

	// Store errors (10100-10199)
	StoreError        ErrorCode = 10100
	RecordNotFound    ErrorCode = 10101
	DuplicateRecord   ErrorCode = 10102
	TransactionFailed ErrorCode = 10103
	StoreUnavailable  ErrorCode = 10104

	// Cache errors (10200-10299)
	CacheError   ErrorCode = 10200
	ClaimFailed  ErrorCode = 10201
	ClaimExpired ErrorCode = 10202

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	RequiredFieldEmpty ErrorCode = 10301
	InvalidValue       ErrorCode = 10302

	// ========== Challenge Module Errors (11000-11999) ==========

	ChallengeNotFound     ErrorCode = 11000
	ChallengeNotPublished ErrorCode = 11001
	ChallengeCreateFailed ErrorCode = 11002
	VersionNotFound       ErrorCode = 11003
	TestCaseInvalid       ErrorCode = 11100
	TestCaseTooLarge      ErrorCode = 11101
	ScoringPolicyInvalid  ErrorCode = 11200

	// ========== Submission Module Errors (12000-12999) ==========

	SubmissionNotFound     ErrorCode = 12000
	SubmissionCreateFailed ErrorCode = 12001
	PayloadTooLarge        ErrorCode = 12002
	EnvironmentNotFound    ErrorCode = 12003
	SubmitTooFrequently    ErrorCode = 12004
	ResultNotReady         ErrorCode = 12100
	ResultAlreadyCommitted ErrorCode = 12101

	// ========== Grading & Execution Errors (13000-13999) ==========

	GradingQueueFull     ErrorCode = 13000
	GradingSystemError   ErrorCode = 13001
	ExecutorUnavailable  ErrorCode = 13002
	ExecutionRejected    ErrorCode = 13003
	FingerprintConflict  ErrorCode = 13100
	ClaimContended       ErrorCode = 13101
)

var codeMessages = map[ErrorCode]string{
	Success:             "success",
	InternalServerError: "internal server error",
	InvalidParams:       "invalid parameters",
	NotFound:            "resource not found",
	TooManyRequests:     "too many requests",
	ServiceUnavailable:  "service unavailable",
	Timeout:             "operation timed out",

	StoreError:        "store error",
	RecordNotFound:    "record not found",
	DuplicateRecord:   "record already exists",
	TransactionFailed: "transaction failed",
	StoreUnavailable:  "store unavailable",

	CacheError:   "cache error",
	ClaimFailed:  "claim failed",
	ClaimExpired: "claim expired",

	ValidationFailed:   "validation failed",
	RequiredFieldEmpty: "required field is empty",
	InvalidValue:       "invalid value",

	ChallengeNotFound:     "challenge not found",
	ChallengeNotPublished: "challenge not published",
	ChallengeCreateFailed: "challenge create failed",
	VersionNotFound:       "challenge version not found",
	TestCaseInvalid:       "test case invalid",
	TestCaseTooLarge:      "test case too large",
	ScoringPolicyInvalid:  "scoring policy invalid",

	SubmissionNotFound:     "submission not found",
	SubmissionCreateFailed: "submission create failed",
	PayloadTooLarge:        "payload too large",
	EnvironmentNotFound:    "execution environment not found",
	SubmitTooFrequently:    "submitting too frequently",
	ResultNotReady:         "result not ready",
	ResultAlreadyCommitted: "result already committed",

	GradingQueueFull:    "grading queue is full",
	GradingSystemError:  "grading system error",
	ExecutorUnavailable: "executor unavailable",
	ExecutionRejected:   "execution rejected",
	FingerprintConflict: "fingerprint produced divergent results",
	ClaimContended:      "fingerprint claim is held elsewhere",
}

// Message returns the default message for the error code.
func (c ErrorCode) Message() string {
	if msg, ok := codeMessages[c]; ok {
		return msg
	}
	return "unknown error"
}

// HTTPStatus maps the error code to an HTTP status code.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case Success:
		return http.StatusOK
	case InvalidParams, ValidationFailed, RequiredFieldEmpty, InvalidValue,
		TestCaseInvalid, ScoringPolicyInvalid:
		return http.StatusBadRequest
	case NotFound, RecordNotFound, ChallengeNotFound, VersionNotFound,
		SubmissionNotFound, EnvironmentNotFound:
		return http.StatusNotFound
	case DuplicateRecord, ResultAlreadyCommitted:
		return http.StatusConflict
	case PayloadTooLarge, TestCaseTooLarge:
		return http.StatusRequestEntityTooLarge
	case TooManyRequests, SubmitTooFrequently, GradingQueueFull:
		return http.StatusTooManyRequests
	case ResultNotReady:
		return http.StatusAccepted
	case ServiceUnavailable, StoreUnavailable, ExecutorUnavailable:
		return http.StatusServiceUnavailable
	case Timeout:
		return http.StatusGatewayTimeout
	case ChallengeNotPublished:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// IsInfrastructure reports whether the code represents an infrastructure
// failure that leaves the submission pending and eligible for retry.
func (c ErrorCode) IsInfrastructure() bool {
	switch c {
	case StoreUnavailable, ExecutorUnavailable, TransactionFailed, ServiceUnavailable,
		CacheError, ClaimFailed:
		return true
	default:
		return false
	}
}
