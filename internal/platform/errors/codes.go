package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Request errors
	CodeRequestInvalid Code = "REQUEST_INVALID"

	// Challenge errors
	CodeChallengeInvalid           Code = "CHALLENGE_INVALID"
	CodeChallengeKindMismatch      Code = "CHALLENGE_KIND_MISMATCH"
	CodeChallengeExpired           Code = "CHALLENGE_EXPIRED"
	CodeChallengeMissingUserHandle Code = "CHALLENGE_MISSING_USER_HANDLE"

	// Credential errors
	CodeCredentialInvalid            Code = "CREDENTIAL_INVALID"
	CodeCredentialUnknown            Code = "CREDENTIAL_UNKNOWN"
	CodeCredentialIDMissing          Code = "CREDENTIAL_ID_MISSING"
	CodeCredentialIDExtractionFailed Code = "CREDENTIAL_ID_EXTRACTION_FAILED"
	CodeCredentialStoreFailed        Code = "CREDENTIAL_STORE_FAILED"

	// Identity errors
	CodeIdentityCreationFailed Code = "IDENTITY_CREATION_FAILED"

	// Session errors
	CodeSessionMintFailed Code = "SESSION_MINT_FAILED"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// HTTPStatus maps domain codes to HTTP status codes at the transport boundary.
func (c Code) HTTPStatus() int {
	switch c {
	// Bad request - validation failures, rejected ceremonies
	case CodeRequestInvalid,
		CodeChallengeInvalid,
		CodeChallengeKindMismatch,
		CodeChallengeExpired,
		CodeChallengeMissingUserHandle,
		CodeCredentialInvalid,
		CodeCredentialUnknown,
		CodeCredentialIDMissing,
		CodeCredentialIDExtractionFailed:
		return http.StatusBadRequest

	// Not found - missing records surfaced directly
	case CodeNotFound:
		return http.StatusNotFound

	// Internal - dependency failures, never detailed to clients
	case CodeCredentialStoreFailed,
		CodeIdentityCreationFailed,
		CodeSessionMintFailed,
		CodeUnknown:
		return http.StatusInternalServerError

	default:
		return http.StatusInternalServerError
	}
}
