package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Login flow errors
	CodeLoginStateInvalid     Code = "LOGIN_STATE_INVALID"
	CodeLoginProviderRejected Code = "LOGIN_PROVIDER_REJECTED"
	CodeLoginTokenTypeInvalid Code = "LOGIN_TOKEN_TYPE_INVALID"

	// Provider errors
	CodeProviderDenied      Code = "PROVIDER_DENIED"
	CodeProviderUnreachable Code = "PROVIDER_UNREACHABLE"
	CodeProviderMalformed   Code = "PROVIDER_MALFORMED_RESPONSE"

	// Storage errors
	CodeNotFound           Code = "NOT_FOUND"
	CodeAlreadyExists      Code = "ALREADY_EXISTS"
	CodeStorageUnavailable Code = "STORAGE_UNAVAILABLE"

	// Session errors
	CodeSessionSigningUnavailable Code = "SESSION_SIGNING_UNAVAILABLE"
	CodeSessionCredentialInvalid  Code = "SESSION_CREDENTIAL_INVALID"
)

// Kind groups error codes by how callers should react to them.
type Kind string

const (
	// KindClient marks conditions caused by the caller: forged, replayed, or
	// expired callback state, a provider-rejected code, an unsupported token
	// type. Not retryable.
	KindClient Kind = "CLIENT"
	// KindAuthentication marks a credential the provider refused to honor.
	KindAuthentication Kind = "AUTHENTICATION"
	// KindInfrastructure marks transport or storage unavailability. Safe for
	// the caller to retry.
	KindInfrastructure Kind = "INFRASTRUCTURE"
	// KindProtocol marks a malformed provider response, indicating contract
	// drift. Not retryable.
	KindProtocol Kind = "PROTOCOL"
)

// ErrKind maps domain codes to error kinds.
func (c Code) ErrKind() Kind {
	switch c {
	case CodeLoginStateInvalid,
		CodeLoginProviderRejected,
		CodeLoginTokenTypeInvalid,
		CodeNotFound,
		CodeAlreadyExists:
		return KindClient
	case CodeProviderDenied,
		CodeSessionCredentialInvalid:
		return KindAuthentication
	case CodeProviderMalformed:
		return KindProtocol
	case CodeProviderUnreachable,
		CodeStorageUnavailable,
		CodeSessionSigningUnavailable:
		return KindInfrastructure
	default:
		return KindInfrastructure
	}
}

// HTTPStatus maps domain codes to HTTP response status codes.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeLoginStateInvalid,
		CodeLoginProviderRejected,
		CodeLoginTokenTypeInvalid,
		CodeAlreadyExists:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeProviderDenied,
		CodeSessionCredentialInvalid:
		return http.StatusUnauthorized
	case CodeProviderUnreachable,
		CodeStorageUnavailable,
		CodeSessionSigningUnavailable:
		return http.StatusServiceUnavailable
	case CodeProviderMalformed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
