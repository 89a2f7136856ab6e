// Package natserr defines the stable error codes surfaced by natscore and
// the wrapping type that carries them.
package natserr

import "fmt"

// Configuration / caller misuse.
const (
	CodeBadOptions        = "BAD_OPTIONS"
	CodeBadSubject        = "BAD_SUBJECT"
	CodeBadMsg            = "BAD_MSG"
	CodeBadReply          = "BAD_REPLY"
	CodeBadJSON           = "BAD_JSON"
	CodeBadAuthentication = "BAD_AUTHENTICATION"
	CodeInvalidEncoding   = "INVALID_ENCODING"
	CodeSigNotFunc        = "SIG_NOT_FUNC"
)

// Connectivity / protocol.
const (
	CodeConnErr         = "CONN_ERR"
	CodeConnClosed      = "CONN_CLOSED"
	CodeNatsProtocolErr = "NATS_PROTOCOL_ERR"
)

// Security negotiation.
const (
	CodeSecureConnReq    = "SECURE_CONN_REQ"
	CodeNonSecureConnReq = "NON_SECURE_CONN_REQ"
	CodeClientCertReq    = "CLIENT_CERT_REQ"
)

// NKEY / JWT.
const (
	CodeSigReq            = "SIG_REQ"
	CodeNkeyOrJwtReq      = "NKEY_OR_JWT_REQ"
	CodeBadCredentials    = "BAD_CREDENTIALS"
	CodeNoSeedInCreds     = "NO_SEED_IN_CREDS"
	CodeNoUserJwtInCreds  = "NO_USER_JWT_IN_CREDS"
)

// Request.
const (
	CodeReqTimeout = "REQ_TIMEOUT"
)

// Error is an application-level error carrying a stable code, grounded on
// the teacher's pkg/errors.AppError.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new Error.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a new Error wrapping another error.
func Wrap(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Is allows errors.Is(err, natserr.New(code, "")) style matching on Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}
