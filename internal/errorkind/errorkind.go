// Package errorkind defines the closed taxonomy of control-plane failures and
// how each maps onto an HTTP status for the REST surface.
package errorkind

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a closed sum of every failure the control plane can surface.
type Kind string

const (
	ActorSystemNotReady       Kind = "ActorSystemNotReady"
	ServiceTimeout            Kind = "ServiceTimeout"
	ServiceUnavailable        Kind = "ServiceUnavailable"
	BucketURIParse            Kind = "BucketUriParse"
	MissingFeaturesDirectory  Kind = "MissingFeaturesDirectory"
	EmptyFeaturesDirectory    Kind = "EmptyFeaturesDirectory"
	MissingTopicDirectiveFile Kind = "MissingTopicDirectiveFile"
	InvalidTopicDirectiveFmt  Kind = "InvalidTopicDirectiveFormat"
	StorageTransport          Kind = "StorageTransport"
	VaultAuth                 Kind = "VaultAuth"
	VaultNotFound             Kind = "VaultNotFound"
	VaultRateLimit            Kind = "VaultRateLimit"
	VaultServiceUnavailable   Kind = "VaultServiceUnavailable"
	VaultTimeout              Kind = "VaultTimeout"
	VaultMapping              Kind = "VaultMapping"
	TemplateSecurity          Kind = "TemplateSecurity"
	SchemaNotFound            Kind = "SchemaNotFound"
	SerializerFailure         Kind = "SerializerFailure"
	CucumberFailure           Kind = "CucumberFailure"
	FatalBooting              Kind = "FatalBooting"
	TestNotFound              Kind = "TestNotFound"
)

// retryable is the set of kinds the VaultWorker retry loop (§4.5) may retry.
var retryable = map[Kind]bool{
	VaultRateLimit:          true,
	VaultServiceUnavailable: true,
	VaultTimeout:            true,
}

// Retryable reports whether k belongs to the retryable subset. Authentication,
// not-found, and mapping/parse errors are never retried.
func Retryable(k Kind) bool {
	return retryable[k]
}

// httpStatus maps each Kind to the status code it surfaces as (§7).
var httpStatus = map[Kind]int{
	ActorSystemNotReady:       http.StatusServiceUnavailable,
	ServiceTimeout:            http.StatusGatewayTimeout,
	ServiceUnavailable:        http.StatusServiceUnavailable,
	BucketURIParse:            http.StatusUnprocessableEntity,
	MissingFeaturesDirectory:  http.StatusUnprocessableEntity,
	EmptyFeaturesDirectory:    http.StatusUnprocessableEntity,
	MissingTopicDirectiveFile: http.StatusUnprocessableEntity,
	InvalidTopicDirectiveFmt:  http.StatusUnprocessableEntity,
	StorageTransport:          http.StatusBadGateway,
	VaultAuth:                 http.StatusBadGateway,
	VaultNotFound:             http.StatusBadGateway,
	VaultRateLimit:            http.StatusBadGateway,
	VaultServiceUnavailable:   http.StatusBadGateway,
	VaultTimeout:              http.StatusGatewayTimeout,
	VaultMapping:              http.StatusBadGateway,
	TemplateSecurity:          http.StatusUnprocessableEntity,
	SchemaNotFound:            http.StatusBadGateway,
	SerializerFailure:         http.StatusBadGateway,
	CucumberFailure:           http.StatusOK,
	FatalBooting:              http.StatusInternalServerError,
	TestNotFound:              http.StatusNotFound,
}

// HTTPStatus returns the status code a caller should see for k. Unknown kinds
// default to 500, which should never be reachable given Kind is closed.
func HTTPStatus(k Kind) int {
	if s, ok := httpStatus[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Error wraps a Kind with a human-readable message and an optional cause,
// preserving the cause chain per spec's propagation policy (§7).
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// As extracts a *Error from err, following the unwrap chain.
func As(err error) (*Error, bool) {
	var ek *Error
	if errors.As(err, &ek) {
		return ek, true
	}
	return nil, false
}

// KindOf returns the Kind carried by err if it (or a wrapped cause) is an
// *Error, and ServiceUnavailable otherwise — never a fabricated empty kind,
// so an Exception transition always carries a non-empty ErrorKind (§3.3).
func KindOf(err error) Kind {
	if ek, ok := As(err); ok {
		return ek.Kind
	}
	return ServiceUnavailable
}
