// Package odataerr defines the failure kinds surfaced by the query pipeline.
// Every error carries a message key that identifies the failing rule and an
// HTTP status hint for the boundary layer.
package odataerr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a failure.
type Kind int

const (
	KindInternal Kind = iota
	KindModelValidation
	KindUnsupportedFilter
	KindUnsupportedResourceType
	KindFunctionWithNavigationNotSupported
	KindPagingNotImplemented
	KindPagingGone
	KindBadRequest
	KindNotImplemented
)

func (k Kind) String() string {
	switch k {
	case KindModelValidation:
		return "model_validation"
	case KindUnsupportedFilter:
		return "unsupported_filter"
	case KindUnsupportedResourceType:
		return "unsupported_resource_type"
	case KindFunctionWithNavigationNotSupported:
		return "function_with_navigation_not_supported"
	case KindPagingNotImplemented:
		return "paging_not_implemented"
	case KindPagingGone:
		return "paging_gone"
	case KindBadRequest:
		return "bad_request"
	case KindNotImplemented:
		return "not_implemented"
	default:
		return "internal"
	}
}

// Key identifies the rule that failed.
type Key string

const (
	// Operation model keys.
	KeyReturnTypeCollectionNotGiven       Key = "RETURN_TYPE_COLLECTION_NOT_GIVEN"
	KeyInvalidParameterType               Key = "INVALID_PARAMETER_TYPE"
	KeyUnsupportedParameterType           Key = "UNSUPPORTED_PARAMETER_TYPE"
	KeyBoundActionWithoutBindingParameter Key = "BOUND_ACTION_WITHOUT_BINDING_PARAMETER"
	KeyBoundActionMissingParameter        Key = "BOUND_ACTION_MISSING_PARAMETER"
	KeyEntitySetPathNotSupported          Key = "ENTITY_SET_PATH_NOT_SUPPORTED"
	KeyInstanceNotAccessible              Key = "INSTANCE_NOT_ACCESSIBLE"
	KeyNoMatchingConstructor              Key = "NO_MATCHING_CONSTRUCTOR"
	KeyFunctionWithoutReturnType          Key = "FUNCTION_WITHOUT_RETURN_TYPE"
	KeyDuplicateOperation                 Key = "DUPLICATE_OPERATION"
	KeyInvalidOperationSpec               Key = "INVALID_OPERATION_SPEC"

	// Filter keys.
	KeyUnsupportedFilterExpression Key = "UNSUPPORTED_FILTER_EXPRESSION"
	KeyUnknownFilterMember         Key = "UNKNOWN_FILTER_MEMBER"
	KeyInvalidFilterSyntax         Key = "INVALID_FILTER_SYNTAX"

	// Request keys.
	KeyUnsupportedResourceType            Key = "NOT_SUPPORTED_RESOURCE_TYPE"
	KeyFunctionWithNavigationNotSupported Key = "NOT_SUPPORTED_FUNC_WITH_NAVI"
	KeyPagingNotImplemented               Key = "QUERY_SERVER_DRIVEN_PAGING_NOT_IMPLEMENTED"
	KeyPagingGone                         Key = "QUERY_SERVER_DRIVEN_PAGING_GONE"
	KeyInvalidPreferHeader                Key = "INVALID_PREFER_HEADER"
	KeyInvalidQueryOption                 Key = "INVALID_QUERY_OPTION"
	KeyUnknownResource                    Key = "UNKNOWN_RESOURCE"
	KeyOperationNotFound                  Key = "OPERATION_NOT_FOUND"
	KeyNotSupportedCreate                 Key = "NOT_SUPPORTED_CREATE"
	KeyNotSupportedUpdate                 Key = "NOT_SUPPORTED_UPDATE"
	KeyNotSupportedDelete                 Key = "NOT_SUPPORTED_DELETE"
	KeyQueryFailed                        Key = "QUERY_FAILED"
)

// Error is the single error type produced by the pipeline.
type Error struct {
	Kind   Kind
	Key    Key
	Status int
	Params []string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Key))
	if len(e.Params) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Params, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Extensions returns a serializable summary for response bodies.
func (e *Error) Extensions() map[string]interface{} {
	extensions := map[string]interface{}{
		"code":   string(e.Key),
		"kind":   e.Kind.String(),
		"status": e.Status,
	}
	if len(e.Params) > 0 {
		extensions["params"] = e.Params
	}
	return extensions
}

// New creates an error with an explicit status hint.
func New(kind Kind, key Key, status int, params ...string) *Error {
	return &Error{Kind: kind, Key: key, Status: status, Params: params}
}

// Wrap attaches a kind and key to an underlying cause.
func Wrap(err error, kind Kind, key Key, status int, params ...string) *Error {
	return &Error{Kind: kind, Key: key, Status: status, Params: params, Err: err}
}

// Model reports an operation metadata validation failure.
func Model(key Key, params ...string) *Error {
	return New(KindModelValidation, key, http.StatusInternalServerError, params...)
}

// Modelf is Model with a formatted cause.
func Modelf(key Key, format string, args ...any) *Error {
	return Wrap(fmt.Errorf(format, args...), KindModelValidation, key, http.StatusInternalServerError)
}

// UnsupportedFilter reports an operator the converter does not handle.
func UnsupportedFilter(key Key, status int, params ...string) *Error {
	return New(KindUnsupportedFilter, key, status, params...)
}

// BadRequest reports malformed client input.
func BadRequest(key Key, params ...string) *Error {
	return New(KindBadRequest, key, http.StatusBadRequest, params...)
}

// NotImplemented reports a deliberately unsupported modification.
func NotImplemented(key Key, params ...string) *Error {
	return New(KindNotImplemented, key, http.StatusNotImplemented, params...)
}

// As returns the pipeline error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// KeyOf returns the message key of err, or "" for foreign errors.
func KeyOf(err error) Key {
	if e, ok := As(err); ok {
		return e.Key
	}
	return ""
}

// StatusOf returns the status hint of err, defaulting to 500.
func StatusOf(err error) int {
	if e, ok := As(err); ok && e.Status != 0 {
		return e.Status
	}
	return http.StatusInternalServerError
}
