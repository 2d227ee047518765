package apperrors

import "errors"

var (
	ErrNotFound = errors.New("not found")
	// ErrInvalidRequest means the request itself is malformed, for example an empty question.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrClassification means no extraction rule or template could express the question.
	ErrClassification = errors.New("could not understand the question")
	// ErrValidation means a synthesized query failed the safety validator.
	ErrValidation = errors.New("generated query failed safety validation")
	// ErrUnsupportedShape means the degraded path cannot reproduce the query's semantics.
	ErrUnsupportedShape = errors.New("query shape not supported outside the privileged path")
	// ErrQueryNotRecognized means the degraded path has no typed accessor for the query.
	ErrQueryNotRecognized = errors.New("query not recognized by the fallback path")
	// ErrExecutionUnavailable means no data path could run the query.
	ErrExecutionUnavailable = errors.New("query execution unavailable")
	// ErrNotApproved means execution was attempted with a query the validator did not approve.
	ErrNotApproved = errors.New("query was not approved by the safety validator")
)
