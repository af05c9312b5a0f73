package errors

import (
	"errors"
	"fmt"
)

// TaggedError binds an error to an explicit category. Call sites that
// know the nature of a failure tag it at the source so classification
// never has to guess from message text.
type TaggedError struct {
	Category Category
	Err      error
	Message  string // optional model-facing message
}

func (e *TaggedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s error: %v", e.Category, e.Err)
}

func (e *TaggedError) Unwrap() error {
	return e.Err
}

// Transient tags err as retryable.
func Transient(err error, message string) *TaggedError {
	return &TaggedError{Category: CategoryTransient, Err: err, Message: message}
}

// Input tags err as a validation failure.
func Input(err error, message string) *TaggedError {
	return &TaggedError{Category: CategoryInput, Err: err, Message: message}
}

// Permission tags err as an authorization failure.
func Permission(err error, message string) *TaggedError {
	return &TaggedError{Category: CategoryPermission, Err: err, Message: message}
}

// Resource tags err as a missing-resource failure.
func Resource(err error, message string) *TaggedError {
	return &TaggedError{Category: CategoryResource, Err: err, Message: message}
}

// Fatal tags err as loop-aborting.
func Fatal(err error, message string) *TaggedError {
	return &TaggedError{Category: CategoryFatal, Err: err, Message: message}
}

// BudgetExceededError terminates a loop that ran out of iterations.
type BudgetExceededError struct {
	Budget int
	Used   int
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("iteration budget exceeded: used %d of %d", e.Used, e.Budget)
}

// IsBudgetExceeded reports whether err is an iteration budget failure.
func IsBudgetExceeded(err error) bool {
	var budget *BudgetExceededError
	return errors.As(err, &budget)
}

// FormatForModel converts technical errors into actionable text that is
// appended to the conversation as a tool result.
func FormatForModel(err error) string {
	if err == nil {
		return ""
	}

	var tagged *TaggedError
	if errors.As(err, &tagged) && tagged.Message != "" {
		return tagged.Message
	}

	switch Classify(err) {
	case CategoryTransient:
		return "The operation failed temporarily and will be retried automatically. " + err.Error()
	case CategoryInput:
		return "Invalid arguments: " + err.Error() + ". Adjust the parameters and try again."
	case CategoryPermission:
		return "Permission denied: " + err.Error() + ". This resource is not accessible."
	case CategoryResource:
		return "Resource not found: " + err.Error() + ". Verify the path or identifier."
	case CategoryFatal:
		return "Unrecoverable failure: " + err.Error()
	default:
		return err.Error()
	}
}
