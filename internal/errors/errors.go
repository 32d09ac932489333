// Package errors provides centralized error handling for the classification engine.
//
// Errors are built with a fluent builder that attaches a component, a category
// and arbitrary key/value context, then logged or matched by category at the
// call site. The zero-cost path is a plain wrapped error; only enriched errors
// allocate the context map.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"time"
)

// ErrorCategory groups errors for reporting and log filtering.
type ErrorCategory string

const (
	CategoryModelInit     ErrorCategory = "model-initialization"
	CategoryModelLoad     ErrorCategory = "model-loading"
	CategoryClassMap      ErrorCategory = "class-map"
	CategoryValidation    ErrorCategory = "validation"
	CategoryFileIO        ErrorCategory = "file-io"
	CategoryImage         ErrorCategory = "image-processing"
	CategoryInference     ErrorCategory = "inference"
	CategoryRouting       ErrorCategory = "routing"
	CategoryInventory     ErrorCategory = "inventory"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryGeneric       ErrorCategory = "generic"
)

// EnhancedError wraps an error with component, category and context metadata.
type EnhancedError struct {
	Err       error
	Component string
	Category  ErrorCategory
	Context   map[string]any
	Timestamp time.Time
}

// Error implements the error interface.
func (ee *EnhancedError) Error() string {
	return ee.Err.Error()
}

// Unwrap exposes the wrapped error to errors.Is / errors.As.
func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// Is matches two enhanced errors by category, otherwise defers to the chain.
func (ee *EnhancedError) Is(target error) bool {
	if other, ok := target.(*EnhancedError); ok {
		return ee.Category == other.Category
	}
	return stderrors.Is(ee.Err, target)
}

// GetContext returns a copy of the context map, never the live map.
func (ee *EnhancedError) GetContext() map[string]any {
	if ee.Context == nil {
		return nil
	}
	cp := make(map[string]any, len(ee.Context))
	maps.Copy(cp, ee.Context)
	return cp
}

// ErrorBuilder accumulates metadata before producing an EnhancedError.
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	context   map[string]any
}

// New starts building an enhanced error around err.
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err, category: CategoryGeneric}
}

// Newf starts building an enhanced error from a format string.
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Wrap is an alias of New for call sites that re-wrap an enhanced error.
func Wrap(err error) *ErrorBuilder {
	return New(err)
}

// Component records the component where the error occurred.
func (b *ErrorBuilder) Component(component string) *ErrorBuilder {
	b.component = component
	return b
}

// Category records the error category.
func (b *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	b.category = category
	return b
}

// Context adds a key/value pair to the error context.
func (b *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if b.context == nil {
		b.context = make(map[string]any)
	}
	b.context[key] = value
	return b
}

// Build finalizes the enhanced error.
func (b *ErrorBuilder) Build() error {
	return &EnhancedError{
		Err:       b.err,
		Component: b.component,
		Category:  b.category,
		Context:   b.context,
		Timestamp: time.Now(),
	}
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain matching target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
