// Package errors provides categorized errors for the resource manager.
//
// Every error returned across a package boundary is built with Newf or New
// so callers can branch on its category (IsNotReady, IsTransient, ...)
// instead of matching strings. Hooks registered with AddErrorHook observe
// each built error, which is how the metrics layer counts failures.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"runtime"
	"strings"
	"time"
)

// ErrorCategory classifies an error for callers and metrics.
type ErrorCategory string

// CategorizedError is implemented by errors that carry their own category.
type CategorizedError interface {
	error
	ErrorCategory() ErrorCategory
}

const (
	CategoryValidation    ErrorCategory = "validation" // invalid argument
	CategoryNotFound      ErrorCategory = "not-found"
	CategoryNotReady      ErrorCategory = "not-ready"
	CategoryTransient     ErrorCategory = "transient-unavailable"
	CategoryExhausted     ErrorCategory = "resource-exhausted"
	CategoryState         ErrorCategory = "state"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryPlugin        ErrorCategory = "plugin"
	CategoryDevice        ErrorCategory = "device"
	CategoryStream        ErrorCategory = "stream"
	CategoryCancellation  ErrorCategory = "cancellation"
	CategoryGeneric       ErrorCategory = "generic"
)

// ComponentUnknown is used when the component cannot be determined.
const ComponentUnknown = "unknown"

// EnhancedError is an error with a category and key/value context.
type EnhancedError struct {
	Err       error
	Category  ErrorCategory
	component string
	context   map[string]any
}

func (ee *EnhancedError) Error() string {
	return ee.Err.Error()
}

func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// Is matches another EnhancedError by category, otherwise defers to the
// wrapped error.
func (ee *EnhancedError) Is(target error) bool {
	if other, ok := target.(*EnhancedError); ok {
		return ee.Category == other.Category
	}
	return stderrors.Is(ee.Err, target)
}

// ErrorCategory implements CategorizedError.
func (ee *EnhancedError) ErrorCategory() ErrorCategory {
	return ee.Category
}

// GetComponent returns the package that built the error. It is only
// detected while hooks are registered.
func (ee *EnhancedError) GetComponent() string {
	return ee.component
}

// GetCategory returns the category as a metric label.
func (ee *EnhancedError) GetCategory() string {
	return string(ee.Category)
}

// GetContext returns a copy of the error context.
func (ee *EnhancedError) GetContext() map[string]any {
	if ee.context == nil {
		return nil
	}
	return maps.Clone(ee.context)
}

// ErrorBuilder assembles an EnhancedError.
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	context   map[string]any
}

// New starts an error that wraps err.
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// Newf starts a formatted error. %w verbs wrap as with fmt.Errorf.
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component overrides the detected component.
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Context attaches a key/value pair.
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	eb.context[key] = value
	return eb
}

// Timing records the failed operation and how long it ran.
func (eb *ErrorBuilder) Timing(operation string, duration time.Duration) *ErrorBuilder {
	eb.Context("operation", operation)
	eb.context["duration_ms"] = duration.Milliseconds()
	return eb
}

// Build creates the error and runs registered hooks. Without an explicit
// category the category of the wrapped error is inherited.
func (eb *ErrorBuilder) Build() *EnhancedError {
	if eb.err == nil {
		eb.err = stderrors.New("unspecified error")
	}
	ee := &EnhancedError{
		Err:       eb.err,
		Category:  eb.category,
		component: eb.component,
		context:   eb.context,
	}
	if ee.Category == "" {
		ee.Category = detectCategory(eb.err)
	}
	if !hasHooks.Load() {
		if ee.component == "" {
			ee.component = ComponentUnknown
		}
		return ee
	}
	if ee.component == "" {
		ee.component = detectComponent()
	}
	runHooks(ee)
	return ee
}

const modulePrefix = "github.com/tphakala/audiorm/internal/"

// detectComponent names the first internal package on the call stack
// outside this one, e.g. "arbiter" or "accessory".
func detectComponent() string {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if rest, ok := strings.CutPrefix(frame.Function, modulePrefix); ok {
			pkg, _, _ := strings.Cut(rest, ".")
			pkg, _, _ = strings.Cut(pkg, "/")
			if pkg != "errors" {
				return pkg
			}
		}
		if !more {
			return ComponentUnknown
		}
	}
}

func detectCategory(err error) ErrorCategory {
	var catErr CategorizedError
	if stderrors.As(err, &catErr) && catErr.ErrorCategory() != "" {
		return catErr.ErrorCategory()
	}
	return CategoryGeneric
}

// NewStd creates a plain error with no category.
func NewStd(text string) error {
	return stderrors.New(text)
}

func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

func As(err error, target any) bool {
	return stderrors.As(err, target)
}

func Join(errs ...error) error {
	return stderrors.Join(errs...)
}

// IsCategory reports whether the outermost categorized error in err's
// chain has the given category.
func IsCategory(err error, category ErrorCategory) bool {
	return err != nil && detectCategory(err) == category
}

func IsNotFound(err error) bool {
	return IsCategory(err, CategoryNotFound)
}

// IsNotReady reports whether err came from an accessory that is not ready.
func IsNotReady(err error) bool {
	return IsCategory(err, CategoryNotReady)
}

// IsTransient reports whether err marks a retryable hardware outage.
func IsTransient(err error) bool {
	return IsCategory(err, CategoryTransient)
}

func IsValidation(err error) bool {
	return IsCategory(err, CategoryValidation)
}

// CategoryOf returns the category of the outermost categorized error in
// err's chain, CategoryGeneric for plain errors and "" for nil.
func CategoryOf(err error) ErrorCategory {
	if err == nil {
		return ""
	}
	return detectCategory(err)
}
