// Package validation provides the checks shared by the dispatch
// constructors and configuration loaders. Every failure is a
// *errors.ValidationError, so callers can match ErrInvalidConfiguration.
package validation
