package gline

import (
	"errors"
	"fmt"
)

var (
	// ErrLoadFailure matches any error returned when the shared library cannot be opened.
	ErrLoadFailure = errors.New("gline: failed to load shared library")
	// ErrSymbolNotFound matches any error returned when a required entry point is missing.
	ErrSymbolNotFound = errors.New("gline: required symbol not found")
	// ErrModelConstruction matches any error returned when a native constructor yields null.
	ErrModelConstruction = errors.New("gline: model construction failed")
	// ErrLibraryClosed is returned by calls made through a library after Close.
	ErrLibraryClosed = errors.New("gline: library is closed")
	// ErrModelClosed is returned by calls made on a model after Close.
	ErrModelClosed = errors.New("gline: model is closed")
	// ErrMalformedResult is returned when a native result header is internally inconsistent.
	ErrMalformedResult = errors.New("gline: malformed native result")
)

// LoadError carries the platform loader diagnostic for a failed Open.
type LoadError struct {
	Path   string
	Reason string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("gline: failed to load shared library %q: %s", e.Path, e.Reason)
}

// Is reports whether target is ErrLoadFailure.
func (e *LoadError) Is(target error) bool {
	return target == ErrLoadFailure
}

// SymbolNotFoundError names the first required entry point that failed to resolve.
type SymbolNotFoundError struct {
	Name   string
	Reason string
}

func (e *SymbolNotFoundError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("gline: symbol not found: %s", e.Name)
	}
	return fmt.Sprintf("gline: symbol not found: %s: %s", e.Name, e.Reason)
}

// Is reports whether target is ErrSymbolNotFound.
func (e *SymbolNotFoundError) Is(target error) bool {
	return target == ErrSymbolNotFound
}

// ModelConstructionError reports a native constructor that returned a null handle,
// typically a bad model path or an argument the binding could not use.
type ModelConstructionError struct {
	Kind       ModelKind
	ModelPath  string
	DeviceType string
}

func (e *ModelConstructionError) Error() string {
	return fmt.Sprintf("gline: failed to create %s model from %q (%q)", e.Kind, e.ModelPath, e.DeviceType)
}

// Is reports whether target is ErrModelConstruction.
func (e *ModelConstructionError) Is(target error) bool {
	return target == ErrModelConstruction
}
