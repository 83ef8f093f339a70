// Package closeutil releases groups of native-backed resources.
package closeutil

import (
	"errors"
	"fmt"
	"io"
	"reflect"
)

// CloseError reports a single resource that failed to close. Index is the
// resource's position in the CloseAll argument list, counting skipped nils.
type CloseError struct {
	Index    int
	Resource io.Closer
	Err      error
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("close resource %d (%T): %v", e.Index, e.Resource, e.Err)
}

func (e *CloseError) Unwrap() error {
	return e.Err
}

// CloseAll closes each resource in order and joins one *CloseError per failure.
// Nil and typed nil values are skipped.
func CloseAll(resources ...io.Closer) error {
	var errs []error
	for i, resource := range resources {
		if isNilCloser(resource) {
			continue
		}
		if closeErr := resource.Close(); closeErr != nil {
			errs = append(errs, &CloseError{Index: i, Resource: resource, Err: closeErr})
		}
	}
	return errors.Join(errs...)
}

func isNilCloser(resource io.Closer) bool {
	if resource == nil {
		return true
	}
	value := reflect.ValueOf(resource)
	switch value.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice:
		return value.IsNil()
	default:
		return false
	}
}
