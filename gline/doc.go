// Package gline calls into the gline-rs native inference binding without cgo.
//
// The binding is opened at runtime with Open (or OpenWithBootstrap), its entry points
// are resolved once into a fixed table, and every call goes through typed purego
// function pointers. Results come back as flat native arrays that are copied into Go
// values and then released through the binding's own destructors; no native pointer
// outlives the call that produced it.
//
// # Ownership
//
// Each model owns one native handle. Close frees it exactly once and every later call
// on the model returns ErrModelClosed. Close models before closing their Library:
// calls made through a closed Library return ErrLibraryClosed.
//
// # Concurrency
//
// A Library is safe for concurrent use. Models are not serialized by this package:
// concurrent Predict calls on one model reach the binding concurrently. Use one model
// per worker, or guard a shared model with your own mutex, unless the binding documents
// its own thread safety. Close waits for in-flight calls on the same model. Native
// calls cannot be cancelled once started.
package gline
