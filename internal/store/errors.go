package store

import "errors"

// Store errors
var (
	// ErrObjectNotFound indicates that the requested object was not found.
	ErrObjectNotFound = errors.New("object not found in store")

	// ErrKeyNotFound indicates that the requested key was not found.
	ErrKeyNotFound = errors.New("key not found in store")

	// ErrInvalidNamespace indicates that the namespace is empty or malformed.
	ErrInvalidNamespace = errors.New("invalid namespace")
)
