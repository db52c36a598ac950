package model

import (
	"errors"
	"fmt"
)

// MalformedFactError reports a fact that violates a structural invariant.
// It is permanent: retrying the same input fails the same way.
type MalformedFactError struct {
	Kind   string
	Field  string
	Reason string
	Fact   Map
}

func (e *MalformedFactError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("malformed %s fact: %s: %s", e.Kind, e.Reason, e.Fact)
	}
	return fmt.Sprintf("malformed %s fact: %s %s: %s", e.Kind, e.Field, e.Reason, e.Fact)
}

// UnknownFactKindError reports a kind the expander has no table for.
type UnknownFactKindError struct {
	Kind string
}

func (e *UnknownFactKindError) Error() string {
	return fmt.Sprintf("unknown fact kind %q", e.Kind)
}

// StorageError reports a rejected delete, upsert or schema change.
type StorageError struct {
	Op    string
	Table string
	Err   error
}

func (e *StorageError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsPermanent reports whether err comes from the input itself rather than
// from storage or transport, so a retry on the next run would not help.
func IsPermanent(err error) bool {
	var malformed *MalformedFactError
	var unknown *UnknownFactKindError
	return errors.As(err, &malformed) || errors.As(err, &unknown)
}
