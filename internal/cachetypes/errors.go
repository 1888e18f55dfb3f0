// Package cachetypes holds the types and error kinds shared across every
// tier of the cache engine so that l1, l2, coordinator, artifact,
// pagination, errorcache and health never need to import one another just
// to agree on a shape.
package cachetypes

import (
	"errors"
	"fmt"
)

// ErrorKind enumerates the typed error variants from spec §7.
type ErrorKind string

const (
	KindNotFound         ErrorKind = "not_found"
	KindPersistenceIO    ErrorKind = "persistence_io"
	KindPersistenceCorr  ErrorKind = "persistence_corruption"
	KindPersistenceQuota ErrorKind = "persistence_quota"
	KindArtifactIO       ErrorKind = "artifact_io"
	KindArtifactIntegrty ErrorKind = "artifact_integrity"
	KindArtifactQuota    ErrorKind = "artifact_quota"
	KindConfig           ErrorKind = "config"
	KindValidation       ErrorKind = "validation"
)

// CacheError is the single typed error returned by this module. Callers
// compare with errors.Is against the sentinel Kind values below, or
// inspect Kind directly.
type CacheError struct {
	Kind ErrorKind
	Op   string // operation name, e.g. "l2.Get"
	Key  string // key-type or short tag, never the raw key contents
	Err  error
}

func (e *CacheError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *CacheError) Unwrap() error { return e.Err }

// Is allows errors.Is(err, &CacheError{Kind: KindNotFound}) style checks by
// comparing only the Kind field.
func (e *CacheError) Is(target error) bool {
	var t *CacheError
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// NewError constructs a CacheError.
func NewError(kind ErrorKind, op, key string, err error) *CacheError {
	return &CacheError{Kind: kind, Op: op, Key: key, Err: err}
}

// Sentinel values usable with errors.Is for quick checks without
// constructing a full CacheError.
var (
	ErrNotFound           = &CacheError{Kind: KindNotFound}
	ErrPersistenceIO      = &CacheError{Kind: KindPersistenceIO}
	ErrPersistenceCorrupt = &CacheError{Kind: KindPersistenceCorr}
	ErrPersistenceQuota   = &CacheError{Kind: KindPersistenceQuota}
	ErrArtifactIO         = &CacheError{Kind: KindArtifactIO}
	ErrArtifactIntegrity  = &CacheError{Kind: KindArtifactIntegrty}
	ErrArtifactQuota      = &CacheError{Kind: KindArtifactQuota}
	ErrConfig             = &CacheError{Kind: KindConfig}
	ErrValidation         = &CacheError{Kind: KindValidation}
)
