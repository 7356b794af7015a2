package kgsearch

import (
	"errors"

	"github.com/brunobiangulo/kgsearch/search"
	"github.com/brunobiangulo/kgsearch/store"
)

var (
	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("kgsearch: invalid configuration")

	// ErrNoDatabaseSelected is returned when a session has no database and
	// no default is configured.
	ErrNoDatabaseSelected = errors.New("kgsearch: no database selected")

	// ErrIntegrationNotFound is returned for an unregistered integration name.
	ErrIntegrationNotFound = errors.New("kgsearch: integration not found")

	// ErrCreateUnsupported is returned when the store cannot create databases.
	ErrCreateUnsupported = errors.New("kgsearch: store cannot create databases")
)

// Errors from the packages the engine wires together, re-exported so callers
// can match them without importing those packages.
var (
	ErrStore             = store.ErrStore
	ErrEntityNotFound    = store.ErrEntityNotFound
	ErrEndpointNotFound  = store.ErrEndpointNotFound
	ErrUnknownDatabase   = store.ErrUnknownDatabase
	ErrInvalidLabel      = store.ErrInvalidLabel
	ErrInvalidAttributes = store.ErrInvalidAttributes
	ErrNoConstraints     = store.ErrNoConstraints

	ErrNoSuitableDatabase    = search.ErrNoSuitableDatabase
	ErrNoParametersExtracted = search.ErrNoParametersExtracted
	ErrAnswerGeneration      = search.ErrAnswerGeneration
)
