// Package blob is the entry point for archive storage. It re-exports the
// core contract and builds the configured backend; callers outside this
// package never import the backends directly.
package blob

import (
	"cureline/internal/blob/core"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
)

const (
	// DriverFilesystem is the local filesystem driver.
	DriverFilesystem = core.DriverFilesystem
	// DriverS3 is the S3-compatible driver.
	DriverS3 = core.DriverS3
	// DriverMemory is the in-memory test driver.
	DriverMemory = core.DriverMemory
)

var (
	// ErrExists is returned by Put when the key is already taken.
	ErrExists = core.ErrExists
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = core.ErrNotFound
)
