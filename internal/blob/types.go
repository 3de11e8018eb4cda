// Package blob exposes the blob storage abstraction and selects a backend.
// Packages outside the blob tree depend on this package only.
package blob

import (
	"onebreath/internal/blob/core"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// SignedURLOptions configures URL pre-signing.
	SignedURLOptions = core.SignedURLOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
)

// DefaultPresignExpiry applies when SignedURLOptions.Expiry is unset.
const DefaultPresignExpiry = core.DefaultPresignExpiry

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverGCS        = core.DriverGCS
	DriverMemory     = core.DriverMemory
)

var (
	// ErrUnsupported indicates an operation isn't supported by a driver.
	ErrUnsupported = core.ErrUnsupported
	// ErrExists is returned by create-only writes to a taken key.
	ErrExists = core.ErrExists
)

// SanitizeName reduces a client file name to a safe single-segment key.
func SanitizeName(name string) string { return core.SanitizeName(name) }
