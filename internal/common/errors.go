// Package common defines sentinel errors shared by the repositories, the
// media provider and the image services. Callers should use errors.Is to
// match these values; the services wrap them together with the cause.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// ErrMismatch is returned when an image does not belong to the movie
	// named by the caller.
	ErrMismatch = errors.New("image does not belong to the specified movie")

	// ErrUploadFailed means the media provider rejected or failed an upload.
	// No record is created when it is returned.
	ErrUploadFailed = errors.New("upload failed")

	// ErrPersistenceFailed means the record store write failed after the
	// media provider already accepted the asset.
	ErrPersistenceFailed = errors.New("persistence failed")

	// ErrValidationFailed is produced by request validators in front of the
	// services, never by the services themselves.
	ErrValidationFailed = errors.New("validation failed")

	// ErrLockNotAcquired is returned by lockers when another holder owns the lock.
	ErrLockNotAcquired = errors.New("lock not acquired")
)
