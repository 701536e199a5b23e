package services

import "errors"

var (
	// ErrSampleUnavailable means the host reading failed; the tick is skipped
	ErrSampleUnavailable = errors.New("sample unavailable")

	// ErrRateLimitExceeded is returned when a guarded write is denied. Retryable.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrDecryption means stored ciphertext could not be opened with the current key
	ErrDecryption = errors.New("decryption failed")

	// ErrArchiveNotFound is returned by Restore for unknown archive ids
	ErrArchiveNotFound = errors.New("archive not found")

	// ErrIntegrity means an archive no longer matches its recorded checksum
	ErrIntegrity = errors.New("archive integrity check failed")

	// ErrCallbackTimeout is logged when an alert subscriber overruns its budget
	ErrCallbackTimeout = errors.New("alert callback timed out")

	// ErrKeyMissing is returned when no encryption key material was supplied
	ErrKeyMissing = errors.New("encryption key missing")

	// ErrKeyMismatch means the supplied key cannot open data written earlier
	ErrKeyMismatch = errors.New("encryption key does not match stored data")

	// ErrInvalidImportance is returned for importance values outside [0, 1]
	ErrInvalidImportance = errors.New("importance must be within [0, 1]")
)
