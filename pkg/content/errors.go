package content

import "errors"

// Standard content store errors. Implementations wrap them with context, so
// callers should test with errors.Is.
var (
	// ErrContentNotFound is returned when reading or sizing a blob that does
	// not exist.
	ErrContentNotFound = errors.New("content not found")

	// ErrInvalidOffset is returned for negative offsets.
	ErrInvalidOffset = errors.New("invalid offset")

	// ErrInvalidContentID is returned for IDs a store cannot name, such as
	// the empty ID.
	ErrInvalidContentID = errors.New("invalid content ID")

	// ErrTooLarge is returned when a write or truncate would exceed the
	// store's size limit.
	ErrTooLarge = errors.New("content too large")

	// ErrUnavailable is returned when the backing service cannot be reached.
	ErrUnavailable = errors.New("storage unavailable")
)
