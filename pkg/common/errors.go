package common

import "errors"

var (
	// Archive-level errors. Nothing parsed after one of these can be
	// trusted, so they abort the whole run.
	ErrBadMagic           = errors.New("unexpected archive magic")
	ErrUnsupportedVersion = errors.New("unsupported format version")
	ErrBadKey             = errors.New("decryption key rejected")
	ErrMalformed          = errors.New("malformed archive data")
	ErrCyclicOuterChain   = errors.New("cyclic outer chain")

	// Entry-level errors. The failing entry is reported and the batch
	// moves on.
	ErrUnknownCodec   = errors.New("unsupported compression method")
	ErrTruncated      = errors.New("truncated data")
	ErrHashMismatch   = errors.New("content hash mismatch")
	ErrSchemaMismatch = errors.New("schema mismatch")
	ErrNotFound       = errors.New("entry not found")
)

// IsFatal reports whether err invalidates the archive as a whole rather
// than a single entry.
func IsFatal(err error) bool {
	return errors.Is(err, ErrBadMagic) ||
		errors.Is(err, ErrUnsupportedVersion) ||
		errors.Is(err, ErrBadKey) ||
		errors.Is(err, ErrMalformed) ||
		errors.Is(err, ErrCyclicOuterChain)
}
