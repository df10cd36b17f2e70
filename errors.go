// Package filen is the core of the Filen client: an authenticated
// storage engine that turns a user credential plus logical filesystem
// operations into end-to-end encrypted gateway requests. The server
// never sees plaintext names, metadata, keys or contents.
package filen

import (
	"errors"
	"fmt"

	"github.com/filenio/sdk-go/client"
)

// Error kinds surfaced by filesystem operations. Transport errors and
// *client.APIError pass through from the client package.
var (
	// ErrInvalidName rejects empty or slash-bearing names before any
	// network call.
	ErrInvalidName = errors.New("invalid name")

	// ErrInvalidMove rejects moving a directory into itself or one of
	// its descendants.
	ErrInvalidMove = errors.New("invalid move")

	// ErrNotFound maps the gateway's not-found error codes.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists maps the gateway's exists error codes.
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotADirectory is returned when path resolution meets a file
	// before the final component.
	ErrNotADirectory = errors.New("not a directory")

	// ErrInvalidType rejects operations on the wrong object kind, such
	// as writing v1 content.
	ErrInvalidType = errors.New("invalid type")

	// ErrIntegrity signals a plaintext hash mismatch after download.
	ErrIntegrity = errors.New("integrity check failed")

	// ErrBadRecoveryKey rejects malformed or mismatched recovery keys.
	ErrBadRecoveryKey = errors.New("bad recovery key")

	// ErrMetadataNotDecrypted is returned when an operation needs
	// decoded metadata but the envelope could not be opened.
	ErrMetadataNotDecrypted = errors.New("metadata was not decrypted")

	// Err2FARequired indicates login needs a fresh TOTP code.
	Err2FARequired = errors.New("two-factor authentication required")

	// ErrLocked indicates a server-side resource lock could not be
	// acquired within the configured attempts.
	ErrLocked = errors.New("resource is locked")
)

// translateAPIError maps well-known gateway error codes onto sentinel
// errors so callers can use errors.Is. Unknown codes pass through.
func translateAPIError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.Code {
	case "folder_not_found", "file_not_found", "not_found", "folder_not_found_or_not_yours":
		return fmt.Errorf("%w: %v", ErrNotFound, apiErr)
	case "folder_exists", "file_exists", "already_exists":
		return fmt.Errorf("%w: %v", ErrAlreadyExists, apiErr)
	case "enter_2fa", "wrong_2fa":
		return fmt.Errorf("%w: %v", Err2FARequired, apiErr)
	}
	return err
}
