package services

import "errors"

var (
	ErrMissingFile     = errors.New("no video file provided")
	ErrEmptyFilename   = errors.New("no selected file")
	ErrInvalidFileType = errors.New("invalid file type")
	ErrMissingFields   = errors.New("missing required fields")
	ErrInvalidPlatform = errors.New("invalid platform")
	ErrInvalidKey      = errors.New("invalid stream key")
	ErrVideoNotFound   = errors.New("video file not found")
	ErrSessionNotFound = errors.New("stream not found")
	ErrAlreadyRunning  = errors.New("stream already running for this video")
	ErrResourceFailure = errors.New("resource failure")
)

// IsClientError reports whether err stems from bad caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrMissingFile) ||
		errors.Is(err, ErrEmptyFilename) ||
		errors.Is(err, ErrInvalidFileType) ||
		errors.Is(err, ErrMissingFields) ||
		errors.Is(err, ErrInvalidPlatform) ||
		errors.Is(err, ErrInvalidKey)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrVideoNotFound) || errors.Is(err, ErrSessionNotFound)
}
