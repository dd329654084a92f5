package transcoder

import "errors"

var (
	// ErrProbe is returned when the duration of a file cannot be measured
	ErrProbe = errors.New("probe failed")

	// ErrInvalidDuration is returned for zero, negative or NaN durations
	ErrInvalidDuration = errors.New("invalid duration")

	// ErrBitrateTooLow is returned when the computed bitrate is not positive
	ErrBitrateTooLow = errors.New("bitrate too low")

	// ErrTranscode is returned when ffmpeg fails or produces no output
	ErrTranscode = errors.New("transcode failed")
)
