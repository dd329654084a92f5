package transcoder

import (
	"fmt"
	"math"
)

// DefaultBitsPerByte is used when callers pass a non-positive bitsPerByte
const DefaultBitsPerByte = 8

// maxBitrateKbps caps results for vanishingly short clips
const maxBitrateKbps = math.MaxInt32

// ComputeBitrate derives the video bitrate in kbps that makes a clip of
// durationSeconds fit into targetSizeMB:
//
//	floor(targetSizeMB * bitsPerByte * 1000 / durationSeconds)
//
// targetSizeMB is in the same MB-equivalent unit the downstream system
// budgets with, so the result is kbps without further scaling. Do not
// "correct" the factor to 1024 or 8*1024*1024; receivers rely on it.
func ComputeBitrate(targetSizeMB, durationSeconds float64, bitsPerByte int) (int, error) {
	if math.IsNaN(durationSeconds) || durationSeconds <= 0 {
		return 0, fmt.Errorf("%w: %v seconds", ErrInvalidDuration, durationSeconds)
	}
	if bitsPerByte <= 0 {
		bitsPerByte = DefaultBitsPerByte
	}

	kbps := math.Floor(targetSizeMB * float64(bitsPerByte) * 1000 / durationSeconds)
	if math.IsNaN(kbps) || kbps <= 0 {
		return 0, fmt.Errorf("%w: %v kbps for %v MB over %v seconds", ErrBitrateTooLow, kbps, targetSizeMB, durationSeconds)
	}
	if kbps > maxBitrateKbps {
		kbps = maxBitrateKbps
	}

	return int(kbps), nil
}
