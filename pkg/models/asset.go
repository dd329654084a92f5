package models

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MediaAsset references a video file on local disk
type MediaAsset struct {
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// AssetFromFile builds a MediaAsset from an existing regular file
func AssetFromFile(path string) (MediaAsset, error) {
	info, err := os.Stat(path)
	if err != nil {
		return MediaAsset{}, fmt.Errorf("failed to stat asset: %w", err)
	}
	if !info.Mode().IsRegular() {
		return MediaAsset{}, fmt.Errorf("asset %s is not a regular file", path)
	}

	return MediaAsset{
		Path:        path,
		Size:        info.Size(),
		ContentType: ContentTypeFor(path),
	}, nil
}

// Name returns the final path segment of the asset
func (a MediaAsset) Name() string {
	return filepath.Base(a.Path)
}

// TranscodeSpec describes a preview rendition. It is built once per request
// and passed by value.
type TranscodeSpec struct {
	FrameRate        string `json:"frame_rate"`
	AudioCodec       string `json:"audio_codec"`
	AudioBitrate     string `json:"audio_bitrate"`
	Resolution       string `json:"resolution"`
	VideoBitrateKbps int    `json:"video_bitrate_kbps"`
}

// VideoBitrateArg formats the video bitrate the way ffmpeg expects it
func (s TranscodeSpec) VideoBitrateArg() string {
	return fmt.Sprintf("%dk", s.VideoBitrateKbps)
}

// TranscodeResult holds either the produced preview or the failure cause
type TranscodeResult struct {
	Asset *MediaAsset
	Err   error
}

// TranscodeSucceeded wraps a produced asset
func TranscodeSucceeded(asset MediaAsset) TranscodeResult {
	return TranscodeResult{Asset: &asset}
}

// TranscodeFailed wraps a failure; the result never carries an asset
func TranscodeFailed(err error) TranscodeResult {
	return TranscodeResult{Err: err}
}

// OK reports whether the transcode produced an asset
func (r TranscodeResult) OK() bool {
	return r.Err == nil && r.Asset != nil
}

// ContentTypeFor returns the content type based on file extension
func ContentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".avi":
		return "video/x-msvideo"
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	case ".ts":
		return "video/mp2t"
	default:
		return "application/octet-stream"
	}
}
