package transcoder

import (
	"path/filepath"
	"testing"
)

func TestPreviewPath(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"video.mp4", "video_demo.mp4"},
		{"/tmp/uploads/video.mp4", "/tmp/uploads/video_demo.mp4"},
		{"/tmp/uploads/clip.mov", "/tmp/uploads/clip_demo.mp4"},
		{"/tmp/uploads/clip.webm", "/tmp/uploads/clip._demo.mp4"},
		{"/tmp/uploads/видео.mp4", "/tmp/uploads/видео_demo.mp4"},
		{"/tmp/uploads/a.ts", "/tmp/uploads/_demo.mp4"},
		{"/tmp/uploads/clip", "/tmp/uploads/_demo.mp4"},
		{"/tmp/uploads/abc", "/tmp/uploads/_demo.mp4"},
		{"/tmp/uploads/video_demo.mp4", "/tmp/uploads/video_demo_demo.mp4"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := PreviewPath(filepath.FromSlash(tt.input))
			if got != filepath.FromSlash(tt.want) {
				t.Errorf("PreviewPath(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
