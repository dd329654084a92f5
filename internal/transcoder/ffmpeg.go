package transcoder

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/compressor/internal/config"
	"github.com/therealutkarshpriyadarshi/compressor/internal/logging"
	"github.com/therealutkarshpriyadarshi/compressor/pkg/models"
)

// FFmpeg wraps the ffprobe and ffmpeg binaries. It holds no per-request
// state and is safe for concurrent use.
type FFmpeg struct {
	ffmpegPath       string
	ffprobePath      string
	probeTimeout     time.Duration
	transcodeTimeout time.Duration
	logger           *logging.Logger
}

// NewFFmpeg creates a new FFmpeg instance
func NewFFmpeg(cfg config.EncoderConfig, logger *logging.Logger) *FFmpeg {
	if logger == nil {
		logger = logging.Nop()
	}
	return &FFmpeg{
		ffmpegPath:       cfg.FFmpegPath,
		ffprobePath:      cfg.FFprobePath,
		probeTimeout:     cfg.ProbeTimeout,
		transcodeTimeout: cfg.TranscodeTimeout,
		logger:           logger.WithComponent("ffmpeg"),
	}
}

// NewSpec builds the preview rendition for one request from the encoder
// defaults and the computed video bitrate
func NewSpec(cfg config.EncoderConfig, videoBitrateKbps int) models.TranscodeSpec {
	return models.TranscodeSpec{
		FrameRate:        cfg.FPS,
		AudioCodec:       cfg.AudioCodec,
		AudioBitrate:     cfg.AudioBitrate,
		Resolution:       cfg.Resolution,
		VideoBitrateKbps: videoBitrateKbps,
	}
}

// ProbeArgs returns the ffprobe arguments printing only the container duration
func ProbeArgs(inputPath string) []string {
	return []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		inputPath,
	}
}

// ProbeDuration measures the duration of asset with ffprobe
func (f *FFmpeg) ProbeDuration(ctx context.Context, asset models.MediaAsset) (time.Duration, error) {
	if _, err := models.AssetFromFile(asset.Path); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrProbe, err)
	}

	out, err := f.run(ctx, f.probeTimeout, f.ffprobePath, ProbeArgs(asset.Path))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrProbe, err)
	}

	seconds, err := ParseDuration(out)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrProbe, err)
	}

	return time.Duration(seconds * float64(time.Second)), nil
}

// ParseDuration parses the single seconds value printed by ffprobe
func ParseDuration(out []byte) (float64, error) {
	value := strings.TrimSpace(string(out))
	if value == "" {
		return 0, fmt.Errorf("ffprobe printed no duration")
	}

	// Some containers report a duration per program; the first line is the format's
	if i := strings.IndexByte(value, '\n'); i >= 0 {
		value = strings.TrimSpace(value[:i])
	}

	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse ffprobe duration %q: %w", value, err)
	}
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0, fmt.Errorf("ffprobe duration %q is not finite", value)
	}

	return seconds, nil
}

// TranscodeArgs returns the ffmpeg arguments producing the preview
func TranscodeArgs(inputPath, outputPath string, spec models.TranscodeSpec) []string {
	return []string{
		"-i", inputPath,
		"-b:v", spec.VideoBitrateArg(),
		"-c:a", spec.AudioCodec,
		"-b:a", spec.AudioBitrate,
		"-r", spec.FrameRate,
		"-s", spec.Resolution,
		"-y", // overwrite output
		outputPath,
	}
}

// Transcode re-encodes asset into its preview next to the source. The source
// is never touched; a failed run leaves no output behind.
func (f *FFmpeg) Transcode(ctx context.Context, asset models.MediaAsset, spec models.TranscodeSpec) models.TranscodeResult {
	if spec.VideoBitrateKbps <= 0 {
		return models.TranscodeFailed(fmt.Errorf("%w: video bitrate %d", ErrTranscode, spec.VideoBitrateKbps))
	}

	outputPath := PreviewPath(asset.Path)

	if _, err := f.run(ctx, f.transcodeTimeout, f.ffmpegPath, TranscodeArgs(asset.Path, outputPath, spec)); err != nil {
		removeFile(outputPath)
		return models.TranscodeFailed(fmt.Errorf("%w: %w", ErrTranscode, err))
	}

	output, err := models.AssetFromFile(outputPath)
	if err != nil {
		return models.TranscodeFailed(fmt.Errorf("%w: ffmpeg produced no output: %w", ErrTranscode, err))
	}
	if output.Size == 0 {
		removeFile(outputPath)
		return models.TranscodeFailed(fmt.Errorf("%w: ffmpeg produced an empty file %s", ErrTranscode, outputPath))
	}

	return models.TranscodeSucceeded(output)
}

// run executes a tool with a bounded wait and returns its stdout
func (f *FFmpeg) run(ctx context.Context, timeout time.Duration, tool string, args []string) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, tool, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w (%v)", ctxErr, err)
		}
		err = fmt.Errorf("%s failed: %w, stderr: %s", tool, err, tail(stderr.String(), maxStderrTail))
	}
	f.logger.LogProcessRun(tool, args, time.Since(start), err)

	return stdout.Bytes(), err
}
