package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	Encoder   EncoderConfig
	Relay     RelayConfig
	Upload    UploadConfig
	Logging   LoggingConfig
	Metrics   MetricsConfig
	Tracing   TracingConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MaxUploadSize   int64
}

// EncoderConfig holds the preview rendition defaults shared by all requests
type EncoderConfig struct {
	FFmpegPath       string
	FFprobePath      string
	FPS              string // passed to ffmpeg -r as is: 25, 29.97 or 30000/1001
	AudioCodec       string
	AudioBitrate     string
	Resolution       string
	TargetSize       float64 // MB-equivalent units, see transcoder.ComputeBitrate
	BitsPerByte      int
	ProbeTimeout     time.Duration
	TranscodeTimeout time.Duration
}

// RelayConfig holds the upstream endpoint configuration
type RelayConfig struct {
	URL          string
	Cookie       string
	CookieHeader string
	Timeout      time.Duration
}

// UploadConfig holds where request files are persisted
type UploadConfig struct {
	Dir           string
	Cleanup       bool
	MinFreeBytes  uint64 // uploads are refused below this much free space
	MaxAge        time.Duration
	SweepInterval time.Duration
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// MetricsConfig holds the prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool
	Port    int
}

// TracingConfig holds Jaeger configuration
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
}

// AuthConfig holds inbound authentication configuration
type AuthConfig struct {
	JWTSecret string
}

// RateLimitConfig holds per-client upload rate limits
type RateLimitConfig struct {
	Enabled bool
	RPS     int
	Burst   int
}

var (
	resolutionPattern = regexp.MustCompile(`^[1-9][0-9]*x[1-9][0-9]*$`)
	frameRatePattern  = regexp.MustCompile(`^([0-9]+(\.[0-9]+)?)(/([0-9]+))?$`)
)

// validFrameRate accepts decimal rates and num/den ratios, both non-zero
func validFrameRate(rate string) bool {
	m := frameRatePattern.FindStringSubmatch(rate)
	if m == nil {
		return false
	}
	num, err := strconv.ParseFloat(m[1], 64)
	if err != nil || num <= 0 {
		return false
	}
	if m[4] == "" {
		return true
	}
	den, err := strconv.Atoi(m[4])
	return err == nil && den > 0 && !strings.Contains(m[1], ".")
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindLegacyEnv(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks values the pipeline cannot run without
func (c *Config) Validate() error {
	if c.Relay.URL == "" {
		return fmt.Errorf("invalid config: relay.url is required")
	}
	if !resolutionPattern.MatchString(c.Encoder.Resolution) {
		return fmt.Errorf("invalid config: encoder.resolution %q must be WxH", c.Encoder.Resolution)
	}
	if !validFrameRate(c.Encoder.FPS) {
		return fmt.Errorf("invalid config: encoder.fps must be a positive number or ratio, got %q", c.Encoder.FPS)
	}
	if c.Encoder.TargetSize <= 0 {
		return fmt.Errorf("invalid config: encoder.targetSize must be positive, got %v", c.Encoder.TargetSize)
	}
	if c.Encoder.BitsPerByte <= 0 {
		return fmt.Errorf("invalid config: encoder.bitsPerByte must be positive, got %d", c.Encoder.BitsPerByte)
	}
	if c.Upload.Dir == "" {
		return fmt.Errorf("invalid config: upload.dir is required")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.readTimeout", "5m")
	v.SetDefault("server.writeTimeout", "30m")
	v.SetDefault("server.shutdownTimeout", "30s")
	v.SetDefault("server.maxUploadSize", 2<<30) // 2GB

	// Encoder defaults
	v.SetDefault("encoder.ffmpegPath", "ffmpeg")
	v.SetDefault("encoder.ffprobePath", "ffprobe")
	v.SetDefault("encoder.fps", "25")
	v.SetDefault("encoder.audioCodec", "aac")
	v.SetDefault("encoder.audioBitrate", "128k")
	v.SetDefault("encoder.resolution", "640x360")
	v.SetDefault("encoder.targetSize", 10)
	v.SetDefault("encoder.bitsPerByte", 8)
	v.SetDefault("encoder.probeTimeout", "30s")
	v.SetDefault("encoder.transcodeTimeout", "20m")

	// Relay defaults
	v.SetDefault("relay.cookieHeader", "XRMCCookie")
	v.SetDefault("relay.timeout", "2m")

	// Upload defaults
	v.SetDefault("upload.dir", "/tmp/compressor")
	v.SetDefault("upload.cleanup", true)
	v.SetDefault("upload.minFreeBytes", 1<<30) // 1GB
	v.SetDefault("upload.maxAge", "24h")
	v.SetDefault("upload.sweepInterval", "1h")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.serviceName", "video-compressor")
	v.SetDefault("tracing.endpoint", "http://localhost:14268/api/traces")

	// Rate limit defaults
	v.SetDefault("rateLimit.enabled", true)
	v.SetDefault("rateLimit.rps", 1)
	v.SetDefault("rateLimit.burst", 5)
}

// bindLegacyEnv keeps the environment names used by existing deployments
// working next to the ENCODER_FPS style names.
func bindLegacyEnv(v *viper.Viper) {
	legacy := map[string]string{
		"encoder.fps":          "FPS",
		"encoder.audioBitrate": "AUDIO_BITRATE",
		"encoder.audioCodec":   "AUDIO_CODEK",
		"encoder.resolution":   "RESOLUTION",
		"relay.url":            "URL_1C",
		"relay.cookie":         "COOKIE",
	}
	for key, env := range legacy {
		canonical := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, canonical, env)
	}
}
