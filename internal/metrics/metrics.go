package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compressor_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "compressor_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms to ~7 min
		},
		[]string{"method", "endpoint"},
	)

	// Upload Metrics
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compressor_uploads_total",
			Help: "Total number of accepted uploads",
		},
		[]string{"source"},
	)

	UploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "compressor_upload_size_bytes",
			Help:    "Size of uploaded videos in bytes",
			Buckets: prometheus.ExponentialBuckets(1024*1024, 2, 12), // 1MB to 2GB
		},
	)

	UploadDirFreeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "compressor_upload_dir_free_bytes",
			Help: "Free space on the filesystem holding request directories",
		},
	)

	UploadDirsSweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "compressor_upload_dirs_swept_total",
			Help: "Total number of stale request directories removed",
		},
	)

	// Pipeline Metrics
	PipelinesInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "compressor_pipelines_in_progress",
			Help: "Number of requests currently inside the pipeline",
		},
	)

	PipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compressor_pipeline_runs_total",
			Help: "Total number of finished pipeline runs",
		},
		[]string{"outcome", "stage"},
	)

	PipelineDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "compressor_pipeline_duration_seconds",
			Help:    "End to end pipeline duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "compressor_stage_duration_seconds",
			Help:    "Duration of a single pipeline state in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 18),
		},
		[]string{"state"},
	)

	// Transcoding Metrics
	TranscodeBitrate = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "compressor_transcode_video_bitrate_kbps",
			Help:    "Computed preview video bitrate in kbps",
			Buckets: []float64{100, 250, 500, 1000, 2000, 4000, 8000, 16000},
		},
	)

	// Relay Metrics
	RelayRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compressor_relay_requests_total",
			Help: "Total number of packets sent upstream by response status",
		},
		[]string{"role", "status"},
	)

	RelayBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compressor_relay_bytes_total",
			Help: "Total encoded bytes sent upstream",
		},
		[]string{"role"},
	)

	RelayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "compressor_relay_duration_seconds",
			Help:    "Upstream request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"role"},
	)

	// Error Metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compressor_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordUpload records an accepted upload
func RecordUpload(source string, sizeBytes int64) {
	UploadsTotal.WithLabelValues(source).Inc()
	UploadSizeBytes.Observe(float64(sizeBytes))
}

// RecordUploadDirFree records the free space seen by the last capacity check
func RecordUploadDirFree(freeBytes uint64) {
	UploadDirFreeBytes.Set(float64(freeBytes))
}

// RecordSwept records stale request directories removed by a sweep
func RecordSwept(count int) {
	UploadDirsSweptTotal.Add(float64(count))
}

// PipelineStarted marks a request entering the pipeline
func PipelineStarted() {
	PipelinesInProgress.Inc()
}

// RecordPipelineFinished records the terminal outcome of a request. stage is
// empty for successful runs.
func RecordPipelineFinished(success bool, stage string, duration float64) {
	PipelinesInProgress.Dec()

	outcome := "success"
	if !success {
		outcome = "failure"
	}
	if stage == "" {
		stage = "none"
	}

	PipelineRunsTotal.WithLabelValues(outcome, stage).Inc()
	PipelineDuration.Observe(duration)
}

// RecordStage records how long the pipeline spent in a state
func RecordStage(state string, duration float64) {
	StageDuration.WithLabelValues(state).Observe(duration)
}

// RecordBitrate records a computed preview bitrate
func RecordBitrate(kbps int) {
	TranscodeBitrate.Observe(float64(kbps))
}

// RecordRelay records one upstream delivery. statusCode 0 means the request
// never got an answer.
func RecordRelay(role string, statusCode int, bytes int, duration float64) {
	status := "error"
	if statusCode > 0 {
		status = strconv.Itoa(statusCode)
	}

	RelayRequestsTotal.WithLabelValues(role, status).Inc()
	RelayBytesTotal.WithLabelValues(role).Add(float64(bytes))
	RelayDuration.WithLabelValues(role).Observe(duration)
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
