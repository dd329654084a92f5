package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go"
	"github.com/therealutkarshpriyadarshi/compressor/internal/config"
	"github.com/therealutkarshpriyadarshi/compressor/internal/logging"
	"github.com/therealutkarshpriyadarshi/compressor/internal/metrics"
	"github.com/therealutkarshpriyadarshi/compressor/internal/tracing"
	"github.com/therealutkarshpriyadarshi/compressor/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/compressor/pkg/models"
)

// Prober measures media duration
type Prober interface {
	ProbeDuration(ctx context.Context, asset models.MediaAsset) (time.Duration, error)
}

// Transcoder produces the preview rendition
type Transcoder interface {
	Transcode(ctx context.Context, asset models.MediaAsset, spec models.TranscodeSpec) models.TranscodeResult
}

// Encoder turns a file into transport text
type Encoder interface {
	Encode(asset models.MediaAsset) (models.TransportBlob, error)
}

// Relayer delivers one packet upstream
type Relayer interface {
	Relay(ctx context.Context, blob models.TransportBlob, correlationKey string, auth models.AuthContext) (models.RelayAck, error)
}

// Request is one validated upload handed to the pipeline
type Request struct {
	ID    string
	Asset models.MediaAsset
	Auth  models.AuthContext
}

// Pipeline sequences probe, transcode, encode and relay for one request at a
// time. It keeps no per-request state and may serve requests concurrently.
type Pipeline struct {
	cfg        config.EncoderConfig
	prober     Prober
	transcoder Transcoder
	encoder    Encoder
	relayer    Relayer
	logger     *logging.Logger
	newKey     func() string
}

// New creates a new pipeline
func New(cfg config.EncoderConfig, prober Prober, tc Transcoder, encoder Encoder, relayer Relayer, logger *logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Pipeline{
		cfg:        cfg,
		prober:     prober,
		transcoder: tc,
		encoder:    encoder,
		relayer:    relayer,
		logger:     logger.WithComponent("pipeline"),
		newKey:     uuid.NewString,
	}
}

// Run drives one request from Received to Done. Stages run strictly in
// order and the first failing stage ends the run.
func (p *Pipeline) Run(ctx context.Context, req Request) models.PipelineOutcome {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	span, ctx := tracing.StartSpan(ctx, "pipeline.run")
	defer tracing.FinishSpan(span)
	tracing.SetTag(span, "request_id", req.ID)

	r := &run{
		p:          p,
		req:        req,
		logger:     p.logger.WithRequestID(req.ID),
		state:      models.StateReceived,
		stateStart: time.Now(),
		outcome: models.PipelineOutcome{
			RequestID: req.ID,
			Original:  req.Asset,
		},
	}

	metrics.PipelineStarted()
	start := time.Now()

	r.logger.LogStageEvent(string(models.StateReceived), "received", map[string]interface{}{
		"path": req.Asset.Path,
		"size": req.Asset.Size,
	})
	r.execute(ctx)
	r.enter(ctx, models.StateDone)

	r.outcome.Duration = time.Since(start)
	metrics.RecordPipelineFinished(r.outcome.Success, string(r.outcome.Stage), r.outcome.Duration.Seconds())

	details := map[string]interface{}{
		"success":     r.outcome.Success,
		"duration_ms": r.outcome.Duration.Milliseconds(),
	}
	if r.outcome.Failed() {
		details["stage"] = string(r.outcome.Stage)
		tracing.LogError(span, r.outcome.Err)
	}
	r.logger.LogStageEvent(string(models.StateDone), "finished", details)

	return r.outcome
}

// run carries the state of a single request
type run struct {
	p          *Pipeline
	req        Request
	logger     *logging.Logger
	outcome    models.PipelineOutcome
	state      models.PipelineState
	stateStart time.Time
	stateSpan  opentracing.Span
}

func (r *run) execute(ctx context.Context) {
	asset, err := r.validate()
	if err != nil {
		r.fail(models.StageValidation, err)
		return
	}
	r.outcome.Original = asset

	r.enter(ctx, models.StateProbing)
	kbps, err := r.probe(ctx, asset)
	if err != nil {
		r.fail(models.StageValidation, err)
		return
	}
	r.outcome.BitrateKbps = kbps

	r.enter(ctx, models.StateTranscoding)
	preview, err := r.transcode(ctx, asset, kbps)
	if err != nil {
		r.fail(models.StageTranscode, err)
		return
	}
	r.outcome.Preview = &preview

	r.enter(ctx, models.StateEncoding)
	originalBlob, err := r.p.encoder.Encode(asset)
	if err != nil {
		r.fail(models.StageEncode, fmt.Errorf("original: %w", err))
		return
	}
	previewBlob, err := r.p.encoder.Encode(preview)
	if err != nil {
		r.fail(models.StageEncode, fmt.Errorf("preview: %w", err))
		return
	}

	r.enter(ctx, models.StateRelaying)
	if err := r.relay(ctx, originalBlob, previewBlob); err != nil {
		r.fail(models.StageRelay, err)
		return
	}

	r.outcome.Success = true
}

// validate re-reads the asset so a vanished or emptied upload never reaches ffprobe
func (r *run) validate() (models.MediaAsset, error) {
	if r.req.Asset.Path == "" {
		return models.MediaAsset{}, fmt.Errorf("%w: asset has no path", ErrValidation)
	}

	asset, err := models.AssetFromFile(r.req.Asset.Path)
	if err != nil {
		return models.MediaAsset{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if asset.Size == 0 {
		return models.MediaAsset{}, fmt.Errorf("%w: asset %s is empty", ErrValidation, asset.Path)
	}

	return asset, nil
}

func (r *run) probe(ctx context.Context, asset models.MediaAsset) (int, error) {
	duration, err := r.p.prober.ProbeDuration(ctx, asset)
	if err != nil {
		return 0, err
	}

	kbps, err := transcoder.ComputeBitrate(r.p.cfg.TargetSize, duration.Seconds(), r.p.cfg.BitsPerByte)
	if err != nil {
		return 0, err
	}

	metrics.RecordBitrate(kbps)
	r.logger.LogStageEvent(string(r.state), "bitrate_computed", map[string]interface{}{
		"duration_seconds": duration.Seconds(),
		"bitrate_kbps":     kbps,
	})

	return kbps, nil
}

func (r *run) transcode(ctx context.Context, asset models.MediaAsset, kbps int) (models.MediaAsset, error) {
	spec := transcoder.NewSpec(r.p.cfg, kbps)

	result := r.p.transcoder.Transcode(ctx, asset, spec)
	if !result.OK() {
		if result.Err != nil {
			return models.MediaAsset{}, result.Err
		}
		return models.MediaAsset{}, fmt.Errorf("%w: no output produced", transcoder.ErrTranscode)
	}

	r.logger.LogStageEvent(string(r.state), "preview_ready", map[string]interface{}{
		"path": result.Asset.Path,
		"size": result.Asset.Size,
	})

	return *result.Asset, nil
}

// relay sends both payloads. The preview is sent even when the original was
// refused or failed, and each delivery is reported on its own. Only
// transport failures fail the stage; upstream status codes are recorded.
func (r *run) relay(ctx context.Context, originalBlob, previewBlob models.TransportBlob) error {
	originalKey, previewKey := r.correlationKeys()

	var errs []error
	for _, item := range []struct {
		role models.AssetRole
		blob models.TransportBlob
		key  string
	}{
		{models.RoleOriginal, originalBlob, originalKey},
		{models.RolePreview, previewBlob, previewKey},
	} {
		delivery := r.deliver(ctx, item.role, item.blob, item.key)
		r.outcome.Deliveries = append(r.outcome.Deliveries, delivery)
		if delivery.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", item.role, delivery.Err))
		}
	}

	return errors.Join(errs...)
}

func (r *run) deliver(ctx context.Context, role models.AssetRole, blob models.TransportBlob, key string) models.Delivery {
	span, ctx := tracing.StartSpan(ctx, "pipeline.relay."+string(role))
	defer tracing.FinishSpan(span)

	start := time.Now()
	ack, err := r.p.relayer.Relay(ctx, blob, key, r.req.Auth)
	delivery := models.Delivery{
		Role:     role,
		Key:      key,
		Err:      err,
		Duration: time.Since(start),
	}
	if err == nil {
		delivery.Ack = &ack
		tracing.SetTag(span, "http.status_code", ack.StatusCode)
	} else {
		tracing.LogError(span, err)
	}

	r.logger.LogRelayResponse(string(role), key, ack.StatusCode, ack.Reason, delivery.Duration, err)
	metrics.RecordRelay(string(role), ack.StatusCode, blob.Len(), delivery.Duration.Seconds())

	return delivery
}

// correlationKeys returns the upstream keys of original and preview. A
// caller-supplied key names the original and, suffixed, the preview;
// otherwise both get fresh random keys.
func (r *run) correlationKeys() (string, string) {
	if key := r.req.Auth.Key; key != "" {
		return key, key + "_demo"
	}
	return r.p.newKey(), r.p.newKey()
}

// enter moves the state machine forward, closing the previous state's span
func (r *run) enter(ctx context.Context, next models.PipelineState) {
	metrics.RecordStage(string(r.state), time.Since(r.stateStart).Seconds())
	tracing.FinishSpan(r.stateSpan)
	r.stateSpan = nil

	r.logger.LogStageEvent(string(next), "entered", map[string]interface{}{"from": string(r.state)})
	r.state = next
	r.stateStart = time.Now()

	if next != models.StateDone {
		r.stateSpan, _ = tracing.StartSpan(ctx, "pipeline."+string(next))
	}
}

func (r *run) fail(stage models.Stage, err error) {
	r.outcome.Success = false
	r.outcome.Stage = stage
	r.outcome.Err = &StageError{Stage: stage, Err: err}

	tracing.LogError(r.stateSpan, err)
	metrics.RecordError("pipeline", string(stage))
	r.logger.LogStageFailure(string(stage), err)
}
