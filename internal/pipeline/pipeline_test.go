package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/compressor/internal/config"
	"github.com/therealutkarshpriyadarshi/compressor/internal/encoding"
	"github.com/therealutkarshpriyadarshi/compressor/internal/logging"
	"github.com/therealutkarshpriyadarshi/compressor/internal/relay"
	"github.com/therealutkarshpriyadarshi/compressor/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/compressor/pkg/models"
)

type MockProber struct {
	mock.Mock
}

func (m *MockProber) ProbeDuration(ctx context.Context, asset models.MediaAsset) (time.Duration, error) {
	args := m.Called(ctx, asset)
	return args.Get(0).(time.Duration), args.Error(1)
}

type MockTranscoder struct {
	mock.Mock
}

func (m *MockTranscoder) Transcode(ctx context.Context, asset models.MediaAsset, spec models.TranscodeSpec) models.TranscodeResult {
	args := m.Called(ctx, asset, spec)
	return args.Get(0).(models.TranscodeResult)
}

type MockRelayer struct {
	mock.Mock
}

func (m *MockRelayer) Relay(ctx context.Context, blob models.TransportBlob, key string, auth models.AuthContext) (models.RelayAck, error) {
	args := m.Called(ctx, blob, key, auth)
	return args.Get(0).(models.RelayAck), args.Error(1)
}

// upstream records packets and answers with the queued status codes
type upstream struct {
	mu       sync.Mutex
	statuses []int
	packets  []models.RelayPacket
	cookies  []string
	server   *httptest.Server
}

func newUpstream(t *testing.T, statuses ...int) *upstream {
	u := &upstream{statuses: statuses}
	u.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		defer u.mu.Unlock()

		body, _ := io.ReadAll(r.Body)
		var packet models.RelayPacket
		_ = json.Unmarshal(body, &packet)
		u.packets = append(u.packets, packet)
		u.cookies = append(u.cookies, r.Header.Get("XRMCCookie"))

		status := http.StatusOK
		if len(u.statuses) > 0 {
			status, u.statuses = u.statuses[0], u.statuses[1:]
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(u.server.Close)
	return u
}

func (u *upstream) client() *relay.Client {
	return relay.NewClient(config.RelayConfig{URL: u.server.URL, Timeout: 5 * time.Second})
}

func encoderConfig() config.EncoderConfig {
	return config.EncoderConfig{
		FPS:          "25",
		AudioCodec:   "aac",
		AudioBitrate: "128k",
		Resolution:   "640x360",
		TargetSize:   10,
		BitsPerByte:  8,
	}
}

// fixture writes an upload and its preview into a request directory
type fixture struct {
	original models.MediaAsset
	preview  models.MediaAsset
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()

	originalPath := filepath.Join(dir, "video.mp4")
	require.NoError(t, os.WriteFile(originalPath, []byte("original video bytes"), 0o644))
	original, err := models.AssetFromFile(originalPath)
	require.NoError(t, err)

	previewPath := transcoder.PreviewPath(originalPath)
	require.NoError(t, os.WriteFile(previewPath, []byte("preview"), 0o644))
	preview, err := models.AssetFromFile(previewPath)
	require.NoError(t, err)

	return fixture{original: original, preview: preview}
}

func b64(s string) models.TransportBlob {
	return models.TransportBlob(base64.StdEncoding.EncodeToString([]byte(s)))
}

func TestRunSuccess(t *testing.T) {
	fx := newFixture(t)
	up := newUpstream(t)

	prober := new(MockProber)
	prober.On("ProbeDuration", mock.Anything, fx.original).Return(20*time.Second, nil)

	tc := new(MockTranscoder)
	wantSpec := models.TranscodeSpec{FrameRate: "25", AudioCodec: "aac", AudioBitrate: "128k", Resolution: "640x360", VideoBitrateKbps: 4000}
	tc.On("Transcode", mock.Anything, fx.original, wantSpec).Return(models.TranscodeSucceeded(fx.preview))

	p := New(encoderConfig(), prober, tc, encoding.NewCodec(), up.client(), nil)
	outcome := p.Run(context.Background(), Request{
		ID:    "req-1",
		Asset: fx.original,
		Auth:  models.AuthContext{Cookie: "session"},
	})

	require.True(t, outcome.Success, "unexpected failure: %v", outcome.Err)
	assert.Equal(t, http.StatusOK, outcome.HTTPStatus())
	assert.Equal(t, "req-1", outcome.RequestID)
	assert.Equal(t, 4000, outcome.BitrateKbps)
	assert.Equal(t, models.StageNone, outcome.Stage)
	require.NotNil(t, outcome.Preview)
	assert.Equal(t, fx.preview.Path, outcome.Preview.Path)

	require.Len(t, up.packets, 2)
	assert.Equal(t, b64("original video bytes"), up.packets[0].Data)
	assert.Equal(t, b64("preview"), up.packets[1].Data)
	for _, packet := range up.packets {
		assert.Equal(t, 1, packet.Packet)
		assert.Equal(t, 1, packet.LastPacket)
		assert.NotEmpty(t, packet.Key)
	}
	assert.NotEqual(t, up.packets[0].Key, up.packets[1].Key)
	assert.Equal(t, []string{"session", "session"}, up.cookies)

	require.Len(t, outcome.Deliveries, 2)
	assert.Equal(t, models.RoleOriginal, outcome.Deliveries[0].Role)
	assert.Equal(t, models.RolePreview, outcome.Deliveries[1].Role)
	assert.True(t, outcome.Deliveries[0].Delivered())
	assert.True(t, outcome.Deliveries[1].Delivered())

	prober.AssertExpectations(t)
	tc.AssertExpectations(t)
}

func TestRunUsesCallerKey(t *testing.T) {
	fx := newFixture(t)
	up := newUpstream(t)

	prober := new(MockProber)
	prober.On("ProbeDuration", mock.Anything, mock.Anything).Return(20*time.Second, nil)
	tc := new(MockTranscoder)
	tc.On("Transcode", mock.Anything, mock.Anything, mock.Anything).Return(models.TranscodeSucceeded(fx.preview))

	outcome := New(encoderConfig(), prober, tc, encoding.NewCodec(), up.client(), nil).
		Run(context.Background(), Request{Asset: fx.original, Auth: models.AuthContext{Key: "doc-42"}})

	require.True(t, outcome.Success)
	assert.NotEmpty(t, outcome.RequestID)
	require.Len(t, up.packets, 2)
	assert.Equal(t, "doc-42", up.packets[0].Key)
	assert.Equal(t, "doc-42_demo", up.packets[1].Key)
	assert.Equal(t, []string{"", ""}, up.cookies)
}

func TestRunProbeFailureSkipsTranscode(t *testing.T) {
	fx := newFixture(t)
	up := newUpstream(t)

	prober := new(MockProber)
	prober.On("ProbeDuration", mock.Anything, mock.Anything).
		Return(time.Duration(0), errors.New("ffprobe failed: exit status 1"))
	tc := new(MockTranscoder)

	outcome := New(encoderConfig(), prober, tc, encoding.NewCodec(), up.client(), nil).
		Run(context.Background(), Request{Asset: fx.original})

	assert.False(t, outcome.Success)
	assert.Equal(t, models.StageValidation, outcome.Stage)
	assert.Equal(t, http.StatusInternalServerError, outcome.HTTPStatus())

	var stageErr *StageError
	require.ErrorAs(t, outcome.Err, &stageErr)
	assert.Equal(t, models.StageValidation, stageErr.Stage)

	tc.AssertNotCalled(t, "Transcode", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, up.packets)
	assert.Empty(t, outcome.Deliveries)
}

func TestRunZeroDurationFailsValidation(t *testing.T) {
	fx := newFixture(t)

	prober := new(MockProber)
	prober.On("ProbeDuration", mock.Anything, mock.Anything).Return(time.Duration(0), nil)
	tc := new(MockTranscoder)

	outcome := New(encoderConfig(), prober, tc, encoding.NewCodec(), new(MockRelayer), nil).
		Run(context.Background(), Request{Asset: fx.original})

	assert.Equal(t, models.StageValidation, outcome.Stage)
	assert.ErrorIs(t, outcome.Err, transcoder.ErrInvalidDuration)
	tc.AssertNotCalled(t, "Transcode", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunMissingAssetFailsBeforeProbe(t *testing.T) {
	prober := new(MockProber)
	missing := models.MediaAsset{Path: filepath.Join(t.TempDir(), "gone.mp4")}

	outcome := New(encoderConfig(), prober, new(MockTranscoder), encoding.NewCodec(), new(MockRelayer), nil).
		Run(context.Background(), Request{Asset: missing})

	assert.Equal(t, models.StageValidation, outcome.Stage)
	assert.ErrorIs(t, outcome.Err, ErrValidation)
	prober.AssertNotCalled(t, "ProbeDuration", mock.Anything, mock.Anything)
}

func TestRunTranscodeFailure(t *testing.T) {
	fx := newFixture(t)
	up := newUpstream(t)

	prober := new(MockProber)
	prober.On("ProbeDuration", mock.Anything, mock.Anything).Return(20*time.Second, nil)
	tc := new(MockTranscoder)
	tc.On("Transcode", mock.Anything, mock.Anything, mock.Anything).
		Return(models.TranscodeFailed(transcoder.ErrTranscode))

	outcome := New(encoderConfig(), prober, tc, encoding.NewCodec(), up.client(), nil).
		Run(context.Background(), Request{Asset: fx.original})

	assert.Equal(t, models.StageTranscode, outcome.Stage)
	assert.ErrorIs(t, outcome.Err, transcoder.ErrTranscode)
	assert.Nil(t, outcome.Preview)
	assert.Empty(t, up.packets)
}

func TestRunTranscodeWithoutAssetIsFailure(t *testing.T) {
	fx := newFixture(t)

	prober := new(MockProber)
	prober.On("ProbeDuration", mock.Anything, mock.Anything).Return(20*time.Second, nil)
	tc := new(MockTranscoder)
	tc.On("Transcode", mock.Anything, mock.Anything, mock.Anything).Return(models.TranscodeResult{})

	outcome := New(encoderConfig(), prober, tc, encoding.NewCodec(), new(MockRelayer), nil).
		Run(context.Background(), Request{Asset: fx.original})

	assert.Equal(t, models.StageTranscode, outcome.Stage)
	assert.ErrorIs(t, outcome.Err, transcoder.ErrTranscode)
}

func TestRunEncodeFailureRelaysNothing(t *testing.T) {
	fx := newFixture(t)
	up := newUpstream(t)
	require.NoError(t, os.Remove(fx.preview.Path))

	prober := new(MockProber)
	prober.On("ProbeDuration", mock.Anything, mock.Anything).Return(20*time.Second, nil)
	tc := new(MockTranscoder)
	tc.On("Transcode", mock.Anything, mock.Anything, mock.Anything).Return(models.TranscodeSucceeded(fx.preview))

	outcome := New(encoderConfig(), prober, tc, encoding.NewCodec(), up.client(), nil).
		Run(context.Background(), Request{Asset: fx.original})

	assert.Equal(t, models.StageEncode, outcome.Stage)
	assert.ErrorIs(t, outcome.Err, encoding.ErrEncoding)
	assert.Empty(t, up.packets)
}

func TestRunUpstreamErrorStatusStillSendsPreview(t *testing.T) {
	fx := newFixture(t)
	up := newUpstream(t, http.StatusServiceUnavailable, http.StatusOK)

	prober := new(MockProber)
	prober.On("ProbeDuration", mock.Anything, mock.Anything).Return(20*time.Second, nil)
	tc := new(MockTranscoder)
	tc.On("Transcode", mock.Anything, mock.Anything, mock.Anything).Return(models.TranscodeSucceeded(fx.preview))

	var logs bytes.Buffer
	outcome := New(encoderConfig(), prober, tc, encoding.NewCodec(), up.client(), logging.New(&logs, "info")).
		Run(context.Background(), Request{Asset: fx.original})

	// Upstream status codes do not fail the request
	assert.True(t, outcome.Success)
	assert.Equal(t, http.StatusOK, outcome.HTTPStatus())

	require.Len(t, up.packets, 2)
	require.Len(t, outcome.Deliveries, 2)
	assert.Equal(t, http.StatusServiceUnavailable, outcome.Deliveries[0].Ack.StatusCode)
	assert.False(t, outcome.Deliveries[0].Delivered())
	assert.Equal(t, http.StatusOK, outcome.Deliveries[1].Ack.StatusCode)
	assert.True(t, outcome.Deliveries[1].Delivered())

	var relayLines []string
	for _, line := range strings.Split(logs.String(), "\n") {
		if strings.Contains(line, `"message":"Relay response"`) {
			relayLines = append(relayLines, line)
		}
	}
	require.Len(t, relayLines, 2)
	assert.Contains(t, relayLines[0], `"status_code":503`)
	assert.Contains(t, relayLines[0], `"role":"original"`)
	assert.Contains(t, relayLines[1], `"status_code":200`)
	assert.Contains(t, relayLines[1], `"role":"preview"`)
}

func TestRunTransportErrorFailsRelayAfterBothAttempts(t *testing.T) {
	fx := newFixture(t)

	prober := new(MockProber)
	prober.On("ProbeDuration", mock.Anything, mock.Anything).Return(20*time.Second, nil)
	tc := new(MockTranscoder)
	tc.On("Transcode", mock.Anything, mock.Anything, mock.Anything).Return(models.TranscodeSucceeded(fx.preview))

	relayer := new(MockRelayer)
	relayer.On("Relay", mock.Anything, b64("original video bytes"), mock.Anything, mock.Anything).
		Return(models.RelayAck{}, relay.ErrRelay).Once()
	relayer.On("Relay", mock.Anything, b64("preview"), mock.Anything, mock.Anything).
		Return(models.RelayAck{StatusCode: 200, Reason: "OK"}, nil).Once()

	outcome := New(encoderConfig(), prober, tc, encoding.NewCodec(), relayer, nil).
		Run(context.Background(), Request{Asset: fx.original})

	assert.False(t, outcome.Success)
	assert.Equal(t, models.StageRelay, outcome.Stage)
	assert.ErrorIs(t, outcome.Err, relay.ErrRelay)

	require.Len(t, outcome.Deliveries, 2)
	assert.ErrorIs(t, outcome.Deliveries[0].Err, relay.ErrRelay)
	assert.Nil(t, outcome.Deliveries[0].Ack)
	assert.True(t, outcome.Deliveries[1].Delivered())
	relayer.AssertExpectations(t)
}

func TestRunIsSafeForConcurrentRequests(t *testing.T) {
	up := newUpstream(t)
	prober := new(MockProber)
	prober.On("ProbeDuration", mock.Anything, mock.Anything).Return(20*time.Second, nil)

	fixtures := make([]fixture, 8)
	tc := new(MockTranscoder)
	for i := range fixtures {
		fixtures[i] = newFixture(t)
		tc.On("Transcode", mock.Anything, fixtures[i].original, mock.Anything).
			Return(models.TranscodeSucceeded(fixtures[i].preview))
	}

	p := New(encoderConfig(), prober, tc, encoding.NewCodec(), up.client(), nil)

	var wg sync.WaitGroup
	results := make([]models.PipelineOutcome, len(fixtures))
	for i := range fixtures {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = p.Run(context.Background(), Request{Asset: fixtures[i].original})
		}(i)
	}
	wg.Wait()

	for i, outcome := range results {
		assert.True(t, outcome.Success, "request %d: %v", i, outcome.Err)
		assert.Len(t, outcome.Deliveries, 2)
	}
	assert.Len(t, up.packets, 2*len(fixtures))
}
