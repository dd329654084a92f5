package upload

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/therealutkarshpriyadarshi/compressor/internal/config"
	"github.com/therealutkarshpriyadarshi/compressor/internal/logging"
	"github.com/therealutkarshpriyadarshi/compressor/internal/metrics"
)

var (
	// ErrInsufficientStorage is returned when an upload would not fit
	ErrInsufficientStorage = errors.New("insufficient storage for upload")
	// ErrInvalidRequestID is returned for ids that cannot name a directory
	ErrInvalidRequestID = errors.New("invalid request id")
)

// DiskStatus describes the filesystem holding request directories
type DiskStatus struct {
	Path        string  `json:"path"`
	TotalBytes  uint64  `json:"total_bytes"`
	FreeBytes   uint64  `json:"free_bytes"`
	UsedPercent float64 `json:"used_percent"`
	Healthy     bool    `json:"healthy"`
}

// Workspace owns the per-request directories under the upload root.
// Every request gets <root>/<request-id>-<random>/ which holds the upload and
// the preview rendered next to it. Request ids may repeat across client
// retries; directories never do.
type Workspace struct {
	root          string
	cleanup       bool
	minFree       uint64
	maxAge        time.Duration
	sweepInterval time.Duration
	logger        *logging.Logger
	usage         func(ctx context.Context, path string) (*disk.UsageStat, error)
	now           func() time.Time
}

// NewWorkspace creates the upload root if needed
func NewWorkspace(cfg config.UploadConfig, logger *logging.Logger) (*Workspace, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	root, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve upload dir: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}

	return &Workspace{
		root:          root,
		cleanup:       cfg.Cleanup,
		minFree:       cfg.MinFreeBytes,
		maxAge:        cfg.MaxAge,
		sweepInterval: cfg.SweepInterval,
		logger:        logger.WithComponent("upload"),
		usage:         disk.UsageWithContext,
		now:           time.Now,
	}, nil
}

// Root returns the absolute upload root
func (w *Workspace) Root() string {
	return w.root
}

// Create makes a fresh directory for one request, named after requestID
func (w *Workspace) Create(requestID string) (string, error) {
	if requestID == "" || requestID == "." || requestID == ".." || strings.ContainsAny(requestID, `/\*`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRequestID, requestID)
	}

	dir, err := os.MkdirTemp(w.root, requestID+"-")
	if err != nil {
		return "", fmt.Errorf("failed to create request dir: %w", err)
	}
	if err := os.Chmod(dir, 0o755); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("failed to create request dir: %w", err)
	}
	return dir, nil
}

// Release removes a directory returned by Create when cleanup is enabled
func (w *Workspace) Release(dir string) {
	if !w.cleanup || dir == "" {
		return
	}
	if filepath.Dir(filepath.Clean(dir)) != w.root {
		w.logger.Warnf("Refusing to remove %s outside %s", dir, w.root)
		return
	}

	if err := os.RemoveAll(dir); err != nil {
		w.logger.Warnf("Failed to remove request dir %s: %v", dir, err)
	}
}

// Status reports free space on the upload filesystem
func (w *Workspace) Status(ctx context.Context) (DiskStatus, error) {
	usage, err := w.usage(ctx, w.root)
	if err != nil {
		return DiskStatus{Path: w.root}, fmt.Errorf("failed to read disk usage: %w", err)
	}

	metrics.RecordUploadDirFree(usage.Free)
	return DiskStatus{
		Path:        w.root,
		TotalBytes:  usage.Total,
		FreeBytes:   usage.Free,
		UsedPercent: usage.UsedPercent,
		Healthy:     usage.Free >= w.minFree,
	}, nil
}

// Reserve checks that size more bytes fit while keeping the configured
// headroom. The preview needs room too, so size is counted twice.
func (w *Workspace) Reserve(ctx context.Context, size int64) error {
	if w.minFree == 0 {
		return nil
	}

	status, err := w.Status(ctx)
	if err != nil {
		// An unreadable filesystem is not a reason to turn uploads away
		w.logger.Warnf("Skipping capacity check: %v", err)
		return nil
	}

	need := w.minFree
	if size > 0 {
		need += 2 * uint64(size)
		if need < w.minFree {
			need = math.MaxUint64
		}
	}
	if status.FreeBytes < need {
		return fmt.Errorf("%w: %d bytes free, %d needed", ErrInsufficientStorage, status.FreeBytes, need)
	}
	return nil
}

// Sweep removes request directories older than the configured max age.
// They are left behind when cleanup is disabled or the process died mid-request.
func (w *Workspace) Sweep() (int, error) {
	if w.maxAge <= 0 {
		return 0, nil
	}

	entries, err := os.ReadDir(w.root)
	if err != nil {
		return 0, fmt.Errorf("failed to list upload dir: %w", err)
	}

	cutoff := w.now().Add(-w.maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}

		dir := filepath.Join(w.root, entry.Name())
		if err := os.RemoveAll(dir); err != nil {
			w.logger.Warnf("Failed to sweep %s: %v", dir, err)
			continue
		}
		removed++
	}

	metrics.RecordSwept(removed)
	return removed, nil
}

// RunSweeper sweeps periodically until ctx is done
func (w *Workspace) RunSweeper(ctx context.Context) {
	if w.maxAge <= 0 || w.sweepInterval <= 0 {
		return
	}

	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := w.Sweep()
			if err != nil {
				w.logger.ErrorWithErr("Sweep failed", err)
				continue
			}
			if removed > 0 {
				w.logger.Infof("Removed %d stale request directories", removed)
			}
		}
	}
}
