package encoding

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/therealutkarshpriyadarshi/compressor/pkg/models"
)

var (
	// ErrEncoding is returned when a file cannot be encoded or a blob decoded
	ErrEncoding = errors.New("transport encoding failed")

	// ErrMalformedBlob marks decode failures caused by the blob itself rather
	// than by the filesystem
	ErrMalformedBlob = errors.New("malformed blob")
)

// Codec converts files to and from the base64 text carried in relay packets.
// It is stateless and safe for concurrent use.
type Codec struct {
	enc *base64.Encoding
}

// NewCodec creates a codec using standard padded base64
func NewCodec() *Codec {
	return &Codec{enc: base64.StdEncoding}
}

// Encode streams the asset through the encoder; only the transport text is
// held in memory
func (c *Codec) Encode(asset models.MediaAsset) (models.TransportBlob, error) {
	f, err := os.Open(asset.Path)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read %s: %w", ErrEncoding, asset.Path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("%w: failed to stat %s: %w", ErrEncoding, asset.Path, err)
	}

	var sb strings.Builder
	sb.Grow(c.enc.EncodedLen(int(info.Size())))

	w := base64.NewEncoder(c.enc, &sb)
	if _, err := io.Copy(w, f); err != nil {
		return "", fmt.Errorf("%w: failed to read %s: %w", ErrEncoding, asset.Path, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrEncoding, err)
	}

	return models.TransportBlob(sb.String()), nil
}

// Decode writes the bytes carried by blob to outputPath. The file appears
// only once fully written; on failure nothing is left at outputPath.
func (c *Codec) Decode(blob models.TransportBlob, outputPath string) (models.MediaAsset, error) {
	data, err := c.enc.DecodeString(string(blob))
	if err != nil {
		return models.MediaAsset{}, fmt.Errorf("%w: %w: %w", ErrEncoding, ErrMalformedBlob, err)
	}

	if err := writeFileAtomic(outputPath, data); err != nil {
		return models.MediaAsset{}, fmt.Errorf("%w: %w", ErrEncoding, err)
	}

	return models.MediaAsset{
		Path:        outputPath,
		Size:        int64(len(data)),
		ContentType: models.ContentTypeFor(outputPath),
	}, nil
}

// writeFileAtomic writes into a temporary sibling and renames it into place
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}

	return nil
}
