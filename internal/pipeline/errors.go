package pipeline

import (
	"errors"
	"fmt"

	"github.com/therealutkarshpriyadarshi/compressor/pkg/models"
)

// ErrValidation is returned when the handed-over asset is unusable
var ErrValidation = errors.New("validation failed")

// StageError is the terminal error of a failed run
type StageError struct {
	Stage models.Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
