package models

import (
	"net/http"
	"time"
)

// Stage identifies the pipeline step that terminated a request
type Stage string

// Stage constants
const (
	StageNone       Stage = ""
	StageValidation Stage = "validation"
	StageTranscode  Stage = "transcode"
	StageEncode     Stage = "encode"
	StageRelay      Stage = "relay"
)

// PipelineState is a position in the pipeline state machine
type PipelineState string

// PipelineState constants
const (
	StateReceived    PipelineState = "received"
	StateProbing     PipelineState = "probing"
	StateTranscoding PipelineState = "transcoding"
	StateEncoding    PipelineState = "encoding"
	StateRelaying    PipelineState = "relaying"
	StateDone        PipelineState = "done"
)

// AssetRole tells original and preview payloads apart
type AssetRole string

// AssetRole constants
const (
	RoleOriginal AssetRole = "original"
	RolePreview  AssetRole = "preview"
)

// Delivery records what happened to one relayed packet
type Delivery struct {
	Role     AssetRole     `json:"role"`
	Key      string        `json:"key"`
	Ack      *RelayAck     `json:"ack,omitempty"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// Delivered reports whether upstream acknowledged the packet with 2xx
func (d Delivery) Delivered() bool {
	return d.Err == nil && d.Ack != nil && d.Ack.OK()
}

// PipelineOutcome is the terminal result of one request
type PipelineOutcome struct {
	RequestID   string        `json:"request_id"`
	Success     bool          `json:"success"`
	Stage       Stage         `json:"stage,omitempty"`
	Err         error         `json:"-"`
	BitrateKbps int           `json:"bitrate_kbps,omitempty"`
	Original    MediaAsset    `json:"original"`
	Preview     *MediaAsset   `json:"preview,omitempty"`
	Deliveries  []Delivery    `json:"deliveries,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// Failed reports whether the request ended in Failure(stage, cause)
func (o PipelineOutcome) Failed() bool {
	return !o.Success
}

// HTTPStatus maps the outcome onto the status code returned to the caller
func (o PipelineOutcome) HTTPStatus() int {
	if o.Success {
		return http.StatusOK
	}
	return http.StatusInternalServerError
}
