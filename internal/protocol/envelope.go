package protocol

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Error codes carried by outbound error envelopes.
const (
	CodeValidationFailed   = "VALIDATION_FAILED"
	CodeLifecycle          = "LIFECYCLE_ERROR"
	CodeUnsupportedMessage = "UNSUPPORTED_MESSAGE"
	CodeFunctionNotFound   = "FUNCTION_NOT_FOUND"
	CodeRenderFailed       = "RENDER_FAILED"
)

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// ClientEnvelope is the outbound action/error frame. Exactly one of Action
// and Error is set.
type ClientEnvelope struct {
	Version string       `json:"version"`
	EventID string       `json:"eventId,omitempty"`
	Action  *Action      `json:"action,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

type Action struct {
	Name              string         `json:"name"`
	SurfaceID         string         `json:"surfaceId"`
	SourceComponentID string         `json:"sourceComponentId"`
	Timestamp         string         `json:"timestamp"`
	Context           map[string]any `json:"context"`
	DataModel         map[string]any `json:"dataModel,omitempty"`
}

type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	SurfaceID string `json:"surfaceId,omitempty"`
	Severity  string `json:"severity,omitempty"`
}

// NewActionEnvelope stamps an action with a fresh event id and timestamp.
func NewActionEnvelope(a Action, now time.Time) ClientEnvelope {
	if a.Timestamp == "" {
		a.Timestamp = now.UTC().Format(time.RFC3339Nano)
	}
	if a.Context == nil {
		a.Context = map[string]any{}
	}
	return ClientEnvelope{Version: Version, EventID: uuid.NewString(), Action: &a}
}

// NewErrorEnvelope builds an error (or warning) frame.
func NewErrorEnvelope(code, message, surfaceID, severity string) ClientEnvelope {
	if severity == "" {
		severity = SeverityError
	}
	return ClientEnvelope{
		Version: Version,
		EventID: uuid.NewString(),
		Error: &ErrorDetail{
			Code:      code,
			Message:   message,
			SurfaceID: surfaceID,
			Severity:  severity,
		},
	}
}

// Validate enforces the action/error oneof and the envelope version.
func (e ClientEnvelope) Validate() error {
	if e.Version != "" && !supportedVersion(e.Version) {
		return fmt.Errorf("%w: protocol version %q", ErrUnsupportedMessage, e.Version)
	}
	if (e.Action == nil) == (e.Error == nil) {
		return fmt.Errorf("%w: envelope requires exactly one of action or error", ErrUnsupportedMessage)
	}
	if e.Action != nil && strings.TrimSpace(e.Action.Name) == "" {
		return fmt.Errorf("%w: action.name is required", ErrUnsupportedMessage)
	}
	if e.Error != nil && strings.TrimSpace(e.Error.Code) == "" {
		return fmt.Errorf("%w: error.code is required", ErrUnsupportedMessage)
	}
	return nil
}

// Name returns the action name or the error code.
func (e ClientEnvelope) Name() string {
	if e.Action != nil {
		return e.Action.Name
	}
	if e.Error != nil {
		return e.Error.Code
	}
	return ""
}

// SurfaceID returns the surface the envelope refers to, if any.
func (e ClientEnvelope) SurfaceID() string {
	if e.Action != nil {
		return e.Action.SurfaceID
	}
	if e.Error != nil {
		return e.Error.SurfaceID
	}
	return ""
}
