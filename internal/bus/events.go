package bus

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/printqd/printqd/internal/db"
)

// InboundFrame is one event posted by a connected peer. Printers carry
// their session key on every frame.
type InboundFrame struct {
	Event      string          `json:"event"`
	SessionKey string          `json:"session_key,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// ValidationError carries per-field problems of an inbound payload.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid event payload: %v", e.Fields)
}

func newValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string][]string)}
}

func (e *ValidationError) add(field, problem string) {
	e.Fields[field] = append(e.Fields[field], problem)
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// decodeStrict unmarshals raw into v, rejecting unknown fields.
func decodeStrict(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		ve := newValidationError()
		ve.add("data", err.Error())
		return ve
	}
	return nil
}

// ExtruderInfo is one extruder slot as reported by a printer.
type ExtruderInfo struct {
	Index          *int   `json:"index"`
	ExtruderTypeID *int64 `json:"extruder_type_id"`
	MaterialID     *int64 `json:"material_id"`
}

func validateExtruders(infos []ExtruderInfo, ve *ValidationError) {
	seen := make(map[int]bool)
	for i, info := range infos {
		field := fmt.Sprintf("extruders_info[%d].index", i)
		if info.Index == nil {
			ve.add(field, "is required")
			continue
		}
		if *info.Index < 0 {
			ve.add(field, "must not be negative")
			continue
		}
		if seen[*info.Index] {
			ve.add(field, "is duplicated")
		}
		seen[*info.Index] = true
	}
}

func toDBExtruders(printerID int64, infos []ExtruderInfo) []*db.PrinterExtruder {
	out := make([]*db.PrinterExtruder, 0, len(infos))
	for _, info := range infos {
		out = append(out, &db.PrinterExtruder{
			PrinterID:      printerID,
			Index:          *info.Index,
			ExtruderTypeID: info.ExtruderTypeID,
			MaterialID:     info.MaterialID,
		})
	}
	return out
}

// InitialData is the first frame a printer sends after connecting.
type InitialData struct {
	State         string         `json:"state"`
	ExtrudersInfo []ExtruderInfo `json:"extruders_info"`
}

func (d *InitialData) Validate() error {
	ve := newValidationError()
	if d.State == "" {
		ve.add("state", "is required")
	}
	validateExtruders(d.ExtrudersInfo, ve)
	return ve.orNil()
}

type StateUpdated struct {
	State string `json:"state"`
}

func (d *StateUpdated) Validate() error {
	ve := newValidationError()
	if d.State == "" {
		ve.add("state", "is required")
	}
	return ve.orNil()
}

type ExtrudersUpdated struct {
	ExtrudersInfo []ExtruderInfo `json:"extruders_info"`
}

func (d *ExtrudersUpdated) Validate() error {
	ve := newValidationError()
	validateExtruders(d.ExtrudersInfo, ve)
	return ve.orNil()
}

type PrintStarted struct {
	JobID *int64 `json:"job_id"`
}

func (d *PrintStarted) Validate() error {
	ve := newValidationError()
	if d.JobID == nil {
		ve.add("job_id", "is required")
	}
	return ve.orNil()
}

type PrintFinished struct {
	JobID     *int64 `json:"job_id"`
	Cancelled bool   `json:"cancelled"`
}

func (d *PrintFinished) Validate() error {
	ve := newValidationError()
	if d.JobID == nil {
		ve.add("job_id", "is required")
	}
	return ve.orNil()
}

type FeedbackData struct {
	Success         *bool    `json:"success"`
	MaxPriority     *bool    `json:"max_priority"`
	PrintingSeconds *float64 `json:"printing_seconds"`
}

type PrintFeedback struct {
	JobID    *int64        `json:"job_id"`
	Feedback *FeedbackData `json:"feedback_data"`
}

func (d *PrintFeedback) Validate() error {
	ve := newValidationError()
	if d.JobID == nil {
		ve.add("job_id", "is required")
	}
	if d.Feedback == nil {
		ve.add("feedback_data", "is required")
	} else {
		if d.Feedback.Success == nil {
			ve.add("feedback_data.success", "is required")
		}
		if d.Feedback.PrintingSeconds == nil {
			ve.add("feedback_data.printing_seconds", "is required")
		} else if *d.Feedback.PrintingSeconds < 0 {
			ve.add("feedback_data.printing_seconds", "must not be negative")
		}
	}
	return ve.orNil()
}

type TemperaturesUpdated struct {
	BedTemp       float64   `json:"bed_temp"`
	ExtrudersTemp []float64 `json:"extruders_temp"`
}

func (d *TemperaturesUpdated) Validate() error {
	return nil
}

type JobProgressUpdated struct {
	ID                   *int64   `json:"id"`
	Progress             *float64 `json:"progress"`
	EstimatedSecondsLeft *float64 `json:"estimated_seconds_left"`
}

func (d *JobProgressUpdated) Validate() error {
	ve := newValidationError()
	if d.ID == nil {
		ve.add("id", "is required")
	}
	if d.Progress == nil {
		ve.add("progress", "is required")
	} else if *d.Progress < 0 || *d.Progress > 100 {
		ve.add("progress", "must be between 0 and 100")
	}
	return ve.orNil()
}

// AnalyzeJob asks the server to analyze the job's file.
type AnalyzeJob struct {
	JobID *int64 `json:"job_id"`
}

func (d *AnalyzeJob) Validate() error {
	ve := newValidationError()
	if d.JobID == nil {
		ve.add("job_id", "is required")
	}
	return ve.orNil()
}

// EnqueueJob asks the server to move the job into the waiting queue.
type EnqueueJob struct {
	JobID *int64 `json:"job_id"`
}

func (d *EnqueueJob) Validate() error {
	ve := newValidationError()
	if d.JobID == nil {
		ve.add("job_id", "is required")
	}
	return ve.orNil()
}
