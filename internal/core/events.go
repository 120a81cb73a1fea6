package core

import "time"

// Event names on the clients audience.
const (
	EventJobsUpdated                = "jobs_updated"
	EventJobProgressUpdated         = "job_progress_updated"
	EventJobAnalyzeDone             = "job_analyze_done"
	EventJobAnalyzeError            = "job_analyze_error"
	EventJobEnqueueDone             = "job_enqueue_done"
	EventJobEnqueueError            = "job_enqueue_error"
	EventPrinterDataUpdated         = "printer_data_updated"
	EventPrinterTemperaturesUpdated = "printer_temperatures_updated"
)

// Event names delivered point-to-point to a printer.
const (
	EventPrintJob     = "print_job"
	EventJobRecovered = "job_recovered"
)

// Events is the outbound side of the event bus as the core sees it.
// Transport failures during fan-out are the adapter's problem; they
// never roll back a committed transition.
type Events interface {
	BroadcastClients(event string, payload interface{})
	SendToPrinter(printerID int64, event string, payload interface{})
	DropPrinterSession(printerID int64, sessionID string)
}

type PrintJobPayload struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	FileID int64  `json:"file_id"`
}

type JobRecoveredPayload struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	StartedAt   *time.Time `json:"started_at"`
	Interrupted bool       `json:"interrupted"`
}

type JobProgressPayload struct {
	ID                   int64    `json:"id"`
	Progress             float64  `json:"progress"`
	EstimatedSecondsLeft *float64 `json:"estimated_seconds_left,omitempty"`
}

type PrinterTemperaturesPayload struct {
	PrinterID     int64     `json:"printer_id"`
	BedTemp       float64   `json:"bed_temp"`
	ExtrudersTemp []float64 `json:"extruders_temp"`
}

// Feedback is the printer-issued terminal report for a print.
// MaxPriority says whether a retry goes to the head (true) or tail
// (false) of the queue; nil means no retry is wanted.
type Feedback struct {
	Success         bool    `json:"success"`
	MaxPriority     *bool   `json:"max_priority"`
	PrintingSeconds float64 `json:"printing_seconds"`
}

// NopEvents discards everything. Used in tests and as a fallback.
type NopEvents struct{}

func (NopEvents) BroadcastClients(string, interface{})     {}
func (NopEvents) SendToPrinter(int64, string, interface{}) {}
func (NopEvents) DropPrinterSession(int64, string)         {}
