package core

import "errors"

// JobState names are wire-visible and part of the API.
type JobState string

const (
	JobCreated  JobState = "Created"
	JobWaiting  JobState = "Waiting"
	JobPrinting JobState = "Printing"
	JobFinished JobState = "Finished"
	JobDone     JobState = "Done"
	JobUnknown  JobState = "Unknown"
)

// Printer state names, also wire-visible. The is_operational flag for
// each lives in the printer_states catalog seeded at bootstrap.
const (
	PrinterOffline       = "Offline"
	PrinterReady         = "Ready"
	PrinterPrinting      = "Printing"
	PrinterPaused        = "Paused"
	PrinterPrintFinished = "Print finished"
	PrinterBusy          = "Busy"
	PrinterError         = "Error"
	PrinterUnknown       = "Unknown"
)

// KnownPrinterState reports whether a printer-reported state name is
// part of the catalog. Unrecognised names map to Unknown.
func KnownPrinterState(name string) bool {
	switch name {
	case PrinterOffline, PrinterReady, PrinterPrinting, PrinterPaused,
		PrinterPrintFinished, PrinterBusy, PrinterError, PrinterUnknown:
		return true
	}
	return false
}

var (
	// ErrInvalidTransition is returned for any illegal job state
	// change; the job is left untouched.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrNotAnalyzed is returned when enqueueing a job whose file has
	// not been analyzed yet.
	ErrNotAnalyzed = errors.New("job not analyzed")
)
