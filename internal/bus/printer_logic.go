package bus

import (
	"context"
	"errors"
	"fmt"

	"github.com/printqd/printqd/internal/core"
	"github.com/printqd/printqd/internal/logger"
)

// Inbound event names on the printers audience.
const (
	EventInitialData         = "initial_data"
	EventStateUpdated        = "state_updated"
	EventExtrudersUpdated    = "extruders_updated"
	EventPrintStarted        = "print_started"
	EventPrintFinished       = "print_finished"
	EventPrintFeedback       = "print_feedback"
	EventTemperaturesUpdated = "printer_temperatures_updated"
	EventJobProgressUpdated  = "job_progress_updated"
)

// ErrSessionMismatch tells the transport to drop the connection: the
// frame carried a session key that is not the printer's active one.
var ErrSessionMismatch = errors.New("session key mismatch")

// errorReply is the body of a <event>_error frame.
type errorReply struct {
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

// PrinterLogic translates inbound printer frames into dispatcher
// calls. The dispatcher's own locks serialize concurrent frames.
type PrinterLogic struct {
	dispatcher *core.Dispatcher
	events     core.Events
	log        *logger.Logger
}

func NewPrinterLogic(dispatcher *core.Dispatcher, events core.Events, log *logger.Logger) *PrinterLogic {
	return &PrinterLogic{
		dispatcher: dispatcher,
		events:     events,
		log:        log.With("component", "printer_logic"),
	}
}

// Handle processes one frame from an authenticated printer. It returns
// a reply frame to send back, or nil when the event has no reply.
// ErrSessionMismatch means the connection must be dropped.
func (l *PrinterLogic) Handle(ctx context.Context, printerID int64, frame InboundFrame) (*Frame, error) {
	ok, err := l.dispatcher.ValidSession(ctx, printerID, frame.SessionKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSessionMismatch
	}

	err = l.dispatch(ctx, printerID, frame)
	if err == nil {
		return nil, nil
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		l.log.Warn("invalid printer frame", "printer_id", printerID, "event", frame.Event, "errors", ve.Fields)
		return &Frame{
			Event: frame.Event + "_error",
			Data:  errorReply{Message: "Invalid event payload.", Errors: ve.Fields},
		}, nil
	}

	l.log.Error("printer event failed", "printer_id", printerID, "event", frame.Event, "error", err)
	return &Frame{
		Event: frame.Event + "_error",
		Data:  errorReply{Message: err.Error()},
	}, nil
}

func (l *PrinterLogic) dispatch(ctx context.Context, printerID int64, frame InboundFrame) error {
	switch frame.Event {
	case EventInitialData:
		var data InitialData
		if err := decodeStrict(frame.Data, &data); err != nil {
			return err
		}
		if err := data.Validate(); err != nil {
			return err
		}
		return l.dispatcher.OnPrinterInitialData(ctx, printerID, data.State, toDBExtruders(printerID, data.ExtrudersInfo))

	case EventStateUpdated:
		var data StateUpdated
		if err := decodeStrict(frame.Data, &data); err != nil {
			return err
		}
		if err := data.Validate(); err != nil {
			return err
		}
		return l.dispatcher.OnPrinterStateChanged(ctx, printerID, data.State)

	case EventExtrudersUpdated:
		var data ExtrudersUpdated
		if err := decodeStrict(frame.Data, &data); err != nil {
			return err
		}
		if err := data.Validate(); err != nil {
			return err
		}
		return l.dispatcher.OnPrinterExtrudersChanged(ctx, printerID, toDBExtruders(printerID, data.ExtrudersInfo))

	case EventPrintStarted:
		var data PrintStarted
		if err := decodeStrict(frame.Data, &data); err != nil {
			return err
		}
		if err := data.Validate(); err != nil {
			return err
		}
		return l.dispatcher.OnPrintStarted(ctx, printerID, *data.JobID)

	case EventPrintFinished:
		var data PrintFinished
		if err := decodeStrict(frame.Data, &data); err != nil {
			return err
		}
		if err := data.Validate(); err != nil {
			return err
		}
		return l.dispatcher.OnPrintFinished(ctx, printerID, *data.JobID, data.Cancelled)

	case EventPrintFeedback:
		var data PrintFeedback
		if err := decodeStrict(frame.Data, &data); err != nil {
			return err
		}
		if err := data.Validate(); err != nil {
			return err
		}
		return l.dispatcher.OnPrintFeedback(ctx, printerID, *data.JobID, core.Feedback{
			Success:         *data.Feedback.Success,
			MaxPriority:     data.Feedback.MaxPriority,
			PrintingSeconds: *data.Feedback.PrintingSeconds,
		})

	case EventTemperaturesUpdated:
		var data TemperaturesUpdated
		if err := decodeStrict(frame.Data, &data); err != nil {
			return err
		}
		// Temperatures are ephemeral; fan out without persisting.
		l.events.BroadcastClients(core.EventPrinterTemperaturesUpdated, core.PrinterTemperaturesPayload{
			PrinterID:     printerID,
			BedTemp:       data.BedTemp,
			ExtrudersTemp: data.ExtrudersTemp,
		})
		return nil

	case EventJobProgressUpdated:
		var data JobProgressUpdated
		if err := decodeStrict(frame.Data, &data); err != nil {
			return err
		}
		if err := data.Validate(); err != nil {
			return err
		}
		return l.dispatcher.OnJobProgress(ctx, *data.ID, *data.Progress, data.EstimatedSecondsLeft)

	default:
		ve := newValidationError()
		ve.add("event", fmt.Sprintf("unknown event %q", frame.Event))
		return ve
	}
}
