package analyzer

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/printqd/printqd/internal/logger"
)

var (
	// ErrInvalidFileData is returned when a header value cannot be
	// parsed.
	ErrInvalidFileData = errors.New("invalid file data")
	// ErrMissingDataKeys is returned when mandatory header keys are
	// absent.
	ErrMissingDataKeys = errors.New("missing file data keys")
)

const (
	// Header keys emitted by the slicer at the top of the g-code.
	keyPrintTime            = ";PRINT.TIME:"
	trainPrefix             = ";EXTRUDER_TRAIN."
	headerScanMax           = 4096
	defaultFilamentDiameter = 2.85
	defaultFilamentDensity  = 1.24
)

// ExtruderAnalysis describes one extruder train of a sliced job.
type ExtruderAnalysis struct {
	Index            int
	Enabled          bool
	MaterialType     string
	NozzleDiameter   float64
	FilamentDistance float64 // mm of filament fed through the extruder
	FilamentDiameter float64 // mm
	FilamentDensity  float64 // g/cm3
}

// EstimatedGrams converts fed filament length to mass:
// m = pi * (d/2)^2 * rho * L.
func (e ExtruderAnalysis) EstimatedGrams() float64 {
	radiusMM := e.FilamentDiameter / 2
	volumeMM3 := math.Pi * radiusMM * radiusMM * e.FilamentDistance
	return volumeMM3 / 1000 * e.FilamentDensity
}

type FileAnalysis struct {
	PrintingSeconds float64
	Extruders       []ExtruderAnalysis
}

// TotalGrams sums the estimated filament mass over enabled extruders.
func (a *FileAnalysis) TotalGrams() float64 {
	var total float64
	for _, e := range a.Extruders {
		if e.Enabled {
			total += e.EstimatedGrams()
		}
	}
	return total
}

// Analyzer extracts resource requirements from a sliced g-code file's
// header comments.
type Analyzer struct {
	log *logger.Logger
}

func New(log *logger.Logger) *Analyzer {
	return &Analyzer{log: log.With("component", "analyzer")}
}

func (a *Analyzer) Analyze(path string) (*FileAnalysis, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open gcode file: %w", err)
	}
	defer f.Close()

	analysis := &FileAnalysis{PrintingSeconds: -1}
	trains := make(map[int]*ExtruderAnalysis)

	scanner := bufio.NewScanner(f)
	for lines := 0; scanner.Scan() && lines < headerScanMax; lines++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, ";") {
			// Header comments precede the first command.
			break
		}

		switch {
		case strings.HasPrefix(line, keyPrintTime):
			secs, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimPrefix(line, keyPrintTime)), 64)
			if err != nil || secs < 0 {
				return nil, fmt.Errorf("%w: bad print time %q", ErrInvalidFileData, line)
			}
			analysis.PrintingSeconds = secs

		case strings.HasPrefix(line, trainPrefix):
			if err := parseTrainLine(line, trains); err != nil {
				return nil, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read gcode file: %w", err)
	}

	if analysis.PrintingSeconds < 0 {
		return nil, fmt.Errorf("%w: PRINT.TIME", ErrMissingDataKeys)
	}

	maxIndex := -1
	for idx := range trains {
		if idx > maxIndex {
			maxIndex = idx
		}
	}
	if maxIndex < 0 {
		return nil, fmt.Errorf("%w: no extruder trains", ErrMissingDataKeys)
	}

	anyEnabled := false
	for i := 0; i <= maxIndex; i++ {
		t, ok := trains[i]
		if !ok {
			t = &ExtruderAnalysis{Index: i}
		}
		if t.FilamentDiameter == 0 {
			t.FilamentDiameter = defaultFilamentDiameter
		}
		if t.FilamentDensity == 0 {
			t.FilamentDensity = defaultFilamentDensity
		}
		if t.MaterialType != "" {
			t.Enabled = true
		}
		anyEnabled = anyEnabled || t.Enabled
		analysis.Extruders = append(analysis.Extruders, *t)
	}
	if !anyEnabled {
		return nil, fmt.Errorf("%w: no enabled extruder", ErrMissingDataKeys)
	}

	return analysis, nil
}

// parseTrainLine handles ;EXTRUDER_TRAIN.<n>.<KEY>:<value> lines.
func parseTrainLine(line string, trains map[int]*ExtruderAnalysis) error {
	rest := strings.TrimPrefix(line, trainPrefix)
	dot := strings.Index(rest, ".")
	if dot < 0 {
		return fmt.Errorf("%w: malformed train line %q", ErrInvalidFileData, line)
	}
	index, err := strconv.Atoi(rest[:dot])
	if err != nil || index < 0 {
		return fmt.Errorf("%w: bad train index in %q", ErrInvalidFileData, line)
	}

	kv := rest[dot+1:]
	colon := strings.Index(kv, ":")
	if colon < 0 {
		return fmt.Errorf("%w: malformed train line %q", ErrInvalidFileData, line)
	}
	key := kv[:colon]
	value := strings.TrimSpace(kv[colon+1:])

	t, ok := trains[index]
	if !ok {
		t = &ExtruderAnalysis{Index: index}
		trains[index] = t
	}

	parseF := func() (float64, error) {
		v, err := strconv.ParseFloat(value, 64)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("%w: bad value for %s in %q", ErrInvalidFileData, key, line)
		}
		return v, nil
	}

	switch key {
	case "ENABLED":
		t.Enabled = strings.EqualFold(value, "true") || value == "1"
	case "MATERIAL.TYPE":
		if value == "" {
			return fmt.Errorf("%w: empty material type in %q", ErrInvalidFileData, line)
		}
		t.MaterialType = value
	case "NOZZLE.DIAMETER":
		v, err := parseF()
		if err != nil {
			return err
		}
		t.NozzleDiameter = v
	case "FILAMENT.LENGTH":
		v, err := parseF()
		if err != nil {
			return err
		}
		t.FilamentDistance = v
	case "FILAMENT.DIAMETER":
		v, err := parseF()
		if err != nil {
			return err
		}
		t.FilamentDiameter = v
	case "FILAMENT.DENSITY":
		v, err := parseF()
		if err != nil {
			return err
		}
		t.FilamentDensity = v
	default:
		// Slicers emit more train keys than we consume.
	}
	return nil
}
