package db

import (
	"time"
)

type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

type File struct {
	ID                       int64     `json:"id"`
	OwnerUserID              int64     `json:"owner_user_id"`
	LogicalName              string    `json:"logical_name"`
	StoragePath              string    `json:"-"`
	EstimatedPrintingSeconds *float64  `json:"estimated_printing_seconds"`
	EstimatedMaterialGrams   *float64  `json:"estimated_material_grams"`
	RawMetadata              *string   `json:"raw_metadata,omitempty"`
	CreatedAt                time.Time `json:"created_at"`
}

type PrinterModel struct {
	ID     int64   `json:"id"`
	Name   string  `json:"name"`
	Width  float64 `json:"width"`
	Depth  float64 `json:"depth"`
	Height float64 `json:"height"`
}

type PrinterState struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	IsOperational bool   `json:"is_operational"`
}

type ExtruderType struct {
	ID             int64   `json:"id"`
	Brand          string  `json:"brand"`
	NozzleDiameter float64 `json:"nozzle_diameter"`
}

type Material struct {
	ID        int64   `json:"id"`
	Type      string  `json:"type"`
	Color     *string `json:"color,omitempty"`
	Brand     *string `json:"brand,omitempty"`
	GUID      *string `json:"guid,omitempty"`
	PrintTemp float64 `json:"print_temp"`
	BedTemp   float64 `json:"bed_temp"`
}

type PrinterExtruder struct {
	ID             int64  `json:"id"`
	PrinterID      int64  `json:"printer_id"`
	Index          int    `json:"index"`
	ExtruderTypeID *int64 `json:"extruder_type_id"`
	MaterialID     *int64 `json:"material_id"`
}

type Printer struct {
	ID                   int64     `json:"id"`
	ModelID              int64     `json:"model_id"`
	ModelName            string    `json:"model_name"`
	StateID              int64     `json:"-"`
	State                string    `json:"state"`
	IsOperational        bool      `json:"is_operational"`
	Name                 string    `json:"name"`
	Serial               string    `json:"serial"`
	IPAddress            *string   `json:"ip_address,omitempty"`
	APIKeyDigest         string    `json:"-"`
	CurrentJobID         *int64    `json:"current_job_id"`
	SessionID            *string   `json:"-"`
	TotalSuccessPrints   int64     `json:"total_success_prints"`
	TotalFailedPrints    int64     `json:"total_failed_prints"`
	TotalPrintingSeconds float64   `json:"total_printing_seconds"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`

	Extruders []*PrinterExtruder `json:"extruders,omitempty"`
}

type Job struct {
	ID                       int64      `json:"id"`
	State                    string     `json:"state"`
	FileID                   int64      `json:"file_id"`
	UserID                   int64      `json:"user_id"`
	Name                     string     `json:"name"`
	CanBePrinted             *bool      `json:"can_be_printed"`
	PriorityIndex            *int       `json:"priority_index"`
	Retries                  int        `json:"retries"`
	Succeeded                *bool      `json:"succeeded"`
	Interrupted              bool       `json:"interrupted"`
	Analyzed                 bool       `json:"analyzed"`
	Progress                 float64    `json:"progress"`
	EstimatedSecondsLeft     *float64   `json:"estimated_seconds_left"`
	EstimatedPrintingSeconds *float64   `json:"estimated_printing_seconds"`
	AssignedPrinterID        *int64     `json:"assigned_printer_id"`
	StartedAt                *time.Time `json:"started_at"`
	CreatedAt                time.Time  `json:"created_at"`
	UpdatedAt                time.Time  `json:"updated_at"`
}

type JobAllowedMaterial struct {
	ID            int64 `json:"id"`
	JobID         int64 `json:"job_id"`
	MaterialID    int64 `json:"material_id"`
	ExtruderIndex int   `json:"extruder_index"`
}

type JobAllowedExtruder struct {
	ID             int64 `json:"id"`
	JobID          int64 `json:"job_id"`
	ExtruderTypeID int64 `json:"extruder_type_id"`
	ExtruderIndex  int   `json:"extruder_index"`
}

type JobExtruderData struct {
	ID                     int64   `json:"id"`
	JobID                  int64   `json:"job_id"`
	ExtruderIndex          int     `json:"extruder_index"`
	UsedMaterialID         *int64  `json:"used_material_id"`
	UsedExtruderTypeID     *int64  `json:"used_extruder_type_id"`
	EstimatedMaterialGrams float64 `json:"estimated_material_grams"`
}

// JobFilter selects jobs by explicit fields. Zero values mean
// "no constraint".
type JobFilter struct {
	ID              *int64
	State           string
	FileID          *int64
	UserID          *int64
	Name            string
	CanBePrinted    *bool
	OrderByPriority bool
}

type FileFilter struct {
	OwnerUserID *int64
	Name        string
}
