package dto

import (
	"time"

	"github.com/noah-isme/clearance-api/internal/models"
)

// ActivateWindowRequest opens the system for clearance submissions.
type ActivateWindowRequest struct {
	Reason  models.ClearanceType `json:"reason" validate:"required,oneof=GRADUATION WITHDRAWAL TRANSFER END_OF_YEAR"`
	StartAt time.Time            `json:"start_at" validate:"required"`
	EndAt   time.Time            `json:"end_at" validate:"required"`
}

// WindowResponse is the public projection of the clearance window.
type WindowResponse struct {
	WindowID         string               `json:"window_id,omitempty"`
	IsActive         bool                 `json:"is_active"`
	SubmissionOpen   bool                 `json:"submission_open"`
	Reason           models.ClearanceType `json:"reason,omitempty"`
	StartAt          *time.Time           `json:"start_at,omitempty"`
	EndAt            *time.Time           `json:"end_at,omitempty"`
	SecondsRemaining int64                `json:"seconds_remaining"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

// ClearanceTypeOption populates the window activation form.
type ClearanceTypeOption struct {
	Value models.ClearanceType `json:"value"`
	Label string               `json:"label"`
}

// SubmitClearanceRequest is sent by a student. The type defaults to the open window's reason.
type SubmitClearanceRequest struct {
	ClearanceType models.ClearanceType `json:"clearance_type" validate:"omitempty,oneof=GRADUATION WITHDRAWAL TRANSFER END_OF_YEAR"`
}

// DecisionRequest records a department verdict.
type DecisionRequest struct {
	Department models.DepartmentRole `json:"department,omitempty"`
	Status     models.DecisionStatus `json:"status" validate:"required"`
	Comment    string                `json:"comment" validate:"max=1000"`
}

// ClearanceResponse is a request with its derived aggregate.
type ClearanceResponse struct {
	models.ClearanceRequest
	StudentName   string               `json:"student_name"`
	OverallStatus models.OverallStatus `json:"overall_status"`
	Progress      float64              `json:"progress"`
	Eligible      bool                 `json:"certificate_eligible"`
}

// ClearanceQuery mirrors supported listing filters.
type ClearanceQuery struct {
	Status         string
	ClearanceType  models.ClearanceType
	DepartmentName string
	Department     models.DepartmentRole
	WindowID       string
	Search         string
	Page           int
	PageSize       int
}

// CertificateLink is a time limited download link.
type CertificateLink struct {
	URL       string    `json:"url"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ImportRowError reports why a CSV row was skipped.
type ImportRowError struct {
	Row     int    `json:"row"`
	IDNo    string `json:"id_no,omitempty"`
	Message string `json:"message"`
}

// ImportResult summarises a CSV student import.
type ImportResult struct {
	TotalRows int              `json:"total_rows"`
	Imported  int              `json:"imported"`
	Skipped   int              `json:"skipped"`
	Errors    []ImportRowError `json:"errors"`
}
