package models

import (
	"strings"
	"time"
)

// DepartmentRole identifies a department whose approval a clearance request needs.
type DepartmentRole string

const (
	DepartmentHead          DepartmentRole = "DEPARTMENT_HEAD"
	DepartmentLibrarian     DepartmentRole = "LIBRARIAN"
	DepartmentCafeteria     DepartmentRole = "CAFETERIA"
	DepartmentDormitory     DepartmentRole = "DORMITORY"
	DepartmentSport         DepartmentRole = "SPORT"
	DepartmentStudentAffair DepartmentRole = "STUDENT_AFFAIR"
	DepartmentRegistrar     DepartmentRole = "REGISTRAR"
)

// Departments is the fixed approval order. The registrar signs last.
var Departments = []DepartmentRole{
	DepartmentHead,
	DepartmentLibrarian,
	DepartmentCafeteria,
	DepartmentDormitory,
	DepartmentSport,
	DepartmentStudentAffair,
	DepartmentRegistrar,
}

// Valid reports whether the department is one of the fixed set.
func (d DepartmentRole) Valid() bool {
	for _, dept := range Departments {
		if dept == d {
			return true
		}
	}
	return false
}

// ClearanceType is the reason a clearance window was opened.
type ClearanceType string

const (
	ClearanceTypeGraduation ClearanceType = "GRADUATION"
	ClearanceTypeWithdrawal ClearanceType = "WITHDRAWAL"
	ClearanceTypeTransfer   ClearanceType = "TRANSFER"
	ClearanceTypeEndOfYear  ClearanceType = "END_OF_YEAR"
)

// ClearanceTypes lists every window reason in display order.
var ClearanceTypes = []ClearanceType{
	ClearanceTypeGraduation,
	ClearanceTypeWithdrawal,
	ClearanceTypeTransfer,
	ClearanceTypeEndOfYear,
}

// Valid reports whether the clearance type is known.
func (t ClearanceType) Valid() bool {
	switch t {
	case ClearanceTypeGraduation, ClearanceTypeWithdrawal, ClearanceTypeTransfer, ClearanceTypeEndOfYear:
		return true
	}
	return false
}

// Label is the human readable name, e.g. "End of year".
func (t ClearanceType) Label() string {
	words := strings.Split(strings.ToLower(string(t)), "_")
	if len(words) == 0 || words[0] == "" {
		return ""
	}
	words[0] = strings.ToUpper(words[0][:1]) + words[0][1:]
	return strings.Join(words, " ")
}

// DecisionStatus captures a single department's verdict.
type DecisionStatus string

const (
	DecisionPending  DecisionStatus = "PENDING"
	DecisionApproved DecisionStatus = "APPROVED"
	DecisionRejected DecisionStatus = "REJECTED"
)

// Valid reports whether the status is known.
func (s DecisionStatus) Valid() bool {
	switch s {
	case DecisionPending, DecisionApproved, DecisionRejected:
		return true
	}
	return false
}

// OverallStatus is derived from the decisions of a request and never stored.
type OverallStatus string

const (
	OverallPending    OverallStatus = "PENDING"
	OverallInProgress OverallStatus = "IN_PROGRESS"
	OverallApproved   OverallStatus = "APPROVED"
	OverallRejected   OverallStatus = "REJECTED"
)

// Valid reports whether the status is known.
func (s OverallStatus) Valid() bool {
	switch s {
	case OverallPending, OverallInProgress, OverallApproved, OverallRejected:
		return true
	}
	return false
}

// ClearanceWindow is the singleton row controlling when requests may be submitted.
type ClearanceWindow struct {
	ID        int           `db:"id" json:"-"`
	WindowID  *string       `db:"window_id" json:"window_id,omitempty"`
	IsActive  bool          `db:"is_active" json:"is_active"`
	Reason    ClearanceType `db:"reason" json:"reason,omitempty"`
	StartAt   *time.Time    `db:"start_at" json:"start_at,omitempty"`
	EndAt     *time.Time    `db:"end_at" json:"end_at,omitempty"`
	UpdatedBy *string       `db:"updated_by" json:"updated_by,omitempty"`
	UpdatedAt time.Time     `db:"updated_at" json:"updated_at"`
}

// Admits reports whether now falls inside an active window.
func (w *ClearanceWindow) Admits(now time.Time) bool {
	if w == nil || !w.IsActive || w.StartAt == nil || w.EndAt == nil {
		return false
	}
	return !now.Before(*w.StartAt) && now.Before(*w.EndAt)
}

// Expired reports whether an active window has passed its end.
func (w *ClearanceWindow) Expired(now time.Time) bool {
	if w == nil || !w.IsActive || w.EndAt == nil {
		return false
	}
	return !now.Before(*w.EndAt)
}

// Decision is one department's slot on a clearance request.
type Decision struct {
	RequestID  string         `db:"request_id" json:"request_id"`
	Department DepartmentRole `db:"department" json:"department"`
	Status     DecisionStatus `db:"status" json:"status"`
	Comment    *string        `db:"comment" json:"comment,omitempty"`
	DecidedBy  *string        `db:"decided_by" json:"decided_by,omitempty"`
	DecidedAt  *time.Time     `db:"decided_at" json:"decided_at,omitempty"`
}

// ClearanceRequest is a student's submission together with its decision slots.
type ClearanceRequest struct {
	ID            string        `db:"id" json:"id"`
	StudentID     string        `db:"student_id" json:"student_id"`
	ClearanceType ClearanceType `db:"clearance_type" json:"clearance_type"`
	WindowID      string        `db:"window_id" json:"window_id"`
	StudyLevel    StudyLevel    `db:"study_level" json:"study_level"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`

	StudentUserID    string  `db:"student_user_id" json:"student_user_id"`
	StudentIDNo      string  `db:"student_id_no" json:"student_id_no"`
	StudentFirstName string  `db:"student_first_name" json:"student_first_name"`
	StudentLastName  string  `db:"student_last_name" json:"student_last_name"`
	DepartmentName   string  `db:"department_name" json:"department_name"`
	BlockNo          *string `db:"block_no" json:"block_no,omitempty"`

	Decisions []Decision `db:"-" json:"decisions"`
}

// Decision returns the slot for a department if the request has one.
func (r *ClearanceRequest) Decision(dept DepartmentRole) (*Decision, bool) {
	if r == nil {
		return nil, false
	}
	for i := range r.Decisions {
		if r.Decisions[i].Department == dept {
			return &r.Decisions[i], true
		}
	}
	return nil, false
}

// ClearanceFilter constrains request listings.
type ClearanceFilter struct {
	StudentID      string
	Department     DepartmentRole
	DecisionStatus DecisionStatus
	OverallStatus  OverallStatus
	ClearanceType  ClearanceType
	WindowID       string
	DepartmentName string
	BlockNo        string
	Search         string
	Page           int
	PageSize       int
}

// ClearanceStats summarises requests for the admin overview.
type ClearanceStats struct {
	Total        int               `json:"total"`
	Pending      int               `json:"pending"`
	InProgress   int               `json:"in_progress"`
	Approved     int               `json:"approved"`
	Rejected     int               `json:"rejected"`
	Departments  []DepartmentStats `json:"departments"`
	GeneratedAt  time.Time         `json:"generated_at"`
	ActiveWindow *ClearanceWindow  `json:"active_window,omitempty"`
}

// DepartmentStats counts decisions per department.
type DepartmentStats struct {
	Department DepartmentRole `db:"department" json:"department"`
	Pending    int            `db:"pending" json:"pending"`
	Approved   int            `db:"approved" json:"approved"`
	Rejected   int            `db:"rejected" json:"rejected"`
}
