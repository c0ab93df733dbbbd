package models

import (
	"encoding/json"
	"time"
)

// Audit actions. Clearance decisions are additionally kept per department in
// the request history.
const (
	AuditActionLogin            = "LOGIN"
	AuditActionLogout           = "LOGOUT"
	AuditActionTokenRefresh     = "TOKEN_REFRESH"
	AuditActionPasswordChange   = "PASSWORD_CHANGE"
	AuditActionPasswordReset    = "PASSWORD_RESET"
	AuditActionUserCreate       = "USER_CREATE"
	AuditActionUserUpdate       = "USER_UPDATE"
	AuditActionUserDelete       = "USER_DELETE"
	AuditActionWindowActivate   = "WINDOW_ACTIVATE"
	AuditActionWindowDeactivate = "WINDOW_DEACTIVATE"
	AuditActionWindowExpire     = "WINDOW_EXPIRE"
	AuditActionClearanceSubmit  = "CLEARANCE_SUBMIT"
	AuditActionClearanceDecide  = "CLEARANCE_DECIDE"
	AuditActionCertificateLink  = "CERTIFICATE_LINK"
	AuditActionStudentImport    = "STUDENT_IMPORT"
	AuditActionStudentUpdate    = "STUDENT_UPDATE"
)

// AuditLog is one row of the audit_logs table.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// NewAuditEntry starts an entry for actorID acting on resource/resourceID.
// Empty ids are stored as NULL.
func NewAuditEntry(actorID, action, resource, resourceID string) *AuditLog {
	entry := &AuditLog{Action: action, Resource: resource}
	if actorID != "" {
		entry.UserID = &actorID
	}
	if resourceID != "" {
		entry.ResourceID = &resourceID
	}
	return entry
}

// WithValues attaches JSON snapshots. A nil side is left empty.
func (l *AuditLog) WithValues(before, after interface{}) *AuditLog {
	if before != nil {
		l.OldValues, _ = json.Marshal(before)
	}
	if after != nil {
		l.NewValues, _ = json.Marshal(after)
	}
	return l
}

// From records where the request came from.
func (l *AuditLog) From(origin LoginRequest) *AuditLog {
	l.IPAddress = origin.IP
	l.UserAgent = origin.UserAgent
	return l
}
