package service

import (
	"strings"

	"github.com/noah-isme/clearance-api/internal/models"
	appErrors "github.com/noah-isme/clearance-api/pkg/errors"
)

// ApplicableDepartments returns the departments that must sign off for a study level,
// in approval order. PhD students are not housed, so dormitory is skipped.
func ApplicableDepartments(level models.StudyLevel) []models.DepartmentRole {
	departments := make([]models.DepartmentRole, 0, len(models.Departments))
	for _, dept := range models.Departments {
		if dept == models.DepartmentDormitory && level == models.StudyLevelPhD {
			continue
		}
		departments = append(departments, dept)
	}
	return departments
}

// RecomputeOverall derives the overall status from the decisions of a request.
// A single rejection dominates every approval.
func RecomputeOverall(decisions []models.Decision) models.OverallStatus {
	if len(decisions) == 0 {
		return models.OverallPending
	}
	var approved, pending int
	for _, d := range decisions {
		switch d.Status {
		case models.DecisionRejected:
			return models.OverallRejected
		case models.DecisionApproved:
			approved++
		default:
			pending++
		}
	}
	switch {
	case approved == len(decisions):
		return models.OverallApproved
	case pending == len(decisions):
		return models.OverallPending
	default:
		return models.OverallInProgress
	}
}

// Progress is the fraction of applicable departments that approved.
func Progress(decisions []models.Decision) float64 {
	if len(decisions) == 0 {
		return 0
	}
	var approved int
	for _, d := range decisions {
		if d.Status == models.DecisionApproved {
			approved++
		}
	}
	return float64(approved) / float64(len(decisions))
}

// IsEligible reports whether a certificate may be issued. The registrar check is
// kept even though an approved aggregate already implies it.
func IsEligible(request *models.ClearanceRequest) bool {
	if request == nil {
		return false
	}
	if RecomputeOverall(request.Decisions) != models.OverallApproved {
		return false
	}
	registrar, ok := request.Decision(models.DepartmentRegistrar)
	return ok && registrar.Status == models.DecisionApproved
}

// ResolveApproverRole maps a staff account onto the department it signs for.
func ResolveApproverRole(role models.UserRole) (models.DepartmentRole, bool) {
	if !role.IsStaff() {
		return "", false
	}
	return models.DepartmentRole(role), true
}

// ValidateTransition checks a requested decision change. Reversals between
// APPROVED and REJECTED are permitted; moving back to PENDING is not.
func ValidateTransition(current, next models.DecisionStatus, comment string) error {
	if !current.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, "unknown current decision status")
	}
	switch next {
	case models.DecisionApproved:
		return nil
	case models.DecisionRejected:
		if strings.TrimSpace(comment) == "" {
			return appErrors.ErrMissingReason
		}
		return nil
	case models.DecisionPending:
		return appErrors.Clone(appErrors.ErrValidation, "a decision cannot be moved back to PENDING")
	default:
		return appErrors.Clone(appErrors.ErrValidation, "status must be APPROVED or REJECTED")
	}
}

// AuthorizeDecision checks that the actor may act on the department slot of the request.
// Department heads bound to an academic department and dormitory staff bound to a
// block are limited to students within that scope.
func AuthorizeDecision(actor *models.User, request *models.ClearanceRequest) (models.DepartmentRole, error) {
	if actor == nil {
		return "", appErrors.ErrUnauthorized
	}
	if !actor.Active {
		return "", appErrors.ErrInactiveAccount
	}
	dept, ok := ResolveApproverRole(actor.Role)
	if !ok {
		return "", appErrors.Clone(appErrors.ErrForbidden, "account does not act for a clearance department")
	}
	if request == nil {
		return dept, nil
	}
	switch dept {
	case models.DepartmentHead:
		if scope := trimmed(actor.DepartmentName); scope != "" && !strings.EqualFold(scope, strings.TrimSpace(request.DepartmentName)) {
			return "", appErrors.Clone(appErrors.ErrForbidden, "student belongs to another department")
		}
	case models.DepartmentDormitory:
		if scope := trimmed(actor.BlockNo); scope != "" && !strings.EqualFold(scope, trimmed(request.BlockNo)) {
			return "", appErrors.Clone(appErrors.ErrForbidden, "student is housed in another block")
		}
	}
	return dept, nil
}

func trimmed(value *string) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(*value)
}
