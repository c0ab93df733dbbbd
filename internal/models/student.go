package models

import (
	"strings"
	"time"
)

// StudyLevel classifies a student's programme.
type StudyLevel string

const (
	StudyLevelUndergraduate StudyLevel = "UNDERGRADUATE"
	StudyLevelMasters       StudyLevel = "MASTERS"
	StudyLevelPhD           StudyLevel = "PHD"
)

// Valid reports whether the level is known.
func (l StudyLevel) Valid() bool {
	switch l {
	case StudyLevelUndergraduate, StudyLevelMasters, StudyLevelPhD:
		return true
	}
	return false
}

// ParseStudyLevel accepts the spellings found in registrar exports.
func ParseStudyLevel(raw string) (StudyLevel, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	normalized = strings.NewReplacer("'", "", ".", "", " ", "").Replace(normalized)
	switch normalized {
	case "UNDERGRADUATE", "DEGREE", "BSC", "BA", "BACHELORS":
		return StudyLevelUndergraduate, true
	case "MASTERS", "MASTER", "MSC", "MA":
		return StudyLevelMasters, true
	case "PHD", "DOCTORATE":
		return StudyLevelPhD, true
	}
	return "", false
}

// Student represents a learner registered in the institution.
type Student struct {
	ID             string     `db:"id" json:"id"`
	UserID         string     `db:"user_id" json:"user_id"`
	IDNo           string     `db:"id_no" json:"id_no"`
	FirstName      string     `db:"first_name" json:"first_name"`
	LastName       string     `db:"last_name" json:"last_name"`
	DepartmentName string     `db:"department_name" json:"department_name"`
	StudyLevel     StudyLevel `db:"study_level" json:"study_level"`
	YearOfStudy    int        `db:"year_of_study" json:"year_of_study"`
	BlockNo        *string    `db:"block_no" json:"block_no,omitempty"`
	RoomNo         *string    `db:"room_no" json:"room_no,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// FullName joins first and last name.
func (s Student) FullName() string {
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search         string
	DepartmentName string
	StudyLevel     *StudyLevel
	BlockNo        string
	Page           int
	PageSize       int
	SortBy         string
	SortOrder      string
}

// StudentDetail contains student information with account context.
type StudentDetail struct {
	Student
	Email  string `db:"email" json:"email"`
	Active bool   `db:"active" json:"active"`
}
