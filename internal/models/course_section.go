package models

import "time"

// SectionShift is the classroom shift.
type SectionShift string

const (
	ShiftMorning   SectionShift = "Mañana"
	ShiftAfternoon SectionShift = "Tarde"
)

// Valid reports whether the value is a known shift.
func (s SectionShift) Valid() bool {
	return s == ShiftMorning || s == ShiftAfternoon
}

// CourseSection is a physical classroom unit with its own lifecycle; it
// may exist with zero students.
type CourseSection struct {
	ID        string       `db:"id" json:"id"`
	LevelCode string       `db:"level_code" json:"level_code"`
	Division  string       `db:"division" json:"division"`
	Shift     SectionShift `db:"shift" json:"shift"`
	Label     string       `db:"label" json:"label"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
}

// SectionSummary pairs a section with its current roster size.
type SectionSummary struct {
	CourseSection
	StudentCount int `db:"student_count" json:"student_count"`
}

// ClearStrategy selects how a section's roster is resolved before deletion.
type ClearStrategy string

const (
	ClearStrategyMove   ClearStrategy = "move"
	ClearStrategyDelete ClearStrategy = "delete"
)
