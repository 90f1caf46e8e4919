package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusPending  EnrollmentStatus = "PENDING"
	EnrollmentStatusApproved EnrollmentStatus = "APPROVED"
	EnrollmentStatusRejected EnrollmentStatus = "REJECTED"
)

// Valid reports whether the value is a known status.
func (s EnrollmentStatus) Valid() bool {
	switch s {
	case EnrollmentStatusPending, EnrollmentStatusApproved, EnrollmentStatusRejected:
		return true
	}
	return false
}

// CanTransitionTo enumerates the allowed status edges. Pending moves to
// either terminal status; approved and rejected may be corrected into one
// another by an administrator. Re-asserting the current status is allowed
// and treated as a no-op update.
func (s EnrollmentStatus) CanTransitionTo(target EnrollmentStatus) bool {
	if !target.Valid() {
		return false
	}
	if s == target {
		return true
	}
	switch s {
	case EnrollmentStatusPending:
		return true
	case EnrollmentStatusApproved:
		return target == EnrollmentStatusRejected
	case EnrollmentStatusRejected:
		return target == EnrollmentStatusApproved
	}
	return false
}

// Enrollment is the central aggregate: one student filing for one
// academic cycle, with its address, guardians and health record.
type Enrollment struct {
	ID              string           `db:"id" json:"id"`
	StudentID       string           `db:"student_id" json:"student_id"`
	AddressID       string           `db:"address_id" json:"address_id"`
	HealthRecordID  string           `db:"health_record_id" json:"health_record_id"`
	Cycle           string           `db:"cycle" json:"cycle"`
	LevelCode       string           `db:"level_code" json:"level_code"`
	SectionID       *string          `db:"section_id" json:"section_id,omitempty"`
	SourceSchoolID  *string          `db:"source_school_id" json:"source_school_id,omitempty"`
	RepeatYear      bool             `db:"repeat_year" json:"repeat_year"`
	PendingSubjects string           `db:"pending_subjects" json:"pending_subjects"`
	Status          EnrollmentStatus `db:"status" json:"status"`
	StatusReason    string           `db:"status_reason" json:"status_reason"`
	ReviewedBy      *string          `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time       `db:"reviewed_at" json:"reviewed_at,omitempty"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at" json:"updated_at"`
}

// EnrollmentDetail enriches Enrollment with student and section info.
type EnrollmentDetail struct {
	Enrollment
	StudentFirstName string     `db:"student_first_name" json:"student_first_name"`
	StudentLastName  string     `db:"student_last_name" json:"student_last_name"`
	StudentDNI       string     `db:"student_dni" json:"student_dni"`
	StudentGender    string     `db:"student_gender" json:"student_gender"`
	StudentBirthDate time.Time  `db:"student_birth_date" json:"student_birth_date"`
	SectionLabel     *string    `db:"section_label" json:"section_label,omitempty"`
}

// EnrollmentAggregate is the full detail view served to the consoles.
type EnrollmentAggregate struct {
	Enrollment   Enrollment     `json:"enrollment"`
	Student      Student        `json:"student"`
	Address      Address        `json:"address"`
	Guardians    []GuardianView `json:"guardians"`
	HealthRecord HealthRecord   `json:"health_record"`
}

// GuardianView pairs a guardian with its relationship to the enrollment.
type GuardianView struct {
	Guardian
	Relationship GuardianRelationship `json:"relationship"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	Cycle     string
	LevelCode string
	Status    EnrollmentStatus
	SectionID string
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// UnassignedFilter narrows the approved, section-less listing.
type UnassignedFilter struct {
	LevelCode string
	Cycle     string
	Search    string
	Gender    string
	Age       *int
}

// EnrollmentDraft is the assembled four-section submission payload.
// Field-level validation runs at submission time, never at draft save.
type EnrollmentDraft struct {
	Student           StudentDraft      `json:"student" validate:"required"`
	Guardians         []GuardianDraft   `json:"guardians" validate:"required,min=1,dive"`
	HealthRecord      HealthRecordDraft `json:"healthRecord" validate:"required"`
	EnrollmentDetails DetailsDraft      `json:"enrollmentDetails" validate:"required"`
}

// StudentDraft is the student section of the draft.
type StudentDraft struct {
	DNI         string    `json:"dni" validate:"required"`
	FirstName   string    `json:"first_name" validate:"required"`
	LastName    string    `json:"last_name" validate:"required"`
	BirthDate   time.Time `json:"birth_date" validate:"required"`
	Nationality string    `json:"nationality"`
	Gender      string    `json:"gender" validate:"required"`
	Phone       string    `json:"phone"`
	Email       string    `json:"email" validate:"omitempty,email"`
	Address     Address   `json:"address" validate:"required"`
}

// GuardianDraft is one guardian entry of the draft.
type GuardianDraft struct {
	DNI                  string               `json:"dni" validate:"required"`
	FirstName            string               `json:"first_name" validate:"required"`
	LastName             string               `json:"last_name" validate:"required"`
	Phone                string               `json:"phone"`
	Email                string               `json:"email" validate:"omitempty,email"`
	Occupation           string               `json:"occupation"`
	EducationLevel       string               `json:"education_level"`
	Relationship         GuardianRelationship `json:"relationship" validate:"required"`
	SharesStudentAddress bool                 `json:"shares_student_address"`
	Address              *Address             `json:"address,omitempty"`
}

// HealthRecordDraft is the medical section of the draft.
type HealthRecordDraft struct {
	ChronicConditions   string `json:"chronic_conditions"`
	Allergies           string `json:"allergies"`
	Disability          string `json:"disability"`
	Medication          string `json:"medication"`
	VaccinationComplete bool   `json:"vaccination_complete"`
	Notes               string `json:"notes"`
}

// DetailsDraft is the enrollment-specifics section of the draft.
type DetailsDraft struct {
	Cycle           string  `json:"cycle" validate:"required"`
	LevelCode       string  `json:"level_code" validate:"required"`
	SourceSchoolID  *string `json:"source_school_id,omitempty"`
	RepeatYear      bool    `json:"repeat_year"`
	PendingSubjects string  `json:"pending_subjects"`
}

// DraftSection names used by the draft accumulator.
const (
	DraftSectionStudent      = "student"
	DraftSectionGuardians    = "guardians"
	DraftSectionHealthRecord = "healthRecord"
	DraftSectionDetails      = "enrollmentDetails"
)

// KnownDraftSection reports whether name is one of the four sections.
func KnownDraftSection(name string) bool {
	switch name {
	case DraftSectionStudent, DraftSectionGuardians, DraftSectionHealthRecord, DraftSectionDetails:
		return true
	}
	return false
}
