package models

import "time"

// Student represents a person registered in the institution. A student
// exists independently of any single enrollment and is reused by DNI
// across cycles.
type Student struct {
	ID          string    `db:"id" json:"id"`
	DNI         string    `db:"dni" json:"dni"`
	FirstName   string    `db:"first_name" json:"first_name"`
	LastName    string    `db:"last_name" json:"last_name"`
	BirthDate   time.Time `db:"birth_date" json:"birth_date"`
	Nationality string    `db:"nationality" json:"nationality"`
	Gender      string    `db:"gender" json:"gender"`
	Phone       string    `db:"phone" json:"phone"`
	Email       string    `db:"email" json:"email"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Age returns the student's age in whole years at the given instant.
func (s Student) Age(now time.Time) int {
	years := now.Year() - s.BirthDate.Year()
	anniversary := s.BirthDate.AddDate(years, 0, 0)
	if anniversary.After(now) {
		years--
	}
	return years
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search    string
	Gender    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Address is a structured postal address. Every enrollment owns one, as
// does every guardian that does not share the student's address.
type Address struct {
	ID           string `db:"id" json:"id"`
	Street       string `db:"street" json:"street"`
	Number       string `db:"number" json:"number"`
	Floor        string `db:"floor" json:"floor"`
	Apartment    string `db:"apartment" json:"apartment"`
	ProvinceID   string `db:"province_id" json:"province_id"`
	DepartmentID string `db:"department_id" json:"department_id"`
	LocalityID   string `db:"locality_id" json:"locality_id"`
}

// Complete reports whether the address carries every mandatory field.
func (a Address) Complete() bool {
	return a.Street != "" && a.Number != "" &&
		a.ProvinceID != "" && a.DepartmentID != "" && a.LocalityID != ""
}

// GuardianRelationship labels the link between a guardian and an enrollment.
type GuardianRelationship string

const (
	RelationshipMother        GuardianRelationship = "MADRE"
	RelationshipFather        GuardianRelationship = "PADRE"
	RelationshipLegalGuardian GuardianRelationship = "TUTOR"
	RelationshipOther         GuardianRelationship = "OTRO"
)

// Guardian is an adult responsible for a student, linked to enrollments
// through guardian_links with a relationship label.
type Guardian struct {
	ID                   string     `db:"id" json:"id"`
	DNI                  string     `db:"dni" json:"dni"`
	FirstName            string     `db:"first_name" json:"first_name"`
	LastName             string     `db:"last_name" json:"last_name"`
	Phone                string     `db:"phone" json:"phone"`
	Email                string     `db:"email" json:"email"`
	Occupation           string     `db:"occupation" json:"occupation"`
	EducationLevel       string     `db:"education_level" json:"education_level"`
	SharesStudentAddress bool       `db:"shares_student_address" json:"shares_student_address"`
	AddressID            *string    `db:"address_id" json:"address_id,omitempty"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	Address              *Address   `db:"-" json:"address,omitempty"`
}

// GuardianLink joins a guardian to an enrollment.
type GuardianLink struct {
	ID           string               `db:"id" json:"id"`
	EnrollmentID string               `db:"enrollment_id" json:"enrollment_id"`
	GuardianID   string               `db:"guardian_id" json:"guardian_id"`
	Relationship GuardianRelationship `db:"relationship" json:"relationship"`
}

// HealthRecord holds the declarative medical sheet attached to one enrollment.
type HealthRecord struct {
	ID                  string `db:"id" json:"id"`
	ChronicConditions   string `db:"chronic_conditions" json:"chronic_conditions"`
	Allergies           string `db:"allergies" json:"allergies"`
	Disability          string `db:"disability" json:"disability"`
	Medication          string `db:"medication" json:"medication"`
	VaccinationComplete bool   `db:"vaccination_complete" json:"vaccination_complete"`
	Notes               string `db:"notes" json:"notes"`
}
