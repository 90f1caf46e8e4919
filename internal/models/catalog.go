package models

// Province is the top level of the administrative hierarchy.
type Province struct {
	ID   string `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// Department is the second level, belonging to a province.
type Department struct {
	ID         string `db:"id" json:"id"`
	ProvinceID string `db:"province_id" json:"province_id"`
	Name       string `db:"name" json:"name"`
}

// Locality is the third level, belonging to a department.
type Locality struct {
	ID           string `db:"id" json:"id"`
	DepartmentID string `db:"department_id" json:"department_id"`
	Name         string `db:"name" json:"name"`
}

// LevelFamily distinguishes the basic cycle from the upper cycle.
type LevelFamily string

const (
	LevelFamilyBasic LevelFamily = "CB"
	LevelFamilyUpper LevelFamily = "CS"
)

// EducationLevel is a study year within a cycle, e.g. 1CB or 4CS.
type EducationLevel struct {
	Code string `db:"code" json:"code"`
	Name string `db:"name" json:"name"`
}

// SourceSchool is a school-of-origin option on the enrollment form.
type SourceSchool struct {
	ID       string `db:"id" json:"id"`
	Name     string `db:"name" json:"name"`
	Locality string `db:"locality" json:"locality"`
}
