package models

import "time"

// Gender codes as stored on student records.
const (
	GenderMale   = "L"
	GenderFemale = "P"
)

// Student represents a santri registered in the institution. Guardian identity lives on this record.
type Student struct {
	ID             string     `db:"id" json:"id"`
	NIS            string     `db:"nis" json:"nis"`
	FullName       string     `db:"full_name" json:"nama"`
	Gender         string     `db:"gender" json:"jenis_kelamin"`
	BirthDate      *time.Time `db:"birth_date" json:"tanggal_lahir,omitempty"`
	Class          string     `db:"class" json:"kelas"`
	Address        string     `db:"address" json:"alamat"`
	GuardianName   string     `db:"guardian_name" json:"nama_wali"`
	EnrollmentYear int        `db:"enrollment_year" json:"tahun_masuk"`
	PasswordHash   string     `db:"password_hash" json:"-"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search string
	Class  string
	Gender string
}

// StudentSummary is the slice of a student embedded in payment listings.
type StudentSummary struct {
	ID       string `db:"id" json:"id"`
	NIS      string `db:"nis" json:"nis"`
	FullName string `db:"full_name" json:"nama"`
	Gender   string `db:"gender" json:"jenis_kelamin"`
	Class    string `db:"class" json:"kelas"`
}
