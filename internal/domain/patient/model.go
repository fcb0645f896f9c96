package patient

import (
	"time"

	"github.com/google/uuid"
)

// Patient maps to the patient table. Only the demographics the inpatient
// workflow reads are kept here.
type Patient struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	MRN               string     `db:"mrn" json:"mrn"`
	FirstName         string     `db:"first_name" json:"first_name"`
	LastName          string     `db:"last_name" json:"last_name"`
	Gender            *string    `db:"gender" json:"gender,omitempty"`
	BirthDate         *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	BloodGroup        *string    `db:"blood_group" json:"blood_group,omitempty"`
	Phone             *string    `db:"phone" json:"phone,omitempty"`
	Email             *string    `db:"email" json:"email,omitempty"`
	InpatientRecordID *uuid.UUID `db:"inpatient_record_id" json:"inpatient_record_id,omitempty"`
	InpatientStatus   *string    `db:"inpatient_status" json:"inpatient_status,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

func (p *Patient) FullName() string {
	if p.LastName == "" {
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}
