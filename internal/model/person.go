package model

import (
	"encoding/json"

	"github.com/and161185/clinic-keeper/internal/storage"
)

// Person holds the contact details shared by clients and doctors.
type Person struct {
	FullName    string `json:"full_name"`
	PhoneNumber string `json:"phone_number"`
	Email       string `json:"email"`
}

func decodePerson(rec *storage.Record) Person {
	return Person{
		FullName:    rec.String("full_name"),
		PhoneNumber: rec.String("phone_number"),
		Email:       rec.String("email"),
	}
}

// Client is a patient booking appointments.
type Client struct {
	storage.Base
	Person
	Insurance    string
	User         storage.Relation[*Client, *User]
	Appointments storage.Relation[*Client, *Appointment]
}

// Links implements storage.Entity.
func (c *Client) Links() []storage.Link { return []storage.Link{c.User, c.Appointments} }

type clientRecord struct {
	storage.BaseRecord
	Person
	User      storage.Relation[*Client, *User] `json:"user"`
	Insurance string                           `json:"ins"`
}

// MarshalJSON implements json.Marshaler.
func (c *Client) MarshalJSON() ([]byte, error) {
	return json.Marshal(clientRecord{
		BaseRecord: c.Record(),
		Person:     c.Person,
		User:       c.User,
		Insurance:  c.Insurance,
	})
}

// Doctor sees clients of one or more specialities at a clinic.
type Doctor struct {
	storage.Base
	Person
	Photo        string
	Description  string
	Appointments storage.Relation[*Doctor, *Appointment]
	Specialities storage.Relation[*Doctor, *Speciality]
	Schedule     storage.Relation[*Doctor, *WorkSchedule]
	Clinic       storage.Relation[*Doctor, *Clinic]
}

// Links implements storage.Entity.
func (d *Doctor) Links() []storage.Link {
	return []storage.Link{d.Appointments, d.Specialities, d.Schedule, d.Clinic}
}

// ResolveRelations registers the doctor with its specialities, schedule and clinic.
func (d *Doctor) ResolveRelations() error {
	return storage.ResolveAll(d.Specialities, d.Schedule, d.Clinic)
}

type doctorRecord struct {
	storage.BaseRecord
	Person
	Photo        string                                   `json:"photo"`
	Description  string                                   `json:"desc"`
	Specialities storage.Relation[*Doctor, *Speciality]   `json:"spec"`
	Schedule     storage.Relation[*Doctor, *WorkSchedule] `json:"ws"`
	Clinic       storage.Relation[*Doctor, *Clinic]       `json:"clinic"`
}

// MarshalJSON implements json.Marshaler.
func (d *Doctor) MarshalJSON() ([]byte, error) {
	return json.Marshal(doctorRecord{
		BaseRecord:   d.Record(),
		Person:       d.Person,
		Photo:        d.Photo,
		Description:  d.Description,
		Specialities: d.Specialities,
		Schedule:     d.Schedule,
		Clinic:       d.Clinic,
	})
}
