package model

import (
	"github.com/and161185/clinic-keeper/internal/ident"
	"github.com/and161185/clinic-keeper/internal/storage"
)

// Table names of the persisted document. They are kept byte-compatible with
// existing bot databases, misspellings included.
const (
	TableUsers        = "users"
	TableChats        = "chats"
	TableClients      = "clients"
	TableDoctors      = "doctors"
	TableAppointments = "appointments"
	TableSpecialities = "specialties"
	TableClinics      = "clinics"
	TableSchedules    = "work_shedule"
)

// Relation fields of every kind. Multi-valued back-references are rebuilt on
// load and never persisted.
var (
	userChat = &storage.Descriptor[*User, *Chat]{Name: "chat", Shape: storage.OneToOne, OnDelete: storage.Cascade}

	userClient = &storage.Descriptor[*User, *Client]{Name: "client", Shape: storage.OneToOne, OnDelete: storage.Cascade}

	chatUser = &storage.Descriptor[*Chat, *User]{Name: "user", Shape: storage.OneToOne, OnDelete: storage.SetNull,
		Reciprocal: func(u *User) storage.Relation[*User, *Chat] { return u.Chat }}

	clientUser = &storage.Descriptor[*Client, *User]{Name: "user", Shape: storage.OneToOne, OnDelete: storage.SetNull,
		Reciprocal: func(u *User) storage.Relation[*User, *Client] { return u.Client }}

	clientAppointments = &storage.Descriptor[*Client, *Appointment]{Name: "appointments", Shape: storage.BackToMany, OnDelete: storage.Cascade,
		Reciprocal: func(a *Appointment) storage.Relation[*Appointment, *Client] { return a.Client }}

	doctorAppointments = &storage.Descriptor[*Doctor, *Appointment]{Name: "appointments", Shape: storage.BackToMany, OnDelete: storage.Cascade,
		Reciprocal: func(a *Appointment) storage.Relation[*Appointment, *Doctor] { return a.Doctor }}

	doctorSpecialities = &storage.Descriptor[*Doctor, *Speciality]{Name: "spec", Shape: storage.ManyToMany, OnDelete: storage.SetNull,
		Reciprocal: func(s *Speciality) storage.Relation[*Speciality, *Doctor] { return s.Doctors }}

	doctorSchedule = &storage.Descriptor[*Doctor, *WorkSchedule]{Name: "ws", Shape: storage.OneToMany, OnDelete: storage.SetNull,
		Reciprocal: func(ws *WorkSchedule) storage.Relation[*WorkSchedule, *Doctor] { return ws.Doctors }}

	doctorClinic = &storage.Descriptor[*Doctor, *Clinic]{Name: "clinic", Shape: storage.OneToMany, OnDelete: storage.SetNull,
		Reciprocal: func(c *Clinic) storage.Relation[*Clinic, *Doctor] { return c.Doctors }}

	appointmentClient = &storage.Descriptor[*Appointment, *Client]{Name: "client", Shape: storage.OneToMany, OnDelete: storage.SetNull,
		Reciprocal: func(c *Client) storage.Relation[*Client, *Appointment] { return c.Appointments }}

	appointmentDoctor = &storage.Descriptor[*Appointment, *Doctor]{Name: "doctor", Shape: storage.OneToMany, OnDelete: storage.SetNull,
		Reciprocal: func(d *Doctor) storage.Relation[*Doctor, *Appointment] { return d.Appointments }}

	appointmentSpeciality = &storage.Descriptor[*Appointment, *Speciality]{Name: "spec", Shape: storage.OneToMany, OnDelete: storage.SetNull,
		Reciprocal: func(s *Speciality) storage.Relation[*Speciality, *Appointment] { return s.Appointments }}

	appointmentClinic = &storage.Descriptor[*Appointment, *Clinic]{Name: "clinic", Shape: storage.OneToMany, OnDelete: storage.SetNull,
		Reciprocal: func(c *Clinic) storage.Relation[*Clinic, *Appointment] { return c.Appointments }}

	specialityDoctors = &storage.Descriptor[*Speciality, *Doctor]{Name: "doctors", Shape: storage.ManyToMany, OnDelete: storage.SetNull,
		Reciprocal: func(d *Doctor) storage.Relation[*Doctor, *Speciality] { return d.Specialities }}

	specialityAppointments = &storage.Descriptor[*Speciality, *Appointment]{Name: "appointments", Shape: storage.BackToMany, OnDelete: storage.Restrict,
		Reciprocal: func(a *Appointment) storage.Relation[*Appointment, *Speciality] { return a.Speciality }}

	clinicAppointments = &storage.Descriptor[*Clinic, *Appointment]{Name: "appointments", Shape: storage.BackToMany, OnDelete: storage.Restrict,
		Reciprocal: func(a *Appointment) storage.Relation[*Appointment, *Clinic] { return a.Clinic }}

	clinicDoctors = &storage.Descriptor[*Clinic, *Doctor]{Name: "doctors", Shape: storage.BackToMany, OnDelete: storage.Restrict,
		Reciprocal: func(d *Doctor) storage.Relation[*Doctor, *Clinic] { return d.Clinic }}

	scheduleDoctors = &storage.Descriptor[*WorkSchedule, *Doctor]{Name: "doctors", Shape: storage.BackToMany, OnDelete: storage.Restrict,
		Reciprocal: func(d *Doctor) storage.Relation[*Doctor, *WorkSchedule] { return d.Schedule }}
)

// binder builds several relations of one entity and keeps the first failure.
type binder struct{ err error }

func bind[F, T storage.Entity](b *binder, d *storage.Descriptor[F, T], target *storage.Repository[T], from ident.ID, to ...ident.ID) storage.Relation[F, T] {
	if b.err != nil {
		return storage.Relation[F, T]{}
	}
	r, err := d.New(target, from, to...)
	if err != nil {
		b.err = err
	}
	return r
}

func empty[F, T storage.Entity](b *binder, d *storage.Descriptor[F, T], target *storage.Repository[T], from ident.ID) storage.Relation[F, T] {
	if b.err != nil {
		return storage.Relation[F, T]{}
	}
	r, err := d.Empty(target, from)
	if err != nil {
		b.err = err
	}
	return r
}
