package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/and161185/clinic-keeper/internal/storage"
)

// Period is a closed interval [From, To] of unix seconds, or of seconds since
// midnight inside a work shift.
type Period struct {
	From int64
	To   int64
}

// NewPeriod returns the period starting at start and lasting d. The end is
// inclusive, so back-to-back periods do not overlap.
func NewPeriod(start time.Time, d time.Duration) Period {
	from := start.Unix()
	return Period{From: from, To: from + int64(d/time.Second) - 1}
}

// Overlap reports whether the periods share at least one second.
func (p Period) Overlap(o Period) bool {
	return !(p.To < o.From || o.To < p.From)
}

// Start returns the beginning of an absolute period.
func (p Period) Start() time.Time { return time.Unix(p.From, 0) }

// MarshalJSON encodes the period as [from, to].
func (p Period) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int64{p.From, p.To})
}

// UnmarshalJSON decodes a [from, to] pair.
func (p *Period) UnmarshalJSON(b []byte) error {
	var pair []int64
	if err := json.Unmarshal(b, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("period needs 2 bounds, got %d", len(pair))
	}
	p.From, p.To = pair[0], pair[1]
	return nil
}

// Appointment books a client with a doctor for a speciality at a clinic.
type Appointment struct {
	storage.Base
	Client     storage.Relation[*Appointment, *Client]
	Doctor     storage.Relation[*Appointment, *Doctor]
	Speciality storage.Relation[*Appointment, *Speciality]
	Time       Period
	Clinic     storage.Relation[*Appointment, *Clinic]
}

// Links implements storage.Entity.
func (a *Appointment) Links() []storage.Link {
	return []storage.Link{a.Client, a.Doctor, a.Speciality, a.Clinic}
}

// ResolveRelations registers the appointment with every party it references.
func (a *Appointment) ResolveRelations() error {
	return storage.ResolveAll(a.Client, a.Doctor, a.Speciality, a.Clinic)
}

type appointmentRecord struct {
	storage.BaseRecord
	Client     storage.Relation[*Appointment, *Client]     `json:"client"`
	Doctor     storage.Relation[*Appointment, *Doctor]     `json:"doctor"`
	Speciality storage.Relation[*Appointment, *Speciality] `json:"spec"`
	Time       Period                                      `json:"time"`
	Clinic     storage.Relation[*Appointment, *Clinic]     `json:"clinic"`
}

// MarshalJSON implements json.Marshaler.
func (a *Appointment) MarshalJSON() ([]byte, error) {
	return json.Marshal(appointmentRecord{
		BaseRecord: a.Record(),
		Client:     a.Client,
		Doctor:     a.Doctor,
		Speciality: a.Speciality,
		Time:       a.Time,
		Clinic:     a.Clinic,
	})
}

// Speciality is a bookable medical service.
type Speciality struct {
	storage.Base
	Title        string
	Duration     time.Duration
	Doctors      storage.Relation[*Speciality, *Doctor]
	Appointments storage.Relation[*Speciality, *Appointment]
}

// Links implements storage.Entity.
func (s *Speciality) Links() []storage.Link { return []storage.Link{s.Doctors, s.Appointments} }

type specialityRecord struct {
	storage.BaseRecord
	Title    string `json:"title"`
	Duration int64  `json:"dur"`
}

// MarshalJSON implements json.Marshaler.
func (s *Speciality) MarshalJSON() ([]byte, error) {
	return json.Marshal(specialityRecord{
		BaseRecord: s.Record(),
		Title:      s.Title,
		Duration:   int64(s.Duration / time.Second),
	})
}

// Clinic is a practice address.
type Clinic struct {
	storage.Base
	Address      string
	Appointments storage.Relation[*Clinic, *Appointment]
	Doctors      storage.Relation[*Clinic, *Doctor]
}

// Links implements storage.Entity.
func (c *Clinic) Links() []storage.Link { return []storage.Link{c.Appointments, c.Doctors} }

type clinicRecord struct {
	storage.BaseRecord
	Address string `json:"addr"`
}

// MarshalJSON implements json.Marshaler.
func (c *Clinic) MarshalJSON() ([]byte, error) {
	return json.Marshal(clinicRecord{BaseRecord: c.Record(), Address: c.Address})
}

// WorkShift lists the working periods of one day, in seconds since midnight.
type WorkShift []Period

// WorkSchedule maps a day, as the unix time of its local midnight, to the shift
// worked that day.
type WorkSchedule struct {
	storage.Base
	Shifts  map[int64]WorkShift
	Doctors storage.Relation[*WorkSchedule, *Doctor]
}

// Links implements storage.Entity.
func (ws *WorkSchedule) Links() []storage.Link { return []storage.Link{ws.Doctors} }

// Shift returns the shift worked on the day starting at midnight.
func (ws *WorkSchedule) Shift(midnight time.Time) (WorkShift, bool) {
	s, ok := ws.Shifts[midnight.Unix()]
	return s, ok
}

type scheduleRecord struct {
	storage.BaseRecord
	Shifts map[int64]WorkShift `json:"ws"`
}

// MarshalJSON implements json.Marshaler.
func (ws *WorkSchedule) MarshalJSON() ([]byte, error) {
	shifts := ws.Shifts
	if shifts == nil {
		shifts = map[int64]WorkShift{}
	}
	return json.Marshal(scheduleRecord{BaseRecord: ws.Record(), Shifts: shifts})
}
