// Package seed loads reference data (clinics, specialities, work schedules and
// doctors) from a YAML fixture into a clinic database.
package seed

import (
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/and161185/clinic-keeper/internal/ident"
	"github.com/and161185/clinic-keeper/internal/model"
)

// Fixture is the YAML document. Doctors refer to the other sections by key.
type Fixture struct {
	Clinics      map[string]Clinic     `yaml:"clinics"`
	Specialities map[string]Speciality `yaml:"specialities"`
	Schedules    map[string]Schedule   `yaml:"schedules"`
	Doctors      []Doctor              `yaml:"doctors"`
}

// Clinic is a clinic entry.
type Clinic struct {
	Address string `yaml:"address"`
}

// Speciality is a speciality entry.
type Speciality struct {
	Title    string        `yaml:"title"`
	Duration time.Duration `yaml:"duration"`
}

// Schedule maps a date ("2006-01-02") to its shifts ("09:00-13:00").
type Schedule struct {
	Days map[string][]string `yaml:"days"`
}

// Doctor is a doctor entry.
type Doctor struct {
	FullName     string   `yaml:"full_name"`
	Phone        string   `yaml:"phone"`
	Email        string   `yaml:"email"`
	Photo        string   `yaml:"photo"`
	Description  string   `yaml:"description"`
	Specialities []string `yaml:"specialities"`
	Schedule     string   `yaml:"schedule"`
	Clinic       string   `yaml:"clinic"`
}

// Result counts the entities created by Apply.
type Result struct {
	Clinics      int
	Specialities int
	Schedules    int
	Doctors      int
}

// Parse decodes a fixture.
func Parse(r io.Reader) (*Fixture, error) {
	var f Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	return &f, nil
}

// Apply creates the fixture entities in db. Clinics and specialities already
// present, matched by address or title, are reused. Schedule dates are
// midnights in loc.
func Apply(db *model.DB, f *Fixture, loc *time.Location, log *zap.Logger) (Result, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var res Result

	clinics := make(map[string]ident.ID, len(f.Clinics))
	for key, c := range f.Clinics {
		if existing, ok := db.Clinics.Find(func(x *model.Clinic) bool { return x.Address == c.Address }); ok {
			clinics[key] = existing.ID()
			continue
		}
		created, err := db.NewClinic(c.Address)
		if err != nil {
			return res, fmt.Errorf("clinic %s: %w", key, err)
		}
		clinics[key] = created.ID()
		res.Clinics++
	}

	specs := make(map[string]ident.ID, len(f.Specialities))
	for key, s := range f.Specialities {
		if s.Duration <= 0 {
			return res, fmt.Errorf("speciality %s: duration must be positive", key)
		}
		if existing, ok := db.Specialities.Find(func(x *model.Speciality) bool { return x.Title == s.Title }); ok {
			specs[key] = existing.ID()
			continue
		}
		created, err := db.NewSpeciality(s.Title, s.Duration)
		if err != nil {
			return res, fmt.Errorf("speciality %s: %w", key, err)
		}
		specs[key] = created.ID()
		res.Specialities++
	}

	schedules := make(map[string]ident.ID, len(f.Schedules))
	for key, s := range f.Schedules {
		shifts, err := s.shifts(loc)
		if err != nil {
			return res, fmt.Errorf("schedule %s: %w", key, err)
		}
		created, err := db.NewWorkSchedule(shifts)
		if err != nil {
			return res, fmt.Errorf("schedule %s: %w", key, err)
		}
		schedules[key] = created.ID()
		res.Schedules++
	}

	for i, d := range f.Doctors {
		ids := make([]ident.ID, 0, len(d.Specialities))
		for _, key := range d.Specialities {
			id, ok := specs[key]
			if !ok {
				return res, fmt.Errorf("doctor %d: unknown speciality %q", i, key)
			}
			ids = append(ids, id)
		}
		ws, err := lookup(schedules, "schedule", d.Schedule)
		if err != nil {
			return res, fmt.Errorf("doctor %d: %w", i, err)
		}
		clinic, err := lookup(clinics, "clinic", d.Clinic)
		if err != nil {
			return res, fmt.Errorf("doctor %d: %w", i, err)
		}
		p := model.Person{FullName: d.FullName, PhoneNumber: d.Phone, Email: d.Email}
		if _, err := db.NewDoctor(p, d.Photo, d.Description, ids, ws, clinic); err != nil {
			return res, fmt.Errorf("doctor %d: %w", i, err)
		}
		res.Doctors++
	}

	log.Info("fixture applied",
		zap.Int("clinics", res.Clinics),
		zap.Int("specialities", res.Specialities),
		zap.Int("schedules", res.Schedules),
		zap.Int("doctors", res.Doctors))
	return res, nil
}

// lookup resolves an optional key; an empty key is the null identity.
func lookup(m map[string]ident.ID, kind, key string) (ident.ID, error) {
	if key == "" {
		return ident.Null, nil
	}
	id, ok := m[key]
	if !ok {
		return ident.Null, fmt.Errorf("unknown %s %q", kind, key)
	}
	return id, nil
}

func (s Schedule) shifts(loc *time.Location) (map[int64]model.WorkShift, error) {
	out := make(map[int64]model.WorkShift, len(s.Days))
	for day, ranges := range s.Days {
		midnight, err := time.ParseInLocation(time.DateOnly, day, loc)
		if err != nil {
			return nil, err
		}
		shift := make(model.WorkShift, 0, len(ranges))
		for _, r := range ranges {
			p, err := parseRange(r)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", day, err)
			}
			shift = append(shift, p)
		}
		out[midnight.Unix()] = shift
	}
	return out, nil
}

// parseRange turns "09:00-13:00" into seconds since midnight. The end is
// exclusive in the fixture and inclusive in the period.
func parseRange(s string) (model.Period, error) {
	from, to, ok := strings.Cut(s, "-")
	if !ok {
		return model.Period{}, fmt.Errorf("range %q: want HH:MM-HH:MM", s)
	}
	a, err := clock(from)
	if err != nil {
		return model.Period{}, err
	}
	b, err := clock(to)
	if err != nil {
		return model.Period{}, err
	}
	if b <= a {
		return model.Period{}, fmt.Errorf("range %q: end before start", s)
	}
	return model.Period{From: a, To: b - 1}, nil
}

func clock(s string) (int64, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("time %q: %w", s, err)
	}
	return int64(t.Hour()*3600 + t.Minute()*60), nil
}
