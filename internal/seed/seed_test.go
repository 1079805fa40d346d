package seed

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/clinic-keeper/internal/ident"
	"github.com/and161185/clinic-keeper/internal/model"
)

func loadFixture(t *testing.T) *Fixture {
	t.Helper()
	f, err := os.Open("testdata/fixture.yaml")
	require.NoError(t, err)
	defer f.Close()
	fx, err := Parse(f)
	require.NoError(t, err)
	return fx
}

func TestApply(t *testing.T) {
	db := model.NewDB(model.WithAllocator(ident.New()))
	res, err := Apply(db, loadFixture(t), time.UTC, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Equal(t, Result{Clinics: 2, Specialities: 2, Schedules: 1, Doctors: 2}, res)

	tom, ok := db.Doctors.Find(func(d *model.Doctor) bool { return d.FullName == "Tom Fox" })
	require.True(t, ok)
	specs, err := tom.Specialities.Targets()
	require.NoError(t, err)
	require.Len(t, specs, 2)

	clinic, err := tom.Clinic.Get()
	require.NoError(t, err)
	require.Equal(t, "5 North Ave", clinic.Address)
	has, err := clinic.Doctors.Has(tom.ID())
	require.NoError(t, err)
	require.True(t, has)

	ws, err := tom.Schedule.Get()
	require.NoError(t, err)
	shift, ok := ws.Shift(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.True(t, ok)
	require.Equal(t, model.WorkShift{{From: 32400, To: 46799}, {From: 50400, To: 64799}}, shift)

	dentist, ok := db.Specialities.Find(func(s *model.Speciality) bool { return s.Title == "Dentist" })
	require.True(t, ok)
	require.Equal(t, time.Hour, dentist.Duration)
}

func TestApply_ReusesExisting(t *testing.T) {
	db := model.NewDB(model.WithAllocator(ident.New()))
	_, err := db.NewClinic("1 Main St")
	require.NoError(t, err)
	_, err = db.NewSpeciality("Therapist", 20*time.Minute)
	require.NoError(t, err)

	res, err := Apply(db, loadFixture(t), time.UTC, nil)
	require.NoError(t, err)
	require.Equal(t, 1, res.Clinics)
	require.Equal(t, 1, res.Specialities)
	require.Equal(t, 2, db.Clinics.Len())
	require.Equal(t, 2, db.Specialities.Len())
}

func TestApply_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown speciality", "doctors:\n  - full_name: X\n    specialities: [nope]\n"},
		{"unknown clinic", "doctors:\n  - full_name: X\n    clinic: nope\n"},
		{"unknown schedule", "doctors:\n  - full_name: X\n    schedule: nope\n"},
		{"zero duration", "specialities:\n  s:\n    title: S\n"},
		{"bad date", "schedules:\n  w:\n    days:\n      \"01/02/2024\": [\"09:00-10:00\"]\n"},
		{"bad range", "schedules:\n  w:\n    days:\n      \"2024-01-01\": [\"09:00\"]\n"},
		{"reversed range", "schedules:\n  w:\n    days:\n      \"2024-01-01\": [\"10:00-09:00\"]\n"},
		{"bad clock", "schedules:\n  w:\n    days:\n      \"2024-01-01\": [\"9am-10:00\"]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Parse(strings.NewReader(tt.yaml))
			require.NoError(t, err)
			_, err = Apply(model.NewDB(model.WithAllocator(ident.New())), f, time.UTC, nil)
			require.Error(t, err)
		})
	}
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	_, err := Parse(strings.NewReader("hospitals: {}\n"))
	require.Error(t, err)
}
