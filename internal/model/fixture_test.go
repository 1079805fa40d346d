package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/clinic-keeper/internal/ident"
)

// 2024-01-01 00:00:00 UTC.
const day0 = int64(1704067200)

type fixture struct {
	db       *DB
	clinic   *Clinic
	spec     *Speciality
	schedule *WorkSchedule
	doctor   *Doctor
	user     *User
	chat     *Chat
	client   *Client
	appo     *Appointment
}

func newTestDB(t *testing.T) *DB {
	t.Helper()
	return NewDB(WithAllocator(ident.New()), WithLogger(zaptest.NewLogger(t)))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{db: newTestDB(t)}
	var err error

	f.clinic, err = f.db.NewClinic("1 Main St")
	require.NoError(t, err)
	f.spec, err = f.db.NewSpeciality("Therapist", 30*time.Minute)
	require.NoError(t, err)
	f.schedule, err = f.db.NewWorkSchedule(map[int64]WorkShift{
		day0: {{From: 9 * 3600, To: 13 * 3600}},
	})
	require.NoError(t, err)
	f.doctor, err = f.db.NewDoctor(
		Person{FullName: "Ann Lee", PhoneNumber: "+200", Email: "ann@example.com"},
		"ann.jpg", "GP", []ident.ID{f.spec.ID()}, f.schedule.ID(), f.clinic.ID())
	require.NoError(t, err)

	f.user, err = f.db.NewUser(1001, "bob", "Bob", ident.Null, ident.Null)
	require.NoError(t, err)
	f.chat, err = f.db.NewChat(f.user.ID(), 555)
	require.NoError(t, err)
	require.NoError(t, f.user.Chat.SetTarget(f.chat.ID(), false))
	f.client, err = f.db.NewClient(
		Person{FullName: "Bob Stone", PhoneNumber: "+100", Email: "bob@example.com"},
		f.user.ID(), "INS-1")
	require.NoError(t, err)
	require.NoError(t, f.user.Client.SetTarget(f.client.ID(), false))

	at := time.Unix(day0+10*3600, 0)
	f.appo, err = f.db.NewAppointment(f.client.ID(), f.doctor.ID(), f.spec.ID(),
		NewPeriod(at, f.spec.Duration), f.clinic.ID())
	require.NoError(t, err)
	return f
}
