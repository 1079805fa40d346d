package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/and161185/clinic-keeper/internal/errs"
	"github.com/and161185/clinic-keeper/internal/ident"
	"github.com/and161185/clinic-keeper/internal/model"
)

func newBooking(t *testing.T, f *fixture, saver SaveRequester) *BookingServiceImpl {
	t.Helper()
	return NewBookingService(f.store, time.UTC, saver, zaptest.NewLogger(t))
}

func TestBooking_RegisterUser(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	saver := &countingSaver{}
	s := newBooking(t, f, saver)
	ctx := context.Background()

	u, err := s.RegisterUser(ctx, 2002, "amy", "Amy", 777)
	if err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	if u.Chat.IsNull() || !u.Client.IsNull() {
		t.Fatalf("bad user: %+v", u)
	}
	if saver.count() != 1 {
		t.Fatalf("want one save request, got %d", saver.count())
	}

	if _, err := s.RegisterUser(ctx, 2002, "amy", "Amy", 778); !errors.Is(err, errs.ErrAlreadyExists) {
		t.Fatalf("want ErrAlreadyExists, got %v", err)
	}

	got, err := s.UserByTelegramID(ctx, 2002)
	if err != nil {
		t.Fatalf("UserByTelegramID: %v", err)
	}
	if got != u {
		t.Fatalf("got %+v, want %+v", got, u)
	}
	if _, err := s.UserByTelegramID(ctx, 9); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}

	_ = f.store.Do(func(db *model.DB) error {
		c, err := db.Chats.Get(u.Chat)
		if err != nil {
			t.Fatalf("chat: %v", err)
		}
		if c.ChatID != 777 || c.User.ID() != u.ID {
			t.Fatalf("bad chat: %+v", c)
		}
		return nil
	})
}

func TestBooking_CreateClient(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := newBooking(t, f, nil)
	ctx := context.Background()

	u, err := s.RegisterUser(ctx, 3003, "kim", "Kim", 1)
	if err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	if _, err := s.CreateClient(ctx, u.ID, model.Person{}, ""); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("want ErrInvalidArgument, got %v", err)
	}
	id, err := s.CreateClient(ctx, u.ID, model.Person{FullName: "Kim Park"}, "INS-9")
	if err != nil {
		t.Fatalf("CreateClient: %v", err)
	}
	got, _ := s.UserByTelegramID(ctx, 3003)
	if got.Client != id {
		t.Fatalf("user client = %d, want %d", got.Client, id)
	}
	if _, err := s.CreateClient(ctx, u.ID, model.Person{FullName: "Kim Park"}, ""); !errors.Is(err, errs.ErrAlreadyExists) {
		t.Fatalf("want ErrAlreadyExists, got %v", err)
	}
	if _, err := s.CreateClient(ctx, 999, model.Person{FullName: "X"}, ""); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestBooking_Lookups(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := newBooking(t, f, nil)
	ctx := context.Background()

	sp, err := s.SpecialityByTitle(ctx, "  THERAPIST ")
	if err != nil || sp.ID != f.spec || sp.Duration != 30*time.Minute {
		t.Fatalf("SpecialityByTitle: %+v %v", sp, err)
	}
	if _, err := s.SpecialityByTitle(ctx, "Dentist"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	c, err := s.ClinicByAddress(ctx, "1 main st")
	if err != nil || c.ID != f.clinic {
		t.Fatalf("ClinicByAddress: %+v %v", c, err)
	}

	// decomposed and composed forms match
	_ = f.store.Do(func(db *model.DB) error {
		_, err := db.NewClinic("Cafe\u0301 Street")
		return err
	})
	if _, err := s.ClinicByAddress(ctx, "CAFÉ STREET"); err != nil {
		t.Fatalf("ClinicByAddress normalised: %v", err)
	}

	specs, _ := s.Specialities(ctx)
	if len(specs) != 2 {
		t.Fatalf("want 2 specialities, got %d", len(specs))
	}
	clinics, _ := s.Clinics(ctx)
	if len(clinics) != 2 {
		t.Fatalf("want 2 clinics, got %d", len(clinics))
	}
}

func TestBooking_Doctors(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := newBooking(t, f, nil)
	ctx := context.Background()

	tests := []struct {
		name         string
		spec, clinic ident.ID
		want         int
	}{
		{"any", ident.Null, ident.Null, 1},
		{"by speciality", f.spec, ident.Null, 1},
		{"other speciality", f.other, ident.Null, 0},
		{"by clinic", ident.Null, f.clinic, 1},
		{"unknown clinic", ident.Null, 999, 0},
	}
	for _, tt := range tests {
		ds, err := s.Doctors(ctx, tt.spec, tt.clinic)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if len(ds) != tt.want {
			t.Fatalf("%s: got %d doctors, want %d", tt.name, len(ds), tt.want)
		}
	}
	ds, _ := s.Doctors(ctx, ident.Null, ident.Null)
	if ds[0].FullName != "Ann Lee" || ds[0].Clinic != f.clinic || len(ds[0].Specialities) != 1 {
		t.Fatalf("bad doctor: %+v", ds[0])
	}
}

func TestBooking_SlotsAndAppointments(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	saver := &countingSaver{}
	s := newBooking(t, f, saver)
	ctx := context.Background()

	slots, err := s.AvailableSlots(ctx, f.doctor, f.spec, day0)
	if err != nil {
		t.Fatalf("AvailableSlots: %v", err)
	}
	if len(slots) != 8 || !slots[0].Equal(at(day0, 9, 0)) || !slots[7].Equal(at(day0, 12, 30)) {
		t.Fatalf("bad slots: %v", slots)
	}

	a, err := s.MakeAppointment(ctx, f.client, f.doctor, f.spec, at(day0, 10, 0), ident.Null)
	if err != nil {
		t.Fatalf("MakeAppointment: %v", err)
	}
	if a.Clinic != f.clinic || !a.Start.Equal(at(day0, 10, 0)) || !a.End.Equal(at(day0, 10, 29).Add(59*time.Second)) {
		t.Fatalf("bad appointment: %+v", a)
	}

	slots, _ = s.AvailableSlots(ctx, f.doctor, f.spec, day0)
	if len(slots) != 7 {
		t.Fatalf("want 7 free slots, got %d", len(slots))
	}
	for _, sl := range slots {
		if sl.Equal(at(day0, 10, 0)) {
			t.Fatalf("booked slot still offered")
		}
	}

	for _, when := range []time.Time{at(day0, 10, 0), at(day0, 10, 15), at(day0, 9, 45)} {
		if _, err := s.MakeAppointment(ctx, f.client, f.doctor, f.spec, when, ident.Null); !errors.Is(err, errs.ErrAlreadyExists) {
			t.Fatalf("%s: want ErrAlreadyExists, got %v", when, err)
		}
	}
	if _, err := s.MakeAppointment(ctx, f.client, f.doctor, f.spec, at(day0, 10, 30), ident.Null); err != nil {
		t.Fatalf("back-to-back appointment: %v", err)
	}

	ok, err := s.AppointmentExists(ctx, f.doctor, f.spec, at(day0, 10, 0))
	if err != nil || !ok {
		t.Fatalf("AppointmentExists: %v %v", ok, err)
	}
	list, _ := s.ClientAppointments(ctx, f.client)
	if len(list) != 2 || list[0].ID != a.ID {
		t.Fatalf("bad client appointments: %+v", list)
	}

	if err := s.CancelAppointment(ctx, a.ID); err != nil {
		t.Fatalf("CancelAppointment: %v", err)
	}
	if err := s.CancelAppointment(ctx, a.ID); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound on second cancel, got %v", err)
	}
	ok, _ = s.AppointmentExists(ctx, f.doctor, f.spec, at(day0, 10, 0))
	if ok {
		t.Fatalf("cancelled appointment still exists")
	}
	list, _ = s.ClientAppointments(ctx, f.client)
	if len(list) != 1 {
		t.Fatalf("want 1 appointment after cancel, got %d", len(list))
	}
	if saver.count() != 3 {
		t.Fatalf("want 3 save requests, got %d", saver.count())
	}
}

func TestBooking_AppointmentExistsOverlap(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := newBooking(t, f, nil)
	ctx := context.Background()

	if _, err := s.MakeAppointment(ctx, f.client, f.doctor, f.spec, at(day0, 10, 15), ident.Null); err != nil {
		t.Fatalf("MakeAppointment: %v", err)
	}

	tests := []struct {
		name string
		spec ident.ID
		when time.Time
		want bool
	}{
		{"same start", f.spec, at(day0, 10, 15), true},
		{"overlaps the start", f.spec, at(day0, 10, 0), true},
		{"overlaps the end", f.spec, at(day0, 10, 30), true},
		{"right after", f.spec, at(day0, 10, 45), false},
		{"right before", f.spec, at(day0, 9, 45), false},
		{"longer speciality overlaps", f.other, at(day0, 9, 30), true},
		{"longer speciality ends before", f.other, at(day0, 9, 0), false},
	}
	for _, tt := range tests {
		ok, err := s.AppointmentExists(ctx, f.doctor, tt.spec, tt.when)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if ok != tt.want {
			t.Fatalf("%s: AppointmentExists=%v, want %v", tt.name, ok, tt.want)
		}
		if !ok && tt.spec == f.spec {
			a, err := s.MakeAppointment(ctx, f.client, f.doctor, tt.spec, tt.when, ident.Null)
			if err != nil {
				t.Fatalf("%s: free slot refused: %v", tt.name, err)
			}
			if err := s.CancelAppointment(ctx, a.ID); err != nil {
				t.Fatalf("%s: cancel: %v", tt.name, err)
			}
		}
	}

	if _, err := s.AppointmentExists(ctx, f.doctor, 999, at(day0, 10, 0)); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound for unknown speciality, got %v", err)
	}
	if _, err := s.AppointmentExists(ctx, 999, f.spec, at(day0, 10, 0)); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound for unknown doctor, got %v", err)
	}
}

func TestBooking_SlotsStayInsideShift(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := newBooking(t, f, nil)
	day2 := day0.AddDate(0, 0, 2)

	// 09:00-09:45 leaves room for one 30 minute visit only
	err := f.store.Do(func(db *model.DB) error {
		d, err := db.Doctors.Get(f.doctor)
		if err != nil {
			return err
		}
		ws, err := d.Schedule.Get()
		if err != nil {
			return err
		}
		ws.Shifts[day2.Unix()] = model.WorkShift{{From: 9 * 3600, To: 9*3600 + 45*60 - 1}}
		return nil
	})
	if err != nil {
		t.Fatalf("set shift: %v", err)
	}

	slots, err := s.AvailableSlots(context.Background(), f.doctor, f.spec, day2)
	if err != nil {
		t.Fatalf("AvailableSlots: %v", err)
	}
	if len(slots) != 1 || !slots[0].Equal(at(day2, 9, 0)) {
		t.Fatalf("want only 09:00, got %v", slots)
	}
}

func TestBooking_SlotErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := newBooking(t, f, nil)
	ctx := context.Background()

	if _, err := s.AvailableSlots(ctx, f.doctor, f.spec, at(day0, 1, 0)); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("want ErrInvalidArgument for non-midnight, got %v", err)
	}
	if _, err := s.AvailableSlots(ctx, f.doctor, f.other, day0); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("want ErrInvalidArgument for foreign speciality, got %v", err)
	}
	if _, err := s.AvailableSlots(ctx, 999, f.spec, day0); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound for unknown doctor, got %v", err)
	}
	slots, err := s.AvailableSlots(ctx, f.doctor, f.spec, day0.AddDate(0, 0, 5))
	if err != nil || len(slots) != 0 {
		t.Fatalf("want no slots on a day off, got %v %v", slots, err)
	}
	if _, err := s.MakeAppointment(ctx, 999, f.doctor, f.spec, at(day0, 9, 0), ident.Null); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound for unknown client, got %v", err)
	}
	if _, err := s.MakeAppointment(ctx, f.client, f.doctor, f.spec, at(day0, 9, 0), 999); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound for unknown clinic, got %v", err)
	}
}

func TestBooking_NearestSlot(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := newBooking(t, f, nil)
	ctx := context.Background()
	end := day0.AddDate(0, 0, 3)

	got, err := s.NearestSlot(ctx, f.doctor, f.spec, day0, end)
	if err != nil || !got.Equal(at(day0, 9, 0)) {
		t.Fatalf("NearestSlot from midnight: %v %v", got, err)
	}

	got, _ = s.NearestSlot(ctx, f.doctor, f.spec, at(day0, 12, 45), end)
	if !got.Equal(at(day0.AddDate(0, 0, 1), 10, 0)) {
		t.Fatalf("want next day 10:00, got %v", got)
	}

	got, _ = s.NearestSlot(ctx, f.doctor, f.spec, at(day0, 12, 45), at(day0, 23, 0))
	if !got.IsZero() {
		t.Fatalf("want zero time, got %v", got)
	}

	if _, err := s.NearestSlot(ctx, f.doctor, f.spec, end, day0); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("want ErrInvalidArgument for reversed range, got %v", err)
	}
}

func TestBooking_LocationMidnight(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("UTC+3", 3*3600)
	f := newFixture(t)
	s := NewBookingService(f.store, loc, nil, nil)

	// day0 UTC midnight is 03:00 in loc
	if _, err := s.AvailableSlots(context.Background(), f.doctor, f.spec, day0); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("want ErrInvalidArgument, got %v", err)
	}
	localDay := time.Date(2024, 1, 1, 0, 0, 0, 0, loc)
	slots, err := s.AvailableSlots(context.Background(), f.doctor, f.spec, localDay)
	if err != nil || len(slots) != 0 {
		t.Fatalf("schedule keyed by UTC midnight has no shift at local midnight: %v %v", slots, err)
	}
}
