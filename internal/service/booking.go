package service

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/and161185/clinic-keeper/internal/errs"
	"github.com/and161185/clinic-keeper/internal/ident"
	"github.com/and161185/clinic-keeper/internal/model"
)

// BookingService runs the clinic queries behind the bot dialogues.
type BookingService interface {
	RegisterUser(ctx context.Context, tgID int64, userName, name string, chatID int64) (UserInfo, error)
	UserByTelegramID(ctx context.Context, tgID int64) (UserInfo, error)
	CreateClient(ctx context.Context, user ident.ID, p model.Person, insurance string) (ident.ID, error)
	SpecialityByTitle(ctx context.Context, title string) (SpecialityInfo, error)
	ClinicByAddress(ctx context.Context, addr string) (ClinicInfo, error)
	Specialities(ctx context.Context) ([]SpecialityInfo, error)
	Clinics(ctx context.Context) ([]ClinicInfo, error)
	Doctors(ctx context.Context, spec, clinic ident.ID) ([]DoctorInfo, error)
	AvailableSlots(ctx context.Context, doctor, spec ident.ID, day time.Time) ([]time.Time, error)
	NearestSlot(ctx context.Context, doctor, spec ident.ID, from, to time.Time) (time.Time, error)
	MakeAppointment(ctx context.Context, client, doctor, spec ident.ID, at time.Time, clinic ident.ID) (AppointmentInfo, error)
	CancelAppointment(ctx context.Context, id ident.ID) error
	ClientAppointments(ctx context.Context, client ident.ID) ([]AppointmentInfo, error)
	AppointmentExists(ctx context.Context, doctor, spec ident.ID, at time.Time) (bool, error)
}

// UserInfo is a copy of a user safe to use outside the store lock.
type UserInfo struct {
	ID         ident.ID
	TelegramID int64
	UserName   string
	Name       string
	Chat       ident.ID
	Client     ident.ID
}

// SpecialityInfo is a copy of a speciality.
type SpecialityInfo struct {
	ID       ident.ID
	Title    string
	Duration time.Duration
}

// ClinicInfo is a copy of a clinic.
type ClinicInfo struct {
	ID      ident.ID
	Address string
}

// DoctorInfo is a copy of a doctor.
type DoctorInfo struct {
	ID ident.ID
	model.Person
	Photo        string
	Description  string
	Specialities []ident.ID
	Clinic       ident.ID
}

// AppointmentInfo is a copy of an appointment.
type AppointmentInfo struct {
	ID         ident.ID
	Client     ident.ID
	Doctor     ident.ID
	Speciality ident.ID
	Clinic     ident.ID
	Start      time.Time
	End        time.Time // inclusive
}

// SaveRequester is notified after every change.
type SaveRequester interface {
	RequestSave(ctx context.Context) (bool, error)
}

type BookingServiceImpl struct {
	store *Store
	loc   *time.Location
	saver SaveRequester
	log   *zap.Logger
}

var _ BookingService = (*BookingServiceImpl)(nil)

// NewBookingService constructs the booking service. Days are midnights in loc;
// saver may be nil.
func NewBookingService(store *Store, loc *time.Location, saver SaveRequester, log *zap.Logger) *BookingServiceImpl {
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &BookingServiceImpl{store: store, loc: loc, saver: saver, log: log}
}

func (s *BookingServiceImpl) changed(ctx context.Context) {
	if s.saver == nil {
		return
	}
	if _, err := s.saver.RequestSave(ctx); err != nil {
		s.log.Warn("save after change", zap.Error(err))
	}
}

// RegisterUser creates a user with its chat.
func (s *BookingServiceImpl) RegisterUser(ctx context.Context, tgID int64, userName, name string, chatID int64) (UserInfo, error) {
	var out UserInfo
	err := s.store.Do(func(db *model.DB) error {
		if _, ok := db.Users.Find(func(u *model.User) bool { return u.TelegramID == tgID }); ok {
			return fmt.Errorf("telegram user %d: %w", tgID, errs.ErrAlreadyExists)
		}
		u, err := db.NewUser(tgID, userName, name, ident.Null, ident.Null)
		if err != nil {
			return err
		}
		c, err := db.NewChat(u.ID(), chatID)
		if err != nil {
			_ = db.Users.Delete(u.ID())
			return err
		}
		if err := u.Chat.SetTarget(c.ID(), false); err != nil {
			return err
		}
		out = userInfo(u)
		return nil
	})
	if err != nil {
		return UserInfo{}, err
	}
	s.log.Info("user registered", zap.Stringer("user", out.ID), zap.Int64("tg_id", tgID))
	s.changed(ctx)
	return out, nil
}

// UserByTelegramID looks a user up by Telegram account.
func (s *BookingServiceImpl) UserByTelegramID(_ context.Context, tgID int64) (UserInfo, error) {
	var out UserInfo
	err := s.store.Do(func(db *model.DB) error {
		u, ok := db.Users.Find(func(u *model.User) bool { return u.TelegramID == tgID })
		if !ok {
			return fmt.Errorf("telegram user %d: %w", tgID, errs.ErrNotFound)
		}
		out = userInfo(u)
		return nil
	})
	return out, err
}

// CreateClient attaches a new client record to user.
func (s *BookingServiceImpl) CreateClient(ctx context.Context, user ident.ID, p model.Person, insurance string) (ident.ID, error) {
	if strings.TrimSpace(p.FullName) == "" {
		return ident.Null, fmt.Errorf("%w: empty full name", errs.ErrInvalidArgument)
	}
	var id ident.ID
	err := s.store.Do(func(db *model.DB) error {
		u, err := db.Users.Get(user)
		if err != nil {
			return err
		}
		if c := u.Client.ID(); !c.IsNull() && db.Clients.Has(c) {
			return fmt.Errorf("client of user %d: %w", user, errs.ErrAlreadyExists)
		}
		c, err := db.NewClient(p, user, insurance)
		if err != nil {
			return err
		}
		id = c.ID()
		return u.Client.SetTarget(id, false)
	})
	if err != nil {
		return ident.Null, err
	}
	s.log.Info("client created", zap.Stringer("client", id), zap.Stringer("user", user))
	s.changed(ctx)
	return id, nil
}

// fold normalises text for case-insensitive matching.
func fold(s string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(s)))
}

// SpecialityByTitle finds a speciality ignoring case and normalisation.
func (s *BookingServiceImpl) SpecialityByTitle(_ context.Context, title string) (SpecialityInfo, error) {
	want := fold(title)
	var out SpecialityInfo
	err := s.store.Do(func(db *model.DB) error {
		sp, ok := db.Specialities.Find(func(sp *model.Speciality) bool { return fold(sp.Title) == want })
		if !ok {
			return fmt.Errorf("speciality %q: %w", title, errs.ErrNotFound)
		}
		out = specialityInfo(sp)
		return nil
	})
	return out, err
}

// ClinicByAddress finds a clinic ignoring case and normalisation.
func (s *BookingServiceImpl) ClinicByAddress(_ context.Context, addr string) (ClinicInfo, error) {
	want := fold(addr)
	var out ClinicInfo
	err := s.store.Do(func(db *model.DB) error {
		c, ok := db.Clinics.Find(func(c *model.Clinic) bool { return fold(c.Address) == want })
		if !ok {
			return fmt.Errorf("clinic %q: %w", addr, errs.ErrNotFound)
		}
		out = ClinicInfo{ID: c.ID(), Address: c.Address}
		return nil
	})
	return out, err
}

// Specialities lists every speciality.
func (s *BookingServiceImpl) Specialities(_ context.Context) ([]SpecialityInfo, error) {
	var out []SpecialityInfo
	err := s.store.Do(func(db *model.DB) error {
		for _, sp := range db.Specialities.All() {
			out = append(out, specialityInfo(sp))
		}
		return nil
	})
	return out, err
}

// Clinics lists every clinic.
func (s *BookingServiceImpl) Clinics(_ context.Context) ([]ClinicInfo, error) {
	var out []ClinicInfo
	err := s.store.Do(func(db *model.DB) error {
		for _, c := range db.Clinics.All() {
			out = append(out, ClinicInfo{ID: c.ID(), Address: c.Address})
		}
		return nil
	})
	return out, err
}

// Doctors lists doctors of spec at clinic; ident.Null matches any.
func (s *BookingServiceImpl) Doctors(_ context.Context, spec, clinic ident.ID) ([]DoctorInfo, error) {
	var out []DoctorInfo
	err := s.store.Do(func(db *model.DB) error {
		ds := db.Doctors.Filter(func(d *model.Doctor) bool {
			if !clinic.IsNull() && d.Clinic.ID() != clinic {
				return false
			}
			if spec.IsNull() {
				return true
			}
			ok, _ := d.Specialities.Has(spec)
			return ok
		})
		for _, d := range ds {
			out = append(out, doctorInfo(d))
		}
		return nil
	})
	return out, err
}

// midnight reports whether day is the start of a day in the service location.
func (s *BookingServiceImpl) midnight(day time.Time) (time.Time, error) {
	local := day.In(s.loc)
	y, m, d := local.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, s.loc)
	if !start.Equal(day) {
		return time.Time{}, fmt.Errorf("%w: %s is not a midnight in %s", errs.ErrInvalidArgument, day, s.loc)
	}
	return start, nil
}

// practice returns the doctor and the speciality, checking the doctor offers it.
func practice(db *model.DB, doctor, spec ident.ID) (*model.Doctor, *model.Speciality, error) {
	d, err := db.Doctors.Get(doctor)
	if err != nil {
		return nil, nil, err
	}
	sp, err := db.Specialities.Get(spec)
	if err != nil {
		return nil, nil, err
	}
	if ok, _ := d.Specialities.Has(spec); !ok {
		return nil, nil, fmt.Errorf("%w: doctor %d does not practise %q", errs.ErrInvalidArgument, doctor, sp.Title)
	}
	if sp.Duration <= 0 {
		return nil, nil, fmt.Errorf("%w: speciality %q has no duration", errs.ErrInvalidArgument, sp.Title)
	}
	return d, sp, nil
}

// busy reports whether p overlaps an appointment of d.
func busy(d *model.Doctor, p model.Period) bool {
	as, _ := d.Appointments.Targets()
	return slices.ContainsFunc(as, func(a *model.Appointment) bool { return a.Time.Overlap(p) })
}

// slots lists the free slot starts of d on the day starting at midnight.
func slots(d *model.Doctor, sp *model.Speciality, midnight time.Time) []time.Time {
	ws, err := d.Schedule.Get()
	if err != nil {
		return nil
	}
	shift, ok := ws.Shift(midnight)
	if !ok {
		return nil
	}
	step := int64(sp.Duration / time.Second)
	var out []time.Time
	for _, p := range shift {
		for from := p.From; from+step-1 <= p.To; from += step {
			start := midnight.Add(time.Duration(from) * time.Second)
			if !busy(d, model.NewPeriod(start, sp.Duration)) {
				out = append(out, start)
			}
		}
	}
	slices.SortFunc(out, func(a, b time.Time) int { return a.Compare(b) })
	return out
}

// AvailableSlots lists the free appointment starts of doctor for spec on day.
func (s *BookingServiceImpl) AvailableSlots(_ context.Context, doctor, spec ident.ID, day time.Time) ([]time.Time, error) {
	midnight, err := s.midnight(day)
	if err != nil {
		return nil, err
	}
	var out []time.Time
	err = s.store.Do(func(db *model.DB) error {
		d, sp, err := practice(db, doctor, spec)
		if err != nil {
			return err
		}
		out = slots(d, sp, midnight)
		return nil
	})
	return out, err
}

// NearestSlot returns the first free slot in [from, to], or the zero time.
func (s *BookingServiceImpl) NearestSlot(_ context.Context, doctor, spec ident.ID, from, to time.Time) (time.Time, error) {
	if to.Before(from) {
		return time.Time{}, fmt.Errorf("%w: empty range", errs.ErrInvalidArgument)
	}
	var out time.Time
	err := s.store.Do(func(db *model.DB) error {
		d, sp, err := practice(db, doctor, spec)
		if err != nil {
			return err
		}
		y, m, dd := from.In(s.loc).Date()
		for day := time.Date(y, m, dd, 0, 0, 0, 0, s.loc); !day.After(to); day = day.AddDate(0, 0, 1) {
			for _, t := range slots(d, sp, day) {
				if t.Before(from) {
					continue
				}
				if t.After(to) {
					return nil
				}
				out = t
				return nil
			}
		}
		return nil
	})
	return out, err
}

// MakeAppointment books client with doctor at at. clinic ident.Null means the
// doctor's clinic.
func (s *BookingServiceImpl) MakeAppointment(ctx context.Context, client, doctor, spec ident.ID, at time.Time, clinic ident.ID) (AppointmentInfo, error) {
	var out AppointmentInfo
	err := s.store.Do(func(db *model.DB) error {
		if _, err := db.Clients.Get(client); err != nil {
			return err
		}
		d, sp, err := practice(db, doctor, spec)
		if err != nil {
			return err
		}
		if clinic.IsNull() {
			clinic = d.Clinic.ID()
		} else if !db.Clinics.Has(clinic) {
			return fmt.Errorf("clinic %d: %w", clinic, errs.ErrNotFound)
		}
		p := model.NewPeriod(at, sp.Duration)
		if busy(d, p) {
			return fmt.Errorf("doctor %d at %s: %w", doctor, at, errs.ErrAlreadyExists)
		}
		a, err := db.NewAppointment(client, doctor, spec, p, clinic)
		if err != nil {
			return err
		}
		out = appointmentInfo(a)
		return nil
	})
	if err != nil {
		return AppointmentInfo{}, err
	}
	s.log.Info("appointment made",
		zap.Stringer("appointment", out.ID),
		zap.Stringer("client", client),
		zap.Stringer("doctor", doctor),
		zap.Time("at", out.Start))
	s.changed(ctx)
	return out, nil
}

// CancelAppointment deletes an appointment.
func (s *BookingServiceImpl) CancelAppointment(ctx context.Context, id ident.ID) error {
	err := s.store.Do(func(db *model.DB) error {
		return db.Appointments.Delete(id)
	})
	if err != nil {
		return err
	}
	s.log.Info("appointment cancelled", zap.Stringer("appointment", id))
	s.changed(ctx)
	return nil
}

// ClientAppointments lists the appointments of client by start time.
func (s *BookingServiceImpl) ClientAppointments(_ context.Context, client ident.ID) ([]AppointmentInfo, error) {
	var out []AppointmentInfo
	err := s.store.Do(func(db *model.DB) error {
		c, err := db.Clients.Get(client)
		if err != nil {
			return err
		}
		as, err := c.Appointments.Targets()
		if err != nil {
			return err
		}
		for _, a := range as {
			out = append(out, appointmentInfo(a))
		}
		return nil
	})
	slices.SortFunc(out, func(a, b AppointmentInfo) int { return a.Start.Compare(b.Start) })
	return out, err
}

// AppointmentExists reports whether a visit for spec starting at at would
// overlap any appointment of doctor, whatever its speciality.
func (s *BookingServiceImpl) AppointmentExists(_ context.Context, doctor, spec ident.ID, at time.Time) (bool, error) {
	var found bool
	err := s.store.Do(func(db *model.DB) error {
		d, err := db.Doctors.Get(doctor)
		if err != nil {
			return err
		}
		sp, err := db.Specialities.Get(spec)
		if err != nil {
			return err
		}
		found = busy(d, model.NewPeriod(at, sp.Duration))
		return nil
	})
	return found, err
}

func userInfo(u *model.User) UserInfo {
	return UserInfo{
		ID:         u.ID(),
		TelegramID: u.TelegramID,
		UserName:   u.UserName,
		Name:       u.Name,
		Chat:       u.Chat.ID(),
		Client:     u.Client.ID(),
	}
}

func specialityInfo(sp *model.Speciality) SpecialityInfo {
	return SpecialityInfo{ID: sp.ID(), Title: sp.Title, Duration: sp.Duration}
}

func doctorInfo(d *model.Doctor) DoctorInfo {
	specs, _ := d.Specialities.IDs()
	return DoctorInfo{
		ID:           d.ID(),
		Person:       d.Person,
		Photo:        d.Photo,
		Description:  d.Description,
		Specialities: specs,
		Clinic:       d.Clinic.ID(),
	}
}

func appointmentInfo(a *model.Appointment) AppointmentInfo {
	return AppointmentInfo{
		ID:         a.ID(),
		Client:     a.Client.ID(),
		Doctor:     a.Doctor.ID(),
		Speciality: a.Speciality.ID(),
		Clinic:     a.Clinic.ID(),
		Start:      time.Unix(a.Time.From, 0),
		End:        time.Unix(a.Time.To, 0),
	}
}
