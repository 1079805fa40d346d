package model

import (
	"time"

	"go.uber.org/zap"

	"github.com/and161185/clinic-keeper/internal/ident"
	"github.com/and161185/clinic-keeper/internal/storage"
)

// DB is the aggregate of every clinic repository.
type DB struct {
	*storage.Aggregate

	Users        *storage.Repository[*User]
	Chats        *storage.Repository[*Chat]
	Clients      *storage.Repository[*Client]
	Doctors      *storage.Repository[*Doctor]
	Appointments *storage.Repository[*Appointment]
	Specialities *storage.Repository[*Speciality]
	Clinics      *storage.Repository[*Clinic]
	Schedules    *storage.Repository[*WorkSchedule]
}

type dbOptions struct {
	alloc *ident.Allocator
	log   *zap.Logger
	obs   storage.Observer
}

// Option configures NewDB.
type Option func(*dbOptions)

// WithAllocator sets the identity allocator; ident.Default is used otherwise.
func WithAllocator(a *ident.Allocator) Option { return func(o *dbOptions) { o.alloc = a } }

// WithLogger sets the logger of every repository.
func WithLogger(l *zap.Logger) Option { return func(o *dbOptions) { o.log = l } }

// WithObserver sets the lifecycle observer of every repository.
func WithObserver(obs storage.Observer) Option { return func(o *dbOptions) { o.obs = obs } }

// NewDB returns an empty aggregate.
func NewDB(opts ...Option) *DB {
	o := dbOptions{alloc: ident.Default, log: zap.NewNop()}
	for _, fn := range opts {
		fn(&o)
	}
	ropts := []storage.Option{storage.WithLogger(o.log), storage.WithObserver(o.obs)}

	db := &DB{}
	db.Users = storage.NewRepository(TableUsers, o.alloc, db.decodeUser, ropts...)
	db.Chats = storage.NewRepository(TableChats, o.alloc, db.decodeChat, ropts...)
	db.Clients = storage.NewRepository(TableClients, o.alloc, db.decodeClient, ropts...)
	db.Doctors = storage.NewRepository(TableDoctors, o.alloc, db.decodeDoctor, ropts...)
	db.Appointments = storage.NewRepository(TableAppointments, o.alloc, db.decodeAppointment, ropts...)
	db.Specialities = storage.NewRepository(TableSpecialities, o.alloc, db.decodeSpeciality, ropts...)
	db.Clinics = storage.NewRepository(TableClinics, o.alloc, db.decodeClinic, ropts...)
	db.Schedules = storage.NewRepository(TableSchedules, o.alloc, db.decodeSchedule, ropts...)
	db.Aggregate = storage.NewAggregate(o.log,
		db.Users, db.Chats, db.Clients, db.Doctors,
		db.Appointments, db.Specialities, db.Clinics, db.Schedules)
	return db
}

// created resolves a freshly indexed entity.
func created[T storage.Entity](e T, err error) (T, error) {
	if err != nil {
		return e, err
	}
	if err := e.ResolveRelations(); err != nil {
		var zero T
		return zero, err
	}
	return e, nil
}

// NewUser creates a user. chat and client may be ident.Null.
func (db *DB) NewUser(tgID int64, userName, name string, chat, client ident.ID) (*User, error) {
	return db.Users.Create(func(id ident.ID) (*User, error) {
		var b binder
		u := &User{
			Base:       storage.NewBase(id),
			TelegramID: tgID,
			UserName:   userName,
			Name:       name,
			Chat:       bind(&b, userChat, db.Chats, id, chat),
			Client:     bind(&b, userClient, db.Clients, id, client),
		}
		if b.err != nil {
			return nil, b.err
		}
		return u, storage.CheckTargets(u.Links()...)
	})
}

// NewChat creates the chat of a user, starting on the first screen.
func (db *DB) NewChat(user ident.ID, chatID int64) (*Chat, error) {
	return db.Chats.Create(func(id ident.ID) (*Chat, error) {
		var b binder
		c := &Chat{
			Base:   storage.NewBase(id),
			User:   bind(&b, chatUser, db.Users, id, user),
			State:  StateStart,
			Sub:    SubBase,
			ChatID: chatID,
		}
		if b.err != nil {
			return nil, b.err
		}
		return c, storage.CheckTargets(c.Links()...)
	})
}

// NewClient creates a client owned by user.
func (db *DB) NewClient(p Person, user ident.ID, insurance string) (*Client, error) {
	return db.Clients.Create(func(id ident.ID) (*Client, error) {
		var b binder
		c := &Client{
			Base:         storage.NewBase(id),
			Person:       p,
			Insurance:    insurance,
			User:         bind(&b, clientUser, db.Users, id, user),
			Appointments: empty(&b, clientAppointments, db.Appointments, id),
		}
		if b.err != nil {
			return nil, b.err
		}
		return c, storage.CheckTargets(c.Links()...)
	})
}

// NewDoctor creates a doctor and registers it with its specialities, schedule and clinic.
func (db *DB) NewDoctor(p Person, photo, desc string, specs []ident.ID, schedule, clinic ident.ID) (*Doctor, error) {
	return created[*Doctor](db.Doctors.Create(func(id ident.ID) (*Doctor, error) {
		var b binder
		d := &Doctor{
			Base:         storage.NewBase(id),
			Person:       p,
			Photo:        photo,
			Description:  desc,
			Appointments: empty(&b, doctorAppointments, db.Appointments, id),
			Specialities: bind(&b, doctorSpecialities, db.Specialities, id, specs...),
			Schedule:     bind(&b, doctorSchedule, db.Schedules, id, schedule),
			Clinic:       bind(&b, doctorClinic, db.Clinics, id, clinic),
		}
		if b.err != nil {
			return nil, b.err
		}
		return d, storage.CheckTargets(d.Links()...)
	}))
}

// NewAppointment books at for client and registers it with every party.
func (db *DB) NewAppointment(client, doctor, speciality ident.ID, at Period, clinic ident.ID) (*Appointment, error) {
	return created[*Appointment](db.Appointments.Create(func(id ident.ID) (*Appointment, error) {
		var b binder
		a := &Appointment{
			Base:       storage.NewBase(id),
			Client:     bind(&b, appointmentClient, db.Clients, id, client),
			Doctor:     bind(&b, appointmentDoctor, db.Doctors, id, doctor),
			Speciality: bind(&b, appointmentSpeciality, db.Specialities, id, speciality),
			Time:       at,
			Clinic:     bind(&b, appointmentClinic, db.Clinics, id, clinic),
		}
		if b.err != nil {
			return nil, b.err
		}
		return a, storage.CheckTargets(a.Links()...)
	}))
}

// NewSpeciality creates a speciality whose appointments last dur.
func (db *DB) NewSpeciality(title string, dur time.Duration) (*Speciality, error) {
	return db.Specialities.Create(func(id ident.ID) (*Speciality, error) {
		return db.buildSpeciality(id, title, dur)
	})
}

func (db *DB) buildSpeciality(id ident.ID, title string, dur time.Duration) (*Speciality, error) {
	var b binder
	s := &Speciality{
		Base:         storage.NewBase(id),
		Title:        title,
		Duration:     dur,
		Doctors:      empty(&b, specialityDoctors, db.Doctors, id),
		Appointments: empty(&b, specialityAppointments, db.Appointments, id),
	}
	return s, b.err
}

// NewClinic creates a clinic at address.
func (db *DB) NewClinic(address string) (*Clinic, error) {
	return db.Clinics.Create(func(id ident.ID) (*Clinic, error) {
		return db.buildClinic(id, address)
	})
}

func (db *DB) buildClinic(id ident.ID, address string) (*Clinic, error) {
	var b binder
	c := &Clinic{
		Base:         storage.NewBase(id),
		Address:      address,
		Appointments: empty(&b, clinicAppointments, db.Appointments, id),
		Doctors:      empty(&b, clinicDoctors, db.Doctors, id),
	}
	return c, b.err
}

// NewWorkSchedule creates a schedule from shifts keyed by midnight unix time.
func (db *DB) NewWorkSchedule(shifts map[int64]WorkShift) (*WorkSchedule, error) {
	return db.Schedules.Create(func(id ident.ID) (*WorkSchedule, error) {
		return db.buildSchedule(id, shifts)
	})
}

func (db *DB) buildSchedule(id ident.ID, shifts map[int64]WorkShift) (*WorkSchedule, error) {
	if shifts == nil {
		shifts = make(map[int64]WorkShift)
	}
	var b binder
	ws := &WorkSchedule{
		Base:    storage.NewBase(id),
		Shifts:  shifts,
		Doctors: empty(&b, scheduleDoctors, db.Doctors, id),
	}
	return ws, b.err
}
