package model

import (
	"time"

	"github.com/and161185/clinic-keeper/internal/storage"
)

// Decoders read forward data only; back-references start empty and are filled
// by the resolve phase.

func (db *DB) decodeUser(rec *storage.Record) (*User, error) {
	return &User{
		Base:       storage.NewBase(rec.ID()),
		TelegramID: rec.Int("tg_id"),
		UserName:   rec.String("uname"),
		Name:       rec.String("name"),
		Chat:       userChat.Decode(rec, db.Chats),
		Client:     userClient.Decode(rec, db.Clients),
	}, nil
}

func (db *DB) decodeChat(rec *storage.Record) (*Chat, error) {
	return &Chat{
		Base:        storage.NewBase(rec.ID()),
		User:        chatUser.Decode(rec, db.Users),
		State:       MainState(rec.Int("gs")),
		Sub:         SubState(rec.Int("ss")),
		ChatID:      rec.Int("chat_id"),
		LastMessage: rec.Int32("last_msg"),
	}, nil
}

func (db *DB) decodeClient(rec *storage.Record) (*Client, error) {
	var b binder
	c := &Client{
		Base:         storage.NewBase(rec.ID()),
		Person:       decodePerson(rec),
		User:         clientUser.Decode(rec, db.Users),
		Insurance:    rec.String("ins"),
		Appointments: empty(&b, clientAppointments, db.Appointments, rec.ID()),
	}
	return c, b.err
}

func (db *DB) decodeDoctor(rec *storage.Record) (*Doctor, error) {
	var b binder
	d := &Doctor{
		Base:         storage.NewBase(rec.ID()),
		Person:       decodePerson(rec),
		Photo:        rec.String("photo"),
		Description:  rec.String("desc"),
		Appointments: empty(&b, doctorAppointments, db.Appointments, rec.ID()),
		Specialities: doctorSpecialities.Decode(rec, db.Specialities),
		Schedule:     doctorSchedule.Decode(rec, db.Schedules),
		Clinic:       doctorClinic.Decode(rec, db.Clinics),
	}
	return d, b.err
}

func (db *DB) decodeAppointment(rec *storage.Record) (*Appointment, error) {
	a := &Appointment{
		Base:       storage.NewBase(rec.ID()),
		Client:     appointmentClient.Decode(rec, db.Clients),
		Doctor:     appointmentDoctor.Decode(rec, db.Doctors),
		Speciality: appointmentSpeciality.Decode(rec, db.Specialities),
		Clinic:     appointmentClinic.Decode(rec, db.Clinics),
	}
	rec.Unmarshal("time", &a.Time)
	return a, nil
}

func (db *DB) decodeSpeciality(rec *storage.Record) (*Speciality, error) {
	return db.buildSpeciality(rec.ID(), rec.String("title"), time.Duration(rec.Int("dur"))*time.Second)
}

func (db *DB) decodeClinic(rec *storage.Record) (*Clinic, error) {
	return db.buildClinic(rec.ID(), rec.String("addr"))
}

func (db *DB) decodeSchedule(rec *storage.Record) (*WorkSchedule, error) {
	var shifts map[int64]WorkShift
	rec.Unmarshal("ws", &shifts)
	return db.buildSchedule(rec.ID(), shifts)
}
