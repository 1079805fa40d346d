package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/and161185/clinic-keeper/internal/errs"
	"github.com/and161185/clinic-keeper/internal/ident"
	"github.com/and161185/clinic-keeper/internal/model"
	"github.com/and161185/clinic-keeper/internal/repository"
	"github.com/and161185/clinic-keeper/internal/storage"
)

// day0 is 2024-01-01 00:00 UTC.
var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	store  *Store
	clinic ident.ID
	spec   ident.ID
	other  ident.ID // speciality the doctor does not practise
	doctor ident.ID
	user   ident.ID
	client ident.ID
}

// newFixture builds a clinic with one doctor working 09:00-13:00 on day0 and
// 10:00-11:00 the day after, plus one registered client.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := model.NewDB(model.WithAllocator(ident.New()), model.WithLogger(zaptest.NewLogger(t)))
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("fixture: %v", err)
		}
	}
	f := &fixture{store: NewStore(db)}

	c, err := db.NewClinic("1 Main St")
	must(err)
	sp, err := db.NewSpeciality("Therapist", 30*time.Minute)
	must(err)
	other, err := db.NewSpeciality("Surgeon", time.Hour)
	must(err)
	ws, err := db.NewWorkSchedule(map[int64]model.WorkShift{
		day0.Unix():                  {{From: 9 * 3600, To: 13*3600 - 1}},
		day0.AddDate(0, 0, 1).Unix(): {{From: 10 * 3600, To: 11*3600 - 1}},
	})
	must(err)
	d, err := db.NewDoctor(model.Person{FullName: "Ann Lee"}, "", "", []ident.ID{sp.ID()}, ws.ID(), c.ID())
	must(err)
	u, err := db.NewUser(1001, "bob", "Bob", ident.Null, ident.Null)
	must(err)
	cl, err := db.NewClient(model.Person{FullName: "Bob Stone"}, u.ID(), "INS-1")
	must(err)
	must(u.Client.SetTarget(cl.ID(), false))

	f.clinic, f.spec, f.other, f.doctor, f.user, f.client = c.ID(), sp.ID(), other.ID(), d.ID(), u.ID(), cl.ID()
	return f
}

func at(day time.Time, h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

type countingSaver struct {
	mu sync.Mutex
	n  int
}

func (s *countingSaver) RequestSave(context.Context) (bool, error) {
	s.mu.Lock()
	s.n++
	s.mu.Unlock()
	return true, nil
}

func (s *countingSaver) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

// memRepo keeps the last saved snapshot in memory.
type memRepo struct {
	mu      sync.Mutex
	snap    *model.StoredSnapshot
	saveErr error
	saves   int
}

var _ repository.SnapshotRepository = (*memRepo)(nil)

func (r *memRepo) Load(context.Context) (*model.StoredSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snap == nil {
		return nil, errs.ErrNotFound
	}
	cp := *r.snap
	return &cp, nil
}

func (r *memRepo) Save(_ context.Context, doc storage.Snapshot) (model.Revision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return model.Revision{}, r.saveErr
	}
	r.saves++
	rev, err := repository.Stamp(doc, int64(r.saves), time.Now())
	if err != nil {
		return model.Revision{}, err
	}
	r.snap = &model.StoredSnapshot{Revision: rev, Document: append(storage.Snapshot(nil), doc...)}
	return rev, nil
}

func (r *memRepo) Close() error { return nil }

func (r *memRepo) saveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves
}
