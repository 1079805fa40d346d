package grpcserver

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/and161185/clinic-keeper/internal/convert"
	"github.com/and161185/clinic-keeper/internal/ident"
	"github.com/and161185/clinic-keeper/internal/model"
	"github.com/and161185/clinic-keeper/internal/service"
)

type fakePersist struct {
	mu       sync.Mutex
	flushErr error
	requests int
	last     model.Revision
}

func (f *fakePersist) Flush(context.Context) (model.Revision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.flushErr != nil {
		return model.Revision{}, f.flushErr
	}
	f.last = model.NewRevision(f.last.Ver+1, []byte{1}, time.Now())
	return f.last, nil
}

func (f *fakePersist) RequestSave(context.Context) (bool, error) {
	f.mu.Lock()
	f.requests++
	f.mu.Unlock()
	return true, nil
}

func (f *fakePersist) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

func (f *fakePersist) Last() model.Revision {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

type ids struct{ clinic, doctor, appointment ident.ID }

func newStore(t *testing.T) (*service.Store, ids) {
	t.Helper()
	db := model.NewDB(model.WithAllocator(ident.New()))
	c, _ := db.NewClinic("1 Main St")
	sp, _ := db.NewSpeciality("Therapist", 30*time.Minute)
	d, err := db.NewDoctor(model.Person{FullName: "Ann Lee"}, "", "", []ident.ID{sp.ID()}, ident.Null, c.ID())
	if err != nil {
		t.Fatalf("doctor: %v", err)
	}
	u, _ := db.NewUser(1, "bob", "Bob", ident.Null, ident.Null)
	cl, _ := db.NewClient(model.Person{FullName: "Bob"}, u.ID(), "")
	a, err := db.NewAppointment(cl.ID(), d.ID(), sp.ID(), model.Period{From: 100, To: 1899}, c.ID())
	if err != nil {
		t.Fatalf("appointment: %v", err)
	}
	return service.NewStore(db), ids{clinic: c.ID(), doctor: d.ID(), appointment: a.ID()}
}

const bufSize = 1 << 20

func startBufGRPC(t *testing.T, srv *Server, tokens service.TokenService) (*grpc.ClientConn, func()) {
	t.Helper()
	lis := bufconn.Listen(bufSize)
	log := zaptest.NewLogger(t)
	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(RecoverUnary(log), LoggingUnary(log), AuthUnary(tokens)))
	RegisterAdminServer(gs, srv)
	healthpb.RegisterHealthServer(gs, health.NewServer())
	go func() { _ = gs.Serve(lis) }()
	dialer := func(context.Context, string) (net.Conn, error) { return lis.Dial() }
	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	stop := func() { _ = cc.Close(); gs.Stop(); _ = lis.Close() }
	return cc, stop
}

func authOut(t *testing.T, tokens service.TokenService) context.Context {
	t.Helper()
	tok, err := tokens.Issue("admin")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+tok.AccessToken)
}

func TestServer_E2E(t *testing.T) {
	t.Parallel()

	store, id := newStore(t)
	persist := &fakePersist{}
	tokens := newTokens(t)
	cc, stop := startBufGRPC(t, New(store, persist, zaptest.NewLogger(t)), tokens)
	defer stop()
	cl := NewAdminClient(cc)
	ctx := authOut(t, tokens)

	st, err := cl.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	tables, _, err := convert.FromProtoStats(st)
	if err != nil || tables[model.TableDoctors] != 1 || tables[model.TableAppointments] != 1 || len(tables) != 8 {
		t.Fatalf("bad stats: %v %v", tables, err)
	}

	rec, err := cl.GetEntity(ctx, convert.ToProtoEntityRef(convert.EntityRef{Table: model.TableDoctors, ID: id.doctor}))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.GetFields()["full_name"].GetStringValue() != "Ann Lee" {
		t.Fatalf("bad record: %v", rec)
	}

	// clinic restricted by its doctor and appointment
	err = cl.DeleteEntity(ctx, convert.ToProtoEntityRef(convert.EntityRef{Table: model.TableClinics, ID: id.clinic}))
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("want FailedPrecondition, got %v", err)
	}

	if err := cl.DeleteEntity(ctx, convert.ToProtoEntityRef(convert.EntityRef{Table: model.TableDoctors, ID: id.doctor})); err != nil {
		t.Fatalf("delete doctor: %v", err)
	}
	_, err = cl.GetEntity(ctx, convert.ToProtoEntityRef(convert.EntityRef{Table: model.TableAppointments, ID: id.appointment}))
	if status.Code(err) != codes.NotFound {
		t.Fatalf("appointment must cascade, got %v", err)
	}
	if n := persist.requestCount(); n != 1 {
		t.Fatalf("want one save request, got %d", n)
	}

	rv, err := cl.Flush(ctx)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	rev, err := convert.FromProtoRevision(rv)
	if err != nil || rev.Ver != 1 || rev.ID == uuid.Nil {
		t.Fatalf("bad revision: %+v %v", rev, err)
	}
}

func TestServer_Errors(t *testing.T) {
	t.Parallel()

	store, id := newStore(t)
	persist := &fakePersist{flushErr: errors.New("disk full")}
	tokens := newTokens(t)
	cc, stop := startBufGRPC(t, New(store, persist, nil), tokens)
	defer stop()
	cl := NewAdminClient(cc)
	ctx := authOut(t, tokens)

	if _, err := cl.Stats(context.Background()); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("want Unauthenticated, got %v", err)
	}

	hc := healthpb.NewHealthClient(cc)
	if _, err := hc.Check(context.Background(), &healthpb.HealthCheckRequest{}); err != nil {
		t.Fatalf("health without token: %v", err)
	}

	if _, err := cl.Flush(ctx); status.Code(err) != codes.Internal {
		t.Fatalf("want Internal, got %v", err)
	}

	_, err := cl.GetEntity(ctx, convert.ToProtoEntityRef(convert.EntityRef{Table: "nope", ID: id.doctor}))
	if status.Code(err) != codes.NotFound {
		t.Fatalf("want NotFound for unknown table, got %v", err)
	}
	_, err = cl.GetEntity(ctx, convert.ToProtoEntityRef(convert.EntityRef{Table: model.TableDoctors, ID: 999}))
	if status.Code(err) != codes.NotFound {
		t.Fatalf("want NotFound for unknown id, got %v", err)
	}
	_, err = cl.GetEntity(ctx, convert.ToProtoEntityRef(convert.EntityRef{Table: model.TableDoctors}))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("want InvalidArgument for null id, got %v", err)
	}
	err = cl.DeleteEntity(ctx, convert.ToProtoEntityRef(convert.EntityRef{Table: model.TableDoctors, ID: 999}))
	if status.Code(err) != codes.NotFound {
		t.Fatalf("want NotFound on delete, got %v", err)
	}
}
