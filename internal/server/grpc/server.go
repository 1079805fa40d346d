// Package grpcserver exposes the clinic store admin API over gRPC.
package grpcserver

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/clinic-keeper/internal/convert"
	"github.com/and161185/clinic-keeper/internal/errs"
	"github.com/and161185/clinic-keeper/internal/model"
	"github.com/and161185/clinic-keeper/internal/service"
)

// Persistence is the part of service.Persister driven by the admin API.
type Persistence interface {
	Flush(ctx context.Context) (model.Revision, error)
	RequestSave(ctx context.Context) (bool, error)
	Last() model.Revision
}

// Server wires the store and the persister into gRPC handlers.
type Server struct {
	store   *service.Store
	persist Persistence
	log     *zap.Logger
}

var _ AdminServer = (*Server)(nil)

// New constructs the admin server.
func New(store *service.Store, persist Persistence, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{store: store, persist: persist, log: log}
}

// toStatus maps service errors to gRPC codes.
func toStatus(op string, err error) error {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, errs.ErrIntegrityViolation):
		return status.Errorf(codes.FailedPrecondition, "%s: %v", op, err)
	case errors.Is(err, errs.ErrVersionConflict):
		return status.Error(codes.FailedPrecondition, "version conflict")
	case errors.Is(err, errs.ErrInvalidArgument):
		return status.Errorf(codes.InvalidArgument, "%s: %v", op, err)
	case errors.Is(err, errs.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "unauthorized")
	}
	return status.Errorf(codes.Internal, "%s: %v", op, err)
}

// Stats returns entity counts per table and the last revision.
func (s *Server) Stats(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	var stats map[string]int
	_ = s.store.Do(func(db *model.DB) error {
		stats = db.Stats()
		return nil
	})
	return convert.ToProtoStats(stats, s.persist.Last()), nil
}

// Flush saves the store.
func (s *Server) Flush(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	rev, err := s.persist.Flush(ctx)
	if err != nil {
		return nil, toStatus("flush", err)
	}
	return convert.ToProtoRevision(rev), nil
}

// GetEntity returns one encoded record.
func (s *Server) GetEntity(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ref, err := convert.FromProtoEntityRef(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad entity ref: %v", err)
	}
	var raw json.RawMessage
	err = s.store.Do(func(db *model.DB) error {
		t, err := db.Table(ref.Table)
		if err != nil {
			return err
		}
		raw, err = t.Record(ref.ID)
		return err
	})
	if err != nil {
		return nil, toStatus("get entity", err)
	}
	out, err := convert.ToProtoRecord(raw)
	if err != nil {
		return nil, toStatus("get entity", err)
	}
	return out, nil
}

// DeleteEntity deletes one entity and requests a save.
func (s *Server) DeleteEntity(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	ref, err := convert.FromProtoEntityRef(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad entity ref: %v", err)
	}
	err = s.store.Do(func(db *model.DB) error {
		t, err := db.Table(ref.Table)
		if err != nil {
			return err
		}
		return t.Delete(ref.ID)
	})
	if err != nil {
		return nil, toStatus("delete entity", err)
	}
	sub, _ := SubjectFromCtx(ctx)
	s.log.Info("entity deleted", zap.String("table", ref.Table), zap.Stringer("id", ref.ID), zap.String("sub", sub))
	if _, err := s.persist.RequestSave(ctx); err != nil {
		s.log.Warn("save after delete", zap.Error(err))
	}
	return &emptypb.Empty{}, nil
}
