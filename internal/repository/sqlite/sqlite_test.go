package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/and161185/clinic-keeper/internal/errs"
	"github.com/and161185/clinic-keeper/internal/storage"
)

func newRepo(t *testing.T) *Repo {
	t.Helper()
	r, err := New(context.Background(), filepath.Join(t.TempDir(), "clinic.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRepo_SaveLoad(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)

	_, err := r.Load(ctx)
	require.ErrorIs(t, err, errs.ErrNotFound)

	first := `{"db":{"clinics":{"1":{"id":1,"addr":"a"}},"users":{}}}`
	rev1, err := r.Save(ctx, storage.Snapshot(first))
	require.NoError(t, err)
	require.Equal(t, int64(1), rev1.Ver)

	got, err := r.Load(ctx)
	require.NoError(t, err)
	require.JSONEq(t, first, string(got.Document))
	require.Equal(t, rev1.ID, got.ID)
	require.Equal(t, rev1.Digest, got.Digest)

	// a table missing from the next save disappears
	second := `{"db":{"clinics":{}}}`
	rev2, err := r.Save(ctx, storage.Snapshot(second))
	require.NoError(t, err)
	require.Equal(t, int64(2), rev2.Ver)
	require.NotEqual(t, rev1.ID, rev2.ID)

	got, err = r.Load(ctx)
	require.NoError(t, err)
	require.JSONEq(t, second, string(got.Document))
}

func TestRepo_DetectsTamperedTable(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)

	_, err := r.Save(ctx, storage.Snapshot(`{"db":{"clinics":{"1":{"id":1,"addr":"a"}}}}`))
	require.NoError(t, err)
	_, err = r.db.ExecContext(ctx, `UPDATE state SET payload = ? WHERE bucket = 'clinics'`, []byte(`{}`))
	require.NoError(t, err)

	_, err = r.Load(ctx)
	require.ErrorIs(t, err, errs.ErrMalformedSnapshot)
}

func TestRepo_SaveRejectsMalformed(t *testing.T) {
	r := newRepo(t)
	_, err := r.Save(context.Background(), storage.Snapshot(`[]`))
	require.ErrorIs(t, err, errs.ErrMalformedSnapshot)
}
