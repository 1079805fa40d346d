package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_ObserverAndSaves(t *testing.T) {
	m := New()

	m.EntityCreated("clinics")
	m.EntityCreated("clinics")
	m.EntityDeleted("appointments", true)
	m.SetEntities(map[string]int{"clinics": 2, "users": 0})
	m.ObserveSave(20*time.Millisecond, time.Unix(1700000000, 0), nil)
	m.ObserveSave(0, time.Time{}, errors.New("boom"))
	m.ObserveRPC("/clinickeeper.admin.v1.Admin/Stats", "OK")

	require.Equal(t, 2.0, testutil.ToFloat64(m.created.WithLabelValues("clinics")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.deleted.WithLabelValues("appointments", "true")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.entities.WithLabelValues("clinics")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.saves.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.saves.WithLabelValues("error")))
	require.Equal(t, 1700000000.0, testutil.ToFloat64(m.lastSave))
	require.Equal(t, 1, testutil.CollectAndCount(m.saveDuration))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.EntityCreated("users")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `clinickeeper_store_entities_created_total{table="users"} 1`)
	require.Contains(t, string(body), "go_goroutines")
}
