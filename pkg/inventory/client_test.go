package inventory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/periscope/pkg/errors"
)

func newAPIServer(t *testing.T) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/api/processes", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"processes": [
				{"pid": 1, "ppid": 0, "name": "initd", "user": "root", "status": "R", "cpuPercent": 0.1, "memoryDisplay": "12MB", "protected": true, "command": "/sbin/initd"},
				{"pid": 42, "ppid": 1, "name": "node", "user": "alice", "status": "sleeping", "cpuPercent": 3.4, "memoryDisplay": "256.7MB", "ports": [3000], "command": "node server.js"}
			],
			"systemInfo": {"loadAverage": "1.20", "memoryUsage": 61.5, "cpuUsage": 12.0, "uptime": "3d4h"}
		}`))
	})
	r.Get("/api/processes/{pid}", func(w http.ResponseWriter, req *http.Request) {
		if chi.URLParam(req, "pid") != "42" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"pid": 42, "name": "node", "user": "alice", "status": "S",
			"environment": {"PORT": "3000"},
			"openFiles": ["/var/log/app.log"],
			"connections": [{"protocol": "tcp", "localAddr": "0.0.0.0:3000", "state": "LISTEN"}]
		}`))
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientList(t *testing.T) {
	srv := newAPIServer(t)
	client := NewClient(srv.URL, nil)

	resp, err := client.List(context.Background())
	require.NoError(t, err)
	require.Len(t, resp.Processes, 2)

	first := resp.Processes[0]
	assert.True(t, first.Protected)
	assert.Equal(t, StatusRunning, first.Kind())
	assert.Equal(t, []int{3000}, resp.Processes[1].Ports)
	assert.Equal(t, "1.20", resp.SystemInfo.LoadAverage)
	assert.Equal(t, 61.5, resp.SystemInfo.MemoryUsage)
}

func TestClientDetail(t *testing.T) {
	srv := newAPIServer(t)
	client := NewClient(srv.URL, nil)

	detail, err := client.Detail(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "3000", detail.Environment["PORT"])
	require.Len(t, detail.Connections, 1)
	assert.Equal(t, "LISTEN", detail.Connections[0].State)

	_, err = client.Detail(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeRequest))
}

func TestClientSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, nil)
	_, err := client.List(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeRequest))
}
