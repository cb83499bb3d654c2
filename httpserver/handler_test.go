package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/drive-storage-backend/api"
	"github.com/ruteri/drive-storage-backend/api/clients"
	"github.com/ruteri/drive-storage-backend/interfaces"
	"github.com/ruteri/drive-storage-backend/registry"
	"github.com/ruteri/drive-storage-backend/storage"
	"github.com/ruteri/drive-storage-backend/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testGateway struct {
	server       *httptest.Server
	manager      *registry.DriveControllerManager
	controllerID uuid.UUID
	driveID      uuid.UUID
}

// newTestGateway serves a gateway in which every tenant owns one default
// drive backed by a private in-memory driver.
func newTestGateway(t *testing.T) *testGateway {
	t.Helper()
	logger := testLogger()

	g := &testGateway{
		controllerID: uuid.New(),
		driveID:      uuid.New(),
	}
	driverInfo := "mem://" + uuid.NewString()

	controller, err := registry.NewDriveController(g.controllerID, "memory", storage.NewStorageDriverFactory(logger, nil), interfaces.SchemeMemory)
	require.NoError(t, err)

	g.manager = registry.NewDriveControllerManager(registry.TenantDirectoryFunc(
		func(ctx context.Context, tenantID uuid.UUID) ([]interfaces.DriveAssignment, error) {
			return []interfaces.DriveAssignment{{
				DriveID:      g.driveID,
				ControllerID: g.controllerID,
				DriverInfo:   driverInfo,
				Default:      true,
			}}, nil
		}), logger)
	require.NoError(t, g.manager.LoadDriveController(controller))

	srv, err := New(&HTTPServerConfig{Log: logger}, nil, NewHandler(g.manager, logger))
	require.NoError(t, err)

	g.server = httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		g.server.Close()
		g.manager.Close()
	})
	return g
}

func (g *testGateway) client(t *testing.T, driveID string) *clients.DriveClient {
	t.Helper()
	c, err := clients.NewDriveClient(g.server.URL, driveID, 5*time.Second, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestGatewayConformance(t *testing.T) {
	storagetest.RunDriverTests(t, func(t *testing.T) interfaces.StorageDriver {
		return newTestGateway(t).client(t, clients.DefaultDrive)
	})
}

func TestGatewayVersioningConformance(t *testing.T) {
	storagetest.RunVersioningTests(t, func(t *testing.T) interfaces.StorageDriver {
		return newTestGateway(t).client(t, clients.DefaultDrive)
	})
}

func TestGatewayDriveByID(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	tenantID, partitionID, fileID := uuid.New(), uuid.New(), uuid.New()

	byID := g.client(t, g.driveID.String())
	require.NoError(t, byID.Upload(ctx, interfaces.NewUploadOperationParameters(tenantID, partitionID, fileID, "s",
		strings.NewReader("content"), &interfaces.DriveFileMetadata{FileName: "report 1.pdf", ContentType: "application/pdf"},
		interfaces.WithAlternateID("alt"))))

	// The default drive resolves to the same assignment.
	file, err := g.client(t, clients.DefaultDrive).Download(ctx, interfaces.NewDownloadOperationParameters(tenantID, partitionID, fileID, "s"))
	require.NoError(t, err)
	defer file.Data.Close()
	data, err := io.ReadAll(file.Data)
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))
	assert.Equal(t, "report 1.pdf", file.Metadata.FileName)
	assert.Equal(t, "application/pdf", file.Metadata.ContentType)
	assert.Equal(t, "1.0", byID.DriverVersion())

	info, err := byID.Info(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, g.driveID.String(), info.DriveID)
	assert.Equal(t, g.controllerID.String(), info.ControllerID)
	assert.True(t, info.Versioning)

	_, err = g.client(t, uuid.NewString()).ListStreams(ctx, interfaces.NewListStreamsOperationParameters(tenantID, partitionID, fileID))
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestGatewayErrorResponses(t *testing.T) {
	g := newTestGateway(t)
	tenant, partition, file := uuid.NewString(), uuid.NewString(), uuid.NewString()
	fileURL := g.server.URL + "/api/tenants/" + tenant + "/drives/default/partitions/" + partition + "/files/" + file

	tests := []struct {
		name       string
		method     string
		url        string
		wantStatus int
		wantKind   string
	}{
		{
			name:       "bad tenant id",
			method:     http.MethodGet,
			url:        g.server.URL + "/api/tenants/nope/drives/default/partitions/" + partition + "/files/" + file + "/streams",
			wantStatus: http.StatusBadRequest,
			wantKind:   "invalid_argument",
		},
		{
			name:       "bad drive id",
			method:     http.MethodGet,
			url:        g.server.URL + "/api/tenants/" + tenant + "/drives/main/info",
			wantStatus: http.StatusBadRequest,
			wantKind:   "invalid_argument",
		},
		{
			name:       "unknown drive",
			method:     http.MethodGet,
			url:        g.server.URL + "/api/tenants/" + tenant + "/drives/" + uuid.NewString() + "/info",
			wantStatus: http.StatusNotFound,
			wantKind:   "not_found",
		},
		{
			name:       "missing stream",
			method:     http.MethodGet,
			url:        fileURL + "/streams/missing",
			wantStatus: http.StatusNotFound,
			wantKind:   "not_found",
		},
		{
			name:       "invalid stream name",
			method:     http.MethodPut,
			url:        fileURL + "/streams/a%2Fb",
			wantStatus: http.StatusBadRequest,
			wantKind:   "invalid_argument",
		},
		{
			name:       "upgrade without volume",
			method:     http.MethodPost,
			url:        g.server.URL + "/api/tenants/" + tenant + "/drives/default/partitions/" + partition + "/upgrade",
			wantStatus: http.StatusBadRequest,
			wantKind:   "invalid_argument",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, tt.url, strings.NewReader("x"))
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantKind, resp.Header.Get(api.ErrorKindHeader))

			var body api.ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.wantKind, body.Kind)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestGatewayHeadAbsentStream(t *testing.T) {
	g := newTestGateway(t)
	url := g.server.URL + "/api/tenants/" + uuid.NewString() + "/drives/default/partitions/" + uuid.NewString() + "/files/" + uuid.NewString() + "/streams/default"

	resp, err := http.Head(url)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Empty(t, resp.Header.Get(api.ErrorKindHeader))
}

func TestGatewayUnknownTenant(t *testing.T) {
	logger := testLogger()
	manager := registry.NewDriveControllerManager(registry.NewStaticDirectory(nil), logger)
	srv, err := New(&HTTPServerConfig{Log: logger}, nil, NewHandler(manager, logger))
	require.NoError(t, err)
	server := httptest.NewServer(srv.Handler())
	defer server.Close()

	c, err := clients.NewDriveClient(server.URL, clients.DefaultDrive, time.Second, logger)
	require.NoError(t, err)

	ok, err := c.Exists(context.Background(), interfaces.NewExistsOperationParameters(uuid.New(), uuid.New(), uuid.New(), "s"))
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
	assert.False(t, ok)
}

func TestGatewaySnapshotUnsupported(t *testing.T) {
	logger := testLogger()
	controllerID := uuid.New()
	tenantID := uuid.New()

	driver := new(registry.MockStorageDriver)
	driver.On("DriverVersion").Return("plain-1.0")

	factory := new(registry.MockDriverFactory)
	factory.On("DriverFor", mock.Anything, "vault://vault:8200/secret").Return(driver, nil).Once()

	controller, err := registry.NewDriveController(controllerID, "plain", factory)
	require.NoError(t, err)

	manager := registry.NewDriveControllerManager(registry.NewStaticDirectory(map[uuid.UUID][]interfaces.DriveAssignment{
		tenantID: {{DriveID: uuid.New(), ControllerID: controllerID, DriverInfo: "vault://vault:8200/secret", Default: true}},
	}), logger)
	require.NoError(t, manager.LoadDriveController(controller))

	srv, err := New(&HTTPServerConfig{Log: logger}, nil, NewHandler(manager, logger))
	require.NoError(t, err)
	server := httptest.NewServer(srv.Handler())
	defer server.Close()

	c, err := clients.NewDriveClient(server.URL, clients.DefaultDrive, time.Second, logger)
	require.NoError(t, err)

	err = c.Snapshot(context.Background(), interfaces.NewSnapshotOperationParameters(tenantID, uuid.New(), uuid.New(), "v1"))
	assert.ErrorIs(t, err, interfaces.ErrSnapshotUnsupported)

	info, err := c.Info(context.Background(), tenantID)
	require.NoError(t, err)
	assert.False(t, info.Versioning)
	assert.Equal(t, "plain-1.0", info.DriverVersion)

	factory.AssertExpectations(t)
}

func TestGatewayListControllers(t *testing.T) {
	g := newTestGateway(t)
	tenant := uuid.NewString()

	for _, url := range []string{
		g.server.URL + "/api/controllers",
		g.server.URL + "/api/tenants/" + tenant + "/drives",
	} {
		resp, err := http.Get(url)
		require.NoError(t, err)

		var controllers []api.ControllerInfo
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&controllers))
		resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode, url)
		assert.Equal(t, []api.ControllerInfo{{ID: g.controllerID.String(), Name: "memory"}}, controllers, url)
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv, err := New(&HTTPServerConfig{Log: testLogger()}, nil, nil)
	require.NoError(t, err)
	handler := srv.Handler()

	get := func(path string) (int, string) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		return rr.Code, strings.TrimSpace(rr.Body.String())
	}

	code, body := get("/livez")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, `{"status":"alive"}`, body)

	code, _ = get("/readyz")
	assert.Equal(t, http.StatusOK, code)

	_, body = get("/drain")
	assert.Equal(t, `{"status":"draining"}`, body)
	_, body = get("/drain")
	assert.Equal(t, `{"status":"already draining"}`, body)

	code, _ = get("/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	_, body = get("/undrain")
	assert.Equal(t, `{"status":"ready"}`, body)
	code, _ = get("/readyz")
	assert.Equal(t, http.StatusOK, code)
}

// slowBody flushes the headers and half of each body write, then stalls
// before writing the rest.
type slowBody struct {
	http.ResponseWriter
	delay time.Duration
}

func (w slowBody) Write(p []byte) (int, error) {
	half := len(p) / 2
	n, err := w.ResponseWriter.Write(p[:half])
	if err != nil {
		return n, err
	}
	w.ResponseWriter.(http.Flusher).Flush()
	time.Sleep(w.delay)
	m, err := w.ResponseWriter.Write(p[half:])
	return n + m, err
}

func TestDriveClientBodyOutlastsTimeout(t *testing.T) {
	g := newTestGateway(t)
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w = slowBody{ResponseWriter: w, delay: 400 * time.Millisecond}
		}
		g.server.Config.Handler.ServeHTTP(w, r)
	}))
	t.Cleanup(slow.Close)

	// The timeout covers waiting for headers, not streaming the body.
	c, err := clients.NewDriveClient(slow.URL, clients.DefaultDrive, 200*time.Millisecond, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	ctx := context.Background()
	tenantID, partitionID, fileID := uuid.New(), uuid.New(), uuid.New()
	content := strings.Repeat("slow stream ", 100)

	require.NoError(t, c.Upload(ctx, interfaces.NewUploadOperationParameters(tenantID, partitionID, fileID, "s", strings.NewReader(content), nil)))

	file, err := c.Download(ctx, interfaces.NewDownloadOperationParameters(tenantID, partitionID, fileID, "s"))
	require.NoError(t, err)
	defer file.Data.Close()
	data, err := io.ReadAll(file.Data)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
}
