package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ruteri/drive-storage-backend/api"
	"github.com/ruteri/drive-storage-backend/interfaces"
	"github.com/ruteri/drive-storage-backend/registry"
)

// Handler serves the drive gateway routes described in package api. Every
// drive route resolves the tenant's drive through the controller manager and
// calls the storage driver operation of the same name.
type Handler struct {
	manager *registry.DriveControllerManager
	log     *slog.Logger
}

// NewHandler creates a gateway handler over manager.
func NewHandler(manager *registry.DriveControllerManager, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		manager: manager,
		log:     log,
	}
}

// RegisterRoutes mounts the gateway routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/controllers", h.HandleListControllers)
	r.Get("/api/tenants/{tenant_id}/drives", h.HandleListTenantControllers)

	r.Route("/api/tenants/{tenant_id}/drives/{drive_id}", func(r chi.Router) {
		r.Get("/info", h.HandleDriveInfo)
		r.Post("/partitions/{partition_id}/upgrade", h.HandleUpgradePartition)

		r.Route("/partitions/{partition_id}/files/{file_id}", func(r chi.Router) {
			r.Delete("/", h.HandleDeleteFile)
			r.Get("/streams", h.HandleListStreams)
			r.Post("/versions/{version}", h.HandleSnapshot)

			r.Put("/streams/{stream}", h.HandleUpload)
			r.Get("/streams/{stream}", h.HandleDownload)
			r.Head("/streams/{stream}", h.HandleExists)
			r.Delete("/streams/{stream}", h.HandleDeleteStream)
		})
	})
}

// HandleUpload stores the request body as a stream.
//
// URL format: PUT /api/tenants/{tenant_id}/drives/{drive_id}/partitions/{partition_id}/files/{file_id}/streams/{stream}
// Optional headers: Content-Type, X-Drive-File-Name, X-Drive-Alternate-Id
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	d, err := h.driver(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	tenantID, partitionID, fileID, err := fileKey(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	fileName := r.Header.Get(api.FileNameHeader)
	if unescaped, err := url.QueryUnescape(fileName); err == nil {
		fileName = unescaped
	}
	meta := &interfaces.DriveFileMetadata{
		FileName:    fileName,
		ContentType: r.Header.Get("Content-Type"),
	}

	params := interfaces.NewUploadOperationParameters(tenantID, partitionID, fileID, pathParam(r, "stream"), r.Body, meta, streamOptions(r)...)
	if err := d.Upload(r.Context(), params); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.log.Debug("Stored stream",
		slog.String("tenant_id", tenantID.String()),
		slog.String("file_id", fileID.String()),
		slog.String("stream", params.StorageStreamName()))

	w.Header().Set(api.DriverVersionHeader, d.DriverVersion())
	w.WriteHeader(http.StatusNoContent)
}

// HandleDownload streams the content of a stream with its metadata in headers.
func (h *Handler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	d, err := h.driver(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	tenantID, partitionID, fileID, err := fileKey(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	file, err := d.Download(r.Context(), interfaces.NewDownloadOperationParameters(tenantID, partitionID, fileID, pathParam(r, "stream"), streamOptions(r)...))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer file.Data.Close()

	meta := file.Metadata.WithDefaults()
	w.Header().Set("Content-Type", meta.ContentType)
	if meta.FileName != "" {
		w.Header().Set(api.FileNameHeader, url.QueryEscape(meta.FileName))
	}
	w.Header().Set(api.DriverVersionHeader, d.DriverVersion())
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, file.Data); err != nil {
		h.log.Warn("Failed to write stream to client", "err", err,
			slog.String("file_id", fileID.String()))
	}
}

// HandleExists answers 200 when the stream exists and a bare 404 when it does not.
func (h *Handler) HandleExists(w http.ResponseWriter, r *http.Request) {
	d, err := h.driver(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	tenantID, partitionID, fileID, err := fileKey(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	ok, err := d.Exists(r.Context(), interfaces.NewExistsOperationParameters(tenantID, partitionID, fileID, pathParam(r, "stream"), streamOptions(r)...))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set(api.DriverVersionHeader, d.DriverVersion())
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HandleDeleteStream removes one stream, or one stream of a version.
func (h *Handler) HandleDeleteStream(w http.ResponseWriter, r *http.Request) {
	tenantID, partitionID, fileID, err := fileKey(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.delete(w, r, interfaces.NewDeleteOperationParameters(tenantID, partitionID, fileID, pathParam(r, "stream"), streamOptions(r)...))
}

// HandleDeleteFile removes every stream and version of a file, or one version
// when the version query parameter is set.
func (h *Handler) HandleDeleteFile(w http.ResponseWriter, r *http.Request) {
	tenantID, partitionID, fileID, err := fileKey(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.delete(w, r, interfaces.NewDeleteFileOperationParameters(tenantID, partitionID, fileID, streamOptions(r)...))
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request, params interfaces.DeleteOperationParameters) {
	d, err := h.driver(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := d.Delete(r.Context(), params); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set(api.DriverVersionHeader, d.DriverVersion())
	w.WriteHeader(http.StatusNoContent)
}

// HandleListStreams returns the stream names of a file as JSON.
func (h *Handler) HandleListStreams(w http.ResponseWriter, r *http.Request) {
	d, err := h.driver(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	tenantID, partitionID, fileID, err := fileKey(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	names, err := d.ListStreams(r.Context(), interfaces.NewListStreamsOperationParameters(tenantID, partitionID, fileID, streamOptions(r)...))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}

	w.Header().Set(api.DriverVersionHeader, d.DriverVersion())
	h.writeJSON(w, http.StatusOK, api.ListStreamsResponse{Streams: names})
}

// HandleSnapshot captures the live streams of a file as a version. Drives
// without versioning answer 501.
func (h *Handler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	d, err := h.driver(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	tenantID, partitionID, fileID, err := fileKey(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	v, ok := d.(interfaces.VersioningStorageDriver)
	if !ok {
		h.writeError(w, r, interfaces.ErrSnapshotUnsupported)
		return
	}

	params := interfaces.NewSnapshotOperationParameters(tenantID, partitionID, fileID, pathParam(r, "version"),
		interfaces.WithAlternateID(r.Header.Get(api.AlternateIDHeader)))
	if err := v.Snapshot(r.Context(), params); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.log.Info("Created snapshot",
		slog.String("tenant_id", tenantID.String()),
		slog.String("file_id", fileID.String()),
		slog.String("version", params.Version()))

	w.Header().Set(api.DriverVersionHeader, d.DriverVersion())
	w.WriteHeader(http.StatusNoContent)
}

// HandleUpgradePartition migrates a partition stored under the volume_id
// query parameter to the drive's current layout.
func (h *Handler) HandleUpgradePartition(w http.ResponseWriter, r *http.Request) {
	d, err := h.driver(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	tenantID, err := uuidParam(chi.URLParam(r, "tenant_id"), "tenant id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	partitionID, err := uuidParam(chi.URLParam(r, "partition_id"), "partition id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	volumeID, err := uuidParam(r.URL.Query().Get(api.VolumeIDParam), "volume id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := d.UpgradePartition(r.Context(), tenantID, volumeID, partitionID); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.log.Info("Upgraded partition",
		slog.String("tenant_id", tenantID.String()),
		slog.String("volume_id", volumeID.String()),
		slog.String("partition_id", partitionID.String()))

	w.Header().Set(api.DriverVersionHeader, d.DriverVersion())
	w.WriteHeader(http.StatusNoContent)
}

// HandleDriveInfo describes the drive and the driver serving it.
func (h *Handler) HandleDriveInfo(w http.ResponseWriter, r *http.Request) {
	tenantID, driveID, err := driveKey(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	a, err := h.manager.Assignment(r.Context(), tenantID, driveID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	d, err := h.manager.OpenAssignment(r.Context(), a)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	_, versioning := d.(interfaces.VersioningStorageDriver)
	w.Header().Set(api.DriverVersionHeader, d.DriverVersion())
	h.writeJSON(w, http.StatusOK, api.DriveInfoResponse{
		DriveID:       a.DriveID.String(),
		ControllerID:  a.ControllerID.String(),
		DriverVersion: d.DriverVersion(),
		Versioning:    versioning,
	})
}

// HandleListTenantControllers lists the loaded controllers serving a tenant.
func (h *Handler) HandleListTenantControllers(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuidParam(chi.URLParam(r, "tenant_id"), "tenant id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	controllers, err := h.manager.ListDriveControllers(r.Context(), tenantID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]api.ControllerInfo, 0, len(controllers))
	for _, c := range controllers {
		out = append(out, api.ControllerInfo{ID: c.ControllerID().String(), Name: c.DisplayName()})
	}
	h.writeJSON(w, http.StatusOK, out)
}

// HandleListControllers lists every loaded controller ordered by id.
func (h *Handler) HandleListControllers(w http.ResponseWriter, r *http.Request) {
	controllers := h.manager.DriveControllers()

	out := make([]api.ControllerInfo, 0, len(controllers))
	for id, c := range controllers {
		out = append(out, api.ControllerInfo{ID: id.String(), Name: c.DisplayName()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) driver(r *http.Request) (interfaces.StorageDriver, error) {
	tenantID, driveID, err := driveKey(r)
	if err != nil {
		return nil, err
	}
	return h.manager.OpenDriver(r.Context(), tenantID, driveID)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := api.StatusForError(err)
	kind := interfaces.KindOf(err).String()

	if status >= http.StatusInternalServerError && status != http.StatusNotImplemented {
		h.log.Error("Drive request failed", "err", err,
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status))
	} else {
		h.log.Debug("Drive request rejected", "err", err,
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status))
	}

	w.Header().Set(api.ErrorKindHeader, kind)
	h.writeJSON(w, status, api.ErrorResponse{Kind: kind, Message: err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil && !errors.Is(err, http.ErrBodyNotAllowed) {
		h.log.Error("Failed to encode response", "err", err)
	}
}

// driveKey parses the tenant and drive of the request. The "default" drive
// maps to uuid.Nil.
func driveKey(r *http.Request) (uuid.UUID, uuid.UUID, error) {
	tenantID, err := uuidParam(chi.URLParam(r, "tenant_id"), "tenant id")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	drive := chi.URLParam(r, "drive_id")
	if drive == api.DefaultDriveID {
		return tenantID, uuid.Nil, nil
	}
	driveID, err := uuidParam(drive, "drive id")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return tenantID, driveID, nil
}

func fileKey(r *http.Request) (tenantID, partitionID, fileID uuid.UUID, err error) {
	if tenantID, err = uuidParam(chi.URLParam(r, "tenant_id"), "tenant id"); err != nil {
		return
	}
	if partitionID, err = uuidParam(chi.URLParam(r, "partition_id"), "partition id"); err != nil {
		return
	}
	fileID, err = uuidParam(chi.URLParam(r, "file_id"), "file id")
	return
}

func uuidParam(value, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, interfaces.InvalidArgumentf("invalid %s %q", name, value)
	}
	return id, nil
}

// pathParam returns a decoded route parameter. chi matches on the raw path
// when the request carries escaped characters.
func pathParam(r *http.Request, name string) string {
	value := chi.URLParam(r, name)
	if r.URL.RawPath == "" {
		return value
	}
	if unescaped, err := url.PathUnescape(value); err == nil {
		return unescaped
	}
	return value
}

func streamOptions(r *http.Request) []interfaces.ParameterOption {
	return []interfaces.ParameterOption{
		interfaces.WithVersion(r.URL.Query().Get(api.VersionParam)),
		interfaces.WithAlternateID(r.Header.Get(api.AlternateIDHeader)),
	}
}
