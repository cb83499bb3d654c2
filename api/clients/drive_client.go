package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/drive-storage-backend/api"
	"github.com/ruteri/drive-storage-backend/interfaces"
)

// DefaultDrive addresses the tenant's default drive.
const DefaultDrive = api.DefaultDriveID

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 * 1024

// DriveClient is a storage driver backed by a remote drive gateway. The tenant
// of each request comes from the operation parameters; the drive is fixed
// when the client is created.
type DriveClient struct {
	baseURL    string
	driveID    string
	httpClient *http.Client
	log        *slog.Logger

	mu            sync.Mutex
	driverVersion string
}

var _ interfaces.VersioningStorageDriver = (*DriveClient)(nil)

// NewDriveClient creates a client for the gateway at baseURL (for example
// "http://localhost:8080"). driveID is a drive UUID or DefaultDrive. timeout
// bounds the wait for response headers only; streaming a body is bounded by
// the request context.
func NewDriveClient(baseURL, driveID string, timeout time.Duration, log *slog.Logger) (*DriveClient, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidDriverInfo, err)
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("%w: gateway url %q must be http(s)://host", interfaces.ErrInvalidDriverInfo, baseURL)
	}

	if driveID == "" {
		driveID = DefaultDrive
	}
	if driveID != DefaultDrive {
		if _, err := uuid.Parse(driveID); err != nil {
			return nil, fmt.Errorf("%w: drive id %q: %v", interfaces.ErrInvalidDriverInfo, driveID, err)
		}
	}

	if log == nil {
		log = slog.Default()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout

	return &DriveClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		driveID:    driveID,
		httpClient: &http.Client{Transport: transport},
		log:        log,
	}, nil
}

// DriverVersion returns the version reported by the remote driver in the most
// recent response, or "remote" before the first request.
func (c *DriveClient) DriverVersion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.driverVersion == "" {
		return "remote"
	}
	return c.driverVersion
}

// Name returns an identifier for logging.
func (c *DriveClient) Name() string {
	return "drive-client-" + c.driveID
}

// LocationURI returns the driver-info string for this client.
func (c *DriveClient) LocationURI() string {
	return fmt.Sprintf("%s?drive=%s", c.baseURL, c.driveID)
}

// Close releases idle connections.
func (c *DriveClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// Info fetches the description of the remote driver serving tenantID.
func (c *DriveClient) Info(ctx context.Context, tenantID uuid.UUID) (*api.DriveInfoResponse, error) {
	if tenantID == uuid.Nil {
		return nil, interfaces.InvalidArgumentf("tenant id must not be the zero uuid")
	}

	resp, err := c.do(ctx, http.MethodGet, c.driveURL(tenantID)+"/info", nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	var info api.DriveInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, interfaces.BackendFailure("decode drive info", err)
	}
	return &info, nil
}

func (c *DriveClient) UpgradePartition(ctx context.Context, tenantID, volumeID, partitionID uuid.UUID) error {
	if err := interfaces.ValidateUpgrade(tenantID, volumeID, partitionID); err != nil {
		return err
	}

	target := fmt.Sprintf("%s/partitions/%s/upgrade?%s=%s", c.driveURL(tenantID), partitionID, api.VolumeIDParam, volumeID)
	resp, err := c.do(ctx, http.MethodPost, target, nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkResponse(resp)
}

func (c *DriveClient) Upload(ctx context.Context, params interfaces.UploadOperationParameters) error {
	if err := interfaces.ValidateUpload(params); err != nil {
		return err
	}

	resp, err := c.do(ctx, http.MethodPut, c.streamURL(params.StreamOperationParameters), params.Data, func(h http.Header) {
		if params.Metadata != nil {
			if params.Metadata.ContentType != "" {
				h.Set("Content-Type", params.Metadata.ContentType)
			}
			if params.Metadata.FileName != "" {
				h.Set(api.FileNameHeader, url.QueryEscape(params.Metadata.FileName))
			}
		}
		if params.AlternateID() != "" {
			h.Set(api.AlternateIDHeader, params.AlternateID())
		}
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkResponse(resp)
}

func (c *DriveClient) Download(ctx context.Context, params interfaces.DownloadOperationParameters) (*interfaces.DriveFile, error) {
	if err := interfaces.ValidateStream(params.StreamOperationParameters); err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, http.MethodGet, c.streamURL(params.StreamOperationParameters), nil, nil)
	if err != nil {
		return nil, err
	}
	if err := checkResponse(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}

	fileName, err := url.QueryUnescape(resp.Header.Get(api.FileNameHeader))
	if err != nil {
		fileName = resp.Header.Get(api.FileNameHeader)
	}
	received := &interfaces.DriveFileMetadata{
		FileName:    fileName,
		ContentType: resp.Header.Get("Content-Type"),
	}
	meta := received.WithDefaults()

	return &interfaces.DriveFile{
		Data:     resp.Body,
		Metadata: &meta,
	}, nil
}

func (c *DriveClient) Delete(ctx context.Context, params interfaces.DeleteOperationParameters) error {
	if err := interfaces.ValidateDelete(params); err != nil {
		return err
	}

	target := c.streamURL(params.StreamOperationParameters)
	if params.AllStreams() {
		target = c.fileURL(params.DefaultOperationParameters) + versionQuery(params.DefaultOperationParameters)
	}

	resp, err := c.do(ctx, http.MethodDelete, target, nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkResponse(resp)
}

func (c *DriveClient) ListStreams(ctx context.Context, params interfaces.ListStreamsOperationParameters) ([]string, error) {
	if err := interfaces.ValidateListStreams(params); err != nil {
		return nil, err
	}

	target := c.fileURL(params.DefaultOperationParameters) + "/streams" + versionQuery(params.DefaultOperationParameters)
	resp, err := c.do(ctx, http.MethodGet, target, nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	var result api.ListStreamsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, interfaces.BackendFailure("decode stream list", err)
	}
	if result.Streams == nil {
		return []string{}, nil
	}
	return result.Streams, nil
}

// Exists issues a HEAD request. A 404 without an error kind means the stream
// is absent; any other failure is reported as an error.
func (c *DriveClient) Exists(ctx context.Context, params interfaces.ExistsOperationParameters) (bool, error) {
	if err := interfaces.ValidateStream(params.StreamOperationParameters); err != nil {
		return false, err
	}

	resp, err := c.do(ctx, http.MethodHead, c.streamURL(params.StreamOperationParameters), nil, nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusNotFound && resp.Header.Get(api.ErrorKindHeader) == "":
		return false, nil
	default:
		return false, api.ErrorForStatus(resp.StatusCode, resp.Header.Get(api.ErrorKindHeader))
	}
}

func (c *DriveClient) Snapshot(ctx context.Context, params interfaces.SnapshotOperationParameters) error {
	if err := interfaces.ValidateSnapshot(params); err != nil {
		return err
	}

	target := c.fileURL(params.DefaultOperationParameters) + "/versions/" + url.PathEscape(params.Version())
	resp, err := c.do(ctx, http.MethodPost, target, nil, func(h http.Header) {
		if params.AlternateID() != "" {
			h.Set(api.AlternateIDHeader, params.AlternateID())
		}
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkResponse(resp)
}

func (c *DriveClient) do(ctx context.Context, method, target string, body io.Reader, setHeaders func(http.Header)) (*http.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, interfaces.Cancelled(err)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, interfaces.BackendFailure("build request", err)
	}
	if setHeaders != nil {
		setHeaders(req.Header)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, interfaces.Cancelled(ctx.Err())
		}
		c.log.Debug("Drive gateway request failed",
			slog.String("method", method),
			slog.String("url", target),
			"err", err)
		return nil, interfaces.BackendFailure(method+" "+target, err)
	}

	if v := resp.Header.Get(api.DriverVersionHeader); v != "" {
		c.mu.Lock()
		c.driverVersion = v
		c.mu.Unlock()
	}

	c.log.Debug("Drive gateway request",
		slog.String("method", method),
		slog.String("url", target),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)))
	return resp, nil
}

// checkResponse converts a non-2xx response into an error of the matching kind.
func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	message := strings.TrimSpace(string(body))
	var errResp api.ErrorResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Message != "" {
		message = errResp.Message
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	return api.ErrorForStatus(resp.StatusCode, message)
}

func (c *DriveClient) driveURL(tenantID uuid.UUID) string {
	return fmt.Sprintf("%s/api/tenants/%s/drives/%s", c.baseURL, tenantID, c.driveID)
}

func (c *DriveClient) fileURL(p interfaces.DefaultOperationParameters) string {
	return fmt.Sprintf("%s/partitions/%s/files/%s", c.driveURL(p.TenantID()), p.PartitionID(), p.FileID())
}

// streamURL addresses the stream by its storage name, so every alias of the
// default stream maps to the same URL.
func (c *DriveClient) streamURL(p interfaces.StreamOperationParameters) string {
	return c.fileURL(p.DefaultOperationParameters) + "/streams/" + url.PathEscape(p.StorageStreamName()) + versionQuery(p.DefaultOperationParameters)
}

func versionQuery(p interfaces.DefaultOperationParameters) string {
	if !p.IsVersioned() {
		return ""
	}
	return "?" + url.Values{api.VersionParam: {p.Version()}}.Encode()
}
