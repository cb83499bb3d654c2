package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/google/uuid"
	"github.com/ruteri/drive-storage-backend/interfaces"
)

const (
	s3DriverVersion = "2.0"

	// s3FileNameKey holds the query-escaped original file name in object metadata.
	s3FileNameKey = "Drive-File-Name"
)

// S3Driver implements a storage driver on Amazon S3 or a compatible service.
//
// Objects are keyed as
//
//	<prefix>/<tenant>/<partition>/<file>/streams/<stream>
//	<prefix>/<tenant>/<partition>/<file>/versions/<version>/<stream>
//
// with the content type and file name carried as object metadata. S3 has no
// multi-object transactions, so Snapshot copies streams one by one and is not
// atomic against concurrent uploads to the same file.
type S3Driver struct {
	client      *s3.S3
	uploader    *s3manager.Uploader
	bucketName  string
	prefix      string
	log         *slog.Logger
	locationURI string
}

var _ interfaces.VersioningStorageDriver = (*S3Driver)(nil)

// S3Options configures an S3Driver.
type S3Options struct {
	BucketName string
	Prefix     string
	Region     string
	Endpoint   string
	AccessKey  string
	SecretKey  string
	PathStyle  bool
}

// NewS3Driver creates a new S3 storage driver. Without static credentials the
// default AWS credential chain is used.
func NewS3Driver(opts S3Options, log *slog.Logger) (*S3Driver, error) {
	if opts.BucketName == "" {
		return nil, interfaces.InvalidArgumentf("s3 driver requires a bucket name")
	}
	log = loggerOrDefault(log)

	uri := fmt.Sprintf("s3://%s/%s?region=%s", opts.BucketName, opts.Prefix, opts.Region)
	if opts.AccessKey != "" {
		uri = fmt.Sprintf("s3://%s:***@%s/%s?region=%s", opts.AccessKey, opts.BucketName, opts.Prefix, opts.Region)
	}
	if opts.Endpoint != "" {
		uri += fmt.Sprintf("&endpoint=%s", opts.Endpoint)
	}

	cfg := aws.Config{
		Region:           aws.String(opts.Region),
		S3ForcePathStyle: aws.Bool(opts.PathStyle),
	}
	if opts.Endpoint != "" {
		cfg.Endpoint = aws.String(opts.Endpoint)
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(opts.AccessKey, opts.SecretKey, "")
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	client := s3.New(sess)

	return &S3Driver{
		client:      client,
		uploader:    s3manager.NewUploaderWithClient(client),
		bucketName:  opts.BucketName,
		prefix:      strings.Trim(opts.Prefix, "/"),
		log:         log,
		locationURI: uri,
	}, nil
}

// DriverVersion returns the object key layout generation.
func (d *S3Driver) DriverVersion() string {
	return s3DriverVersion
}

// Name returns a unique identifier for this driver.
func (d *S3Driver) Name() string {
	return fmt.Sprintf("s3-%s", d.bucketName)
}

// LocationURI returns the redacted driver-info string.
func (d *S3Driver) LocationURI() string {
	return d.locationURI
}

func (d *S3Driver) Upload(ctx context.Context, params interfaces.UploadOperationParameters) error {
	if err := interfaces.ValidateUpload(params); err != nil {
		return err
	}
	if err := checkContext(ctx); err != nil {
		return err
	}

	start := time.Now()
	key := d.streamKey(params.StreamOperationParameters)
	meta := params.Metadata.WithDefaults()

	input := &s3manager.UploadInput{
		Bucket:      aws.String(d.bucketName),
		Key:         aws.String(key),
		Body:        withContext(ctx, params.Data),
		ContentType: aws.String(meta.ContentType),
	}
	if meta.FileName != "" {
		input.Metadata = map[string]*string{s3FileNameKey: aws.String(url.QueryEscape(meta.FileName))}
	}

	if _, err := d.uploader.UploadWithContext(ctx, input); err != nil {
		d.log.Error("Failed to upload object to S3",
			slog.String("bucket", d.bucketName),
			slog.String("key", key),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return interfaces.BackendFailure("put object", err)
	}

	d.log.Debug("Stored stream in S3",
		slog.String("bucket", d.bucketName),
		slog.String("key", key),
		slog.Duration("duration", time.Since(start)))
	return nil
}

func (d *S3Driver) Download(ctx context.Context, params interfaces.DownloadOperationParameters) (*interfaces.DriveFile, error) {
	if err := interfaces.ValidateStream(params.StreamOperationParameters); err != nil {
		return nil, err
	}
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	key := d.streamKey(params.StreamOperationParameters)
	result, err := d.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucketName),
		Key:    aws.String(key),
	})
	if isS3NotFound(err) {
		return nil, interfaces.NotFoundf("stream %q of file %s", params.StreamName(), params.FileID())
	} else if err != nil {
		return nil, interfaces.BackendFailure("get object", err)
	}

	meta := s3Metadata(result.ContentType, result.Metadata)
	return &interfaces.DriveFile{Data: result.Body, Metadata: &meta}, nil
}

func (d *S3Driver) Exists(ctx context.Context, params interfaces.ExistsOperationParameters) (bool, error) {
	if err := interfaces.ValidateStream(params.StreamOperationParameters); err != nil {
		return false, err
	}
	if err := checkContext(ctx); err != nil {
		return false, err
	}

	return d.objectExists(ctx, d.streamKey(params.StreamOperationParameters))
}

func (d *S3Driver) Delete(ctx context.Context, params interfaces.DeleteOperationParameters) error {
	if err := interfaces.ValidateDelete(params); err != nil {
		return err
	}
	if err := checkContext(ctx); err != nil {
		return err
	}

	prefix := d.filePrefix(params.DefaultOperationParameters)
	switch {
	case params.AllStreams() && !params.IsVersioned():
		return d.deletePrefix(ctx, prefix+"/")
	case params.AllStreams():
		return d.deletePrefix(ctx, path.Join(prefix, versionsDir, params.Version())+"/")
	}

	_, err := d.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucketName),
		Key:    aws.String(d.streamKey(params.StreamOperationParameters)),
	})
	if err != nil && !isS3NotFound(err) {
		return interfaces.BackendFailure("delete object", err)
	}
	return nil
}

func (d *S3Driver) ListStreams(ctx context.Context, params interfaces.ListStreamsOperationParameters) ([]string, error) {
	if err := interfaces.ValidateListStreams(params); err != nil {
		return nil, err
	}
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	keys, err := d.listKeys(ctx, d.streamsPrefix(params.DefaultOperationParameters))
	if err != nil {
		return nil, err
	}

	names := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		names[path.Base(key)] = struct{}{}
	}
	return sortedNames(names), nil
}

// Snapshot copies every live stream object into the version. Existing objects
// of the version are removed first.
func (d *S3Driver) Snapshot(ctx context.Context, params interfaces.SnapshotOperationParameters) error {
	if err := interfaces.ValidateSnapshot(params); err != nil {
		return err
	}
	if err := checkContext(ctx); err != nil {
		return err
	}

	live := params.DefaultOperationParameters
	liveKeys, err := d.listKeys(ctx, d.streamsPrefix(interfaces.NewDefaultOperationParameters(live.TenantID(), live.PartitionID(), live.FileID())))
	if err != nil {
		return err
	}
	if len(liveKeys) == 0 {
		return interfaces.NotFoundf("file %s has no streams to snapshot", params.FileID())
	}

	versionPrefix := d.streamsPrefix(live)
	if err := d.deletePrefix(ctx, versionPrefix); err != nil {
		return err
	}

	for _, key := range liveKeys {
		if err := d.copyObject(ctx, key, versionPrefix+path.Base(key)); err != nil {
			return err
		}
	}

	d.log.Debug("Created snapshot in S3",
		append(keyAttrs(live), slog.Int("streams", len(liveKeys)))...)
	return nil
}

// UpgradePartition moves objects stored under the volume id to the tenant.
// Objects already present under the tenant are kept.
func (d *S3Driver) UpgradePartition(ctx context.Context, tenantID, volumeID, partitionID uuid.UUID) error {
	if err := interfaces.ValidateUpgrade(tenantID, volumeID, partitionID); err != nil {
		return err
	}
	if err := checkContext(ctx); err != nil {
		return err
	}
	if tenantID == volumeID {
		return nil
	}

	srcPrefix := d.join(volumeID.String(), partitionID.String()) + "/"
	dstPrefix := d.join(tenantID.String(), partitionID.String()) + "/"

	keys, err := d.listKeysRecursive(ctx, srcPrefix)
	if err != nil {
		return err
	}

	moved := 0
	for _, key := range keys {
		target := dstPrefix + strings.TrimPrefix(key, srcPrefix)
		exists, err := d.objectExists(ctx, target)
		if err != nil {
			return err
		}
		if !exists {
			if err := d.copyObject(ctx, key, target); err != nil {
				return err
			}
			moved++
		}
		if _, err := d.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(d.bucketName),
			Key:    aws.String(key),
		}); err != nil && !isS3NotFound(err) {
			return interfaces.BackendFailure("delete legacy object", err)
		}
	}

	d.log.Info("Upgraded partition",
		slog.String("bucket", d.bucketName),
		slog.String("tenant_id", tenantID.String()),
		slog.String("volume_id", volumeID.String()),
		slog.String("partition_id", partitionID.String()),
		slog.Int("objects", moved))
	return nil
}

func (d *S3Driver) objectExists(ctx context.Context, key string) (bool, error) {
	_, err := d.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucketName),
		Key:    aws.String(key),
	})
	switch {
	case err == nil:
		return true, nil
	case isS3NotFound(err):
		return false, nil
	default:
		return false, interfaces.BackendFailure("head object", err)
	}
}

func (d *S3Driver) copyObject(ctx context.Context, src, dst string) error {
	_, err := d.client.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(d.bucketName),
		Key:        aws.String(dst),
		CopySource: aws.String(escapeKey(d.bucketName + "/" + src)),
	})
	if err != nil {
		return interfaces.BackendFailure("copy object", err)
	}
	return nil
}

// listKeys lists the object keys directly below prefix.
func (d *S3Driver) listKeys(ctx context.Context, prefix string) ([]string, error) {
	return d.list(ctx, prefix, aws.String("/"))
}

func (d *S3Driver) listKeysRecursive(ctx context.Context, prefix string) ([]string, error) {
	return d.list(ctx, prefix, nil)
}

func (d *S3Driver) list(ctx context.Context, prefix string, delimiter *string) ([]string, error) {
	var keys []string
	err := d.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:    aws.String(d.bucketName),
		Prefix:    aws.String(prefix),
		Delimiter: delimiter,
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			keys = append(keys, aws.StringValue(obj.Key))
		}
		return true
	})
	if err != nil {
		return nil, interfaces.BackendFailure("list objects", err)
	}
	return keys, nil
}

func (d *S3Driver) deletePrefix(ctx context.Context, prefix string) error {
	var deleteErr error
	err := d.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(d.bucketName),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		if len(page.Contents) == 0 {
			return true
		}
		objects := make([]*s3.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			objects = append(objects, &s3.ObjectIdentifier{Key: obj.Key})
		}
		_, deleteErr = d.client.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(d.bucketName),
			Delete: &s3.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		return deleteErr == nil
	})
	if deleteErr != nil {
		return interfaces.BackendFailure("delete objects", deleteErr)
	}
	if err != nil {
		return interfaces.BackendFailure("list objects", err)
	}
	return nil
}

func (d *S3Driver) join(elem ...string) string {
	if d.prefix != "" {
		elem = append([]string{d.prefix}, elem...)
	}
	return path.Join(elem...)
}

func (d *S3Driver) filePrefix(p interfaces.DefaultOperationParameters) string {
	return d.join(p.TenantID().String(), p.PartitionID().String(), p.FileID().String())
}

// streamsPrefix returns the key prefix, with trailing slash, under which the
// streams of the live file or of its version live.
func (d *S3Driver) streamsPrefix(p interfaces.DefaultOperationParameters) string {
	if p.IsVersioned() {
		return path.Join(d.filePrefix(p), versionsDir, p.Version()) + "/"
	}
	return path.Join(d.filePrefix(p), streamsDir) + "/"
}

func (d *S3Driver) streamKey(p interfaces.StreamOperationParameters) string {
	return d.streamsPrefix(p.DefaultOperationParameters) + p.StorageStreamName()
}

func s3Metadata(contentType *string, meta map[string]*string) interfaces.DriveFileMetadata {
	m := interfaces.DriveFileMetadata{ContentType: aws.StringValue(contentType)}
	for k, v := range meta {
		if strings.EqualFold(k, s3FileNameKey) {
			if name, err := url.QueryUnescape(aws.StringValue(v)); err == nil {
				m.FileName = name
			}
		}
	}
	return (&m).WithDefaults()
}

func isS3NotFound(err error) bool {
	if err == nil {
		return false
	}
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return true
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}

// escapeKey URL-escapes each segment of a bucket-qualified key for CopySource.
func escapeKey(key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
