package interfaces

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestValidateUpload(t *testing.T) {
	tenantID, partitionID, fileID := uuid.New(), uuid.New(), uuid.New()
	data := strings.NewReader("hello")

	tests := []struct {
		name    string
		params  UploadOperationParameters
		wantErr bool
	}{
		{name: "valid", params: NewUploadOperationParameters(tenantID, partitionID, fileID, "", data, nil)},
		{name: "64 char stream", params: NewUploadOperationParameters(tenantID, partitionID, fileID, strings.Repeat("a", 64), data, nil)},
		{name: "zero tenant", params: NewUploadOperationParameters(uuid.Nil, partitionID, fileID, "", data, nil), wantErr: true},
		{name: "zero partition", params: NewUploadOperationParameters(tenantID, uuid.Nil, fileID, "", data, nil), wantErr: true},
		{name: "zero file", params: NewUploadOperationParameters(tenantID, partitionID, uuid.Nil, "", data, nil), wantErr: true},
		{name: "nil data", params: NewUploadOperationParameters(tenantID, partitionID, fileID, "", nil, nil), wantErr: true},
		{name: "versioned", params: NewUploadOperationParameters(tenantID, partitionID, fileID, "", data, nil, WithVersion("v1")), wantErr: true},
		{name: "separator in stream", params: NewUploadOperationParameters(tenantID, partitionID, fileID, "a/b", data, nil), wantErr: true},
		{name: "dot dot stream", params: NewUploadOperationParameters(tenantID, partitionID, fileID, "..", data, nil), wantErr: true},
		{name: "too long stream", params: NewUploadOperationParameters(tenantID, partitionID, fileID, strings.Repeat("a", MaxNameLength+1), data, nil), wantErr: true},
		{name: "zero value", params: UploadOperationParameters{}, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUpload(tt.params)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidArgument)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateSnapshot(t *testing.T) {
	tenantID, partitionID, fileID := uuid.New(), uuid.New(), uuid.New()

	assert.NoError(t, ValidateSnapshot(NewSnapshotOperationParameters(tenantID, partitionID, fileID, "v1")))
	assert.ErrorIs(t, ValidateSnapshot(NewSnapshotOperationParameters(tenantID, partitionID, fileID, "  ")), ErrInvalidArgument)
	assert.ErrorIs(t, ValidateSnapshot(NewSnapshotOperationParameters(tenantID, partitionID, fileID, "../v1")), ErrInvalidArgument)
	assert.ErrorIs(t, ValidateSnapshot(NewSnapshotOperationParameters(uuid.Nil, partitionID, fileID, "v1")), ErrInvalidArgument)
}

func TestValidateDelete(t *testing.T) {
	tenantID, partitionID, fileID := uuid.New(), uuid.New(), uuid.New()

	assert.NoError(t, ValidateDelete(NewDeleteOperationParameters(tenantID, partitionID, fileID, "s1")))
	assert.NoError(t, ValidateDelete(NewDeleteFileOperationParameters(tenantID, partitionID, fileID)))
	assert.NoError(t, ValidateDelete(NewDeleteFileOperationParameters(tenantID, partitionID, fileID, WithVersion("v1"))))
	assert.ErrorIs(t, ValidateDelete(NewDeleteFileOperationParameters(tenantID, uuid.Nil, fileID)), ErrInvalidArgument)
	assert.ErrorIs(t, ValidateDelete(NewDeleteOperationParameters(tenantID, partitionID, fileID, "a\\b")), ErrInvalidArgument)
}

func TestValidateListStreamsAndUpgrade(t *testing.T) {
	tenantID, partitionID, fileID := uuid.New(), uuid.New(), uuid.New()

	assert.NoError(t, ValidateListStreams(NewListStreamsOperationParameters(tenantID, partitionID, fileID)))
	assert.ErrorIs(t, ValidateListStreams(NewListStreamsOperationParameters(tenantID, partitionID, uuid.Nil)), ErrInvalidArgument)

	assert.NoError(t, ValidateUpgrade(tenantID, uuid.New(), partitionID))
	assert.ErrorIs(t, ValidateUpgrade(tenantID, uuid.Nil, partitionID), ErrInvalidArgument)
	assert.ErrorIs(t, ValidateUpgrade(uuid.Nil, uuid.New(), partitionID), ErrInvalidArgument)
	assert.ErrorIs(t, ValidateUpgrade(tenantID, uuid.New(), uuid.Nil), ErrInvalidArgument)
}
