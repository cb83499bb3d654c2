/*
Package clients provides the client for the drive gateway served by package
httpserver.

DriveClient implements interfaces.VersioningStorageDriver on top of the HTTP
routes described in package api, so a remote drive can be used anywhere a
local driver can, including as a child of a multi-storage driver. Error kinds
are carried in the response status and restored by the client, so callers
can keep using errors.Is with the sentinels from package interfaces.

# Example Usage

	client, err := clients.NewDriveClient("http://localhost:8080", clients.DefaultDrive, 30*time.Second, logger)
	if err != nil {
	    return err
	}

	params := interfaces.NewUploadOperationParameters(tenantID, partitionID, fileID, "", bytes.NewReader(data), nil)
	if err := client.Upload(ctx, params); err != nil {
	    return err
	}

The storage factory creates DriveClient for http:// and https:// driver info,
taking the drive from the "drive" query parameter.
*/
package clients
