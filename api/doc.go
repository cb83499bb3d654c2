/*
Package api holds the wire contract of the drive gateway shared by the HTTP
server in package httpserver and the client in package api/clients.

# Routes

All drive routes live under /api/tenants/{tenant_id}/drives/{drive_id}, where
drive_id is a drive UUID or "default" for the tenant's default drive:

	GET    .../info                                              driver description
	PUT    .../partitions/{partition_id}/files/{file_id}/streams/{stream}   upload
	GET    .../partitions/{partition_id}/files/{file_id}/streams/{stream}   download
	HEAD   .../partitions/{partition_id}/files/{file_id}/streams/{stream}   exists
	DELETE .../partitions/{partition_id}/files/{file_id}/streams/{stream}   delete stream
	DELETE .../partitions/{partition_id}/files/{file_id}                    delete file
	GET    .../partitions/{partition_id}/files/{file_id}/streams            list streams
	POST   .../partitions/{partition_id}/files/{file_id}/versions/{version} snapshot
	POST   .../partitions/{partition_id}/upgrade?volume_id=                 upgrade partition

Stream operations accept a version query parameter. Uploads carry metadata in
the Content-Type and X-Drive-File-Name headers and downloads return it the
same way.

# Errors

Failures return an ErrorResponse body and a status derived from the error
kind: 400 invalid argument, 404 not found, 409 conflict, 499 cancelled,
502 backend failure and 501 for snapshots on a driver without versioning.
StatusForError and ErrorForStatus convert between the two.
*/
package api
