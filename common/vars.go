// Package common holds process-wide settings shared by the commands.
package common

// Version is set at build time with -ldflags "-X .../common.Version=<tag>".
var Version = "dev"

// PackageName is used as the metrics namespace and default log service tag.
const PackageName = "drive_storage"
