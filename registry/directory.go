package registry

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/ruteri/drive-storage-backend/interfaces"
)

// StaticDirectory is a TenantDirectory over a fixed set of assignments,
// usually loaded from the drive configuration file.
type StaticDirectory struct {
	tenants map[uuid.UUID][]interfaces.DriveAssignment
}

var _ interfaces.TenantDirectory = (*StaticDirectory)(nil)

// NewStaticDirectory copies tenants into a new directory. The order of each
// tenant's assignments is kept.
func NewStaticDirectory(tenants map[uuid.UUID][]interfaces.DriveAssignment) *StaticDirectory {
	d := &StaticDirectory{tenants: make(map[uuid.UUID][]interfaces.DriveAssignment, len(tenants))}
	for id, drives := range tenants {
		d.tenants[id] = append([]interfaces.DriveAssignment(nil), drives...)
	}
	return d
}

func (d *StaticDirectory) TenantDrives(ctx context.Context, tenantID uuid.UUID) ([]interfaces.DriveAssignment, error) {
	drives, ok := d.tenants[tenantID]
	if !ok {
		return nil, interfaces.NotFoundf("tenant %s is not configured", tenantID)
	}
	return append([]interfaces.DriveAssignment(nil), drives...), nil
}

// Tenants returns the configured tenant ids in sorted order.
func (d *StaticDirectory) Tenants() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(d.tenants))
	for id := range d.tenants {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// TenantDirectoryFunc adapts a function to interfaces.TenantDirectory.
type TenantDirectoryFunc func(ctx context.Context, tenantID uuid.UUID) ([]interfaces.DriveAssignment, error)

func (f TenantDirectoryFunc) TenantDrives(ctx context.Context, tenantID uuid.UUID) ([]interfaces.DriveAssignment, error) {
	return f(ctx, tenantID)
}
