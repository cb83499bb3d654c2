package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/ruteri/drive-storage-backend/interfaces"
)

// DriverFactory creates storage drivers from driver-info strings.
type DriverFactory interface {
	DriverFor(ctx context.Context, driverInfo string) (interfaces.StorageDriver, error)
}

// DriveController builds drivers through a DriverFactory. When schemes are
// given, driver info with any other scheme is rejected.
type DriveController struct {
	id      uuid.UUID
	name    string
	factory DriverFactory
	schemes map[string]struct{}
}

var _ interfaces.DriveController = (*DriveController)(nil)

// NewDriveController creates a controller. An empty schemes list accepts every
// scheme the factory supports.
func NewDriveController(id uuid.UUID, displayName string, factory DriverFactory, schemes ...string) (*DriveController, error) {
	if id == uuid.Nil {
		return nil, interfaces.InvalidArgumentf("controller id must not be the zero uuid")
	}
	if factory == nil {
		return nil, interfaces.InvalidArgumentf("controller %s requires a driver factory", id)
	}

	c := &DriveController{
		id:      id,
		name:    displayName,
		factory: factory,
	}
	if len(schemes) > 0 {
		c.schemes = make(map[string]struct{}, len(schemes))
		for _, s := range schemes {
			c.schemes[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
		}
	}
	return c, nil
}

func (c *DriveController) ControllerID() uuid.UUID {
	return c.id
}

func (c *DriveController) DisplayName() string {
	return c.name
}

// Schemes returns the accepted schemes in sorted order, or nil when every
// scheme is accepted.
func (c *DriveController) Schemes() []string {
	if c.schemes == nil {
		return nil
	}
	out := make([]string, 0, len(c.schemes))
	for s := range c.schemes {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// GetDriver validates driverInfo against the accepted schemes and asks the
// factory for a driver.
func (c *DriveController) GetDriver(ctx context.Context, driverInfo string) (interfaces.StorageDriver, error) {
	loc, err := interfaces.ParseDriverLocation(driverInfo)
	if err != nil {
		return nil, err
	}
	if c.schemes != nil {
		if _, ok := c.schemes[loc.Scheme]; !ok {
			return nil, fmt.Errorf("%w: controller %q does not accept scheme %q", interfaces.ErrInvalidDriverInfo, c.name, loc.Scheme)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, interfaces.Cancelled(err)
	}
	return c.factory.DriverFor(ctx, driverInfo)
}
