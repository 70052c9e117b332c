package smarthome

import (
	"context"
	"time"

	"github.com/casalink/casalink/internal/device"
	"github.com/casalink/casalink/internal/link"
)

// RepositoryRegistry adapts the device and link repositories to the
// dispatcher's Registry view. It is a thin seam: handlers stay testable
// against fakes while production wiring stays one constructor call.
type RepositoryRegistry struct {
	devices device.Repository
	links   link.Repository
}

// NewRepositoryRegistry creates a Registry backed by the SQLite repositories.
func NewRepositoryRegistry(devices device.Repository, links link.Repository) *RepositoryRegistry {
	return &RepositoryRegistry{
		devices: devices,
		links:   links,
	}
}

func (r *RepositoryRegistry) FindDeviceByID(ctx context.Context, id string) (*device.Device, error) {
	return r.devices.GetByID(ctx, id)
}

func (r *RepositoryRegistry) FindDevicesByOwner(ctx context.Context, userID string) ([]device.Device, error) {
	return r.devices.ListByOwner(ctx, userID)
}

func (r *RepositoryRegistry) FindLinkBySubject(ctx context.Context, subject string) (*link.AccountLink, error) {
	return r.links.GetBySubject(ctx, subject)
}

func (r *RepositoryRegistry) MarkLinkSynced(ctx context.Context, linkID string, at time.Time) error {
	return r.links.MarkSynced(ctx, linkID, at)
}

func (r *RepositoryRegistry) DeactivateLink(ctx context.Context, subject string) error {
	return r.links.Revoke(ctx, subject)
}
