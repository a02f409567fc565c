package sync

import (
	"github.com/marcus/sn/internal/models"
)

// Resolve applies last-write-wins to a rejected local mutation. The local
// side wins only when it was mutated strictly after the remote's last
// modification; ties go to the remote.
func Resolve(e *models.OutboxEntry, remote models.RemoteRecord) models.Conflict {
	c := models.Conflict{
		Table:         e.Table,
		EntityID:      e.EntityID,
		Operation:     e.Operation,
		LocalPayload:  e.Payload,
		RemotePayload: remote.Payload,
		LocalAt:       e.MutatedAt,
		RemoteAt:      remote.ModifiedAt,
		RemoteVersion: remote.Version,
		RemoteDeleted: remote.Deleted,
		Resolution:    models.ResolutionRemoteWins,
	}
	if e.MutatedAt.After(remote.ModifiedAt) {
		c.Resolution = models.ResolutionLocalWins
	}
	return c
}
