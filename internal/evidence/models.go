// Package evidence tracks compliance artifact metadata: certificates,
// licences and inspection reports attached to checklist items. Only
// metadata is stored; the artifact bytes live in external object storage
// behind the URI.
package evidence

import (
	"time"

	id "custos/pkg/domain"
)

// Artifact is one piece of evidence. An artifact without an expiry never
// goes stale; one with an expiry in the past blocks workspace activation.
type Artifact struct {
	ID          id.ArtifactID  `json:"id"`
	WorkspaceID id.WorkspaceID `json:"workspace_id"`
	ItemID      *id.ItemID     `json:"item_id,omitempty"`
	Kind        string         `json:"kind"`
	URI         string         `json:"uri"`
	UploadedBy  id.ActorID     `json:"uploaded_by"`
	ExpiresAt   *time.Time     `json:"expires_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Expired reports whether the artifact's validity has lapsed.
func (a *Artifact) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && a.ExpiresAt.Before(now)
}

// ExpiringWithin reports whether the artifact is still valid but lapses
// inside the given window.
func (a *Artifact) ExpiringWithin(now time.Time, window time.Duration) bool {
	return a.ExpiresAt != nil && !a.ExpiresAt.Before(now) && a.ExpiresAt.Before(now.Add(window))
}
