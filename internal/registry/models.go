// Package registry tracks a workspace's digital-health registry enrollment:
// the integration configuration, the facility profile submitted to the
// registry, and links to professional-registry records. The readiness
// validator and the activation gate both read from here.
package registry

import (
	"time"

	"github.com/google/uuid"

	id "custos/pkg/domain"
)

// Config is the workspace's registry integration configuration. The callback
// secret is stored by reference; rotating it is a sensitive change routed
// through the approval workflow.
type Config struct {
	WorkspaceID       id.WorkspaceID `json:"workspace_id"`
	FacilityCode      string         `json:"facility_code"`
	Endpoint          string         `json:"endpoint"`
	CallbackSecretRef string         `json:"callback_secret_ref"`
	RotatedAt         *time.Time     `json:"rotated_at,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Profile is the facility profile as submitted to the registry.
type Profile struct {
	WorkspaceID  id.WorkspaceID `json:"workspace_id"`
	FacilityName string         `json:"facility_name"`
	FacilityType string         `json:"facility_type"`
	Address      string         `json:"address"`
	District     string         `json:"district"`
	State        string         `json:"state"`
	Pincode      string         `json:"pincode"`
	ContactEmail string         `json:"contact_email"`
	ContactPhone string         `json:"contact_phone"`
	Submitted    bool           `json:"submitted"`
	Verified     bool           `json:"verified"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// EmptyRequiredCount counts how many of the fixed required-field set are
// empty. The validator treats a handful of empty fields as a warning and a
// critically incomplete profile (more than three) as blocking.
func (p *Profile) EmptyRequiredCount() int {
	required := []string{
		p.FacilityName, p.FacilityType, p.Address, p.District,
		p.State, p.Pincode, p.ContactEmail, p.ContactPhone,
	}
	empty := 0
	for _, field := range required {
		if field == "" {
			empty++
		}
	}
	return empty
}

// ProfessionalRecord links a workspace to one professional-registry entry
// (doctor, nurse) held by the external registry.
type ProfessionalRecord struct {
	ID          uuid.UUID      `json:"id"`
	WorkspaceID id.WorkspaceID `json:"workspace_id"`
	RegistryRef string         `json:"registry_ref"`
	Name        string         `json:"name"`
	Role        string         `json:"role"`
	CreatedAt   time.Time      `json:"created_at"`
}
