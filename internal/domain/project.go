package domain

import "time"

type ProjectStatus string

const (
	ProjectStatusPendingApproval ProjectStatus = "pending_approval"
	ProjectStatusOpen            ProjectStatus = "open"
	ProjectStatusInProgress      ProjectStatus = "in_progress"
	ProjectStatusCompleted       ProjectStatus = "completed"
	ProjectStatusCanceled        ProjectStatus = "canceled"
)

// Project is the subset of the marketplace project row the settlement flow
// reads or flips. Project CRUD lives elsewhere.
type Project struct {
	ID                  string        `json:"id" db:"id"`
	ClientID            *string       `json:"client_id,omitempty" db:"client_id"`
	Title               string        `json:"title" db:"title"`
	ProjectType         string        `json:"project_type,omitempty" db:"project_type"`
	Status              ProjectStatus `json:"status" db:"status"`
	AvailableForBidding bool          `json:"available_for_bidding" db:"available_for_bidding"`
	AssignedTo          *string       `json:"assigned_to,omitempty" db:"assigned_to"`
	UpdatedAt           time.Time     `json:"updated_at" db:"updated_at"`
}

const RoleAdmin = "admin"

// Profile carries what payouts and admin checks need from the user profile.
type Profile struct {
	ID          string  `json:"id" db:"id"`
	FullName    string  `json:"full_name" db:"full_name"`
	PhoneNumber *string `json:"phone_number,omitempty" db:"phone_number"`
	Role        string  `json:"role" db:"role"`
}
