package server

import (
	"bugtrail/internal/domain"
)

// Request payloads

type CreateBugRequest struct {
	ID          *string  `json:"id,omitempty"`
	ProjectID   *string  `json:"project_id,omitempty"`
	Title       string   `json:"title"`
	Description *string  `json:"description,omitempty"`
	AssigneeID  *string  `json:"assignee_id,omitempty"`
	SprintID    *string  `json:"sprint_id,omitempty"`
	Priority    *string  `json:"priority,omitempty" enum:"Low,Medium,High,Critical"`
	Severity    *string  `json:"severity,omitempty" enum:"Minor,Major,Critical"`
	Type        *string  `json:"type,omitempty" enum:"defect,task,epic,suggestion"`
	Tags        []string `json:"tags,omitempty"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" enum:"Open,In Progress,Resolved,Closed"`
	// ExpectedVersion rejects the write with 409 when the bug has moved on.
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

type AssignRequest struct {
	AssigneeID string `json:"assignee_id"`
}

type UpdateTagsRequest struct {
	Tags []string `json:"tags"`
}

type CommentRequest struct {
	Message string `json:"message"`
}

type CreateUserRequest struct {
	ID    *string `json:"id,omitempty"`
	Name  string  `json:"name"`
	Email string  `json:"email"`
	Role  string  `json:"role" enum:"tester,developer,admin"`
}

type CreateProjectRequest struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

type CreateSprintRequest struct {
	ID        *string `json:"id,omitempty"`
	ProjectID *string `json:"project_id,omitempty"`
	Name      string  `json:"name"`
	StartsAt  *string `json:"starts_at,omitempty" format:"date-time"`
	EndsAt    *string `json:"ends_at,omitempty" format:"date-time"`
}

// Response payloads

// ActivityResponse is an activity entry enriched with display names resolved
// at the read boundary. Lookups that fail degrade to placeholder labels.
type ActivityResponse struct {
	ID           string         `json:"id"`
	Seq          int64          `json:"seq"`
	BugID        string         `json:"bug_id"`
	BugTitle     string         `json:"bug_title"`
	ProjectID    string         `json:"project_id,omitempty"`
	ProjectName  string         `json:"project_name"`
	Action       domain.Action  `json:"action" enum:"reported,commented,validated,status_changed,assigned"`
	NewStatus    *domain.Status `json:"new_status,omitempty"`
	AssigneeID   *string        `json:"assignee_id,omitempty"`
	AssigneeName *string        `json:"assignee_name,omitempty"`
	ActorID      string         `json:"actor_id"`
	ActorName    string         `json:"actor_name"`
	TS           string         `json:"ts" format:"date-time"`
}

type paginatedBugs struct {
	Items []domain.Bug `json:"items"`
}

type paginatedActivities struct {
	Items []ActivityResponse `json:"items"`
}
