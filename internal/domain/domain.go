package domain

// Status is the fixed bug lifecycle enumeration. The literal values are part
// of the external contract and match what dashboards and boards display.
type Status string

const (
	StatusOpen       Status = "Open"
	StatusInProgress Status = "In Progress"
	StatusResolved   Status = "Resolved"
	StatusClosed     Status = "Closed"
)

// Statuses lists every lifecycle status in board-column order.
var Statuses = []Status{StatusOpen, StatusInProgress, StatusResolved, StatusClosed}

// Valid reports whether s is one of the defined statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// Role determines which lifecycle transitions an actor may perform.
type Role string

const (
	RoleTester    Role = "tester"
	RoleDeveloper Role = "developer"
	RoleAdmin     Role = "admin"
)

// Roles lists every defined role.
var Roles = []Role{RoleTester, RoleDeveloper, RoleAdmin}

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	switch r {
	case RoleTester, RoleDeveloper, RoleAdmin:
		return true
	}
	return false
}

// Action identifies the kind of domain event an activity records. Actions
// carrying a target (assigned, status_changed) expose it through the typed
// payload fields on Activity, never as a delimited suffix.
type Action string

const (
	ActionReported      Action = "reported"
	ActionCommented     Action = "commented"
	ActionValidated     Action = "validated"
	ActionStatusChanged Action = "status_changed"
	ActionAssigned      Action = "assigned"
)

type Bug struct {
	ID          string   `json:"id"`
	ProjectID   string   `json:"project_id"`
	ReportedBy  string   `json:"reported_by"`
	AssignedTo  *string  `json:"assigned_to,omitempty"`
	SprintID    *string  `json:"sprint_id,omitempty"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Status      Status   `json:"status" enum:"Open,In Progress,Resolved,Closed"`
	Priority    string   `json:"priority" enum:"Low,Medium,High,Critical"`
	Severity    string   `json:"severity" enum:"Minor,Major,Critical"`
	Type        string   `json:"type" enum:"defect,task,epic,suggestion"`
	Tags        []string `json:"tags,omitempty"`
	Validated   bool     `json:"validated"`
	Version     int64    `json:"version"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	UpdatedAt   string   `json:"updated_at" format:"date-time"`
}

// Activity is one immutable audit record. Seq is the insertion sequence and
// breaks ordering ties between entries sharing a timestamp.
type Activity struct {
	ID         string  `json:"id"`
	Seq        int64   `json:"seq"`
	BugID      string  `json:"bug_id"`
	Action     Action  `json:"action" enum:"reported,commented,validated,status_changed,assigned"`
	NewStatus  *Status `json:"new_status,omitempty"`
	AssigneeID *string `json:"assignee_id,omitempty"`
	ActorID    string  `json:"actor_id"`
	TS         string  `json:"ts" format:"date-time"`
}

type Comment struct {
	ID        string `json:"id"`
	BugID     string `json:"bug_id"`
	AuthorID  string `json:"author_id"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      Role   `json:"role" enum:"tester,developer,admin"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Sprint struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	StartsAt  string `json:"starts_at,omitempty" format:"date-time"`
	EndsAt    string `json:"ends_at,omitempty" format:"date-time"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
