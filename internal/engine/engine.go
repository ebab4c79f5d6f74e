// Package engine owns bug mutable state. Every mutation consults the policy
// layer, applies the change and appends exactly one activity entry inside a
// single transaction.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"bugtrail/internal/activity"
	"bugtrail/internal/config"
	"bugtrail/internal/domain"
	"bugtrail/internal/policy"
	"bugtrail/internal/repo"
)

// InvalidStateError reports an operation that is legal for the role but not
// for the bug's current lifecycle state.
type InvalidStateError struct {
	Reason string
}

func (e InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state: %s", e.Reason)
}

// InvalidInputError reports malformed or missing request fields.
type InvalidInputError struct {
	Msg string
}

func (e InvalidInputError) Error() string { return e.Msg }

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Log    activity.Log
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Log:    activity.Log{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() activity.Log {
	l := e.Log
	if l.Now == nil {
		l.Now = e.Now
	}
	return l
}

// CreateOptions are parameters for reporting a new bug.
type CreateOptions struct {
	ID          string
	ProjectID   string
	Title       string
	Description string
	AssigneeID  string
	SprintID    string
	Priority    string
	Severity    string
	Type        string
	Tags        []string
	ActorID     string
	ActorRole   domain.Role
}

// Create reports a new bug. Status is forced to Open and validated to false
// regardless of input.
func (e Engine) Create(ctx context.Context, opts CreateOptions) (domain.Bug, error) {
	if err := policy.CanCreate(opts.ActorRole).Err(); err != nil {
		return domain.Bug{}, err
	}
	if opts.Title == "" {
		return domain.Bug{}, InvalidInputError{Msg: "title is required"}
	}
	if opts.ProjectID == "" {
		return domain.Bug{}, InvalidInputError{Msg: "project is required"}
	}
	if opts.ActorID == "" {
		return domain.Bug{}, InvalidInputError{Msg: "actor is required"}
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Bug{}, fmt.Errorf("project %s: %w", opts.ProjectID, err)
	}
	if opts.AssigneeID != "" {
		if _, err := e.Repo.GetUser(ctx, opts.AssigneeID); err != nil {
			return domain.Bug{}, fmt.Errorf("assignee %s: %w", opts.AssigneeID, err)
		}
	}
	if opts.SprintID != "" {
		if _, err := e.Repo.GetSprint(ctx, opts.SprintID); err != nil {
			return domain.Bug{}, fmt.Errorf("sprint %s: %w", opts.SprintID, err)
		}
	}
	if opts.Priority == "" {
		opts.Priority = "Medium"
	}
	if opts.Severity == "" {
		opts.Severity = "Minor"
	}
	if opts.Type == "" {
		opts.Type = "defect"
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.now().UTC().Format(time.RFC3339)
	b := domain.Bug{
		ID:          id,
		ProjectID:   opts.ProjectID,
		ReportedBy:  opts.ActorID,
		AssignedTo:  optionalString(opts.AssigneeID),
		SprintID:    optionalString(opts.SprintID),
		Title:       opts.Title,
		Description: opts.Description,
		Status:      domain.StatusOpen,
		Priority:    opts.Priority,
		Severity:    opts.Severity,
		Type:        opts.Type,
		Tags:        opts.Tags,
		Validated:   false,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bug{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertBugTx(ctx, tx, b); err != nil {
		return domain.Bug{}, err
	}
	if _, err := e.log().Append(ctx, tx, activity.Entry{
		BugID:   b.ID,
		Action:  domain.ActionReported,
		ActorID: opts.ActorID,
	}); err != nil {
		return domain.Bug{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Bug{}, err
	}
	return b, nil
}

// UpdateStatusOptions parameterizes a status transition.
type UpdateStatusOptions struct {
	BugID     string
	NewStatus domain.Status
	ActorID   string
	ActorRole domain.Role
	// ExpectedVersion, when set, rejects the write with repo.ErrConflict if
	// the stored bug has moved past the version the caller read.
	ExpectedVersion *int64
}

// UpdateStatus moves a bug to a new lifecycle status. It does not enforce the
// validate-before-close convention; that gate belongs to the calling workflow
// (see board.Reconciler).
func (e Engine) UpdateStatus(ctx context.Context, opts UpdateStatusOptions) (domain.Bug, error) {
	if !opts.NewStatus.Valid() {
		return domain.Bug{}, InvalidInputError{Msg: fmt.Sprintf("unknown status %q", opts.NewStatus)}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bug{}, err
	}
	defer tx.Rollback()

	b, err := e.Repo.GetBugTx(ctx, tx, opts.BugID)
	if err != nil {
		return domain.Bug{}, err
	}
	if err := policy.CanTransition(b.Status, opts.NewStatus, opts.ActorRole).Err(); err != nil {
		return b, err
	}
	if opts.ExpectedVersion != nil && *opts.ExpectedVersion != b.Version {
		return b, repo.ErrConflict
	}
	b.Status = opts.NewStatus
	// Leaving the Resolved/Closed range revokes validation so the validated
	// flag can never outlive the states it is meaningful in.
	if opts.NewStatus != domain.StatusResolved && opts.NewStatus != domain.StatusClosed {
		b.Validated = false
	}
	b.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	b, err = e.Repo.UpdateBugTx(ctx, tx, b)
	if err != nil {
		return b, err
	}
	newStatus := opts.NewStatus
	if _, err := e.log().Append(ctx, tx, activity.Entry{
		BugID:     b.ID,
		Action:    domain.ActionStatusChanged,
		NewStatus: &newStatus,
		ActorID:   opts.ActorID,
	}); err != nil {
		return b, err
	}
	if err := tx.Commit(); err != nil {
		return b, err
	}
	return b, nil
}

// AssignOptions parameterizes an assignment change.
type AssignOptions struct {
	BugID      string
	AssigneeID string
	ActorID    string
	ActorRole  domain.Role
}

// Assign sets the bug's assignee. The assignee must exist in the user
// directory; the recorded actor is the assigner, not the assignee.
func (e Engine) Assign(ctx context.Context, opts AssignOptions) (domain.Bug, error) {
	if err := policy.CanAssign(opts.ActorRole).Err(); err != nil {
		return domain.Bug{}, err
	}
	if opts.AssigneeID == "" {
		return domain.Bug{}, InvalidInputError{Msg: "assignee is required"}
	}
	if _, err := e.Repo.GetUser(ctx, opts.AssigneeID); err != nil {
		return domain.Bug{}, fmt.Errorf("assignee %s: %w", opts.AssigneeID, err)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bug{}, err
	}
	defer tx.Rollback()

	b, err := e.Repo.GetBugTx(ctx, tx, opts.BugID)
	if err != nil {
		return domain.Bug{}, err
	}
	b.AssignedTo = &opts.AssigneeID
	b.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	b, err = e.Repo.UpdateBugTx(ctx, tx, b)
	if err != nil {
		return b, err
	}
	if _, err := e.log().Append(ctx, tx, activity.Entry{
		BugID:      b.ID,
		Action:     domain.ActionAssigned,
		AssigneeID: &opts.AssigneeID,
		ActorID:    opts.ActorID,
	}); err != nil {
		return b, err
	}
	if err := tx.Commit(); err != nil {
		return b, err
	}
	return b, nil
}

// UpdateTagsOptions parameterizes a tag replacement.
type UpdateTagsOptions struct {
	BugID     string
	Tags      []string
	ActorID   string
	ActorRole domain.Role
}

// UpdateTags replaces the bug's label set. Tags are not lifecycle-significant,
// so no activity is emitted.
func (e Engine) UpdateTags(ctx context.Context, opts UpdateTagsOptions) (domain.Bug, error) {
	if !opts.ActorRole.Valid() {
		return domain.Bug{}, policy.ForbiddenError{Reason: policy.ReasonUnknownRole}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bug{}, err
	}
	defer tx.Rollback()

	b, err := e.Repo.GetBugTx(ctx, tx, opts.BugID)
	if err != nil {
		return domain.Bug{}, err
	}
	b.Tags = opts.Tags
	b.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	b, err = e.Repo.UpdateBugTx(ctx, tx, b)
	if err != nil {
		return b, err
	}
	if err := tx.Commit(); err != nil {
		return b, err
	}
	return b, nil
}

// ValidateOptions parameterizes a validation.
type ValidateOptions struct {
	BugID     string
	ActorID   string
	ActorRole domain.Role
}

// Validate marks a Resolved bug's fix as acceptable. Calling it on an already
// validated bug succeeds without appending a duplicate activity.
func (e Engine) Validate(ctx context.Context, opts ValidateOptions) (domain.Bug, error) {
	if err := policy.CanValidate(opts.ActorRole).Err(); err != nil {
		return domain.Bug{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bug{}, err
	}
	defer tx.Rollback()

	b, err := e.Repo.GetBugTx(ctx, tx, opts.BugID)
	if err != nil {
		return domain.Bug{}, err
	}
	if b.Validated {
		return b, nil
	}
	if b.Status != domain.StatusResolved {
		return b, InvalidStateError{Reason: "bug must be Resolved before validation"}
	}
	b.Validated = true
	b.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	b, err = e.Repo.UpdateBugTx(ctx, tx, b)
	if err != nil {
		return b, err
	}
	if _, err := e.log().Append(ctx, tx, activity.Entry{
		BugID:   b.ID,
		Action:  domain.ActionValidated,
		ActorID: opts.ActorID,
	}); err != nil {
		return b, err
	}
	if err := tx.Commit(); err != nil {
		return b, err
	}
	return b, nil
}

// CommentOptions parameterizes a comment.
type CommentOptions struct {
	BugID     string
	Message   string
	ActorID   string
	ActorRole domain.Role
}

// Comment records a comment on a bug and appends a commented activity.
func (e Engine) Comment(ctx context.Context, opts CommentOptions) (domain.Comment, error) {
	if err := policy.CanComment(opts.ActorRole).Err(); err != nil {
		return domain.Comment{}, err
	}
	if opts.Message == "" {
		return domain.Comment{}, InvalidInputError{Msg: "message is required"}
	}
	if _, err := e.Repo.GetBug(ctx, opts.BugID); err != nil {
		return domain.Comment{}, err
	}
	c := domain.Comment{
		ID:        uuid.New().String(),
		BugID:     opts.BugID,
		AuthorID:  opts.ActorID,
		Message:   opts.Message,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Comment{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertCommentTx(ctx, tx, c); err != nil {
		return domain.Comment{}, err
	}
	if _, err := e.log().Append(ctx, tx, activity.Entry{
		BugID:   opts.BugID,
		Action:  domain.ActionCommented,
		ActorID: opts.ActorID,
	}); err != nil {
		return domain.Comment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Comment{}, err
	}
	return c, nil
}

// ResolveRole looks up the actor's role in the user directory. Engine calls
// always take the role explicitly; this is the one sanctioned way for entry
// points to derive it from an identity.
func (e Engine) ResolveRole(ctx context.Context, actorID string) (domain.Role, error) {
	u, err := e.Repo.GetUser(ctx, actorID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", fmt.Errorf("actor %s: %w", actorID, err)
		}
		return "", err
	}
	return u.Role, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
