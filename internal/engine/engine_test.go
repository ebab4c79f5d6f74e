package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"bugtrail/internal/app"
	"bugtrail/internal/config"
	"bugtrail/internal/db"
	"bugtrail/internal/domain"
	"bugtrail/internal/engine"
	"bugtrail/internal/migrate"
	"bugtrail/internal/policy"
	"bugtrail/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("proj-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if err := app.Bootstrap(ctx, cfg, eng.Repo); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	seed := []domain.User{
		{ID: "tess", Name: "Tess", Email: "tess@example.com", Role: domain.RoleTester},
		{ID: "dev", Name: "Dev", Email: "dev@example.com", Role: domain.RoleDeveloper},
		{ID: "root", Name: "Root", Email: "root@example.com", Role: domain.RoleAdmin},
	}
	for _, u := range seed {
		u.CreatedAt = "2026-01-01T00:00:00Z"
		if err := eng.Repo.EnsureUser(ctx, u); err != nil {
			t.Fatalf("seed user %s: %v", u.ID, err)
		}
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func report(t *testing.T, env testEnv, actorID string, role domain.Role) domain.Bug {
	t.Helper()
	b, err := env.Engine.Create(env.Ctx, engine.CreateOptions{
		ProjectID: "proj-1",
		Title:     "Login button unresponsive",
		ActorID:   actorID,
		ActorRole: role,
	})
	if err != nil {
		t.Fatalf("create bug: %v", err)
	}
	return b
}

func moveTo(t *testing.T, env testEnv, bugID string, status domain.Status, actorID string, role domain.Role) domain.Bug {
	t.Helper()
	b, err := env.Engine.UpdateStatus(env.Ctx, engine.UpdateStatusOptions{
		BugID: bugID, NewStatus: status, ActorID: actorID, ActorRole: role,
	})
	if err != nil {
		t.Fatalf("move to %s: %v", status, err)
	}
	return b
}

func TestCreateDefaults(t *testing.T) {
	env := newTestEnv(t)
	b := report(t, env, "tess", domain.RoleTester)
	if b.Status != domain.StatusOpen {
		t.Fatalf("status = %s, want Open", b.Status)
	}
	if b.Validated {
		t.Fatalf("new bug must not be validated")
	}
	if b.Version != 1 {
		t.Fatalf("version = %d, want 1", b.Version)
	}
	if b.ReportedBy != "tess" {
		t.Fatalf("reported_by = %s", b.ReportedBy)
	}
	if b.Priority != "Medium" || b.Severity != "Minor" || b.Type != "defect" {
		t.Fatalf("unexpected defaults: %s/%s/%s", b.Priority, b.Severity, b.Type)
	}
	acts, err := env.Engine.Log.ListByBug(env.Ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(acts) != 1 || acts[0].Action != domain.ActionReported {
		t.Fatalf("expected single reported activity, got %+v", acts)
	}
}

func TestCreateRejectsMissingFields(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Create(env.Ctx, engine.CreateOptions{ProjectID: "proj-1", ActorID: "tess", ActorRole: domain.RoleTester})
	var ie engine.InvalidInputError
	if !errors.As(err, &ie) {
		t.Fatalf("expected InvalidInputError for missing title, got %v", err)
	}
	_, err = env.Engine.Create(env.Ctx, engine.CreateOptions{
		ProjectID: "nope", Title: "x", ActorID: "tess", ActorRole: domain.RoleTester,
	})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for unknown project, got %v", err)
	}
}

func TestDeveloperCannotClose(t *testing.T) {
	env := newTestEnv(t)
	b := report(t, env, "tess", domain.RoleTester)
	b = moveTo(t, env, b.ID, domain.StatusResolved, "dev", domain.RoleDeveloper)

	_, err := env.Engine.UpdateStatus(env.Ctx, engine.UpdateStatusOptions{
		BugID: b.ID, NewStatus: domain.StatusClosed, ActorID: "dev", ActorRole: domain.RoleDeveloper,
	})
	var fe policy.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected ForbiddenError, got %v", err)
	}
	if fe.Reason != policy.ReasonOnlyTesterOrAdminCloses {
		t.Fatalf("reason = %q", fe.Reason)
	}
	// a denied transition leaves no trace
	acts, _ := env.Engine.Log.ListByBug(env.Ctx, b.ID)
	for _, a := range acts {
		if a.Action == domain.ActionStatusChanged && a.NewStatus != nil && *a.NewStatus == domain.StatusClosed {
			t.Fatalf("denied close must not be logged")
		}
	}
}

func TestClosedBugFrozenExceptForAdmin(t *testing.T) {
	env := newTestEnv(t)
	b := report(t, env, "tess", domain.RoleTester)
	b = moveTo(t, env, b.ID, domain.StatusResolved, "dev", domain.RoleDeveloper)
	if _, err := env.Engine.Validate(env.Ctx, engine.ValidateOptions{BugID: b.ID, ActorID: "tess", ActorRole: domain.RoleTester}); err != nil {
		t.Fatalf("validate: %v", err)
	}
	b = moveTo(t, env, b.ID, domain.StatusClosed, "tess", domain.RoleTester)

	_, err := env.Engine.UpdateStatus(env.Ctx, engine.UpdateStatusOptions{
		BugID: b.ID, NewStatus: domain.StatusOpen, ActorID: "tess", ActorRole: domain.RoleTester,
	})
	var fe policy.ForbiddenError
	if !errors.As(err, &fe) || fe.Reason != policy.ReasonOnlyAdminModifiesClosed {
		t.Fatalf("expected closed-bug denial, got %v", err)
	}

	reopened := moveTo(t, env, b.ID, domain.StatusOpen, "root", domain.RoleAdmin)
	if reopened.Status != domain.StatusOpen {
		t.Fatalf("status = %s", reopened.Status)
	}
	if reopened.Validated {
		t.Fatalf("reopening must revoke validation")
	}
}

func TestValidateRequiresResolved(t *testing.T) {
	env := newTestEnv(t)
	b := report(t, env, "tess", domain.RoleTester)
	_, err := env.Engine.Validate(env.Ctx, engine.ValidateOptions{BugID: b.ID, ActorID: "tess", ActorRole: domain.RoleTester})
	var se engine.InvalidStateError
	if !errors.As(err, &se) {
		t.Fatalf("expected InvalidStateError, got %v", err)
	}
}

func TestValidateIdempotent(t *testing.T) {
	env := newTestEnv(t)
	b := report(t, env, "tess", domain.RoleTester)
	moveTo(t, env, b.ID, domain.StatusResolved, "dev", domain.RoleDeveloper)
	if _, err := env.Engine.Validate(env.Ctx, engine.ValidateOptions{BugID: b.ID, ActorID: "tess", ActorRole: domain.RoleTester}); err != nil {
		t.Fatal(err)
	}
	again, err := env.Engine.Validate(env.Ctx, engine.ValidateOptions{BugID: b.ID, ActorID: "tess", ActorRole: domain.RoleTester})
	if err != nil {
		t.Fatalf("second validate should succeed: %v", err)
	}
	if !again.Validated {
		t.Fatalf("bug should stay validated")
	}
	acts, _ := env.Engine.Log.ListByBug(env.Ctx, b.ID)
	count := 0
	for _, a := range acts {
		if a.Action == domain.ActionValidated {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("validated activities = %d, want 1", count)
	}
}

func TestDeveloperCannotValidate(t *testing.T) {
	env := newTestEnv(t)
	b := report(t, env, "tess", domain.RoleTester)
	moveTo(t, env, b.ID, domain.StatusResolved, "dev", domain.RoleDeveloper)
	_, err := env.Engine.Validate(env.Ctx, engine.ValidateOptions{BugID: b.ID, ActorID: "dev", ActorRole: domain.RoleDeveloper})
	var fe policy.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected ForbiddenError, got %v", err)
	}
}

func TestAssignRecordsAssignerAsActor(t *testing.T) {
	env := newTestEnv(t)
	b := report(t, env, "tess", domain.RoleTester)
	assigned, err := env.Engine.Assign(env.Ctx, engine.AssignOptions{
		BugID: b.ID, AssigneeID: "dev", ActorID: "tess", ActorRole: domain.RoleTester,
	})
	if err != nil {
		t.Fatal(err)
	}
	if assigned.AssignedTo == nil || *assigned.AssignedTo != "dev" {
		t.Fatalf("assigned_to = %v", assigned.AssignedTo)
	}
	acts, _ := env.Engine.Log.ListByBug(env.Ctx, b.ID)
	var found bool
	for _, a := range acts {
		if a.Action == domain.ActionAssigned {
			found = true
			if a.ActorID != "tess" {
				t.Fatalf("actor = %s, want the assigner", a.ActorID)
			}
			if a.AssigneeID == nil || *a.AssigneeID != "dev" {
				t.Fatalf("assignee payload = %v", a.AssigneeID)
			}
		}
	}
	if !found {
		t.Fatalf("no assigned activity")
	}

	_, err = env.Engine.Assign(env.Ctx, engine.AssignOptions{
		BugID: b.ID, AssigneeID: "ghost", ActorID: "tess", ActorRole: domain.RoleTester,
	})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for unknown assignee, got %v", err)
	}
}

func TestStatusChangeCarriesPayload(t *testing.T) {
	env := newTestEnv(t)
	b := report(t, env, "tess", domain.RoleTester)
	moveTo(t, env, b.ID, domain.StatusInProgress, "dev", domain.RoleDeveloper)
	acts, _ := env.Engine.Log.ListByBug(env.Ctx, b.ID)
	// newest first: status_changed then reported
	if len(acts) != 2 {
		t.Fatalf("activities = %d", len(acts))
	}
	if acts[0].Action != domain.ActionStatusChanged {
		t.Fatalf("newest action = %s", acts[0].Action)
	}
	if acts[0].NewStatus == nil || *acts[0].NewStatus != domain.StatusInProgress {
		t.Fatalf("new_status payload = %v", acts[0].NewStatus)
	}
}

func TestActivityOrderBreaksTimestampTies(t *testing.T) {
	env := newTestEnv(t)
	// fixed clock: every entry shares one timestamp, insertion order decides
	b := report(t, env, "tess", domain.RoleTester)
	moveTo(t, env, b.ID, domain.StatusInProgress, "dev", domain.RoleDeveloper)
	moveTo(t, env, b.ID, domain.StatusResolved, "dev", domain.RoleDeveloper)
	acts, err := env.Engine.Log.ListByBug(env.Ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(acts) != 3 {
		t.Fatalf("activities = %d", len(acts))
	}
	for i := 1; i < len(acts); i++ {
		if acts[i-1].Seq <= acts[i].Seq {
			t.Fatalf("feed not newest-first by seq: %d then %d", acts[i-1].Seq, acts[i].Seq)
		}
	}
}

func TestUpdateStatusVersionConflict(t *testing.T) {
	env := newTestEnv(t)
	b := report(t, env, "tess", domain.RoleTester)
	stale := b.Version
	moveTo(t, env, b.ID, domain.StatusInProgress, "dev", domain.RoleDeveloper)

	_, err := env.Engine.UpdateStatus(env.Ctx, engine.UpdateStatusOptions{
		BugID: b.ID, NewStatus: domain.StatusResolved,
		ActorID: "dev", ActorRole: domain.RoleDeveloper,
		ExpectedVersion: &stale,
	})
	if !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	current, _ := env.Engine.Repo.GetBug(env.Ctx, b.ID)
	ver := current.Version
	moved, err := env.Engine.UpdateStatus(env.Ctx, engine.UpdateStatusOptions{
		BugID: b.ID, NewStatus: domain.StatusResolved,
		ActorID: "dev", ActorRole: domain.RoleDeveloper,
		ExpectedVersion: &ver,
	})
	if err != nil {
		t.Fatalf("fresh version should win: %v", err)
	}
	if moved.Version != ver+1 {
		t.Fatalf("version = %d, want %d", moved.Version, ver+1)
	}
}

func TestCommentAppendsActivity(t *testing.T) {
	env := newTestEnv(t)
	b := report(t, env, "tess", domain.RoleTester)
	c, err := env.Engine.Comment(env.Ctx, engine.CommentOptions{
		BugID: b.ID, Message: "can reproduce on staging", ActorID: "dev", ActorRole: domain.RoleDeveloper,
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.AuthorID != "dev" {
		t.Fatalf("author = %s", c.AuthorID)
	}
	comments, err := env.Engine.Repo.ListComments(env.Ctx, b.ID)
	if err != nil || len(comments) != 1 {
		t.Fatalf("comments = %v, err %v", comments, err)
	}
	acts, _ := env.Engine.Log.ListByBug(env.Ctx, b.ID)
	if acts[0].Action != domain.ActionCommented {
		t.Fatalf("newest action = %s", acts[0].Action)
	}

	_, err = env.Engine.Comment(env.Ctx, engine.CommentOptions{
		BugID: b.ID, ActorID: "dev", ActorRole: domain.RoleDeveloper,
	})
	var ie engine.InvalidInputError
	if !errors.As(err, &ie) {
		t.Fatalf("expected InvalidInputError for empty message, got %v", err)
	}
}

func TestFullLifecycle(t *testing.T) {
	env := newTestEnv(t)
	b := report(t, env, "tess", domain.RoleTester)
	b = moveTo(t, env, b.ID, domain.StatusInProgress, "dev", domain.RoleDeveloper)
	b = moveTo(t, env, b.ID, domain.StatusResolved, "dev", domain.RoleDeveloper)

	// developer cannot close even a validated bug
	if _, err := env.Engine.Validate(env.Ctx, engine.ValidateOptions{BugID: b.ID, ActorID: "tess", ActorRole: domain.RoleTester}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.UpdateStatus(env.Ctx, engine.UpdateStatusOptions{
		BugID: b.ID, NewStatus: domain.StatusClosed, ActorID: "dev", ActorRole: domain.RoleDeveloper,
	}); err == nil {
		t.Fatalf("developer close should be denied")
	}

	b = moveTo(t, env, b.ID, domain.StatusClosed, "root", domain.RoleAdmin)
	if b.Status != domain.StatusClosed || !b.Validated {
		t.Fatalf("bug = %+v", b)
	}

	acts, _ := env.Engine.Log.ListByBug(env.Ctx, b.ID)
	want := []domain.Action{
		domain.ActionStatusChanged, // Closed
		domain.ActionValidated,
		domain.ActionStatusChanged, // Resolved
		domain.ActionStatusChanged, // In Progress
		domain.ActionReported,
	}
	if len(acts) != len(want) {
		t.Fatalf("activities = %d, want %d", len(acts), len(want))
	}
	for i, a := range acts {
		if a.Action != want[i] {
			t.Fatalf("acts[%d] = %s, want %s", i, a.Action, want[i])
		}
	}
}

func TestReopenFromResolvedRevokesValidation(t *testing.T) {
	env := newTestEnv(t)
	b := report(t, env, "tess", domain.RoleTester)
	moveTo(t, env, b.ID, domain.StatusResolved, "dev", domain.RoleDeveloper)
	if _, err := env.Engine.Validate(env.Ctx, engine.ValidateOptions{BugID: b.ID, ActorID: "tess", ActorRole: domain.RoleTester}); err != nil {
		t.Fatal(err)
	}
	reopened := moveTo(t, env, b.ID, domain.StatusOpen, "tess", domain.RoleTester)
	if reopened.Validated {
		t.Fatalf("leaving Resolved must revoke validation")
	}
}

func TestResolveRole(t *testing.T) {
	env := newTestEnv(t)
	role, err := env.Engine.ResolveRole(env.Ctx, "dev")
	if err != nil || role != domain.RoleDeveloper {
		t.Fatalf("role = %s, err %v", role, err)
	}
	if _, err := env.Engine.ResolveRole(env.Ctx, "ghost"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
