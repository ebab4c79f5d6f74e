package activity_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"bugtrail/internal/activity"
	"bugtrail/internal/db"
	"bugtrail/internal/domain"
	"bugtrail/internal/migrate"
)

func newLog(t *testing.T) (activity.Log, *sql.DB) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()
	now := "2026-01-01T00:00:00Z"
	if _, err := conn.ExecContext(ctx, `INSERT INTO projects(id,name,created_at) VALUES ('p','P',?)`, now); err != nil {
		t.Fatal(err)
	}
	if _, err := conn.ExecContext(ctx, `INSERT INTO users(id,name,email,role,created_at) VALUES ('u','U','u@example.com','tester',?)`, now); err != nil {
		t.Fatal(err)
	}
	if _, err := conn.ExecContext(ctx, `INSERT INTO bugs(id,project_id,reported_by,title,status,priority,severity,type,created_at,updated_at) VALUES ('b','p','u','B','Open','Medium','Minor','defect',?,?)`, now, now); err != nil {
		t.Fatal(err)
	}
	return activity.Log{DB: conn, Now: func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }}, conn
}

func appendEntry(t *testing.T, l activity.Log, conn *sql.DB, e activity.Entry) domain.Activity {
	t.Helper()
	tx, err := conn.BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	a, err := l.Append(context.Background(), tx, e)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	return a
}

func TestAppendAssignsSequence(t *testing.T) {
	l, conn := newLog(t)
	first := appendEntry(t, l, conn, activity.Entry{BugID: "b", Action: domain.ActionReported, ActorID: "u"})
	status := domain.StatusInProgress
	second := appendEntry(t, l, conn, activity.Entry{BugID: "b", Action: domain.ActionStatusChanged, NewStatus: &status, ActorID: "u"})
	if second.Seq <= first.Seq {
		t.Fatalf("seq not monotonic: %d then %d", first.Seq, second.Seq)
	}
	if second.TS != "2026-01-01T00:00:00Z" {
		t.Fatalf("ts = %q", second.TS)
	}
}

func TestListByBugNewestFirstWithTiedTimestamps(t *testing.T) {
	l, conn := newLog(t)
	// fixed clock: every entry shares the timestamp, seq must decide
	actions := []domain.Action{domain.ActionReported, domain.ActionCommented, domain.ActionValidated}
	for _, a := range actions {
		appendEntry(t, l, conn, activity.Entry{BugID: "b", Action: a, ActorID: "u"})
	}
	got, err := l.ListByBug(context.Background(), "b")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("entries = %d", len(got))
	}
	for i, want := range []domain.Action{domain.ActionValidated, domain.ActionCommented, domain.ActionReported} {
		if got[i].Action != want {
			t.Fatalf("got[%d] = %s, want %s", i, got[i].Action, want)
		}
	}
}

func TestListRecentRequiresPositiveLimit(t *testing.T) {
	l, conn := newLog(t)
	appendEntry(t, l, conn, activity.Entry{BugID: "b", Action: domain.ActionReported, ActorID: "u"})
	if _, err := l.ListRecent(context.Background(), 0); err == nil {
		t.Fatalf("expected error for zero limit")
	}
	got, err := l.ListRecent(context.Background(), 10)
	if err != nil || len(got) != 1 {
		t.Fatalf("got %v, err %v", got, err)
	}
}

func TestListAfterTailsAscending(t *testing.T) {
	l, conn := newLog(t)
	var seqs []int64
	for i := 0; i < 3; i++ {
		a := appendEntry(t, l, conn, activity.Entry{BugID: "b", Action: domain.ActionCommented, ActorID: "u"})
		seqs = append(seqs, a.Seq)
	}
	got, err := l.ListAfter(context.Background(), seqs[0], 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("entries = %d", len(got))
	}
	if got[0].Seq != seqs[1] || got[1].Seq != seqs[2] {
		t.Fatalf("tail order wrong: %d, %d", got[0].Seq, got[1].Seq)
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	l, conn := newLog(t)
	status := domain.StatusResolved
	assignee := "u"
	appendEntry(t, l, conn, activity.Entry{BugID: "b", Action: domain.ActionStatusChanged, NewStatus: &status, ActorID: "u"})
	appendEntry(t, l, conn, activity.Entry{BugID: "b", Action: domain.ActionAssigned, AssigneeID: &assignee, ActorID: "u"})
	got, err := l.ListByBug(context.Background(), "b")
	if err != nil {
		t.Fatal(err)
	}
	// newest first
	if got[0].AssigneeID == nil || *got[0].AssigneeID != "u" || got[0].NewStatus != nil {
		t.Fatalf("assigned payload = %+v", got[0])
	}
	if got[1].NewStatus == nil || *got[1].NewStatus != domain.StatusResolved || got[1].AssigneeID != nil {
		t.Fatalf("status payload = %+v", got[1])
	}
}
