package server

import (
	"context"
	"sync"

	"bugtrail/internal/domain"
	"bugtrail/internal/repo"
)

// Placeholder labels for references that no longer resolve. Enrichment never
// fails a feed read; a broken reference degrades to one of these.
const (
	unknownUser    = "Unknown User"
	unknownBug     = "Unknown Bug"
	unknownProject = "Unknown Project"
)

// enrichActivities resolves display names for every reference in the entries.
// Each distinct id is looked up once; users, bugs and projects are fetched
// concurrently because the lookups are independent.
func enrichActivities(ctx context.Context, r repo.Repo, entries []domain.Activity) []ActivityResponse {
	userIDs := map[string]struct{}{}
	bugIDs := map[string]struct{}{}
	for _, a := range entries {
		userIDs[a.ActorID] = struct{}{}
		if a.AssigneeID != nil {
			userIDs[*a.AssigneeID] = struct{}{}
		}
		bugIDs[a.BugID] = struct{}{}
	}

	var (
		mu    sync.Mutex
		users = make(map[string]domain.User, len(userIDs))
		bugs  = make(map[string]domain.Bug, len(bugIDs))
	)
	var wg sync.WaitGroup
	for id := range userIDs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			u, err := r.GetUser(ctx, id)
			if err != nil {
				return
			}
			mu.Lock()
			users[id] = u
			mu.Unlock()
		}(id)
	}
	for id := range bugIDs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			b, err := r.GetBug(ctx, id)
			if err != nil {
				return
			}
			mu.Lock()
			bugs[id] = b
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	projectIDs := map[string]struct{}{}
	for _, b := range bugs {
		projectIDs[b.ProjectID] = struct{}{}
	}
	projects := make(map[string]domain.Project, len(projectIDs))
	for id := range projectIDs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			p, err := r.GetProject(ctx, id)
			if err != nil {
				return
			}
			mu.Lock()
			projects[id] = p
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	res := make([]ActivityResponse, 0, len(entries))
	for _, a := range entries {
		resp := ActivityResponse{
			ID:          a.ID,
			Seq:         a.Seq,
			BugID:       a.BugID,
			BugTitle:    unknownBug,
			ProjectName: unknownProject,
			Action:      a.Action,
			NewStatus:   a.NewStatus,
			AssigneeID:  a.AssigneeID,
			ActorID:     a.ActorID,
			ActorName:   unknownUser,
			TS:          a.TS,
		}
		if u, ok := users[a.ActorID]; ok {
			resp.ActorName = u.Name
		}
		if a.AssigneeID != nil {
			name := unknownUser
			if u, ok := users[*a.AssigneeID]; ok {
				name = u.Name
			}
			resp.AssigneeName = &name
		}
		if b, ok := bugs[a.BugID]; ok {
			resp.BugTitle = b.Title
			resp.ProjectID = b.ProjectID
			if p, ok := projects[b.ProjectID]; ok {
				resp.ProjectName = p.Name
			}
		}
		res = append(res, resp)
	}
	return res
}
