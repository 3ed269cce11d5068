package syncengine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/odi-dev/odi/internal/config"
	"github.com/odi-dev/odi/internal/entity"
	"github.com/odi-dev/odi/internal/odierr"
	"github.com/odi-dev/odi/internal/repo"
	"github.com/odi-dev/odi/internal/syncengine"
	"github.com/odi-dev/odi/internal/transport"
)

func openEngine(t *testing.T, dir string, strategy config.ConflictStrategy) *syncengine.Engine {
	t.Helper()
	e, err := syncengine.Open(dir, strategy, nil)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func dialFile(t *testing.T, ctx context.Context, dir string) transport.Adapter {
	t.Helper()
	a, err := transport.Dial(ctx, "file://"+dir, transport.Options{})
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func classOf(t *testing.T, result *syncengine.Result, ref string) string {
	t.Helper()
	for _, rs := range result.Refs {
		if rs.Ref == ref {
			return rs.Class.String()
		}
	}
	t.Fatalf("no RefStatus for %q in %+v", ref, result.Refs)
	return ""
}

func TestPushFastForwardAdd(t *testing.T) {
	ctx := context.Background()
	dirA, dirB := t.TempDir(), t.TempDir()

	repoA, err := repo.Open(dirA, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	iss, err := repoA.CreateIssue(ctx, "alice", entity.Issue{Title: "seed", Priority: entity.PriorityLow})
	if err != nil {
		t.Fatal(err)
	}

	engineA := openEngine(t, dirA, config.StrategyManual)
	remoteB := dialFile(t, ctx, dirB)
	result, err := engineA.Push(ctx, "b", remoteB, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if got := classOf(t, result, "issues/"+iss.ID); got != "added" {
		t.Fatalf("class = %q, want added", got)
	}
	if got := classOf(t, result, "HEAD"); got != "added" {
		t.Fatalf("HEAD class = %q, want added", got)
	}

	repoB, err := repo.Open(dirB, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := repoB.GetIssue(iss.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "seed" {
		t.Fatalf("got %+v", got)
	}
}

func TestPullFastForwardAdd(t *testing.T) {
	ctx := context.Background()
	dirA, dirB := t.TempDir(), t.TempDir()

	repoA, err := repo.Open(dirA, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	iss, err := repoA.CreateIssue(ctx, "alice", entity.Issue{Title: "seed", Priority: entity.PriorityLow})
	if err != nil {
		t.Fatal(err)
	}

	engineB := openEngine(t, dirB, config.StrategyManual)
	remoteA := dialFile(t, ctx, dirA)
	result, err := engineB.Pull(ctx, "a", remoteA, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if got := classOf(t, result, "issues/"+iss.ID); got != "added" {
		t.Fatalf("class = %q, want added", got)
	}

	repoB, err := repo.Open(dirB, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := repoB.GetIssue(iss.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "seed" {
		t.Fatalf("got %+v", got)
	}
}

// seedClone creates an issue in a fresh workspace at dirA, then pushes that
// workspace's entire state to an empty workspace at dirB, so both sides
// share a common ChangeSet ancestor before diverging independently.
func seedClone(t *testing.T, ctx context.Context, dirA, dirB string) (issueID string) {
	t.Helper()
	repoA, err := repo.Open(dirA, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	iss, err := repoA.CreateIssue(ctx, "alice", entity.Issue{
		Title: "shared", Description: "original", Priority: entity.PriorityLow,
	})
	if err != nil {
		t.Fatal(err)
	}
	engineA := openEngine(t, dirA, config.StrategyManual)
	remoteB := dialFile(t, ctx, dirB)
	if _, err := engineA.Push(ctx, "b", remoteB, "alice"); err != nil {
		t.Fatal(err)
	}
	return iss.ID
}

func TestDivergentAutoMerge(t *testing.T) {
	ctx := context.Background()
	dirA, dirB := t.TempDir(), t.TempDir()
	issueID := seedClone(t, ctx, dirA, dirB)

	repoA, err := repo.Open(dirA, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	highPriority := entity.PriorityHigh
	if _, err := repoA.UpdateIssue(ctx, "alice", issueID, repo.IssuePatch{Priority: &highPriority}); err != nil {
		t.Fatal(err)
	}

	repoB, err := repo.Open(dirB, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	newDesc := "edited by bob"
	if _, err := repoB.UpdateIssue(ctx, "bob", issueID, repo.IssuePatch{Description: &newDesc}); err != nil {
		t.Fatal(err)
	}

	engineB := openEngine(t, dirB, config.StrategyManual)
	remoteA := dialFile(t, ctx, dirA)
	result, err := engineB.Push(ctx, "a", remoteA, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if got := classOf(t, result, "issues/"+issueID); got != "merged" {
		t.Fatalf("class = %q, want merged", got)
	}

	merged, err := repoB.GetIssue(issueID)
	if err != nil {
		t.Fatal(err)
	}
	if merged.Priority != entity.PriorityHigh || merged.Description != "edited by bob" {
		t.Fatalf("expected both sides' independent edits merged, got %+v", merged)
	}

	conflicts, err := engineB.Conflicts()
	if err != nil {
		t.Fatal(err)
	}
	if len(conflicts) != 0 {
		t.Fatalf("expected no recorded conflicts after an auto-merge, got %+v", conflicts)
	}
}

func TestDivergentManualConflictRecorded(t *testing.T) {
	ctx := context.Background()
	dirA, dirB := t.TempDir(), t.TempDir()
	issueID := seedClone(t, ctx, dirA, dirB)

	repoA, err := repo.Open(dirA, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	descA := "alice's edit"
	if _, err := repoA.UpdateIssue(ctx, "alice", issueID, repo.IssuePatch{Description: &descA}); err != nil {
		t.Fatal(err)
	}

	repoB, err := repo.Open(dirB, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	descB := "bob's edit"
	if _, err := repoB.UpdateIssue(ctx, "bob", issueID, repo.IssuePatch{Description: &descB}); err != nil {
		t.Fatal(err)
	}

	engineB := openEngine(t, dirB, config.StrategyManual)
	remoteA := dialFile(t, ctx, dirA)
	result, err := engineB.Push(ctx, "a", remoteA, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if got := classOf(t, result, "issues/"+issueID); got != "conflict" {
		t.Fatalf("class = %q, want conflict", got)
	}

	conflicts, err := engineB.Conflicts()
	if err != nil {
		t.Fatal(err)
	}
	if len(conflicts) != 1 || conflicts[0].EntityID != issueID {
		t.Fatalf("expected one recorded conflict for %s, got %+v", issueID, conflicts)
	}
	if len(conflicts[0].ConflictingFields) == 0 {
		t.Fatalf("expected Description to be reported as a conflicting field")
	}
}

func TestDivergentPreferNewer(t *testing.T) {
	ctx := context.Background()
	dirA, dirB := t.TempDir(), t.TempDir()
	issueID := seedClone(t, ctx, dirA, dirB)

	repoA, err := repo.Open(dirA, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	descA := "alice's older edit"
	if _, err := repoA.UpdateIssue(ctx, "alice", issueID, repo.IssuePatch{Description: &descA}); err != nil {
		t.Fatal(err)
	}

	repoB, err := repo.Open(dirB, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	descB := "bob's newer edit"
	if _, err := repoB.UpdateIssue(ctx, "bob", issueID, repo.IssuePatch{Description: &descB}); err != nil {
		t.Fatal(err)
	}

	engineB := openEngine(t, dirB, config.StrategyPreferNewer)
	remoteA := dialFile(t, ctx, dirA)
	result, err := engineB.Push(ctx, "a", remoteA, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if got := classOf(t, result, "issues/"+issueID); got != "conflict" {
		t.Fatalf("class = %q, want conflict (prefer_newer still records via classConflictRecorded)", got)
	}

	resolved, err := repoB.GetIssue(issueID)
	if err != nil {
		t.Fatal(err)
	}
	if resolved.Description != "bob's newer edit" {
		t.Fatalf("expected the strictly-later UpdatedAt to win, got %+v", resolved)
	}
}

func TestDivergentPreferLocal(t *testing.T) {
	ctx := context.Background()
	dirA, dirB := t.TempDir(), t.TempDir()
	issueID := seedClone(t, ctx, dirA, dirB)

	repoA, err := repo.Open(dirA, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	descA := "alice's edit"
	if _, err := repoA.UpdateIssue(ctx, "alice", issueID, repo.IssuePatch{Description: &descA}); err != nil {
		t.Fatal(err)
	}

	repoB, err := repo.Open(dirB, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	descB := "bob's edit"
	if _, err := repoB.UpdateIssue(ctx, "bob", issueID, repo.IssuePatch{Description: &descB}); err != nil {
		t.Fatal(err)
	}

	// B is pushing, so B is "local" to the resolving engine.
	engineB := openEngine(t, dirB, config.StrategyPreferLocal)
	remoteA := dialFile(t, ctx, dirA)
	if _, err := engineB.Push(ctx, "a", remoteA, "bob"); err != nil {
		t.Fatal(err)
	}

	resolved, err := repoB.GetIssue(issueID)
	if err != nil {
		t.Fatal(err)
	}
	if resolved.Description != "bob's edit" {
		t.Fatalf("expected local (bob's) edit to win, got %+v", resolved)
	}
}

func TestDivergentPreferRemote(t *testing.T) {
	ctx := context.Background()
	dirA, dirB := t.TempDir(), t.TempDir()
	issueID := seedClone(t, ctx, dirA, dirB)

	repoA, err := repo.Open(dirA, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	descA := "alice's edit"
	if _, err := repoA.UpdateIssue(ctx, "alice", issueID, repo.IssuePatch{Description: &descA}); err != nil {
		t.Fatal(err)
	}

	repoB, err := repo.Open(dirB, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	descB := "bob's edit"
	if _, err := repoB.UpdateIssue(ctx, "bob", issueID, repo.IssuePatch{Description: &descB}); err != nil {
		t.Fatal(err)
	}

	// B is pushing; "remote" from B's perspective is A, so alice's edit wins.
	engineB := openEngine(t, dirB, config.StrategyPreferRemote)
	remoteA := dialFile(t, ctx, dirA)
	if _, err := engineB.Push(ctx, "a", remoteA, "bob"); err != nil {
		t.Fatal(err)
	}

	resolved, err := repoB.GetIssue(issueID)
	if err != nil {
		t.Fatal(err)
	}
	if resolved.Description != "alice's edit" {
		t.Fatalf("expected remote (alice's) edit to win, got %+v", resolved)
	}
}

func TestDivergentStructuralDeleteVsModify(t *testing.T) {
	ctx := context.Background()
	dirA, dirB := t.TempDir(), t.TempDir()
	issueID := seedClone(t, ctx, dirA, dirB)

	repoA, err := repo.Open(dirA, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := repoA.DeleteIssue(ctx, "alice", issueID); err != nil {
		t.Fatal(err)
	}

	repoB, err := repo.Open(dirB, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	descB := "bob's edit"
	if _, err := repoB.UpdateIssue(ctx, "bob", issueID, repo.IssuePatch{Description: &descB}); err != nil {
		t.Fatal(err)
	}

	engineB := openEngine(t, dirB, config.StrategyManual)
	remoteA := dialFile(t, ctx, dirA)
	result, err := engineB.Push(ctx, "a", remoteA, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if got := classOf(t, result, "issues/"+issueID); got != "conflict" {
		t.Fatalf("class = %q, want conflict", got)
	}

	conflicts, err := engineB.Conflicts()
	if err != nil {
		t.Fatal(err)
	}
	if len(conflicts) != 1 || !conflicts[0].Structural {
		t.Fatalf("expected one structural conflict, got %+v", conflicts)
	}
}

func TestPushFastForwardUpdate(t *testing.T) {
	ctx := context.Background()
	dirA, dirB := t.TempDir(), t.TempDir()
	issueID := seedClone(t, ctx, dirA, dirB)

	repoA, err := repo.Open(dirA, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	descA := "alice's edit"
	if _, err := repoA.UpdateIssue(ctx, "alice", issueID, repo.IssuePatch{Description: &descA}); err != nil {
		t.Fatal(err)
	}

	engineA := openEngine(t, dirA, config.StrategyManual)
	remoteB := dialFile(t, ctx, dirB)
	result, err := engineA.Push(ctx, "b", remoteB, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if got := classOf(t, result, "issues/"+issueID); got != "updated" {
		t.Fatalf("class = %q, want updated", got)
	}

	repoB, err := repo.Open(dirB, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := repoB.GetIssue(issueID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Description != "alice's edit" {
		t.Fatalf("got %+v", got)
	}
}

// TestDeleteThenPull exercises a clean remote-side delete: A tombstones an
// issue it shares with B, then B pulls. ListRefs must report A's tombstone
// as hash "" (not omit the ref) for B's classifyForPull to see it at all, and
// isAncestor must recognize A's delete record so the ref fast-forwards
// instead of being (wrongly) skipped or flagged divergent.
func TestDeleteThenPull(t *testing.T) {
	ctx := context.Background()
	dirA, dirB := t.TempDir(), t.TempDir()
	issueID := seedClone(t, ctx, dirA, dirB)

	repoA, err := repo.Open(dirA, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := repoA.DeleteIssue(ctx, "alice", issueID); err != nil {
		t.Fatal(err)
	}

	engineB := openEngine(t, dirB, config.StrategyManual)
	remoteA := dialFile(t, ctx, dirA)
	result, err := engineB.Pull(ctx, "a", remoteA, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if got := classOf(t, result, "issues/"+issueID); got != "updated" {
		t.Fatalf("class = %q, want updated (fast-forward delete)", got)
	}

	repoB, err := repo.Open(dirB, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := repoB.GetIssue(issueID); !errors.Is(err, odierr.ErrUnknownEntity) {
		t.Fatalf("expected the delete to propagate to B, got %v", err)
	}
}

// TestDeleteThenPushAfterRemoteDelete covers a clean delete on both sides: B
// deletes its copy of an issue that A has, independently, already deleted
// and pushed nowhere — A's ref is simply tombstoned with no further edits.
// Pushing from B must recognize both sides agree (classSkip), not resurrect
// A's copy by misreading A's tombstone as "ref absent" (fast-forward-add) or
// as an ancestor-of-everything shortcut.
func TestDeleteThenPushAfterRemoteDelete(t *testing.T) {
	ctx := context.Background()
	dirA, dirB := t.TempDir(), t.TempDir()
	issueID := seedClone(t, ctx, dirA, dirB)

	repoA, err := repo.Open(dirA, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := repoA.DeleteIssue(ctx, "alice", issueID); err != nil {
		t.Fatal(err)
	}

	repoB, err := repo.Open(dirB, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := repoB.DeleteIssue(ctx, "bob", issueID); err != nil {
		t.Fatal(err)
	}

	engineB := openEngine(t, dirB, config.StrategyManual)
	remoteA := dialFile(t, ctx, dirA)
	result, err := engineB.Push(ctx, "a", remoteA, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if got := classOf(t, result, "issues/"+issueID); got != "up-to-date" {
		t.Fatalf("class = %q, want up-to-date (both sides already deleted)", got)
	}

	if _, err := repoA.GetIssue(issueID); !errors.Is(err, odierr.ErrUnknownEntity) {
		t.Fatalf("expected A's tombstone to remain, got %v", err)
	}
}

// TestDeleteThenPushConflictsWithRemoteEdit ensures a genuine conflict (B
// deletes, A independently edits the same issue without deleting) is still
// recorded rather than silently resolved by treating A's unchanged content
// as an ancestor of B's deletion — the one case where a one-sided tombstone
// really must stay divergent.
func TestDeleteThenPushConflictsWithRemoteEdit(t *testing.T) {
	ctx := context.Background()
	dirA, dirB := t.TempDir(), t.TempDir()
	issueID := seedClone(t, ctx, dirA, dirB)

	repoA, err := repo.Open(dirA, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	descA := "alice's edit"
	if _, err := repoA.UpdateIssue(ctx, "alice", issueID, repo.IssuePatch{Description: &descA}); err != nil {
		t.Fatal(err)
	}

	repoB, err := repo.Open(dirB, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := repoB.DeleteIssue(ctx, "bob", issueID); err != nil {
		t.Fatal(err)
	}

	engineB := openEngine(t, dirB, config.StrategyManual)
	remoteA := dialFile(t, ctx, dirA)
	result, err := engineB.Push(ctx, "a", remoteA, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if got := classOf(t, result, "issues/"+issueID); got != "conflict" {
		t.Fatalf("class = %q, want conflict", got)
	}

	conflicts, err := engineB.Conflicts()
	if err != nil {
		t.Fatal(err)
	}
	if len(conflicts) != 1 || !conflicts[0].Structural {
		t.Fatalf("expected one structural conflict, got %+v", conflicts)
	}
	if _, err := repoA.GetIssue(issueID); err != nil {
		t.Fatalf("expected A's edit to survive until the conflict is resolved, got %v", err)
	}
}

// seedCloneWithAssignees is seedClone, but the seeded issue starts with a
// non-empty Assignees set so both sides diverge by adding/removing members
// of it rather than setting it from scratch.
func seedCloneWithAssignees(t *testing.T, ctx context.Context, dirA, dirB string, assignees []entity.UserID) (issueID string) {
	t.Helper()
	repoA, err := repo.Open(dirA, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	iss, err := repoA.CreateIssue(ctx, "alice", entity.Issue{
		Title: "shared", Priority: entity.PriorityLow, Assignees: assignees,
	})
	if err != nil {
		t.Fatal(err)
	}
	engineA := openEngine(t, dirA, config.StrategyManual)
	remoteB := dialFile(t, ctx, dirB)
	if _, err := engineA.Push(ctx, "b", remoteB, "alice"); err != nil {
		t.Fatal(err)
	}
	return iss.ID
}

func assigneesOf(t *testing.T, r *repo.Repository, id string) []entity.UserID {
	t.Helper()
	iss, err := r.GetIssue(id)
	if err != nil {
		t.Fatal(err)
	}
	return iss.Assignees
}

func sameMembers(t *testing.T, got, want []entity.UserID) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	seen := map[entity.UserID]bool{}
	for _, u := range got {
		seen[u] = true
	}
	for _, u := range want {
		if !seen[u] {
			t.Fatalf("got %v, want %v (missing %s)", got, want, u)
		}
	}
}

// TestDivergentSetMergeUnion covers the additions-only case: both sides add
// a distinct assignee to the same ancestor set, and the result must hold
// both without a conflict (spec.md §9's union-of-additions rule).
func TestDivergentSetMergeUnion(t *testing.T) {
	ctx := context.Background()
	dirA, dirB := t.TempDir(), t.TempDir()
	issueID := seedCloneWithAssignees(t, ctx, dirA, dirB, []entity.UserID{"carol"})

	repoA, err := repo.Open(dirA, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	aSet := []entity.UserID{"carol", "dave"}
	if _, err := repoA.UpdateIssue(ctx, "alice", issueID, repo.IssuePatch{Assignees: &aSet}); err != nil {
		t.Fatal(err)
	}

	repoB, err := repo.Open(dirB, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	bSet := []entity.UserID{"carol", "erin"}
	if _, err := repoB.UpdateIssue(ctx, "bob", issueID, repo.IssuePatch{Assignees: &bSet}); err != nil {
		t.Fatal(err)
	}

	engineB := openEngine(t, dirB, config.StrategyManual)
	remoteA := dialFile(t, ctx, dirA)
	result, err := engineB.Push(ctx, "a", remoteA, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if got := classOf(t, result, "issues/"+issueID); got != "merged" {
		t.Fatalf("class = %q, want merged", got)
	}
	sameMembers(t, assigneesOf(t, repoB, issueID), []entity.UserID{"carol", "dave", "erin"})

	conflicts, err := engineB.Conflicts()
	if err != nil {
		t.Fatal(err)
	}
	if len(conflicts) != 0 {
		t.Fatalf("expected no recorded conflicts after a union merge, got %+v", conflicts)
	}
}

// TestDivergentSetMergeIntersectRemoval covers the removals-only case: both
// sides drop a member from the ancestor set, one drops another the other
// side kept — only the jointly-removed member actually disappears (spec.md
// §9's intersection-of-removals rule); a lone removal is preserved.
func TestDivergentSetMergeIntersectRemoval(t *testing.T) {
	ctx := context.Background()
	dirA, dirB := t.TempDir(), t.TempDir()
	issueID := seedCloneWithAssignees(t, ctx, dirA, dirB, []entity.UserID{"carol", "dave"})

	repoA, err := repo.Open(dirA, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	aSet := []entity.UserID{"dave"} // alice drops carol
	if _, err := repoA.UpdateIssue(ctx, "alice", issueID, repo.IssuePatch{Assignees: &aSet}); err != nil {
		t.Fatal(err)
	}

	repoB, err := repo.Open(dirB, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	bSet := []entity.UserID{} // bob drops both carol and dave
	if _, err := repoB.UpdateIssue(ctx, "bob", issueID, repo.IssuePatch{Assignees: &bSet}); err != nil {
		t.Fatal(err)
	}

	engineB := openEngine(t, dirB, config.StrategyManual)
	remoteA := dialFile(t, ctx, dirA)
	result, err := engineB.Push(ctx, "a", remoteA, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if got := classOf(t, result, "issues/"+issueID); got != "merged" {
		t.Fatalf("class = %q, want merged", got)
	}
	// carol was dropped by both sides and disappears; dave was dropped only
	// by bob, so it survives per the intersection rule.
	sameMembers(t, assigneesOf(t, repoB, issueID), []entity.UserID{"dave"})
}

// TestDivergentSetMergeAddVsRemoveConflict covers the mixed case: one side
// adds a member while the other removes one — spec.md §9 requires this be
// flagged rather than resolved automatically in either direction.
func TestDivergentSetMergeAddVsRemoveConflict(t *testing.T) {
	ctx := context.Background()
	dirA, dirB := t.TempDir(), t.TempDir()
	issueID := seedCloneWithAssignees(t, ctx, dirA, dirB, []entity.UserID{"carol"})

	repoA, err := repo.Open(dirA, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	aSet := []entity.UserID{"carol", "dave"} // alice adds dave
	if _, err := repoA.UpdateIssue(ctx, "alice", issueID, repo.IssuePatch{Assignees: &aSet}); err != nil {
		t.Fatal(err)
	}

	repoB, err := repo.Open(dirB, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	bSet := []entity.UserID{} // bob removes carol
	if _, err := repoB.UpdateIssue(ctx, "bob", issueID, repo.IssuePatch{Assignees: &bSet}); err != nil {
		t.Fatal(err)
	}

	engineB := openEngine(t, dirB, config.StrategyManual)
	remoteA := dialFile(t, ctx, dirA)
	result, err := engineB.Push(ctx, "a", remoteA, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if got := classOf(t, result, "issues/"+issueID); got != "conflict" {
		t.Fatalf("class = %q, want conflict", got)
	}

	conflicts, err := engineB.Conflicts()
	if err != nil {
		t.Fatal(err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("expected one recorded conflict, got %+v", conflicts)
	}
	found := false
	for _, f := range conflicts[0].ConflictingFields {
		if f.Name == "Assignees" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected Assignees among conflicting fields, got %+v", conflicts[0].ConflictingFields)
	}
}

func TestConflictStorePutGetDelete(t *testing.T) {
	ctx := context.Background()
	dirA, dirB := t.TempDir(), t.TempDir()
	issueID := seedClone(t, ctx, dirA, dirB)

	repoA, err := repo.Open(dirA, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	descA := "alice's edit"
	if _, err := repoA.UpdateIssue(ctx, "alice", issueID, repo.IssuePatch{Description: &descA}); err != nil {
		t.Fatal(err)
	}
	repoB, err := repo.Open(dirB, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	descB := "bob's edit"
	if _, err := repoB.UpdateIssue(ctx, "bob", issueID, repo.IssuePatch{Description: &descB}); err != nil {
		t.Fatal(err)
	}

	engineB := openEngine(t, dirB, config.StrategyManual)
	remoteA := dialFile(t, ctx, dirA)
	if _, err := engineB.Push(ctx, "a", remoteA, "bob"); err != nil {
		t.Fatal(err)
	}

	conflicts, err := engineB.Conflicts()
	if err != nil {
		t.Fatal(err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("expected one conflict before resolution, got %+v", conflicts)
	}

	// Resolving via StrategyPreferLocal on a re-push clears the recorded
	// conflict (resolve.go's commitResolution calls conflicts.Delete).
	engineB2 := openEngine(t, dirB, config.StrategyPreferLocal)
	if _, err := engineB2.Push(ctx, "a", remoteA, "bob"); err != nil {
		t.Fatal(err)
	}
	conflicts, err = engineB2.Conflicts()
	if err != nil {
		t.Fatal(err)
	}
	if len(conflicts) != 0 {
		t.Fatalf("expected the conflict to clear after resolution, got %+v", conflicts)
	}
}
