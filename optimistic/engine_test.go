package optimistic

import (
	"testing"

	"github.com/sylphxai/lens-go"
)

func TestEngine_ApplyWritesPatchImmediately(t *testing.T) {
	e := New()
	cell := lens.NewEntityCell("User", "u1", map[string]any{"name": "Ada"}, nil, nil)

	entry := e.Apply("User", "u1", cell, map[string]any{"name": "Grace"})

	if got := cell.Field("name").Peek(); got != "Grace" {
		t.Fatalf("expected optimistic patch applied immediately, got %v", got)
	}
	if len(e.Pending()) != 1 || e.Pending()[0] != entry.ID {
		t.Fatalf("expected entry to be pending, got %v", e.Pending())
	}
}

func TestEngine_RollbackRestoresPriorValue(t *testing.T) {
	e := New()
	cell := lens.NewEntityCell("User", "u1", map[string]any{"name": "Ada"}, nil, nil)

	entry := e.Apply("User", "u1", cell, map[string]any{"name": "Grace"})
	e.Rollback(entry.ID)

	if got := cell.Field("name").Peek(); got != "Ada" {
		t.Fatalf("expected rollback to restore prior value, got %v", got)
	}
	if len(e.Pending()) != 0 {
		t.Fatalf("expected no pending entries after rollback, got %v", e.Pending())
	}
}

func TestEngine_ConfirmAppliesServerResultForMentionedFields(t *testing.T) {
	e := New()
	cell := lens.NewEntityCell("User", "u1", map[string]any{"name": "Ada", "bio": "old"}, nil, nil)

	entry := e.Apply("User", "u1", cell, map[string]any{"name": "Grace"})
	e.Confirm(entry.ID, map[string]any{"name": "Grace Hopper", "bio": "new"})

	if got := cell.Field("name").Peek(); got != "Grace Hopper" {
		t.Fatalf("expected server result to win, got %v", got)
	}
	if got := cell.Field("bio").Peek(); got != "new" {
		t.Fatalf("expected server-only field to be applied too, got %v", got)
	}
}

func TestEngine_ConfirmRevertsUnmentionedPatchedField(t *testing.T) {
	e := New()
	cell := lens.NewEntityCell("User", "u1", map[string]any{"name": "Ada"}, nil, nil)

	entry := e.Apply("User", "u1", cell, map[string]any{"name": "Grace"})
	// Server result says nothing about "name" — it implicitly rejected the change.
	e.Confirm(entry.ID, map[string]any{})

	if got := cell.Field("name").Peek(); got != "Ada" {
		t.Fatalf("expected field unmentioned by the server result to revert, got %v", got)
	}
}

func TestEngine_ApplyCreateRollbackDisposesCell(t *testing.T) {
	e := New()
	var created *lens.EntityCell
	disposed := false

	entry := e.ApplyCreate("User", "u9", func() *lens.EntityCell {
		created = lens.NewEntityCell("User", "u9", nil, nil, func() { disposed = true })
		return created
	}, map[string]any{"name": "New User"})

	if got := created.Field("name").Peek(); got != "New User" {
		t.Fatalf("expected optimistic create patch applied immediately, got %v", got)
	}

	e.Rollback(entry.ID)

	if !disposed {
		t.Fatal("expected rollback of a speculative create to dispose the entity cell")
	}
	if len(e.Pending()) != 0 {
		t.Fatalf("expected no pending entries after rollback, got %v", e.Pending())
	}
}

func TestEngine_ApplyCreateConfirmInstallsServerData(t *testing.T) {
	e := New()
	var created *lens.EntityCell

	entry := e.ApplyCreate("User", "u9", func() *lens.EntityCell {
		created = lens.NewEntityCell("User", "u9", nil, nil, nil)
		return created
	}, map[string]any{"name": "New User"})

	e.Confirm(entry.ID, map[string]any{"name": "New User", "id": "u9"})

	if got := created.Field("name").Peek(); got != "New User" {
		t.Fatalf("expected confirmed name, got %v", got)
	}
	if got := created.Field("id").Peek(); got != "u9" {
		t.Fatalf("expected server-assigned id installed, got %v", got)
	}
}

func TestEngine_ApplyDeleteInstallsTombstone(t *testing.T) {
	e := New()
	cell := lens.NewEntityCell("User", "u1", map[string]any{"name": "Ada"}, nil, nil)

	e.ApplyDelete("User", "u1", cell)

	if got := cell.Field("__deleted").Peek(); got != true {
		t.Fatalf("expected tombstone field set, got %v", got)
	}
	if got := cell.Field("name").Peek(); got != "Ada" {
		t.Fatalf("expected existing fields untouched by the tombstone, got %v", got)
	}
}

func TestEngine_RollbackRestoresSnapshotAfterApplyDelete(t *testing.T) {
	e := New()
	cell := lens.NewEntityCell("User", "u1", map[string]any{"name": "Ada"}, nil, nil)

	entry := e.ApplyDelete("User", "u1", cell)
	e.Rollback(entry.ID)

	if got := cell.Field("__deleted").Peek(); got != nil {
		t.Fatalf("expected tombstone cleared on rollback, got %v", got)
	}
	if got := cell.Field("name").Peek(); got != "Ada" {
		t.Fatalf("expected prior field restored on rollback, got %v", got)
	}
}

func TestEngine_ConfirmDeleteKeepsTombstone(t *testing.T) {
	e := New()
	cell := lens.NewEntityCell("User", "u1", map[string]any{"name": "Ada"}, nil, nil)

	entry := e.ApplyDelete("User", "u1", cell)
	e.ConfirmDelete(entry.ID)

	if got := cell.Field("__deleted").Peek(); got != true {
		t.Fatalf("expected tombstone to remain set after confirm, got %v", got)
	}
	if len(e.Pending()) != 0 {
		t.Fatalf("expected no pending entries after confirm, got %v", e.Pending())
	}
}

func TestEngine_DoubleSettleIsNoop(t *testing.T) {
	e := New()
	cell := lens.NewEntityCell("User", "u1", map[string]any{"name": "Ada"}, nil, nil)

	entry := e.Apply("User", "u1", cell, map[string]any{"name": "Grace"})
	e.Confirm(entry.ID, map[string]any{"name": "Grace Hopper"})
	e.Rollback(entry.ID)

	if got := cell.Field("name").Peek(); got != "Grace Hopper" {
		t.Fatalf("expected second settlement to be a no-op, got %v", got)
	}
}
