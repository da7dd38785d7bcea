package orchestrator

import (
	"context"
	"testing"

	"mnemosyne/internal/brain"
	"mnemosyne/internal/domain"
	"mnemosyne/internal/store"
)

func newBrainDeps(reply string) (Deps, *store.Memory) {
	mem := store.NewMemory()
	registry := newRegistry(reply, nil)
	embed := fakeEmbedClient{}
	builder := brain.New(mem, mem, fakeClusterer{}, registry, embed, "fake", "fake-model", 0.5)
	return Deps{
		Builder:  builder,
		Updater:  brain.NewUpdater(mem, mem, builder),
		Pipeline: brain.NewPipeline(mem, registry, embed, "fake", "fake-model", 0.5, 10000),
	}, mem
}

func TestHandleIncrementalUpdateRoutesToUpdater(t *testing.T) {
	ctx := context.Background()
	d, mem := newBrainDeps("# Topic\n\nbody")
	note := domain.Note{ID: "n1", OwnerID: "owner-1", Title: "First Note", Content: "alpha beta gamma"}
	if err := mem.PutNote(ctx, note); err != nil {
		t.Fatalf("put note: %v", err)
	}

	job := domain.Job{OwnerID: "owner-1", EntityID: "n1", Kind: domain.JobIncrementalUpdate,
		Payload: map[string]any{"change_kind": string(brain.NoteCreated)}}
	if err := d.handleIncrementalUpdate(ctx, job); err != nil {
		t.Fatalf("handleIncrementalUpdate: %v", err)
	}
}

func TestHandleMemoryEvolutionSkipsWhenNothingLearned(t *testing.T) {
	ctx := context.Background()
	d, _ := newBrainDeps("NONE")
	job := domain.Job{OwnerID: "owner-1", EntityID: "conv-1", Kind: domain.JobMemoryEvolution}
	if err := d.handleMemoryEvolution(ctx, job); err != nil {
		t.Fatalf("handleMemoryEvolution: %v", err)
	}
}

func TestHandleConversationSummaryNoOpsBelowThreshold(t *testing.T) {
	ctx := context.Background()
	d, mem := newBrainDeps("summary text")
	convo := domain.BrainConversation{ID: "conv-1", OwnerID: "owner-1", MessagesSinceSummary: 1}
	if err := mem.PutBrainConversation(ctx, convo); err != nil {
		t.Fatalf("put conversation: %v", err)
	}
	job := domain.Job{OwnerID: "owner-1", EntityID: "conv-1", Kind: domain.JobConversationSummary}
	if err := d.handleConversationSummary(ctx, job); err != nil {
		t.Fatalf("handleConversationSummary: %v", err)
	}
}

func TestHandleBrainBuildFailsWithTooFewNotes(t *testing.T) {
	ctx := context.Background()
	d, _ := newBrainDeps("reply")
	job := domain.Job{OwnerID: "owner-1", Kind: domain.JobBrainBuild}
	if err := d.handleBrainBuild(ctx, job); err == nil {
		t.Fatal("expected an error when an owner has too few notes to build a brain")
	}
}
