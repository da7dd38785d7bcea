package brain

import (
	"context"
	"testing"
	"time"

	"mnemosyne/internal/domain"
)

func mkNote(id, title, content string, age time.Duration) domain.Note {
	return domain.Note{
		ID: id, OwnerID: "owner1", Title: title, Content: content,
		CreatedAt: time.Now().Add(-age), UpdatedAt: time.Now().Add(-age),
	}
}

func TestBuildFailsWithTooFewNotes(t *testing.T) {
	notes := newFakeNoteStore(mkNote("n1", "One", "content one", time.Hour))
	files := newFakeBrainStore()
	b := New(notes, files, &fakeClusterer{}, newRegistry("ignored"), &fakeEmbedClient{dim: 3}, "fake", "fake-model", 0.5)

	report, err := b.Build(context.Background(), "owner1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Status != "failed" {
		t.Fatalf("expected failed status, got %q", report.Status)
	}
	if report.ErrorMessage == "" {
		t.Fatal("expected an error message explaining the shortfall")
	}
}

func TestBuildGeneratesTopicsAndCoreFiles(t *testing.T) {
	c0, c1 := 0, 1
	notes := newFakeNoteStore(
		withCommunity(mkNote("n1", "Go Concurrency", "goroutines and channels", time.Hour), &c0),
		withCommunity(mkNote("n2", "Go Generics", "type parameters in go", 2*time.Hour), &c0),
		withCommunity(mkNote("n3", "Sourdough Bread", "levain and hydration ratios", 3*time.Hour), &c1),
		withCommunity(mkNote("n4", "Baking Pastry", "lamination and butter blocks", 4*time.Hour), &c1),
	)
	files := newFakeBrainStore()
	cluster := &fakeClusterer{communities: []domain.CommunityMetadata{{CommunityID: 0}, {CommunityID: 1}}}
	b := New(notes, files, cluster, newRegistry("# Generated Topic\n\nSome body text."), &fakeEmbedClient{dim: 3}, "fake", "fake-model", 0.5)

	var lastPct int
	report, err := b.Build(context.Background(), "owner1", func(pct int, step string) { lastPct = pct })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Status != "completed" {
		t.Fatalf("expected completed, got %q: %s", report.Status, report.ErrorMessage)
	}
	if report.NotesProcessed != 4 {
		t.Fatalf("expected 4 notes processed, got %d", report.NotesProcessed)
	}
	if report.TopicFilesGenerated != 2 {
		t.Fatalf("expected 2 topic files, got %d", report.TopicFilesGenerated)
	}
	if lastPct != 100 {
		t.Fatalf("expected final progress 100, got %d", lastPct)
	}

	all, _ := files.BrainFiles(context.Background(), "owner1")
	byKey := map[string]domain.BrainFile{}
	for _, f := range all {
		byKey[f.FileKey] = f
	}
	for _, key := range []string{"soul", "memory", "askimap", "mnemosyne", "user_profile", "topic_0", "topic_1"} {
		if _, ok := byKey[key]; !ok {
			t.Errorf("expected brain file %q to exist after build", key)
		}
	}
	if byKey["topic_0"].CompressedContent == "" {
		t.Error("expected topic_0 to have compressed content")
	}
}

func TestBuildPreservesUserEditedSoul(t *testing.T) {
	notes := newFakeNoteStore(
		mkNote("n1", "A", "alpha content", time.Hour),
		mkNote("n2", "B", "beta content", 2*time.Hour),
		mkNote("n3", "C", "gamma content", 3*time.Hour),
	)
	files := newFakeBrainStore()
	edited := domain.BrainFile{
		FileKey: "soul", FileType: domain.FileSoul, Title: "My Soul", Content: "custom personality",
		IsUserEdited: true, Version: 1, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	_ = files.PutBrainFile(context.Background(), edited)

	b := New(notes, files, &fakeClusterer{}, newRegistry("# Topic\n\nbody"), &fakeEmbedClient{dim: 3}, "fake", "fake-model", 0.5)
	_, err := b.Build(context.Background(), "owner1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	soul, err := files.GetBrainFile(context.Background(), "owner1", "soul")
	if err != nil {
		t.Fatalf("expected soul file to exist: %v", err)
	}
	if soul.Content != "custom personality" {
		t.Fatalf("expected user-edited soul to survive rebuild, got %q", soul.Content)
	}
}

func TestBuildCleansUpOrphanedTopics(t *testing.T) {
	notes := newFakeNoteStore(
		mkNote("n1", "A", "alpha content", time.Hour),
		mkNote("n2", "B", "beta content", 2*time.Hour),
		mkNote("n3", "C", "gamma content", 3*time.Hour),
	)
	files := newFakeBrainStore()
	stale := domain.BrainFile{
		FileKey: "topic_99", FileType: domain.FileTopic, Title: "Stale Topic",
		Content: "old", CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	_ = files.PutBrainFile(context.Background(), stale)

	b := New(notes, files, &fakeClusterer{}, newRegistry("# Topic\n\nbody"), &fakeEmbedClient{dim: 3}, "fake", "fake-model", 0.5)
	_, err := b.Build(context.Background(), "owner1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := files.GetBrainFile(context.Background(), "owner1", "topic_99"); err == nil {
		t.Fatal("expected stale topic_99 to be cleaned up after rebuild")
	}
}

func withCommunity(n domain.Note, cid *int) domain.Note {
	n.CommunityID = cid
	return n
}
