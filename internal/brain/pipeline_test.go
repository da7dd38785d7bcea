package brain

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"mnemosyne/internal/domain"
)

func TestAssembleLoadsSoulMemoryAndMatchingTopic(t *testing.T) {
	files := newFakeBrainStore()
	ctx := context.Background()
	_ = files.PutBrainFile(ctx, domain.BrainFile{FileKey: "soul", FileType: domain.FileSoul, Content: "soul text", TokenCountApprox: 10})
	_ = files.PutBrainFile(ctx, domain.BrainFile{FileKey: "memory", FileType: domain.FileMemory, Content: "memory text", TokenCountApprox: 10})
	_ = files.PutBrainFile(ctx, domain.BrainFile{
		FileKey: "topic_0", FileType: domain.FileTopic, Title: "Go Concurrency",
		Content: "deep content about goroutines", TopicKeywords: []string{"goroutines"}, TokenCountApprox: 50,
	})

	p := NewPipeline(files, newRegistry("reply"), &fakeEmbedClient{dim: 3}, "fake", "fake-model", 0.5, 10000)
	assembled, err := p.Assemble(ctx, "owner1", "tell me about goroutines", SelectOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(assembled.SystemPrompt, "soul text") {
		t.Error("expected soul content in assembled system prompt")
	}
	if !strings.Contains(assembled.SystemPrompt, "memory text") {
		t.Error("expected memory content in assembled system prompt")
	}
	if len(assembled.TopicsMatched) != 1 || assembled.TopicsMatched[0] != "topic_0" {
		t.Fatalf("expected topic_0 to match, got %+v", assembled.TopicsMatched)
	}
	if !strings.Contains(assembled.SystemPrompt, "deep content about goroutines") {
		t.Error("expected matched topic content loaded into the prompt")
	}
}

func TestAssembleAdmitsNoMatchHonestly(t *testing.T) {
	files := newFakeBrainStore()
	ctx := context.Background()
	_ = files.PutBrainFile(ctx, domain.BrainFile{
		FileKey: "topic_0", FileType: domain.FileTopic, Title: "Sourdough Baking",
		Content: "levain details", TopicKeywords: []string{"levain"}, TokenCountApprox: 50,
	})

	p := NewPipeline(files, newRegistry("reply"), &fakeEmbedClient{dim: 0}, "fake", "fake-model", 0.5, 10000)
	assembled, err := p.Assemble(ctx, "owner1", "completely unrelated query about space travel", SelectOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(assembled.TopicsMatched) != 0 {
		t.Fatalf("expected no topic match, got %+v", assembled.TopicsMatched)
	}
	if !strings.Contains(assembled.SystemPrompt, "don't invent detail") {
		t.Error("expected the honest-admission branch to appear when nothing matched")
	}
}

func TestRespondRecordsBothSidesOfTheTurn(t *testing.T) {
	files := newFakeBrainStore()
	ctx := context.Background()
	_ = files.PutBrainConversation(ctx, domain.BrainConversation{ID: "conv1", OwnerID: "owner1"})

	p := NewPipeline(files, newRegistry("assistant reply text"), &fakeEmbedClient{dim: 3}, "fake", "fake-model", 0.5, 10000)
	reply, _, err := p.Respond(ctx, "owner1", "conv1", "hello there", SelectOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "assistant reply text" {
		t.Fatalf("expected the registry's reply to be returned, got %q", reply)
	}
	msgs, _ := files.BrainMessages(ctx, "conv1", 0)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 recorded messages (user+assistant), got %d", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Fatalf("expected user then assistant ordering, got %+v", msgs)
	}
	convo, _ := files.GetBrainConversation(ctx, "owner1", "conv1")
	if convo.MessagesSinceSummary != 1 {
		t.Fatalf("expected messages_since_summary to increment once, got %d", convo.MessagesSinceSummary)
	}
}

func TestEvolveMemoryAppendsNewLearnings(t *testing.T) {
	files := newFakeBrainStore()
	ctx := context.Background()
	_ = files.PutBrainFile(ctx, domain.BrainFile{FileKey: "memory", FileType: domain.FileMemory, Content: defaultMemoryContent})
	_ = files.AppendBrainMessage(ctx, domain.BrainMessage{ConversationID: "conv1", Role: "user", Content: "I prefer dark roast coffee", CreatedAt: time.Now()})

	learning := "- [2026-01-01] User prefers dark roast coffee"
	p := NewPipeline(files, newRegistry(learning), &fakeEmbedClient{dim: 3}, "fake", "fake-model", 0.5, 10000)
	if err := p.EvolveMemory(ctx, "owner1", "conv1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	memory, err := files.GetBrainFile(ctx, "owner1", "memory")
	if err != nil {
		t.Fatalf("expected memory file to exist: %v", err)
	}
	if !strings.Contains(memory.Content, "dark roast coffee") {
		t.Fatalf("expected new learning appended to memory, got %q", memory.Content)
	}
}

func TestEvolveMemorySkipsWhenNothingLearned(t *testing.T) {
	files := newFakeBrainStore()
	ctx := context.Background()
	_ = files.PutBrainFile(ctx, domain.BrainFile{FileKey: "memory", FileType: domain.FileMemory, Content: defaultMemoryContent})
	_ = files.AppendBrainMessage(ctx, domain.BrainMessage{ConversationID: "conv1", Role: "user", Content: "hi", CreatedAt: time.Now()})

	p := NewPipeline(files, newRegistry("NONE"), &fakeEmbedClient{dim: 3}, "fake", "fake-model", 0.5, 10000)
	if err := p.EvolveMemory(ctx, "owner1", "conv1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	memory, _ := files.GetBrainFile(ctx, "owner1", "memory")
	if memory.Content != defaultMemoryContent {
		t.Fatalf("expected memory unchanged when nothing new was learned, got %q", memory.Content)
	}
}

func TestPruneMemoryKeepsOnlyRecentSections(t *testing.T) {
	files := newFakeBrainStore()
	p := NewPipeline(files, newRegistry("reply"), &fakeEmbedClient{dim: 3}, "fake", "fake-model", 0.5, 10000)

	var sb strings.Builder
	sb.WriteString("# Memory - Conversation Learnings\n\n## Learnings\n")
	for i := 1; i <= memorySectionsKept+5; i++ {
		sb.WriteString(fmt.Sprintf("## %04d-01-%02d\n- entry\n\n", 2026, i))
	}
	pruned := p.pruneMemory(context.Background(), "owner1", sb.String())
	if !strings.Contains(pruned, "Archived Memories") {
		t.Fatalf("expected archived placeholder after pruning, got %q", pruned)
	}
}
