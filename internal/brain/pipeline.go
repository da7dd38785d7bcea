package brain

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"mnemosyne/internal/domain"
	"mnemosyne/internal/embedclient"
	"mnemosyne/internal/llm"
	"mnemosyne/internal/store"
)

const queryUseCase = "brain_chat"
const memoryEvolutionUseCase = "brain_memory_evolution"
const conversationSummaryUseCase = "brain_conversation_summary"

// coreFilesBudgetFraction is the share of the total context budget reserved
// for soul+memory before the Knowledge Map and deep topics are packed,
// per spec §4.11's "≈40%".
const coreFilesBudgetFraction = 0.4

// summarizeEveryNMessages is the messages_since_summary count at which
// SummarizeIfDue condenses older turns into conversation_summary; the threshold itself is an Open
// Question spec §4.11 leaves unspecified.
const summarizeEveryNMessages = 20
const recentMessagesKept = 8

// memoryCharCap and memorySectionsKept bound memory.md's growth; both are
// Open Question decisions (see DESIGN.md), not values spec §4.11 names.
const memoryCharCap = 8000
const memorySectionsKept = 10

var dateHeadingRe = regexp.MustCompile(`(?m)^## \d{4}-\d{2}-\d{2}`)

// Pipeline assembles two-tier chat context for an owner's Brain and drives
// the chat turn itself, grounded on topic_selector.py's selection algorithm
// and brain_builder.py's sibling chat service (not present in the
// retrieval pack; the surrounding pipeline shape is built from spec §4.11
// directly).
type Pipeline struct {
	files    store.BrainStore
	registry *llm.Registry
	embed    embedclient.Client

	providerName string
	model        string
	temperature  float64
	tokenBudget  int
}

// NewPipeline builds a Pipeline. tokenBudget is config.BrainTokenBudget.
func NewPipeline(files store.BrainStore, registry *llm.Registry, embed embedclient.Client,
	providerName, model string, temperature float64, tokenBudget int) *Pipeline {
	return &Pipeline{
		files: files, registry: registry, embed: embed,
		providerName: providerName, model: model, temperature: temperature, tokenBudget: tokenBudget,
	}
}

// Assembled is the prepared chat context for one turn.
type Assembled struct {
	SystemPrompt  string
	FilesLoaded   []string
	TopicsMatched []string
}

// Assemble builds Tier 1 (soul, memory, Knowledge Map) and Tier 2 (selected
// deep topics) into a system prompt, per spec §4.11's context-assembly
// rules: a core-files sub-budget first, then the Knowledge Map, then as
// many deep topics as fit the remainder.
func (p *Pipeline) Assemble(ctx context.Context, ownerID, query string, opts SelectOptions) (Assembled, error) {
	all, err := p.files.BrainFiles(ctx, ownerID)
	if err != nil {
		return Assembled{}, err
	}

	var soul, memory *domain.BrainFile
	var topics []domain.BrainFile
	for i := range all {
		f := all[i]
		switch f.FileType {
		case domain.FileSoul:
			soul = &f
		case domain.FileMemory:
			memory = &f
		case domain.FileTopic:
			topics = append(topics, f)
		}
	}

	coreBudget := int(float64(p.tokenBudget) * coreFilesBudgetFraction)
	var coreBuilder strings.Builder
	used := 0
	if soul != nil {
		coreBuilder.WriteString(soul.Content)
		coreBuilder.WriteString("\n\n")
		used += soul.TokenCountApprox
	}
	if memory != nil && used+memory.TokenCountApprox <= coreBudget {
		coreBuilder.WriteString(memory.Content)
		coreBuilder.WriteString("\n\n")
		used += memory.TokenCountApprox
	}

	knowledgeMap := buildKnowledgeMap(topics)
	filesLoaded := make([]string, 0, 3+len(topics))
	if soul != nil {
		filesLoaded = append(filesLoaded, "soul")
	}
	if memory != nil {
		filesLoaded = append(filesLoaded, "memory")
	}

	var queryEmbedding []float32
	if p.embed != nil && query != "" {
		if vec, err := p.embed.Embed(ctx, query); err == nil {
			queryEmbedding = vec
		}
	}
	remainingBudget := p.tokenBudget - used
	selOpts := opts
	selOpts.TokenBudget = remainingBudget
	selected := SelectTopics(topics, query, queryEmbedding, selOpts)

	byKey := make(map[string]domain.BrainFile, len(topics))
	for _, t := range topics {
		byKey[t.FileKey] = t
	}
	var deep strings.Builder
	topicsMatched := make([]string, 0, len(selected))
	for _, s := range selected {
		tf, ok := byKey[s.FileKey]
		if !ok {
			continue
		}
		deep.WriteString(tf.Content)
		deep.WriteString("\n\n")
		topicsMatched = append(topicsMatched, s.FileKey)
	}
	filesLoaded = append(filesLoaded, topicsMatched...)

	var sb strings.Builder
	sb.WriteString(brainSystemPreamble())
	sb.WriteString("\n\nYour personality:\n")
	sb.WriteString(coreBuilder.String())
	sb.WriteString("Knowledge Map (everything you know, in brief):\n")
	sb.WriteString(knowledgeMap)
	sb.WriteString("\n\n")
	if len(topicsMatched) > 0 {
		sb.WriteString("Deep knowledge on topics relevant to this conversation:\n")
		sb.WriteString(deep.String())
	} else if len(topics) > 0 {
		sb.WriteString("Nothing in Deep Knowledge matched this query closely enough to load in full. " +
			"Answer honestly that you only have the brief Knowledge Map summary for this, and don't invent detail beyond it.\n")
	}

	return Assembled{SystemPrompt: sb.String(), FilesLoaded: filesLoaded, TopicsMatched: topicsMatched}, nil
}

func brainSystemPreamble() string {
	return "You are Mnemosyne, the user's personal knowledge companion. You've internalized their notes and " +
		"ideas rather than searching them on demand, so speak from that understanding directly: no citation " +
		"markers, no \"according to note X\". Draw connections across topics where they're genuinely relevant, " +
		"and say plainly when something isn't part of your knowledge instead of guessing."
}

func buildKnowledgeMap(topics []domain.BrainFile) string {
	if len(topics) == 0 {
		return "Nothing built yet."
	}
	sorted := append([]domain.BrainFile(nil), topics...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].FileKey < sorted[j].FileKey })
	var b strings.Builder
	for i, t := range sorted {
		if i > 0 {
			b.WriteString("\n")
		}
		summary := t.CompressedContent
		if summary == "" {
			summary = truncate(t.Content, 200)
		}
		b.WriteString("- " + t.Title + ": " + summary)
	}
	return b.String()
}

// Respond assembles context, asks the LLM to answer the query, and
// persists both sides of the turn with the files/topics that fed it.
func (p *Pipeline) Respond(ctx context.Context, ownerID, conversationID, query string, opts SelectOptions) (string, Assembled, error) {
	assembled, err := p.Assemble(ctx, ownerID, query, opts)
	if err != nil {
		return "", Assembled{}, err
	}

	history, err := p.files.BrainMessages(ctx, conversationID, recentMessagesKept)
	if err != nil {
		return "", Assembled{}, err
	}
	convo, err := p.files.GetBrainConversation(ctx, ownerID, conversationID)
	messages := []llm.Message{{Role: "system", Content: assembled.SystemPrompt}}
	if err == nil && convo.ConversationSummary != "" {
		messages = append(messages, llm.Message{Role: "system", Content: "Earlier in this conversation: " + convo.ConversationSummary})
	}
	for _, m := range history {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: query})

	outcome, err := p.registry.Generate(ctx, ownerID, p.providerName, messages, p.model, p.temperature, 2048, queryUseCase, conversationID)
	if err != nil {
		return "", assembled, err
	}

	if err := p.recordTurn(ctx, ownerID, conversationID, "user", query, nil, nil); err != nil {
		return "", assembled, err
	}
	if err := p.recordTurn(ctx, ownerID, conversationID, "assistant", outcome.Content, assembled.FilesLoaded, assembled.TopicsMatched); err != nil {
		return "", assembled, err
	}
	return outcome.Content, assembled, nil
}

func (p *Pipeline) recordTurn(ctx context.Context, ownerID, conversationID, role, content string, filesLoaded, topicsMatched []string) error {
	if err := p.files.AppendBrainMessage(ctx, domain.BrainMessage{
		ConversationID: conversationID, Role: role, Content: content,
		BrainFilesLoaded: filesLoaded, TopicsMatched: topicsMatched, CreatedAt: time.Now(),
	}); err != nil {
		return err
	}
	if role != "assistant" {
		return nil
	}
	convo, err := p.files.GetBrainConversation(ctx, ownerID, conversationID)
	if err != nil {
		return err
	}
	convo.MessagesSinceSummary++
	convo.UpdatedAt = time.Now()
	return p.files.PutBrainConversation(ctx, convo)
}

// SummarizeIfDue condenses older messages into conversation.ConversationSummary
// once messages_since_summary crosses summarizeEveryNMessages, matching
// spec §4.11's "background task periodically condenses older messages".
func (p *Pipeline) SummarizeIfDue(ctx context.Context, ownerID, conversationID string) error {
	convo, err := p.files.GetBrainConversation(ctx, ownerID, conversationID)
	if err != nil {
		return err
	}
	if convo.MessagesSinceSummary < summarizeEveryNMessages {
		return nil
	}

	all, err := p.files.BrainMessages(ctx, conversationID, 0)
	if err != nil {
		return err
	}
	if len(all) <= recentMessagesKept {
		return nil
	}
	toCondense := all[:len(all)-recentMessagesKept]

	var transcript strings.Builder
	for _, m := range toCondense {
		transcript.WriteString(m.Role + ": " + m.Content + "\n")
	}
	prompt := "Condense this portion of a conversation into a short paragraph capturing what was discussed " +
		"and any conclusions reached, for use as background context in later turns:\n\n" + transcript.String()
	if convo.ConversationSummary != "" {
		prompt = "Existing summary so far:\n" + convo.ConversationSummary + "\n\n" + prompt
	}

	text, err := p.llmGenerate(ctx, ownerID, conversationSummaryUseCase, "", prompt, 512)
	if err != nil || text == "" {
		return err
	}
	convo.ConversationSummary = text
	convo.MessagesSinceSummary = 0
	convo.UpdatedAt = time.Now()
	return p.files.PutBrainConversation(ctx, convo)
}

// EvolveMemory scans a finished conversation for novel facts and appends
// them to memory.md under a dated heading, pruning the file if it has grown
// past memoryCharCap. Grounded on prompts.py's MEMORY_EVOLUTION_PROMPT
// intent and spec §4.11's pruning rule.
func (p *Pipeline) EvolveMemory(ctx context.Context, ownerID, conversationID string) error {
	history, err := p.files.BrainMessages(ctx, conversationID, 0)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return nil
	}

	var transcript strings.Builder
	for _, m := range history {
		transcript.WriteString(m.Role + ": " + m.Content + "\n")
	}
	prompt := "Review this conversation and extract any NEW user preferences, facts, or corrections that " +
		"weren't already known. One bullet per learning, each starting with today's date like " +
		"\"- [" + time.Now().Format("2006-01-02") + "] \". If nothing new was learned, respond with exactly: NONE\n\n" +
		"CONVERSATION:\n" + transcript.String()

	text, err := p.llmGenerate(ctx, ownerID, memoryEvolutionUseCase, "", prompt, 512)
	if err != nil || text == "" || strings.TrimSpace(text) == "NONE" {
		return err
	}

	memory, err := p.files.GetBrainFile(ctx, ownerID, "memory")
	if err != nil {
		memory = defaultMemory()
	}
	memory.Content = strings.TrimRight(memory.Content, "\n") + "\n\n## " + time.Now().Format("2006-01-02") + "\n" +
		strings.TrimSpace(text) + "\n"
	if len(memory.Content) > memoryCharCap {
		memory.Content = p.pruneMemory(ctx, ownerID, memory.Content)
	}
	memory.ContentHash = contentHash(memory.Content)
	memory.TokenCountApprox = estimateTokens(memory.Content)
	memory.UpdatedAt = time.Now()
	if memory.ID == "" {
		return p.upsertMemory(ctx, ownerID, memory)
	}
	return p.files.PutBrainFile(ctx, memory)
}

func (p *Pipeline) upsertMemory(ctx context.Context, ownerID string, memory domain.BrainFile) error {
	existing, err := p.files.GetBrainFile(ctx, ownerID, "memory")
	if err == nil {
		memory.ID = existing.ID
		memory.CreatedAt = existing.CreatedAt
		memory.Version = existing.Version + 1
	} else {
		memory.CreatedAt = time.Now()
		memory.Version = 1
	}
	memory.OwnerID = ownerID
	memory.FileKey = "memory"
	memory.FileType = domain.FileMemory
	if memory.ID == "" {
		memory.ID = uuid.NewString()
	}
	return p.files.PutBrainFile(ctx, memory)
}

// pruneMemory keeps the preamble (text before the first dated heading) plus
// the memorySectionsKept most recent dated sections, replacing everything
// older with a one-line "Archived Memories" placeholder.
func (p *Pipeline) pruneMemory(ctx context.Context, ownerID, content string) string {
	locs := dateHeadingRe.FindAllStringIndex(content, -1)
	if len(locs) <= memorySectionsKept {
		return content
	}

	preamble := content[:locs[0][0]]
	keepFrom := locs[len(locs)-memorySectionsKept][0]
	kept := content[keepFrom:]
	archivedCount := len(locs) - memorySectionsKept

	placeholder := fmt.Sprintf("## Archived Memories\n%d earlier dated entries were condensed to keep this file short.\n\n",
		archivedCount)
	return strings.TrimRight(preamble, "\n") + "\n\n" + placeholder + kept
}

func (p *Pipeline) llmGenerate(ctx context.Context, ownerID, useCase, system, prompt string, maxTokens int) (string, error) {
	messages := make([]llm.Message, 0, 2)
	if system != "" {
		messages = append(messages, llm.Message{Role: "system", Content: system})
	}
	messages = append(messages, llm.Message{Role: "user", Content: prompt})
	outcome, err := p.registry.Generate(ctx, ownerID, p.providerName, messages, p.model, p.temperature, maxTokens, useCase, "")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(outcome.Content), nil
}
