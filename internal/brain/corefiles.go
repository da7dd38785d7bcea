package brain

import (
	"context"
	"strconv"
	"strings"

	"mnemosyne/internal/domain"
)

// defaultSoulContent is Mnemosyne's personality scaffold the first time a
// brain is built, left alone forever once the user edits it. Equivalent in
// intent to prompts.py's DEFAULT_SOUL_CONTENT.
const defaultSoulContent = `# Soul - Personality

## Core Identity
I am Mnemosyne, a personal knowledge companion. I know the user through
their notes and ideas, and I think alongside them rather than just
retrieving for them.

## Communication Style
- Warm without being sycophantic
- Direct and honest, including about what I don't know
- I use the user's own language and terminology where it fits

## Values
- Curiosity and making unexpected connections
- Honesty over comfort
- Depth over breadth

## Behavior Guidelines
- Skip the "how can I help you" openers
- Reference specific knowledge to show I actually understand the material
- Ask a genuine follow-up question when one is warranted
`

// defaultMemoryContent is the empty scaffold the memory-evolution step
// (§4.11) appends dated learnings to. Equivalent in intent to prompts.py's
// DEFAULT_MEMORY_CONTENT.
const defaultMemoryContent = `# Memory - Conversation Learnings

This file accumulates insights from conversations with the user.

## Learnings
`

func defaultSoul() domain.BrainFile {
	return domain.BrainFile{
		FileKey: "soul", FileType: domain.FileSoul, Title: "Soul - Personality",
		Content: defaultSoulContent, TokenCountApprox: estimateTokens(defaultSoulContent),
	}
}

func defaultMemory() domain.BrainFile {
	return domain.BrainFile{
		FileKey: "memory", FileType: domain.FileMemory, Title: "Memory - Conversation Learnings",
		Content: defaultMemoryContent, TokenCountApprox: estimateTokens(defaultMemoryContent),
	}
}

func emptyCoreFile(fileKey string, fileType domain.BrainFileType, title string) domain.BrainFile {
	content := "# " + title + "\n\nNothing generated yet — build the brain once there's more to work with."
	return domain.BrainFile{
		FileKey: fileKey, FileType: fileType, Title: title,
		Content: content, TokenCountApprox: estimateTokens(content),
	}
}

// generateAskimap builds askimap.md, a question-to-topic navigation index,
// falling back to a keyword-only listing when the LLM call fails.
// Grounded on core_file_generator.py's generate_askimap.
func (b *Builder) generateAskimap(ctx context.Context, ownerID string, topics []topicSummary) domain.BrainFile {
	if len(topics) == 0 {
		return emptyCoreFile("askimap", domain.FileAskimap, "Askimap - Question Navigation")
	}

	entries := make([]string, 0, len(topics))
	for _, t := range topics {
		entries = append(entries, "### "+t.FileKey+": "+t.Title+"\n**Keywords:** "+strings.Join(t.Keywords, ", "))
	}
	prompt := "Build a question-to-topic navigation index for an AI's knowledge base.\n\n" +
		"TOPICS:\n" + buildTopicsSummary(topics) + "\n\n" +
		"Produce a markdown document:\n\n# Askimap - Question Navigation\n\n## Topic Index\n" +
		strings.Join(entries, "\n\n") + "\n\n" +
		"For each topic give 5-10 specific keywords and 3-5 example questions a user might actually ask that should route to it."

	content, err := b.generate(ctx, ownerID, "", prompt, genMaxTokens)
	if err != nil || content == "" {
		content = fallbackAskimap(topics)
	}
	return domain.BrainFile{
		FileKey: "askimap", FileType: domain.FileAskimap, Title: "Askimap - Question Navigation",
		Content: content, TokenCountApprox: estimateTokens(content),
	}
}

func fallbackAskimap(topics []topicSummary) string {
	var b strings.Builder
	b.WriteString("# Askimap - Question Navigation\n\n## Topic Index\n")
	for _, t := range topics {
		b.WriteString("### " + t.FileKey + ": " + t.Title + "\n")
		b.WriteString("**Keywords:** " + strings.Join(t.Keywords, ", ") + "\n\n")
	}
	return b.String()
}

// generateOverview builds mnemosyne.md, the master knowledge overview.
// Grounded on core_file_generator.py's generate_mnemosyne_overview.
func (b *Builder) generateOverview(ctx context.Context, ownerID string, topics []topicSummary, totalNotes, communityCount int) domain.BrainFile {
	if len(topics) == 0 {
		return emptyCoreFile("mnemosyne", domain.FileMnemosyne, "Mnemosyne - Knowledge Overview")
	}

	topicList := make([]string, len(topics))
	for i, t := range topics {
		topicList[i] = "- " + t.FileKey + ": " + t.Title
	}
	prompt := "Write a master overview of this knowledge base.\n\n" +
		"TOPICS:\n" + buildTopicsSummary(topics) + "\n\n" +
		"TOTAL NOTES: " + strconv.Itoa(totalNotes) + "\nCOMMUNITIES: " + strconv.Itoa(communityCount) + "\n\n" +
		"Produce:\n\n# Mnemosyne - Knowledge Overview\n\n" +
		"## Summary\n3-4 sentences overviewing the knowledge base.\n\n" +
		"## Topics at a Glance\n1-2 sentences per topic:\n" + strings.Join(topicList, "\n") + "\n\n" +
		"## Cross-Topic Patterns\nThemes or patterns connecting multiple topics.\n\n" +
		"## Knowledge Gaps\nAreas with limited coverage given what's here.\n\n" +
		"Stay under 600 words, be specific rather than generic."

	content, err := b.generate(ctx, ownerID, "", prompt, genMaxTokens)
	if err != nil || content == "" {
		content = "# Mnemosyne - Knowledge Overview\n\n" + strconv.Itoa(totalNotes) + " notes across " +
			strconv.Itoa(communityCount) + " topics."
	}
	return domain.BrainFile{
		FileKey: "mnemosyne", FileType: domain.FileMnemosyne, Title: "Mnemosyne - Knowledge Overview",
		Content: content, TokenCountApprox: estimateTokens(content),
	}
}

// generateUserProfile builds user_profile.md, observational notes on the
// owner's interests and writing patterns. Grounded on
// core_file_generator.py's generate_user_profile.
func (b *Builder) generateUserProfile(ctx context.Context, ownerID string, topics []topicSummary, sampleNotes []domain.Note) domain.BrainFile {
	topicsSummary := "No topics yet."
	if len(topics) > 0 {
		topicsSummary = buildTopicsSummary(topics)
	}

	var notesText strings.Builder
	n := sampleNotes
	if len(n) > 10 {
		n = n[:10]
	}
	for _, note := range n {
		title := note.Title
		if title == "" {
			title = "Untitled"
		}
		notesText.WriteString("### " + title + "\n" + truncate(note.Content, 300) + "\n\n")
	}
	sampleText := notesText.String()
	if sampleText == "" {
		sampleText = "No notes available."
	}

	prompt := "Analyze these notes and topics to sketch a profile of the person who wrote them.\n\n" +
		"TOPICS AND THEMES:\n" + topicsSummary + "\n\n" +
		"SAMPLE NOTES (recent):\n" + sampleText + "\n\n" +
		"Produce:\n\n# User Profile\n\n" +
		"## Interests & Focus Areas\nWhat are their primary interests?\n\n" +
		"## Communication Style\nWhat does their writing reveal about how they communicate?\n\n" +
		"## Expertise Areas\nWhat subjects do they seem most knowledgeable about?\n\n" +
		"## Patterns\nAny notable patterns in their note-taking?\n\n" +
		"Stay under 400 words, be observational and specific rather than generic."

	content, err := b.generate(ctx, ownerID, "", prompt, 1024)
	if err != nil || content == "" {
		content = "# User Profile\n\nNot enough data to generate a profile yet."
	}
	return domain.BrainFile{
		FileKey: "user_profile", FileType: domain.FileUserProfile, Title: "User Profile",
		Content: content, TokenCountApprox: estimateTokens(content),
	}
}
