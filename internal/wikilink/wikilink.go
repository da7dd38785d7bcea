// Package wikilink parses and renders Obsidian-style [[wikilinks]] in note
// content, and resolves parsed targets against an owner's notes to produce
// the directed edges store.WikiLinkStore persists.
package wikilink

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"mnemosyne/internal/domain"
	"mnemosyne/internal/store"
)

// Link is a single parsed wikilink: its target title and, if present, the
// display alias after the `|`.
type Link struct {
	Target string
	Alias  string
}

var linkRe = regexp.MustCompile(`\[\[([^\]|]+)(?:\|([^\]]+))?\]\]`)

// Extract parses every [[target]] / [[target|alias]] reference out of
// content, in order of appearance, with whitespace trimmed off each part.
func Extract(content string) []Link {
	matches := linkRe.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	links := make([]Link, 0, len(matches))
	for _, m := range matches {
		links = append(links, Link{Target: strings.TrimSpace(m[1]), Alias: strings.TrimSpace(m[2])})
	}
	return links
}

// ExtractTargets returns just the target titles, dropping aliases. This is
// the half of the round-trip invariant paired with RenderTargets: for any
// list of non-empty titles free of '|', ']' and '[' and of leading/trailing
// whitespace, ExtractTargets(RenderTargets(ts)) reproduces ts exactly.
func ExtractTargets(content string) []string {
	links := Extract(content)
	if links == nil {
		return nil
	}
	targets := make([]string, len(links))
	for i, l := range links {
		targets[i] = l.Target
	}
	return targets
}

// Render formats a single link back into [[target]] or [[target|alias]].
func Render(l Link) string {
	if l.Alias == "" {
		return fmt.Sprintf("[[%s]]", l.Target)
	}
	return fmt.Sprintf("[[%s|%s]]", l.Target, l.Alias)
}

// RenderTargets renders a bare list of titles as space-separated wikilinks,
// the inverse ExtractTargets round-trips against.
func RenderTargets(targets []string) string {
	parts := make([]string, len(targets))
	for i, t := range targets {
		parts[i] = Render(Link{Target: t})
	}
	return strings.Join(parts, " ")
}

var hashtagRe = regexp.MustCompile(`(?:^|\s)#([\w-]+)`)

// ExtractHashtags returns the distinct #hashtags in content, lowercased and
// in first-seen order.
func ExtractHashtags(content string) []string {
	matches := hashtagRe.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := map[string]struct{}{}
	var tags []string
	for _, m := range matches {
		tag := strings.ToLower(m[1])
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	return tags
}

// Slugify turns a title into a URL-friendly slug: lowercase, diacritics
// stripped, non-word runs collapsed to single hyphens, leading/trailing
// hyphens trimmed.
func Slugify(title string) string {
	folded := foldDiacritics(title)

	var out strings.Builder
	lastHyphen := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			out.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen && out.Len() > 0 {
				out.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.Trim(out.String(), "-")
}

// foldDiacritics maps the common accented Latin letters to their bare ASCII
// form, approximating a Unicode normalize-and-strip-marks pass without
// pulling in a normalization library. Anything outside this table passes
// through unchanged, which for non-Latin scripts means no folding happens.
func foldDiacritics(s string) string {
	replacer := strings.NewReplacer(
		"à", "a", "á", "a", "â", "a", "ã", "a", "ä", "a", "å", "a",
		"è", "e", "é", "e", "ê", "e", "ë", "e",
		"ì", "i", "í", "i", "î", "i", "ï", "i",
		"ò", "o", "ó", "o", "ô", "o", "õ", "o", "ö", "o",
		"ù", "u", "ú", "u", "û", "u", "ü", "u",
		"ñ", "n", "ç", "c", "ý", "y", "ÿ", "y",
	)
	return replacer.Replace(s)
}

// ResolveAndReplace parses sourceContent for wikilinks, resolves each
// target against the owner's existing notes by slug match (when two notes
// share a slug, the one ListNotes returns last wins), and overwrites the
// note's outgoing edges in one call. Unresolvable targets (no note with a
// matching slug) are silently dropped: a link to a not-yet-created note is
// not an error, it simply isn't traversable until that note exists and this
// function runs again.
func ResolveAndReplace(ctx context.Context, notes store.NoteStore, links store.WikiLinkStore, ownerID, sourceNoteID, sourceContent string) ([]domain.WikiLink, error) {
	all, err := notes.ListNotes(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("wikilink: list notes: %w", err)
	}
	bySlug := make(map[string]string, len(all)) // slug -> note ID
	for _, n := range all {
		slug := n.Slug
		if slug == "" {
			slug = Slugify(n.Title)
		}
		bySlug[slug] = n.ID
	}

	parsed := Extract(sourceContent)
	resolved := make([]domain.WikiLink, 0, len(parsed))
	for _, l := range parsed {
		targetID, ok := bySlug[Slugify(l.Target)]
		if !ok || targetID == sourceNoteID {
			continue
		}
		resolved = append(resolved, domain.WikiLink{
			OwnerID:      ownerID,
			SourceNoteID: sourceNoteID,
			TargetNoteID: targetID,
			Alias:        l.Alias,
		})
	}

	if err := links.ReplaceOutgoing(ctx, sourceNoteID, resolved); err != nil {
		return nil, fmt.Errorf("wikilink: replace outgoing: %w", err)
	}
	return resolved, nil
}
