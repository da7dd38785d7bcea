package brain

import (
	"sort"
	"strings"

	"mnemosyne/internal/domain"
	"mnemosyne/internal/embedclient"
)

// computeMaxTopics picks how many deep topics to load for a given token
// budget, ported as-is from topic_selector.py's compute_max_topics.
func computeMaxTopics(tokenBudget int) int {
	switch {
	case tokenBudget < 3000:
		return 3
	case tokenBudget <= 8000:
		return 5
	case tokenBudget <= 20000:
		return 10
	default:
		return 15
	}
}

// topicScoreRejectFloor mirrors topic_selector.py's hardcoded 0.05 cutoff.
const topicScoreRejectFloor = 0.05

// previouslyLoadedBonus rewards topics the prior conversation turn already
// surfaced, keeping the deep-knowledge set from thrashing turn to turn.
const previouslyLoadedBonus = 0.3

const (
	keywordWeight   = 0.3
	embeddingWeight = 0.7
)

// TopicScore is one scored candidate topic file, ordered highest-score
// first by SelectTopics.
type TopicScore struct {
	FileKey        string
	Title          string
	Score          float64
	KeywordScore   float64
	EmbeddingScore float64
	MatchMethod    string
	TokenCount     int
}

// SelectOptions parameterizes SelectTopics; zero values fall back to
// topic_selector.py's defaults (computed max topics, no pins).
type SelectOptions struct {
	MaxTopics          int // 0 means computeMaxTopics(TokenBudget)
	TokenBudget        int
	PinnedTopics       []string
	PreviouslyLoaded   []string
}

// SelectTopics scores every topic BrainFile against a query (keyword
// overlap + embedding cosine similarity) and greedily fills max-topics
// slots within a token budget, highest score first. Ported from
// topic_selector.py's select_topics.
func SelectTopics(topics []domain.BrainFile, query string, queryEmbedding []float32, opts SelectOptions) []TopicScore {
	if len(topics) == 0 {
		return nil
	}
	tokenBudget := opts.TokenBudget
	if tokenBudget <= 0 {
		tokenBudget = 3000
	}
	maxTopics := opts.MaxTopics
	if maxTopics <= 0 {
		maxTopics = computeMaxTopics(tokenBudget)
	}

	byKey := make(map[string]domain.BrainFile, len(topics))
	for _, t := range topics {
		byKey[t.FileKey] = t
	}
	prevSet := make(map[string]bool, len(opts.PreviouslyLoaded))
	for _, k := range opts.PreviouslyLoaded {
		prevSet[k] = true
	}
	pinnedSet := make(map[string]bool, len(opts.PinnedTopics))
	for _, k := range opts.PinnedTopics {
		pinnedSet[k] = true
	}

	queryLower := strings.ToLower(query)
	queryWords := wordSet(queryLower)

	selected := make([]TopicScore, 0, maxTopics+len(opts.PinnedTopics))
	tokensUsed := 0

	for _, key := range opts.PinnedTopics {
		tf, ok := byKey[key]
		if !ok {
			continue
		}
		if tokensUsed+tf.TokenCountApprox > tokenBudget {
			continue
		}
		kw, emb := scoreTopic(queryWords, queryLower, queryEmbedding, tf)
		combined := kw*keywordWeight + emb*embeddingWeight
		if combined < 1.0 {
			combined = 1.0 // pinned topics always rank first
		}
		selected = append(selected, TopicScore{
			FileKey: tf.FileKey, Title: tf.Title, Score: combined,
			KeywordScore: kw, EmbeddingScore: emb, MatchMethod: "pinned", TokenCount: tf.TokenCountApprox,
		})
		tokensUsed += tf.TokenCountApprox
	}

	scored := make([]TopicScore, 0, len(topics))
	for _, tf := range topics {
		if pinnedSet[tf.FileKey] {
			continue
		}
		kw, emb := scoreTopic(queryWords, queryLower, queryEmbedding, tf)
		combined := kw*keywordWeight + emb*embeddingWeight
		if prevSet[tf.FileKey] {
			combined += previouslyLoadedBonus
		}
		if combined < topicScoreRejectFloor {
			continue
		}
		method := "both"
		switch {
		case kw > 0 && emb == 0:
			method = "keyword"
		case emb > 0 && kw == 0:
			method = "embedding"
		}
		if prevSet[tf.FileKey] {
			method += "+persistent"
		}
		scored = append(scored, TopicScore{
			FileKey: tf.FileKey, Title: tf.Title, Score: combined,
			KeywordScore: kw, EmbeddingScore: emb, MatchMethod: method, TokenCount: tf.TokenCountApprox,
		})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	limit := maxTopics + len(opts.PinnedTopics)
	for _, t := range scored {
		if len(selected) >= limit {
			break
		}
		if tokensUsed+t.TokenCount > tokenBudget {
			continue
		}
		selected = append(selected, t)
		tokensUsed += t.TokenCount
	}
	return selected
}

func wordSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(s) {
		out[w] = true
	}
	return out
}

// scoreTopic computes keyword-overlap and embedding-similarity scores for
// one topic file, ported from topic_selector.py's
// _compute_keyword_score/_compute_embedding_score.
func scoreTopic(queryWords map[string]bool, queryLower string, queryEmbedding []float32, tf domain.BrainFile) (keyword, embedding float64) {
	keyword = keywordScore(queryWords, queryLower, tf)
	embedding = embeddingScore(queryEmbedding, tf)
	return
}

func keywordScore(queryWords map[string]bool, queryLower string, tf domain.BrainFile) float64 {
	if len(tf.TopicKeywords) == 0 {
		return 0
	}
	matches := 0
	for _, kw := range tf.TopicKeywords {
		if strings.Contains(queryLower, strings.ToLower(kw)) {
			matches++
		}
	}
	if matches == 0 {
		titleWords := wordSet(strings.ToLower(tf.Title))
		overlap := 0
		for w := range queryWords {
			if titleWords[w] {
				overlap++
			}
		}
		if overlap == 0 {
			return 0
		}
		ratio := float64(overlap) / float64(maxInt(len(queryWords), 1))
		if ratio > 1 {
			ratio = 1
		}
		return ratio * 0.5
	}
	ratio := float64(matches) / float64(maxInt(len(tf.TopicKeywords), 1))
	if ratio > 1 {
		ratio = 1
	}
	return ratio
}

func embeddingScore(queryEmbedding []float32, tf domain.BrainFile) float64 {
	if len(queryEmbedding) == 0 || len(tf.Embedding) == 0 {
		return 0
	}
	sim := embedclient.CosineSimilarity(queryEmbedding, tf.Embedding)
	if sim < 0 {
		return 0
	}
	return sim
}
