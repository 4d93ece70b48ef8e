// Package assembler packs ranked retrieval candidates and conversation
// history into a bounded token budget for the language-model prompt.
package assembler

import (
	"sort"
	"strings"

	"github.com/pipewrench-ai/pipewrench/internal/chunker"
	"github.com/pipewrench-ai/pipewrench/internal/domain"
	"github.com/pipewrench-ai/pipewrench/internal/index"
)

const excerptTokens = 25

// Config controls context assembly.
type Config struct {
	// TokenBudget bounds the total tokens of query, evidence and history.
	TokenBudget int
	// OverlapTokens is the chunker overlap; adjacent chunks of the same
	// document share this many tokens.
	OverlapTokens int
	// MergeFraction merges ordinal-adjacent chunks of the same document when
	// the shared overlap exceeds this fraction of the later chunk.
	MergeFraction float64
}

// DefaultConfig provides sane defaults for context assembly.
func DefaultConfig() Config {
	return Config{
		TokenBudget:   3000,
		OverlapTokens: chunker.DefaultConfig().OverlapTokens,
		MergeFraction: 0.05,
	}
}

// Validate checks the assembly parameters.
func (c Config) Validate() error {
	if c.TokenBudget <= 0 || c.OverlapTokens < 0 || c.MergeFraction < 0 {
		return domain.NewDomainError(domain.ErrCodeInvalidInput, "token budget must be positive and overlap settings non-negative")
	}
	return nil
}

// Fragment is a unit of evidence in the assembled context: a retrieved
// chunk, or several ordinal-adjacent chunks of one document merged with
// their shared overlap removed.
type Fragment struct {
	ChunkIDs   []string
	DocumentID string
	Ordinal    int
	Text       string
	TokenCount int
	Score      float32
}

// Context is the assembled prompt material for one turn. Fragments appear
// in rank order, History in chronological order.
type Context struct {
	Query      string
	Fragments  []Fragment
	History    []domain.Turn
	TokenCount int
}

// UsedChunkIDs returns every chunk id whose text made it into the context,
// in fragment order. This is the ground truth for citations.
func (c Context) UsedChunkIDs() []string {
	var ids []string
	for _, f := range c.Fragments {
		ids = append(ids, f.ChunkIDs...)
	}
	return ids
}

// Citations builds one citation per fragment. Merged fragments yield a
// single citation carrying every folded chunk id, so the union of citation
// chunk ids is exactly UsedChunkIDs.
func (c Context) Citations() []domain.Citation {
	citations := make([]domain.Citation, 0, len(c.Fragments))
	for _, f := range c.Fragments {
		citations = append(citations, domain.Citation{
			ChunkID:        f.ChunkIDs[0],
			MergedChunkIDs: f.ChunkIDs,
			DocumentID:     f.DocumentID,
			Excerpt:        makeExcerpt(f.Text),
			Score:          f.Score,
		})
	}
	return citations
}

// Assemble packs candidates and history around the query. The query is
// always included; evidence fragments are added in rank order and history
// turns newest first, each only if it fits whole in the remaining budget.
// Older history is evicted first, never the query.
func Assemble(query string, matches []index.Match, history []domain.Turn, cfg Config) (Context, error) {
	if err := cfg.Validate(); err != nil {
		return Context{}, err
	}
	if strings.TrimSpace(query) == "" {
		return Context{}, domain.ErrEmptyQuery
	}

	ctx := Context{Query: query}
	ctx.TokenCount = chunker.CountTokens(query)
	remaining := cfg.TokenBudget - ctx.TokenCount
	if remaining < 0 {
		remaining = 0
	}

	for _, f := range mergeAdjacent(matches, cfg) {
		if f.TokenCount > remaining {
			continue
		}
		ctx.Fragments = append(ctx.Fragments, f)
		ctx.TokenCount += f.TokenCount
		remaining -= f.TokenCount
	}

	var kept []domain.Turn
	for i := len(history) - 1; i >= 0; i-- {
		cost := chunker.CountTokens(history[i].Text)
		if cost > remaining {
			break
		}
		kept = append(kept, history[i])
		ctx.TokenCount += cost
		remaining -= cost
	}
	for i := len(kept) - 1; i >= 0; i-- {
		ctx.History = append(ctx.History, kept[i])
	}

	return ctx, nil
}

// mergeAdjacent folds ordinal-consecutive chunks of the same document into
// single fragments, dropping the repeated overlap tokens, and returns the
// fragments ranked by score.
func mergeAdjacent(matches []index.Match, cfg Config) []Fragment {
	byDoc := make(map[string][]index.Match)
	for _, m := range matches {
		byDoc[m.Record.DocumentID] = append(byDoc[m.Record.DocumentID], m)
	}

	var fragments []Fragment
	for _, docMatches := range byDoc {
		sort.Slice(docMatches, func(i, j int) bool {
			return docMatches[i].Record.Ordinal < docMatches[j].Record.Ordinal
		})

		var current *Fragment
		prevOrdinal := 0
		for _, m := range docMatches {
			if current != nil && m.Record.Ordinal == prevOrdinal+1 && shouldMerge(m.Record, cfg) {
				tail := chunker.Tokens(m.Record.Text)
				if cfg.OverlapTokens < len(tail) {
					tail = tail[cfg.OverlapTokens:]
				} else {
					tail = nil
				}
				if len(tail) > 0 {
					current.Text = current.Text + " " + strings.Join(tail, " ")
					current.TokenCount += len(tail)
				}
				current.ChunkIDs = append(current.ChunkIDs, m.Record.ChunkID)
				if m.Score > current.Score {
					current.Score = m.Score
				}
				prevOrdinal = m.Record.Ordinal
				continue
			}

			if current != nil {
				fragments = append(fragments, *current)
			}
			current = &Fragment{
				ChunkIDs:   []string{m.Record.ChunkID},
				DocumentID: m.Record.DocumentID,
				Ordinal:    m.Record.Ordinal,
				Text:       m.Record.Text,
				TokenCount: m.Record.TokenCount,
				Score:      m.Score,
			}
			prevOrdinal = m.Record.Ordinal
		}
		if current != nil {
			fragments = append(fragments, *current)
		}
	}

	sort.Slice(fragments, func(i, j int) bool {
		if fragments[i].Score != fragments[j].Score {
			return fragments[i].Score > fragments[j].Score
		}
		if fragments[i].DocumentID != fragments[j].DocumentID {
			return fragments[i].DocumentID < fragments[j].DocumentID
		}
		return fragments[i].Ordinal < fragments[j].Ordinal
	})
	return fragments
}

func shouldMerge(r index.Record, cfg Config) bool {
	if cfg.OverlapTokens == 0 || r.TokenCount == 0 {
		return false
	}
	return float64(cfg.OverlapTokens)/float64(r.TokenCount) > cfg.MergeFraction
}

func makeExcerpt(text string) string {
	tokens := chunker.Tokens(text)
	if len(tokens) <= excerptTokens {
		return text
	}
	return strings.Join(tokens[:excerptTokens], " ") + "..."
}
