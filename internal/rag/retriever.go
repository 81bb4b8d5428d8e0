package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/fairyhunter13/ai-essay-grader/internal/domain"
	"github.com/fairyhunter13/ai-essay-grader/pkg/textx"
)

// queryExcerptLen bounds how much essay text goes into the query embedding;
// similarity stabilizes well before full length and embedding cost does not.
const queryExcerptLen = 3000

// Options tunes retrieval. Zero values fall back to sane defaults.
type Options struct {
	TopK            int
	MinSimilarity   float64
	FallbackLimit   int
	CorpusScanLimit int
}

func (o Options) withDefaults() Options {
	if o.TopK <= 0 {
		o.TopK = 5
	}
	if o.MinSimilarity <= 0 {
		o.MinSimilarity = 0.70
	}
	if o.FallbackLimit <= 0 {
		o.FallbackLimit = 3
	}
	if o.CorpusScanLimit <= 0 {
		o.CorpusScanLimit = 500
	}
	return o
}

// Context is the retrieval outcome handed to prompt composition. An empty
// Exemplars slice with no error means the pipeline proceeds in degraded
// mode without reference essays.
type Context struct {
	Exemplars        []domain.Exemplar
	UsedVectorSearch bool
}

// Retriever builds retrieval contexts from the reference corpus.
type Retriever struct {
	corpus domain.CorpusRepository
	embed  domain.AIClient
	opts   Options
}

func NewRetriever(corpus domain.CorpusRepository, embed domain.AIClient, opts Options) *Retriever {
	return &Retriever{corpus: corpus, embed: embed, opts: opts.withDefaults()}
}

// BuildContext retrieves exemplars for one essay. Vector search is tried
// first; if embedding fails or nothing clears the similarity floor, it
// falls back to exact topic match ranked by word-count proximity. Every
// failure path degrades to fewer exemplars instead of failing the job.
func (r *Retriever) BuildContext(ctx context.Context, topic, content string) Context {
	if out, ok := r.vectorSearch(ctx, topic, content); ok {
		return out
	}

	exs, err := r.corpus.FindByTopic(ctx, topic, r.opts.CorpusScanLimit)
	if err != nil {
		slog.Warn("corpus topic lookup failed, proceeding without exemplars",
			slog.String("topic", topic), slog.Any("error", err))
		return Context{}
	}
	wc := textx.CountWords(content)
	sort.SliceStable(exs, func(i, j int) bool {
		return absInt(exs[i].WordCount-wc) < absInt(exs[j].WordCount-wc)
	})
	if len(exs) > r.opts.FallbackLimit {
		exs = exs[:r.opts.FallbackLimit]
	}
	if len(exs) == 0 {
		slog.Info("no exemplars found, scoring in degraded mode", slog.String("topic", topic))
	}
	return Context{Exemplars: exs}
}

func (r *Retriever) vectorSearch(ctx context.Context, topic, content string) (Context, bool) {
	query := QueryText(topic, content)
	vecs, err := r.embed.Embed(ctx, []string{query})
	if err != nil || len(vecs) == 0 {
		slog.Warn("query embedding failed, falling back to topic match", slog.Any("error", err))
		return Context{}, false
	}

	exemplars, err := r.corpus.ListWithEmbeddings(ctx, r.opts.CorpusScanLimit)
	if err != nil {
		slog.Warn("corpus scan failed, falling back to topic match", slog.Any("error", err))
		return Context{}, false
	}

	ranked := RankBySimilarity(vecs[0], exemplars, r.opts.TopK, r.opts.MinSimilarity)
	if len(ranked) == 0 {
		return Context{}, false
	}
	slog.Debug("vector retrieval selected exemplars",
		slog.Int("count", len(ranked)),
		slog.Float64("best_similarity", ranked[0].Similarity))
	return Context{Exemplars: ranked, UsedVectorSearch: true}, true
}

// QueryText renders the text embedded for retrieval. Long essays are cut to
// an excerpt so the query stays within embedding input limits.
func QueryText(topic, content string) string {
	excerpt := content
	if len(excerpt) > queryExcerptLen {
		excerpt = excerpt[:queryExcerptLen]
	}
	return fmt.Sprintf("Topic: %s\n\nEssay: %s", topic, excerpt)
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
