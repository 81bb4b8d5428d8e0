// Package corpusseed loads gold-standard exemplar essays from a YAML file
// into the reference corpus, computing embeddings as it goes.
package corpusseed

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/ai-essay-grader/internal/domain"
	"github.com/fairyhunter13/ai-essay-grader/internal/rag"
	"github.com/fairyhunter13/ai-essay-grader/pkg/textx"
)

type seedFile struct {
	Exemplars []seedExemplar `yaml:"exemplars"`
}

type seedExemplar struct {
	ID            string   `yaml:"id"`
	Topic         string   `yaml:"topic"`
	Category      string   `yaml:"category"`
	Text          string   `yaml:"text"`
	OfficialScore int      `yaml:"officialScore"`
	Strengths     []string `yaml:"strengths"`
	Weaknesses    []string `yaml:"weaknesses"`

	Breakdown struct {
		Content              int `yaml:"content"`
		Form                 int `yaml:"form"`
		Grammar              int `yaml:"grammar"`
		Vocabulary           int `yaml:"vocabulary"`
		Spelling             int `yaml:"spelling"`
		DevelopmentCoherence int `yaml:"developmentCoherence"`
		LinguisticRange      int `yaml:"linguisticRange"`
	} `yaml:"breakdown"`
}

// Options controls seeding behavior.
type Options struct {
	// Throttle is the pause between embedding calls so seeding does not
	// trip upstream rate limits.
	Throttle time.Duration
	// SkipEmbeddings loads exemplars without vectors; retrieval then uses
	// the exact-topic fallback until a backfill run.
	SkipEmbeddings bool
}

// SeedFile ingests exemplars from the YAML file at path.
func SeedFile(ctx domain.Context, corpus domain.CorpusRepository, ai domain.AIClient, path string, opts Options) (int, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0, err
	}
	b, err := os.ReadFile(filepath.Clean(abs))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("seed file not found: %s", path)
		}
		return 0, err
	}

	var doc seedFile
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return 0, fmt.Errorf("yaml parse: %w", err)
	}
	if len(doc.Exemplars) == 0 {
		return 0, fmt.Errorf("no exemplars to seed in %s", path)
	}

	seeded := 0
	for _, se := range doc.Exemplars {
		ex, err := toExemplar(se)
		if err != nil {
			slog.Warn("skipping invalid exemplar", slog.String("topic", se.Topic), slog.Any("error", err))
			continue
		}

		if !opts.SkipEmbeddings {
			vecs, err := ai.Embed(ctx, []string{rag.QueryText(ex.Topic, ex.Text)})
			if err != nil {
				return seeded, fmt.Errorf("embed exemplar %q: %w", ex.Topic, err)
			}
			if len(vecs) == 1 {
				ex.Embedding = vecs[0]
			}
			if opts.Throttle > 0 {
				time.Sleep(opts.Throttle)
			}
		}

		if err := corpus.Put(ctx, ex); err != nil {
			return seeded, fmt.Errorf("store exemplar %q: %w", ex.Topic, err)
		}
		seeded++
	}
	if seeded == 0 {
		return 0, fmt.Errorf("all exemplars in %s were invalid", path)
	}
	slog.Info("corpus seeded", slog.String("file", path), slog.Int("exemplars", seeded))
	return seeded, nil
}

// Backfill computes embeddings for corpus rows that lack them.
func Backfill(ctx domain.Context, corpus domain.CorpusRepository, ai domain.AIClient, topics []string, throttle time.Duration) (int, error) {
	done := 0
	for _, topic := range topics {
		exs, err := corpus.FindByTopic(ctx, topic, 50)
		if err != nil {
			return done, fmt.Errorf("list topic %q: %w", topic, err)
		}
		for _, ex := range exs {
			if len(ex.Embedding) > 0 {
				continue
			}
			vecs, err := ai.Embed(ctx, []string{rag.QueryText(ex.Topic, ex.Text)})
			if err != nil {
				return done, fmt.Errorf("embed %q: %w", ex.ID, err)
			}
			if len(vecs) != 1 {
				continue
			}
			ex.Embedding = vecs[0]
			if err := corpus.Put(ctx, ex); err != nil {
				return done, fmt.Errorf("store %q: %w", ex.ID, err)
			}
			done++
			if throttle > 0 {
				time.Sleep(throttle)
			}
		}
	}
	return done, nil
}

func toExemplar(se seedExemplar) (domain.Exemplar, error) {
	topic := strings.TrimSpace(se.Topic)
	text := strings.TrimSpace(se.Text)
	if topic == "" || text == "" {
		return domain.Exemplar{}, fmt.Errorf("%w: topic and text required", domain.ErrInvalidArgument)
	}
	if se.OfficialScore < 0 || se.OfficialScore > domain.OverallScoreMax {
		return domain.Exemplar{}, fmt.Errorf("%w: official score %d out of range", domain.ErrInvalidArgument, se.OfficialScore)
	}
	return domain.Exemplar{
		ID:            se.ID,
		Topic:         topic,
		Category:      se.Category,
		Text:          text,
		WordCount:     textx.CountWords(text),
		OfficialScore: se.OfficialScore,
		Breakdown: domain.RubricScores{
			Content:              se.Breakdown.Content,
			Form:                 se.Breakdown.Form,
			Grammar:              se.Breakdown.Grammar,
			Vocabulary:           se.Breakdown.Vocabulary,
			Spelling:             se.Breakdown.Spelling,
			DevelopmentCoherence: se.Breakdown.DevelopmentCoherence,
			LinguisticRange:      se.Breakdown.LinguisticRange,
		},
		Strengths:  se.Strengths,
		Weaknesses: se.Weaknesses,
	}, nil
}
