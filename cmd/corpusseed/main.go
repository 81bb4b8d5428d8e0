// Command corpusseed loads gold-standard exemplar essays into the
// reference corpus from a YAML file.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	aiadapter "github.com/fairyhunter13/ai-essay-grader/internal/adapter/ai"
	realai "github.com/fairyhunter13/ai-essay-grader/internal/adapter/ai/real"
	"github.com/fairyhunter13/ai-essay-grader/internal/adapter/ai/stub"
	"github.com/fairyhunter13/ai-essay-grader/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ai-essay-grader/internal/config"
	"github.com/fairyhunter13/ai-essay-grader/internal/corpusseed"
	"github.com/fairyhunter13/ai-essay-grader/internal/domain"
)

func main() {
	var (
		path     = flag.String("file", "configs/corpus/exemplars.yaml", "path to the exemplar seed file")
		throttle = flag.Duration("throttle", 200*time.Millisecond, "pause between embedding calls")
		noEmbed  = flag.Bool("skip-embeddings", false, "seed without computing embeddings")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	var aicl domain.AIClient
	if cfg.EmbeddingsAPIKey == "" && !cfg.IsProd() {
		log.Println("no embeddings API key configured, using stub client")
		aicl = stub.New()
	} else {
		aicl = realai.New(cfg, nil)
	}
	aicl = aiadapter.NewEmbedCache(aicl, cfg.EmbedCacheSize, cfg.EmbedCacheTTL)

	n, err := corpusseed.SeedFile(ctx, postgres.NewCorpusRepo(pool), aicl, *path, corpusseed.Options{
		Throttle:       *throttle,
		SkipEmbeddings: *noEmbed,
	})
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("seeded %d exemplars", n)
}
