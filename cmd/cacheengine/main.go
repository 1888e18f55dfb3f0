// cmd/cacheengine/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JonasHeinickeBio/europepmc-cache/internal/cacheconfig"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/cachetypes"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/engine"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/keynorm"
)

func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	cacheDir := os.Getenv("CACHEENGINE_DIR")
	if cacheDir == "" {
		cacheDir = "/tmp/europepmc-cache"
	}

	cfg := cacheconfig.Default()
	if cfgPath := os.Getenv("CACHEENGINE_CONFIG"); cfgPath != "" {
		loaded, err := cacheconfig.Load(cfgPath)
		if err != nil {
			logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
		}
		cfg = loaded
		logger.Info("loaded config", zap.String("path", cfgPath))
	}
	cfg.ArtifactsDir = cacheDir + "/artifacts"

	eng, err := engine.Open(cfg, cacheDir, engine.WithLogger(logger), engine.WithPrometheusExporter())
	if err != nil {
		logger.Fatal("failed to open cache engine", zap.Error(err))
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down...")
		_, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := eng.Close(); err != nil {
			logger.Error("error closing cache engine", zap.Error(err))
		}
		os.Exit(0)
	}()

	runDemo(eng, logger)

	fmt.Printf("\ncacheengine demo complete; press Ctrl+C to exit\n")
	select {}
}

// runDemo exercises one operation from each spec component so an
// operator can see the engine working end to end: a cache-aside fetch,
// an artifact store/retrieve round trip, a paginator saving one page of
// progress as a checkpoint, an error-cache suppression, and one health check.
func runDemo(eng *engine.Engine, logger *zap.Logger) {
	key, err := eng.NormalizeKey(cachetypes.DataTypeSearch, "search", keynorm.Params{"query": "cancer immunotherapy"})
	if err != nil {
		logger.Error("normalize key failed", zap.Error(err))
		return
	}

	fetchCount := 0
	fetch := func() ([]byte, error) {
		fetchCount++
		return []byte(`{"hitCount": 42}`), nil
	}
	if _, err := eng.GetOrCompute(key, cachetypes.DataTypeSearch, fetch); err != nil {
		logger.Error("get_or_compute failed", zap.Error(err))
	}
	if _, err := eng.GetOrCompute(key, cachetypes.DataTypeSearch, fetch); err != nil {
		logger.Error("get_or_compute failed", zap.Error(err))
	}
	logger.Info("cache-aside demo", zap.Int("upstream_fetches", fetchCount))

	res, err := eng.Artifacts().Store("demo-fulltext", []byte("<article>demo</article>"), nil, nil, nil)
	if err != nil {
		logger.Error("artifact store failed", zap.Error(err))
	} else {
		logger.Info("artifact stored", zap.String("hash", res.Metadata.Hash), zap.Bool("deduped", res.Deduped))
	}

	paginator, err := eng.NewPaginator("query=cancer", 25, true, false)
	if err != nil {
		logger.Error("paginator construction failed", zap.Error(err))
	} else {
		cursor := "page-2-cursor"
		if err := paginator.UpdateProgress(&cursor, 25, nil); err != nil {
			logger.Error("paginator update failed", zap.Error(err))
		}
		logger.Info("pagination checkpoint saved", zap.Int("page", paginator.State().Page))
	}

	if err := eng.Errors().CacheError(key, 503, "upstream unavailable", nil); err != nil {
		logger.Error("error cache failed", zap.Error(err))
	} else {
		logger.Info("error cache demo", zap.Bool("suppressed", eng.Errors().IsErrorCached(key, 503)))
	}

	report := eng.CheckHealth()
	logger.Info("health check", zap.String("status", string(report.Status)), zap.Int("issues", len(report.Issues)))
}
