package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/robalobadob/converge/assets"
	"github.com/robalobadob/converge/internal/config"
	"github.com/robalobadob/converge/internal/embedding"
	"github.com/robalobadob/converge/internal/httpserver"
	"github.com/robalobadob/converge/internal/match"
	"github.com/robalobadob/converge/internal/scoring"
	"github.com/robalobadob/converge/internal/shutdown"
	"github.com/robalobadob/converge/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogging(cfg)

	ctx, done := shutdown.InterruptContext(context.Background())
	defer done()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func setupLogging(cfg config.Config) {
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func loadVocabulary(path string) (*embedding.Store, error) {
	if path == "" {
		log.Warn().Msg("VOCAB_PATH not set; using the embedded demo vocabulary")
		return embedding.Load(assets.Vocabulary())
	}
	return embedding.LoadFile(path)
}

func openStore(cfg config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		return store.OpenSQLite(cfg.SQLitePath)
	case config.DriverBolt:
		return store.OpenBolt(cfg.BoltPath)
	case config.DriverMemory:
		return store.NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

func run(ctx context.Context, cfg config.Config) error {
	start := time.Now()
	vocab, err := loadVocabulary(cfg.VocabPath)
	if err != nil {
		return fmt.Errorf("load vocabulary: %w", err)
	}
	log.Info().Int("words", vocab.Len()).Int("dim", vocab.Dim()).Dur("took", time.Since(start)).Msg("vocabulary loaded")

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn().Err(err).Msg("close store")
		}
	}()

	sc, err := scoring.New(vocab, cfg.OptimalCacheSize)
	if err != nil {
		return err
	}
	svc := match.New(st, vocab, sc, log.Logger)
	srv := httpserver.New(svc, vocab, httpserver.Options{
		ClientOrigin:    cfg.ClientOrigin,
		RequestTimeout:  cfg.RequestTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          log.Logger,
	})

	log.Info().Str("port", cfg.Port).Str("store", cfg.StoreDriver).Msg("starting converge server")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(gctx, cfg.Addr()) })
	return g.Wait()
}
