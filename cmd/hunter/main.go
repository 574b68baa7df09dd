package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/proxyproinsight/omeganexus/internal/asn"
	"github.com/proxyproinsight/omeganexus/internal/certifier"
	"github.com/proxyproinsight/omeganexus/internal/discovery"
	"github.com/proxyproinsight/omeganexus/internal/fetch"
	"github.com/proxyproinsight/omeganexus/internal/hunter"
	"github.com/proxyproinsight/omeganexus/internal/notify"
	"github.com/proxyproinsight/omeganexus/internal/shared/config"
	"github.com/proxyproinsight/omeganexus/internal/shared/logger"
	"github.com/proxyproinsight/omeganexus/internal/store"
	"github.com/proxyproinsight/omeganexus/internal/validator"
)

func main() {
	configDir := flag.String("configdir", "configs", "Path to config directory")
	flag.Parse()

	iniPath := filepath.Join(*configDir, "hunter.ini")
	cfg, err := config.Load(iniPath)
	if err != nil {
		// Use standard fmt before logger is initialized.
		fmt.Fprintf(os.Stderr, "Fatal: Failed to load config file '%s': %v\n", iniPath, err)
		os.Exit(1)
	}
	logger.Init(cfg.Log.Level)
	l := logger.WithComponent("Main")

	st, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		l.Fatal().Err(err).Str("dir", cfg.Store.DataDir).Msg("Failed to open store.")
	}

	tables, err := asn.LoadTables(cfg.Store.ASNTables)
	if err != nil {
		l.Fatal().Err(err).Str("file", cfg.Store.ASNTables).Msg("Failed to load ASN tables.")
	}

	seeds, err := discovery.LoadSeeds(cfg.Store.SeedSources)
	if err != nil {
		l.Fatal().Err(err).Str("file", cfg.Store.SeedSources).Msg("Failed to load seed sources.")
	}
	discovery.SeedSources(st, seeds)

	detector := asn.NewDetector(tables)
	cache := asn.NewCache(detector.Lookup, time.Duration(cfg.ASN.CacheTTLSeconds)*time.Second)

	v := validator.New(cache,
		time.Duration(cfg.Validate.FastTimeoutSeconds)*time.Second,
		time.Duration(cfg.Validate.FullTimeoutSeconds)*time.Second,
	).WithAbuseKey(cfg.ASN.AbuseAPIKey)

	cert := certifier.New(v, cache,
		time.Duration(cfg.Validate.FullTimeoutSeconds)*time.Second,
		time.Duration(cfg.Certify.RotationSpacingSecs)*time.Second,
	).WithAbuse(cfg.ASN.AbuseAPIKey != "")

	fetcher := fetch.NewFetcher(time.Duration(cfg.Hunt.FetchTimeoutSeconds)*time.Second, cfg.Hunt.FetchAttempts)
	notifier := notify.New(cfg.Notify.WebhookURL)

	h := hunter.New(cfg, st, fetcher, v, cert, notifier)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Discovery.Enabled {
		d := discovery.New(st, cfg.Discovery.GithubToken)
		go d.Run(ctx, time.Duration(cfg.Discovery.IntervalSeconds)*time.Second)
	}

	h.Run(ctx)

	notifier.Wait()
	if err := st.Flush(); err != nil {
		l.Error().Err(err).Msg("Final store flush failed.")
	}
	l.Info().Msg("Shutdown complete.")
}
