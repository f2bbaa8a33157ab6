package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/go-kit/log/level"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v2"

	"github.com/grafana/restructure/internal/accountant"
	"github.com/grafana/restructure/internal/cleaner"
	"github.com/grafana/restructure/internal/config"
	"github.com/grafana/restructure/internal/coordinator"
	"github.com/grafana/restructure/internal/filecache"
	"github.com/grafana/restructure/internal/lock"
	"github.com/grafana/restructure/internal/logutil"
	"github.com/grafana/restructure/internal/offsetrange"
	"github.com/grafana/restructure/internal/registry"
	"github.com/grafana/restructure/internal/worker"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed parsing config: %v\n", err)
		os.Exit(2)
	}

	logutil.InitLogger(cfg.LogLevel)

	if err := run(cfg); err != nil {
		level.Error(logutil.Logger).Log("msg", "restructure exited with error", "err", err)
		os.Exit(1)
	}
}

// loadConfig mirrors cmd/tempo/main.go's loadConfig: a throwaway FlagSet
// finds -config.file first, defaults are registered on flag.CommandLine,
// the YAML file (if any) overlays those defaults, and a final flag.Parse
// lets CLI flags win as the outermost layer.
func loadConfig() (*config.Config, error) {
	const configFileOption = "config.file"

	var configFile string
	cfg := &config.Config{}

	fs := flag.NewFlagSet("", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&configFile, configFileOption, "", "")

	args := os.Args[1:]
	for len(args) > 0 {
		_ = fs.Parse(args)
		args = args[1:]
	}

	cfg.RegisterFlagsAndApplyDefaults("", flag.CommandLine)

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read configFile %s: %w", configFile, err)
		}
		if err := yaml.UnmarshalStrict(buf, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configFile %s: %w", configFile, err)
		}
	}

	flag.String(configFileOption, "", "Configuration file to load")
	flag.Parse()

	return cfg, nil
}

func run(cfg *config.Config) error {
	ctx := context.Background()

	source, err := cfg.Source.Build()
	if err != nil {
		return fmt.Errorf("building source backend: %w", err)
	}
	destination, err := cfg.Destination.Build()
	if err != nil {
		return fmt.Errorf("building destination backend: %w", err)
	}

	format, err := registry.Format(cfg.Format)
	if err != nil {
		return err
	}
	codec, err := registry.Compression(cfg.Compression)
	if err != nil {
		return err
	}
	paths, err := registry.PathFactory("observationKey", "time")
	if err != nil {
		return err
	}

	acctTmp := cfg.TmpDir + "/accountant"
	if err := os.MkdirAll(acctTmp, 0o755); err != nil {
		return fmt.Errorf("creating accountant tmp dir: %w", err)
	}
	acct, err := accountant.New(acctTmp, 64,
		accountant.LocalAtomicPublish(acctTmp, acctTmp+"/offsets.csv"),
		accountant.LocalAtomicPublish(acctTmp, acctTmp+"/bins.csv"),
	)
	if err != nil {
		return fmt.Errorf("starting accountant: %w", err)
	}
	defer acct.Close(ctx)

	if offsets, offErr := os.Open(acctTmp + "/offsets.csv"); offErr == nil {
		bins, binErr := os.Open(acctTmp + "/bins.csv")
		if binErr == nil {
			if err := acct.Load(offsets, bins); err != nil {
				level.Warn(logutil.Logger).Log("msg", "failed to seed accountant from durable state", "err", err)
			}
			bins.Close()
		}
		offsets.Close()
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	lockClient := lock.New(rdb)

	workers := func() *worker.Worker {
		store := filecache.New(cfg.CacheSize, cfg.TmpDir, destination, codec, format, paths, acct, cfg.Deduplicate, nil, nil)
		return &worker.Worker{Source: source, Store: store, Acct: acct, MinimumFileAge: cfg.MinimumFileAge}
	}

	coord := coordinator.New(source, lockClient, workers, acct, coordinator.Config{
		NumThreads:       cfg.NumThreads,
		MaxFilesPerTopic: cfg.MaxFilesPerTopic,
		MinimumFileAge:   cfg.MinimumFileAge,
		LockPrefix:       cfg.Redis.LockPrefix,
		LockTTL:          5 * time.Minute,
	})

	tsStore := cleaner.NewTimestampFileCacheStore(destination, codec, format, paths, 0)
	clean := &cleaner.Cleaner{
		Source:    source,
		Acct:      acct,
		Paths:     paths,
		TSStore:   tsStore,
		TimeField: "time",
		Age:       cfg.CleanerAge,
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", coord.StatusHandler)
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			level.Error(logutil.Logger).Log("msg", "status server exited", "err", err)
		}
	}()

	level.Info(logutil.Logger).Log("msg", "restructure starting", "service", cfg.Service, "poll_interval", cfg.PollInterval, "cleaner_interval", cfg.CleanerInterval)

	// Two independent tickers, the same dual-select shape
	// backendscheduler.go's running method uses for its scheduleTicker and
	// prioritizeTenantsTicker: the cleaner's days-scale safety margin has
	// nothing to do with how often the restructure pass polls for new
	// source files.
	restructureTicker := time.NewTicker(cfg.PollInterval)
	defer restructureTicker.Stop()
	cleanerTicker := time.NewTicker(cfg.CleanerInterval)
	defer cleanerTicker.Stop()

	runRestructurePass := func() {
		if !cfg.NoRestructure {
			if err := coord.RunOnce(ctx); err != nil {
				level.Error(logutil.Logger).Log("msg", "coordination pass failed", "err", err)
			}
		}
	}
	runCleaner := func() {
		if cfg.Clean {
			runCleanerPass(ctx, coord, clean)
		}
	}

	runRestructurePass()
	runCleaner()
	for {
		select {
		case <-restructureTicker.C:
			runRestructurePass()
		case <-cleanerTicker.C:
			runCleaner()
		}
	}
}

// runCleanerPass re-lists each topic's source tree and offers every file
// whose name parses as an offset range to the cleaner; Clean itself keeps
// files that are not yet in the Accountant or younger than its age
// threshold. It shares no state with the coordinator beyond the Accountant
// and backend.Driver, matching spec.md §4.8's description of the Cleaner
// as an independent pass over the same source tree.
func runCleanerPass(ctx context.Context, coord *coordinator.Coordinator, clean *cleaner.Cleaner) {
	topics, err := coord.DiscoverTopics(ctx)
	if err != nil {
		level.Error(logutil.Logger).Log("msg", "cleaner: failed to discover topics", "err", err)
		return
	}

	for _, topic := range topics {
		entries, err := coord.Source.Walk(ctx, topic, -1)
		if err != nil {
			level.Error(logutil.Logger).Log("msg", "cleaner: failed to list topic files", "topic", topic, "err", err)
			continue
		}
		for _, e := range entries {
			name := path.Base(e.Path)
			rng, err := offsetrange.ParseFilename(strings.TrimSuffix(name, path.Ext(name)))
			if e.IsDir || err != nil {
				continue
			}
			f := worker.SourceFile{Path: e.Path, Range: rng, LastModified: e.LastModified, Size: e.Size}
			if _, err := clean.Clean(ctx, topic, f); err != nil {
				level.Error(logutil.Logger).Log("msg", "cleaner: failed to evaluate file", "topic", topic, "path", f.Path, "err", err)
			}
		}
	}
}
