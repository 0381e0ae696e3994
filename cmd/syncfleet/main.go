// Copyright (c) 2025 The SyncFleet developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/inconshreveable/log15"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/syncfleet/syncfleet/api"
	"github.com/syncfleet/syncfleet/bus"
	"github.com/syncfleet/syncfleet/co"
	"github.com/syncfleet/syncfleet/coord"
	"github.com/syncfleet/syncfleet/metrics"
	"github.com/syncfleet/syncfleet/versiondb"
)

var (
	version   string
	gitCommit string
	gitTag    string
	log       = log15.New()
)

func fullVersion() string {
	versionMeta := "release"
	if gitTag == "" {
		versionMeta = "dev"
	}
	return fmt.Sprintf("%s-%s-%s", version, gitCommit, versionMeta)
}

func main() {
	app := cli.App{
		Version:   fullVersion(),
		Name:      "SyncFleet",
		Usage:     "Coordinator of a SyncFleet file-sync cluster",
		Copyright: "2025 The SyncFleet developers",
		Flags: []cli.Flag{
			configFlag,
			dataDirFlag,
			apiAddrFlag,
			apiCorsFlag,
			verbosityFlag,
			jsonLogsFlag,
			chunkSizeFlag,
			replicationDelayFlag,
			keepVersionsFlag,
			purgeAfterFlag,
			housekeepingFlag,
			cacheFlag,
			enableMetricsFlag,
		},
		Action: defaultAction,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultAction(ctx *cli.Context) error {
	defer func() { log.Info("exited") }()

	initLogger(ctx)
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	dataDir := makeDataDir(cfg)

	if cfg.EnableMetrics {
		metrics.InitializePrometheusMetrics()
	}

	db := openSyncDB(dataDir)
	defer func() { log.Info("closing sync database..."); db.Close() }()

	blobs := openBlobDB(dataDir, cfg.CacheMB)
	defer func() { log.Info("closing blob database..."); blobs.Close() }()

	c, err := coord.New(db, versiondb.NewStore(blobs), bus.New(db), coord.Options{
		ReplicationDelay: time.Duration(cfg.ReplicationDelay) * time.Millisecond,
		ChunkSize:        int(cfg.ChunkSize),
	})
	if err != nil {
		return err
	}
	defer func() { log.Info("shutting down coordinator..."); c.Shutdown() }()

	handler, apiCloser := api.New(c, api.Options{
		AllowedOrigins: cfg.APICors,
		EnableMetrics:  cfg.EnableMetrics,
	})
	defer apiCloser()

	apiSrv, apiURL := startAPIServer(cfg.APIAddr, handler)
	defer func() { log.Info("stopping API server..."); apiSrv.Shutdown(context.Background()) }()

	printStartupMessage(cfg, dataDir, apiURL)

	exitCtx := handleExitSignal()

	var goes co.Goes
	if cfg.HousekeepingMins > 0 {
		goes.Go(func() { housekeepingLoop(exitCtx, c, cfg) })
	}

	<-exitCtx.Done()
	goes.Wait()
	return nil
}

// housekeepingLoop periodically purges stale processed events, trims
// old file versions and sweeps unreferenced chunks.
func housekeepingLoop(ctx context.Context, c *coord.Coordinator, cfg *config) {
	ticker := time.NewTicker(time.Duration(cfg.HousekeepingMins) * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cutoff := time.Now().Add(-time.Duration(cfg.PurgeAfterHours) * time.Hour)
		if purged, err := c.PurgeProcessedEvents(ctx, cutoff); err != nil {
			log.Warn("event purge failed", "err", err)
		} else if purged > 0 {
			log.Info("purged processed events", "count", purged)
		}

		if cfg.KeepVersions > 0 {
			files, err := c.Files(ctx, false)
			if err != nil {
				log.Warn("listing files for version trim failed", "err", err)
				continue
			}
			for _, file := range files {
				if _, err := c.CleanupVersions(ctx, file.FileID, int(cfg.KeepVersions)); err != nil {
					log.Warn("version trim failed", "file", file.FileID, "err", err)
				}
			}
		}

		if swept, err := c.GC(); err != nil {
			log.Warn("chunk sweep failed", "err", err)
		} else if swept > 0 {
			log.Info("swept unreferenced chunks", "count", swept)
		}
	}
}

func printStartupMessage(cfg *config, dataDir string, apiURL string) {
	fmt.Printf(`Starting %v
    Version     %v
    Data dir    [ %v ]
    API portal  [ %v ]
    Metrics     [ %v ]
`,
		"SyncFleet",
		fullVersion(),
		dataDir,
		apiURL,
		map[bool]string{true: "enabled", false: "disabled"}[cfg.EnableMetrics],
	)
}
