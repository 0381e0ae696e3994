// Copyright (c) 2025 The SyncFleet developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"os"

	"github.com/pkg/errors"
	cli "gopkg.in/urfave/cli.v1"
	yaml "gopkg.in/yaml.v3"
)

// config carries everything the coordinator process needs to start.
// Values come from the optional YAML file first, then explicitly set
// flags override them.
type config struct {
	DataDir          string `yaml:"data-dir"`
	APIAddr          string `yaml:"api-addr"`
	APICors          string `yaml:"api-cors"`
	ChunkSize        uint64 `yaml:"chunk-size"`
	ReplicationDelay uint64 `yaml:"replication-delay-ms"`
	KeepVersions     uint64 `yaml:"keep-versions"`
	PurgeAfterHours  uint64 `yaml:"purge-after-hours"`
	HousekeepingMins uint64 `yaml:"housekeeping-interval-mins"`
	CacheMB          uint64 `yaml:"cache-mb"`
	EnableMetrics    bool   `yaml:"enable-metrics"`
}

func loadConfig(ctx *cli.Context) (*config, error) {
	cfg := config{
		DataDir:          ctx.String(dataDirFlag.Name),
		APIAddr:          ctx.String(apiAddrFlag.Name),
		APICors:          ctx.String(apiCorsFlag.Name),
		ChunkSize:        ctx.Uint64(chunkSizeFlag.Name),
		ReplicationDelay: ctx.Uint64(replicationDelayFlag.Name),
		KeepVersions:     ctx.Uint64(keepVersionsFlag.Name),
		PurgeAfterHours:  ctx.Uint64(purgeAfterFlag.Name),
		HousekeepingMins: ctx.Uint64(housekeepingFlag.Name),
		CacheMB:          ctx.Uint64(cacheFlag.Name),
		EnableMetrics:    ctx.Bool(enableMetricsFlag.Name),
	}

	path := ctx.String(configFlag.Name)
	if path == "" {
		return &cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithMessage(err, "read config file")
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.WithMessage(err, "parse config file")
	}

	// flags passed on the command line win over file values
	for _, override := range []struct {
		name  string
		apply func()
	}{
		{dataDirFlag.Name, func() { cfg.DataDir = ctx.String(dataDirFlag.Name) }},
		{apiAddrFlag.Name, func() { cfg.APIAddr = ctx.String(apiAddrFlag.Name) }},
		{apiCorsFlag.Name, func() { cfg.APICors = ctx.String(apiCorsFlag.Name) }},
		{chunkSizeFlag.Name, func() { cfg.ChunkSize = ctx.Uint64(chunkSizeFlag.Name) }},
		{replicationDelayFlag.Name, func() { cfg.ReplicationDelay = ctx.Uint64(replicationDelayFlag.Name) }},
		{keepVersionsFlag.Name, func() { cfg.KeepVersions = ctx.Uint64(keepVersionsFlag.Name) }},
		{purgeAfterFlag.Name, func() { cfg.PurgeAfterHours = ctx.Uint64(purgeAfterFlag.Name) }},
		{housekeepingFlag.Name, func() { cfg.HousekeepingMins = ctx.Uint64(housekeepingFlag.Name) }},
		{cacheFlag.Name, func() { cfg.CacheMB = ctx.Uint64(cacheFlag.Name) }},
		{enableMetricsFlag.Name, func() { cfg.EnableMetrics = ctx.Bool(enableMetricsFlag.Name) }},
	} {
		if ctx.IsSet(override.name) {
			override.apply()
		}
	}
	return &cfg, nil
}
