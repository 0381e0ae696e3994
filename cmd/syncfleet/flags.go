// Copyright (c) 2025 The SyncFleet developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	cli "gopkg.in/urfave/cli.v1"
)

var (
	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "path to a YAML config file, flags override its values",
	}
	dataDirFlag = cli.StringFlag{
		Name:  "data-dir",
		Value: defaultDataDir(),
		Usage: "directory for coordinator databases",
	}
	apiAddrFlag = cli.StringFlag{
		Name:  "api-addr",
		Value: "localhost:8560",
		Usage: "API service listening address",
	}
	apiCorsFlag = cli.StringFlag{
		Name:  "api-cors",
		Value: "",
		Usage: "comma separated list of domains from which to accept cross origin requests to API",
	}
	verbosityFlag = cli.Uint64Flag{
		Name:  "verbosity",
		Value: 3,
		Usage: "log verbosity (0-4: crit, error, warn, info, debug)",
	}
	jsonLogsFlag = cli.BoolFlag{
		Name:  "json-logs",
		Usage: "output logs in JSON format",
	}
	chunkSizeFlag = cli.Uint64Flag{
		Name:  "chunk-size",
		Value: 0,
		Usage: "delta chunk size in bytes (built-in default if set to 0)",
	}
	replicationDelayFlag = cli.Uint64Flag{
		Name:  "replication-delay",
		Value: 100,
		Usage: "delay between replication progress steps in milliseconds",
	}
	keepVersionsFlag = cli.Uint64Flag{
		Name:  "keep-versions",
		Value: 0,
		Usage: "versions to keep per file during housekeeping (0 keeps all)",
	}
	purgeAfterFlag = cli.Uint64Flag{
		Name:  "purge-after",
		Value: 24,
		Usage: "purge processed events older than this many hours",
	}
	housekeepingFlag = cli.Uint64Flag{
		Name:  "housekeeping-interval",
		Value: 15,
		Usage: "minutes between housekeeping runs (0 disables housekeeping)",
	}
	cacheFlag = cli.Uint64Flag{
		Name:  "cache",
		Value: 64,
		Usage: "megabytes of ram allocated to the blob store cache",
	}
	enableMetricsFlag = cli.BoolFlag{
		Name:  "enable-metrics",
		Usage: "enables prometheus metrics on the API's /metrics endpoint",
	}
)
