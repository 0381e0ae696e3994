// Copyright (c) 2025 The SyncFleet developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/inconshreveable/log15"
	"github.com/mattn/go-isatty"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/syncfleet/syncfleet/blobdb"
	"github.com/syncfleet/syncfleet/syncdb"
)

func fatal(args ...interface{}) {
	fmt.Fprint(os.Stderr, "Fatal: ")
	fmt.Fprintln(os.Stderr, args...)
	os.Exit(1)
}

func fatalf(format string, args ...interface{}) {
	fatal(fmt.Sprintf(format, args...))
}

func initLogger(ctx *cli.Context) {
	logLevel := ctx.Uint64(verbosityFlag.Name)

	var format log15.Format
	switch {
	case ctx.Bool(jsonLogsFlag.Name):
		format = log15.JsonFormat()
	case isatty.IsTerminal(os.Stderr.Fd()):
		format = log15.TerminalFormat()
	default:
		format = log15.LogfmtFormat()
	}
	log15.Root().SetHandler(log15.LvlFilterHandler(
		log15.Lvl(logLevel),
		log15.StreamHandler(os.Stderr, format)))
}

func makeDataDir(cfg *config) string {
	if cfg.DataDir == "" {
		fatalf("unable to infer default data dir, use -%s to specify one", dataDirFlag.Name)
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		fatalf("create data dir at '%v': %v", cfg.DataDir, err)
	}
	return cfg.DataDir
}

func openSyncDB(dataDir string) *syncdb.SyncDB {
	path := filepath.Join(dataDir, "sync.db")
	db, err := syncdb.New(path)
	if err != nil {
		fatalf("open sync database at '%v': %v", path, err)
	}
	return db
}

func openBlobDB(dataDir string, cacheMB uint64) *blobdb.BlobDB {
	path := filepath.Join(dataDir, "blobs")
	db, err := blobdb.New(path, blobdb.Options{CacheSize: int(cacheMB)})
	if err != nil {
		fatalf("open blob database at '%v': %v", path, err)
	}
	return db
}

func startAPIServer(addr string, handler http.HandlerFunc) (*http.Server, string) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		fatalf("listen API addr '%v': %v", addr, err)
	}
	srv := &http.Server{Handler: handler}
	go func() {
		if err := srv.Serve(listener); err != http.ErrServerClosed {
			log.Error("API server stopped", "err", err)
		}
	}()
	return srv, "http://" + listener.Addr().String() + "/"
}

// handleExitSignal returns a context canceled on interrupt or terminate.
func handleExitSignal() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		exitSignalCh := make(chan os.Signal, 1)
		signal.Notify(exitSignalCh, os.Interrupt, syscall.SIGTERM)

		sig := <-exitSignalCh
		log.Info("exit signal received", "signal", sig)
		cancel()
	}()
	return ctx
}

// copy from go-ethereum
func defaultDataDir() string {
	// Try to place the data folder in the user's home dir
	if home := homeDir(); home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "org.syncfleet")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "org.syncfleet")
		} else {
			return filepath.Join(home, ".org.syncfleet")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

func homeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}
