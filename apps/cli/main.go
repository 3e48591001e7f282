package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/trezcool/masomo-client/core"
	"github.com/trezcool/masomo-client/core/session"
	logsvc "github.com/trezcool/masomo-client/services/logger"
	"github.com/trezcool/masomo-client/services/lmsapi"
	"github.com/trezcool/masomo-client/services/metrics"
	"github.com/trezcool/masomo-client/storage/database"
	sqlxdb "github.com/trezcool/masomo-client/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()

	// logs go to a file: stdout belongs to the interactive prompts
	logOut := os.Stderr
	if !conf.Debug {
		if err := os.MkdirAll(conf.ConfigDir, 0o700); err == nil {
			if f, err := os.OpenFile(filepath.Join(conf.ConfigDir, "client.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600); err == nil {
				defer f.Close()
				logOut = f
			}
		}
	}
	logger := logsvc.NewRollbarLogger(
		log.New(logOut, "CLI : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	// set up DB
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() {
		if err = db.Close(); err != nil {
			logger.Error("closing database", err)
		}
	}()

	// set up services
	mtr := metrics.NewMetrics()
	api := lmsapi.NewClient(conf.API.BaseURL, conf.API.Timeout, logger)
	mgr, err := session.NewManager(
		sqlxdb.NewCredentialStore(db),
		api,
		logger,
		session.WithMetrics(mtr),
		session.WithLogoutHook(func() {
			fmt.Fprintln(os.Stderr, "session expired, please log in again: masomo login -email EMAIL")
		}),
	)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up session: %v", err), err)
	}
	api.SetTransport(mtr.InstrumentTransport(mgr.Transport(http.DefaultTransport)))

	// /metrics
	if conf.DebugHost != "" {
		go func() {
			if err := http.ListenAndServe(conf.DebugHost, mtr.Handler()); err != nil {
				logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// start CLI
	cli := commandLine{
		api:     api,
		session: mgr,
		logger:  logger,
		metrics: mtr,
		in:      os.Stdin,
		out:     os.Stdout,
	}
	if err := cli.run(ctx, os.Args); err != nil {
		if err != errHelp {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		stop()
		os.Exit(1)
	}
}
