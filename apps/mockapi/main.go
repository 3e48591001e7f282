package main

import (
	"context"
	"fmt"
	"log"
	"net/mail"
	"os"
	"os/signal"
	"syscall"
	"time"

	echoapi "github.com/trezcool/masomo-client/apps/mockapi/echo"
	"github.com/trezcool/masomo-client/core"
	emailsvc "github.com/trezcool/masomo-client/services/email"
	logsvc "github.com/trezcool/masomo-client/services/logger"
)

const shutdownTimeout = 5 * time.Second

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "MOCKAPI : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	mailer := emailsvc.NewConsoleService(
		conf.AppName,
		mail.Address{Name: conf.AppName, Address: "noreply@masomo.local"},
		os.Stdout,
	)

	// =========================================================================
	// Start Mock API

	server, err := echoapi.NewServer(&echoapi.Options{
		Address:             conf.Mock.Addr,
		SecretKey:           conf.Mock.SecretKey,
		AccessTTL:           conf.Mock.AccessTTL,
		RefreshTTL:          conf.Mock.RefreshTTL,
		Debug:               conf.Debug,
		RequireVerification: conf.Mock.RequireVerification,
		Logger:              logger,
		Mailer:              mailer,
	})
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up mock API: %v", err), err)
	}

	logger.Info(fmt.Sprintf("Mock API listening on %s : demo login %s / %s",
		conf.Mock.Addr, echoapi.DemoStudentEmail, echoapi.DemoPassword))
	defer logger.Info("Mock API stopped")

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	// =========================================================================
	// Shutdown

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err = <-serverErrors:
		if err != nil {
			logger.Fatal(fmt.Sprintf("server error: %v", err), err)
		}

	case sig := <-shutdown:
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err = server.Stop(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)
		}
	}
}
