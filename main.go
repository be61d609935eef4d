// Attendance verification and synchronization engine.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"attend-sync/internal/app"
	"attend-sync/internal/container"
	"attend-sync/internal/types"
	"attend-sync/internal/utils"
)

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using system environment variables")
	}

	c, err := container.BuildContainer()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to build dependency container")
	}

	err = c.Invoke(func(configManager types.ConfigManager) {
		utils.SetupLogger(configManager)
		configManager.DisplayServerConfig()
	})
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	err = c.Invoke(func(application *app.App, configManager types.ConfigManager) {
		if err := application.Start(); err != nil {
			logrus.WithError(err).Fatal("Failed to start application")
		}

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		timeout := time.Duration(configManager.GetEffectiveServerConfig().GracefulShutdownTimeout) * time.Second
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		application.Stop(ctx)
	})
	if err != nil {
		logrus.WithError(err).Fatal("Failed to run application")
	}
}
