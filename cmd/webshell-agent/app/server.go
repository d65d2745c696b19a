package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/webshell/broker/internal/adminapi"
	"github.com/webshell/broker/internal/auth"
	"github.com/webshell/broker/internal/broker"
	"github.com/webshell/broker/internal/containerpool"
	"github.com/webshell/broker/internal/logging"
	"github.com/webshell/broker/internal/supervisor"

	"github.com/sirupsen/logrus"
)

const shutdownGrace = 10 * time.Second

// runServer wires every component per the component mapping and serves the
// administrative HTTP surface (which also hosts the terminal websocket
// endpoint) until a shutdown signal arrives.
func runServer(opt *Option) error {
	level, err := logrus.ParseLevel(opt.LogLevel)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}

	logging.SetLevel(level)
	logGlobalConfig(opt)

	dockerCli, err := containerpool.NewDockerClient(opt.ContainerConfig.Endpoint, opt.ContainerConfig.APIVersion)
	if err != nil {
		return fmt.Errorf("docker client: %w", err)
	}

	pool := containerpool.NewManager(dockerCli, opt.ContainerConfig)

	validator, err := auth.New(opt.AuthConfig)
	if err != nil {
		return fmt.Errorf("credential validator: %w", err)
	}

	b := broker.New(opt.BrokerConfig, pool, validator)
	sup := supervisor.New(opt.BrokerConfig, b, pool)
	sup.Start()

	srv := adminapi.New(b, pool)

	addr := net.JoinHostPort(opt.Host, opt.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv.Router(),
	}

	shutdownCh := make(chan struct{})
	setupSignal(func() {
		logrus.Info("shutdown signal received, draining...")

		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		sup.Shutdown(ctx)
		httpServer.Shutdown(ctx)

		close(shutdownCh)
	})

	logrus.Infof("webshell-agent listening on %s", addr)

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve: %w", err)
	}

	<-shutdownCh

	return nil
}
