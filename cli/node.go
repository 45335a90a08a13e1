package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	rungroup "github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/andydunstall/glomers/admin"
	"github.com/andydunstall/glomers/node"
	"github.com/andydunstall/glomers/pkg/log"
)

func run(conf *node.Config, logger log.Logger) error {
	logger.Info("starting glomers node", zap.Any("conf", conf))

	registry := prometheus.NewRegistry()

	n := node.NewNode(conf, os.Stdin, os.Stdout, logger)
	n.Metrics().Register(registry)

	var group rungroup.Group

	// Termination handler.
	signalCtx, signalCancel := context.WithCancel(context.Background())
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	group.Add(func() error {
		select {
		case sig := <-signalCh:
			logger.Info(
				"received shutdown signal",
				zap.String("signal", sig.String()),
			)
			return nil
		case <-signalCtx.Done():
			return nil
		}
	}, func(error) {
		signalCancel()
	})

	// Node.
	nodeCtx, nodeCancel := context.WithCancel(context.Background())
	group.Add(func() error {
		return n.Run(nodeCtx)
	}, func(error) {
		nodeCancel()
	})

	// Admin server.
	if conf.Admin.BindAddr != "" {
		adminLn, err := net.Listen("tcp", conf.Admin.BindAddr)
		if err != nil {
			return fmt.Errorf("admin listen: %s: %w", conf.Admin.BindAddr, err)
		}
		adminServer := admin.NewServer(registry, logger)
		adminServer.AddStatus("/node", node.NewStatus(n.State()))

		group.Add(func() error {
			if err := adminServer.Serve(adminLn); err != nil {
				return fmt.Errorf("admin server serve: %w", err)
			}
			return nil
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(
				context.Background(),
				conf.GracePeriod,
			)
			defer cancel()

			if err := adminServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("failed to gracefully shutdown admin server", zap.Error(err))
			}

			logger.Info("admin server shut down")
		})
	}

	if err := group.Run(); err != nil {
		return err
	}

	logger.Info("shutdown complete")

	return nil
}
