package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/mpc-rendezvous/api/rendezvoushandler"
	"github.com/ruteri/mpc-rendezvous/api/server"
	"github.com/ruteri/mpc-rendezvous/api/storehandler"
	"github.com/ruteri/mpc-rendezvous/cmd/flags"
	"github.com/ruteri/mpc-rendezvous/common"
	"github.com/ruteri/mpc-rendezvous/healthcheck"
	"github.com/ruteri/mpc-rendezvous/metrics"
	"github.com/ruteri/mpc-rendezvous/rendezvous"
	"github.com/ruteri/mpc-rendezvous/signup"
	"github.com/ruteri/mpc-rendezvous/storage"
	"github.com/urfave/cli/v2"
)

var ServiceLogFlag = flags.LogServiceFlagFn("rendezvous")

func main() {
	app := &cli.App{
		Name:  "rendezvous-server",
		Usage: "Assign party indices for threshold key generation ceremonies",
		Flags: append(append([]cli.Flag{flags.ListenAddrFlag, flags.ListenPortFlag, flags.JoinRetriesFlag, flags.HealthcheckKeyFlag, ServiceLogFlag}, flags.StoreFlags...), flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			listenAddr, err := flags.ListenAddress(cCtx)
			if err != nil {
				logger.Error("Invalid listen address", "err", err)
				return err
			}

			kv, err := flags.SetupStore(cCtx, logger)
			if err != nil {
				logger.Error("Failed to open store", "err", err)
				return err
			}
			if closer, ok := kv.(io.Closer); ok {
				defer closer.Close()
			}

			renewCtx, stopRenewal := context.WithCancel(context.Background())
			defer stopRenewal()
			if vault, ok := kv.(*storage.VaultKVStore); ok {
				go func() {
					if err := vault.RenewToken(renewCtx); err != nil {
						logger.Error("Vault token renewal stopped", "err", err)
					}
				}()
			}

			health := healthcheck.NewManager(kv, cCtx.String(flags.HealthcheckKeyFlag.Name), healthcheck.Record{
				Service:   cCtx.String(ServiceLogFlag.Name),
				Version:   common.Version,
				Instance:  uuid.NewString(),
				StartedAt: time.Now().UTC(),
			}, cCtx.Uint64(flags.StoreRetryCountFlag.Name), logger)
			if err := health.Setup(cCtx.Context); err != nil {
				logger.Error("Store is not writable", "err", err)
				return err
			}

			cfg := flags.ConfigureServer(cCtx, logger, listenAddr)
			metricsSrv, err := metrics.New(common.PackageName, cfg.MetricsAddr)
			if err != nil {
				logger.Error("Failed to create metrics", "err", err)
				return err
			}

			records := signup.NewStore(kv, logger).
				WithMaxRetries(cCtx.Uint64(flags.JoinRetriesFlag.Name)).
				WithMetrics(metricsSrv.Rendezvous())
			coordinator := rendezvous.NewCoordinator(records, logger).
				WithMetrics(metricsSrv.Rendezvous())

			srv, err := server.New(cfg, metricsSrv,
				rendezvoushandler.NewHandler(coordinator, logger),
				storehandler.NewHandler(kv, logger))
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			srv.RunInBackground()

			// Wait for termination signal
			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop", "store", kv.LocationURI())
			<-exit
			logger.Info("Shutdown signal received")

			srv.Shutdown()

			clearCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			health.Clear(clearCtx)

			logger.Info("Server shutdown complete")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
