package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edgeo-scada/meter-simulator/internal/httpapi"
	"github.com/edgeo-scada/meter-simulator/simulator"
)

const shutdownTimeout = 5 * time.Second

func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().IntP("device-id", "u", simulator.DefaultDeviceID, "Modbus unit ID served (0-255)")
	cmd.Flags().DurationP("interval", "i", simulator.DefaultInterval, "Data generation interval")
	cmd.Flags().IntP("port", "p", simulator.DefaultListenPort, "Modbus TCP listen port")
	cmd.Flags().StringP("listen", "l", simulator.DefaultListenAddress, "Modbus TCP listen address")
	cmd.Flags().String("http", httpapi.DefaultAddr, "HTTP control API address (empty to disable)")
	cmd.Flags().String("web-root", "", "Directory of static UI files served at /")
	cmd.Flags().Bool("go-metrics", false, "Export Go runtime and process metrics")

	for _, name := range []string{"device-id", "interval", "port", "listen", "http", "web-root", "go-metrics"} {
		viper.BindPFlag(name, cmd.Flags().Lookup(name))
	}
}

func serveConfig() simulator.Config {
	return simulator.Config{
		DeviceID:      viper.GetInt("device-id"),
		Interval:      viper.GetDuration("interval"),
		ListenPort:    viper.GetInt("port"),
		ListenAddress: viper.GetString("listen"),
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	table, err := loadTable()
	if err != nil {
		return err
	}
	logger.Info("descriptor table loaded",
		slog.String("path", viper.GetString("table")),
		slog.Int("descriptors", len(table)))

	sim, err := simulator.New(table, serveConfig(), simulator.WithLogger(logger))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sim.Start(); err != nil {
		return err
	}
	defer sim.Close()

	httpErr := make(chan error, 1)
	var httpSrv *http.Server
	if addr := viper.GetString("http"); addr != "" {
		api := httpapi.New(sim,
			httpapi.WithLogger(logger),
			httpapi.WithStaticDir(viper.GetString("web-root")),
			httpapi.WithGoMetrics(viper.GetBool("go-metrics")))

		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("http listener: %w", err)
		}
		httpSrv = &http.Server{
			Handler:           api,
			ReadHeaderTimeout: 10 * time.Second,
		}
		logger.Info("http api started", slog.String("addr", ln.Addr().String()))

		go func() {
			if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				httpErr <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-httpErr:
		logger.Error("http api stopped", slog.String("error", err.Error()))
		return err
	}

	if httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", slog.String("error", err.Error()))
		}
	}
	return sim.Close()
}
