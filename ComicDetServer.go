package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	adhoc "ComicDetServer/Adhoc"
	"ComicDetServer/config"
	"ComicDetServer/engine"
	rpc "ComicDetServer/gRPC"
	"ComicDetServer/imagecodec"
	iface "ComicDetServer/interface"
	"ComicDetServer/logger"
	"ComicDetServer/ml"
	"ComicDetServer/monitor"
	"ComicDetServer/pipeline"
	"ComicDetServer/server"
	"ComicDetServer/task"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "ComicDetServer",
		Short:         "Comic page extraction and detection worker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config.yaml")
	root.AddCommand(serveCmd(), scanCmd(), hashCmd(), pageCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig falls back to defaults when the config file does not exist.
func loadConfig() (*config.Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := config.Default()
		return &cfg, cfg.Validate()
	}
	return config.Load(configPath)
}

func newBackend(cfg *config.Config) iface.Backend {
	if cfg.Engine.Endpoint == "" {
		return engine.Blank(cfg.Model)
	}
	return engine.NewRemote(cfg.Engine.Endpoint, cfg.Engine.Timeout(), cfg.Model)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP, gRPC and metrics servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := logger.Init(cfg.LogLevel, cfg.Development); err != nil {
				return err
			}
			defer logger.Sync()
			return serve(cfg)
		},
	}
}

func serve(cfg *config.Config) error {
	log := logger.Log()
	fmt.Println(strings.Repeat("#", 64))
	log.Info("starting",
		zap.Int("httpPort", cfg.HTTPPort),
		zap.Int("rpcPort", cfg.RPCPort),
		zap.Int("metricsPort", cfg.MetricsPort),
		zap.Int("workers", cfg.WorkersNum),
		zap.String("engine", cfg.Engine.Endpoint))
	fmt.Println(strings.Repeat("#", 64))

	dec, err := ml.NewDecoder(cfg.Model)
	if err != nil {
		return err
	}
	backend := newBackend(cfg)
	defer backend.Close()

	pool := task.NewPool(cfg.WorkersNum, task.WithHooks(monitor.TaskHooks()))
	defer pool.Close()
	pipe := pipeline.New(imagecodec.Default(), pipeline.WithHooks(monitor.PipelineHooks()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	if cfg.UseRegServer {
		ip, err := adhoc.GetOutboundIP()
		if err != nil {
			log.Warn("failed to get outbound IP", zap.Error(err))
		}
		reg := adhoc.RegServerConfig{}
		reg.SetAddress(cfg.RegServerHost, cfg.RegServerPort)
		wg.Add(1)
		go adhoc.SendAliveMessage(ctx, reg, adhoc.RegisterRequest{
			IP:       ip,
			HTTPPort: cfg.HTTPPort,
			RPCPort:  cfg.RPCPort,
			Workers:  cfg.WorkersNum,
			Formats:  adhoc.Formats(),
		}, 0, &wg)
	} else {
		log.Info("UseRegServer is set to false, skipping registration")
	}

	grpcServer, err := rpc.StartGRPCServer(cfg.RPCPort, pool)
	if err != nil {
		return err
	}
	go grpcServer.Watch(ctx, time.Second)
	go monitor.StartMon(cfg.MetricsPort, ctx)

	srv := server.New(server.Options{
		Pool:      pool,
		Pipeline:  pipe,
		Backend:   backend,
		Decoder:   dec,
		Thumbnail: pipeline.Size{Width: cfg.Thumbnail.Width, Height: cfg.Thumbnail.Height},
	})
	err = srv.Run(ctx, cfg.HTTPPort)
	stop()
	grpcServer.Stop()
	wg.Wait()
	log.Info("safely exited")
	return err
}
