package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/relaychat/relay/internal/api"
	"github.com/relaychat/relay/internal/config"
	"github.com/relaychat/relay/internal/server"
	"github.com/relaychat/relay/internal/stats"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

func main() {
	logger := log.New(os.Stderr, "[relayd] ", log.LstdFlags)

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Fatal("config:", err)
	}

	var allowedOrigins stringSliceFlag
	flag.StringVar(&cfg.ServerAddr, "addr", cfg.ServerAddr, "server address")
	flag.StringVar(&cfg.StaticDir, "static-dir", cfg.StaticDir, "directory holding the frontend build")
	flag.DurationVar(&cfg.RoomGracePeriod, "room-grace-period", cfg.RoomGracePeriod, "how long empty rooms are retained")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	if len(allowedOrigins) > 0 {
		cfg.AllowedOrigins = allowedOrigins
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal("config:", err)
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	relayServer, err := server.NewRelayServer(logger, statsUpdater, cfg.RoomGracePeriod)
	if err != nil {
		logger.Fatal("new relay server:", err)
	}

	app := api.NewRelayApp(mux, logger, relayServer, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go relayServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := app.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down relay server...")
	if err := relayServer.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("relay server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
