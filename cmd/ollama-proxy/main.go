// Command ollama-proxy runs the Ollama-dialect reverse proxy.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ollamarelay/gateway/config"
	"github.com/ollamarelay/gateway/proxy"
)

var (
	version string = "0"
	commit  string = "abcd1234"
)

func main() {
	configPath := flag.String("config", "config.yaml", "config file path")
	listenStr := flag.String("listen", "", "listen ip/port, overrides server.listen")
	showVersion := flag.Bool("version", false, "show version of build")
	flag.Parse()

	if *showVersion {
		fmt.Printf("version: %s (%s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *listenStr != "" {
		cfg.Server.Listen = *listenStr
	}

	if mode := os.Getenv("GIN_MODE"); mode != "" {
		gin.SetMode(mode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := proxy.NewLogger()

	ctx, cancelTracer := context.WithCancel(context.Background())
	defer cancelTracer()
	tp, err := proxy.NewTracerProvider(ctx)
	if err != nil {
		fmt.Printf("Error starting tracer provider: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("tracer provider shutdown: %v", err)
		}
	}()

	pipeline := &proxy.Pipeline{
		Config: &cfg,
		Logger: logger,
		Tracer: tp.Tracer("ollama-proxy"),
	}
	engine := proxy.NewServer(&cfg, pipeline, logger)

	srv := &http.Server{
		Addr:    cfg.Server.Listen,
		Handler: engine,
	}

	exitChan := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Infof("received signal %v, shutting down", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("server shutdown: %v", err)
		}
		close(exitChan)
	}()

	go func() {
		logger.Infof("ollama-proxy listening on http://%s", cfg.Server.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("fatal server error: %v", err)
			os.Exit(1)
		}
	}()

	<-exitChan
}
