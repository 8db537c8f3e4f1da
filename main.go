package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"mcp-client/internal/application"
	"mcp-client/internal/domain"
	"mcp-client/internal/infrastructure"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	config, err := domain.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	logger.Info("configuration loaded", zap.String("path", *configPath))

	// Transports are single-use: the retry loop asks the factory for a
	// fresh one on every handshake attempt.
	var factory application.TransportFactory
	switch config.Transport.Type {
	case "stdio":
		logger.Info("using stdio transport", zap.String("command", config.Transport.Stdio.Command))
		factory = func() (domain.Transport, error) {
			return infrastructure.NewStdioTransport(config.Transport.Stdio, logger), nil
		}
	case "sse":
		logger.Info("using sse transport", zap.String("server_url", config.Transport.SSE.ServerURL))
		factory = func() (domain.Transport, error) {
			return infrastructure.NewSSETransport(config.Transport.SSE, logger), nil
		}
	default:
		logger.Fatal("invalid transport type", zap.String("type", config.Transport.Type))
	}

	client := application.NewClient(config.Client, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.ConnectWithRetry(ctx, client, factory, config.Client.Retry, logger); err != nil {
		logger.Fatal("failed to connect", zap.Error(err))
	}
	server := client.Server()
	logger.Info("connected",
		zap.String("server", server.Name),
		zap.String("server_version", server.Version))

	caps := client.ServerCapabilities()
	if caps.Tools {
		registry := application.NewToolRegistry()
		metadata, err := client.ListToolsMetadata(ctx, registry)
		if err != nil {
			logger.Warn("tool discovery failed", zap.Error(err))
		} else {
			for _, tool := range metadata {
				logger.Info("discovered tool",
					zap.String("name", tool.Name),
					zap.String("description", tool.Description))
			}
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	if err := client.Disconnect(); err != nil {
		logger.Error("error during disconnect", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
