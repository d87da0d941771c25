package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"inkscribe-server/internal/config"
	"inkscribe-server/internal/gateway"
	"inkscribe-server/internal/mcpserver"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
)

const version = "1.0.0"

func main() {
	cmd := &cli.Command{
		Name:    "inkscribe",
		Usage:   "Turn photos of handwritten notes into Markdown",
		Version: version,
		Action:  serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP and websocket server",
				Action: serve,
			},
			{
				Name:  "transcribe",
				Usage: "Transcribe one image URL and print the result",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "image-url", Usage: "Public http(s) URL of the image"},
					&cli.StringFlag{Name: "note-id", Usage: "Note identifier passed to the model"},
					&cli.BoolFlag{Name: "check", Usage: "Only verify the API key and model"},
				},
				Action: transcribe,
			},
			{
				Name:   "mcp",
				Usage:  "Serve the transcription tools over MCP stdio",
				Action: serveMCP,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func newGateway(cfg config.GatewayConfig) *gateway.Client {
	return gateway.NewClient(gateway.Config{
		APIKey:         cfg.APIKey,
		BaseURL:        cfg.BaseURL,
		Model:          cfg.Model,
		Referer:        cfg.Referer,
		Title:          cfg.Title,
		TimeoutSeconds: int(cfg.Timeout / time.Second),
		InlineImages:   cfg.InlineImages,
	}, gateway.WithRetryMaxAttempts(cfg.RetryMaxAttempts))
}

func transcribe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireGateway(); err != nil {
		return err
	}
	client := newGateway(cfg.Gateway)

	if cmd.Bool("check") {
		if err := client.HealthCheck(ctx); err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, "ok")
		return nil
	}

	imageURL := cmd.String("image-url")
	if imageURL == "" {
		return fmt.Errorf("--image-url is required")
	}
	noteID := cmd.String("note-id")
	if noteID == "" {
		noteID = uuid.New().String()
	}

	result, err := client.Transcribe(ctx, imageURL, noteID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireGateway(); err != nil {
		return err
	}
	// stdout carries the protocol.
	slog.SetDefault(newLogger(cfg.Logging, os.Stderr))

	return mcpserver.New(newGateway(cfg.Gateway), version).ServeStdio()
}
