package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/codeloom-ai/codeloom-go/internal/config"
	"github.com/codeloom-ai/codeloom-go/internal/session"
)

var (
	statusBaseURL string
	statusDir     string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Probe the backend and report the negotiated transport",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusBaseURL, "base-url", "", "Backend base URL (overrides config)")
	statusCmd.Flags().StringVar(&statusDir, "directory", "", "Working directory")
}

func runStatus(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(statusDir)
	if err != nil {
		return err
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return err
	}
	if statusBaseURL != "" {
		cfg.BaseURL = statusBaseURL
	}

	client := session.New(session.Options{
		BaseURL:        cfg.BaseURL,
		ConnectTimeout: time.Duration(cfg.ConnectTimeout),
		TokenPath:      cfg.TokenPath,
		SocketPath:     cfg.SocketPath,
		StreamPath:     cfg.StreamPath,
	})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.BaseURL, err)
	}

	caps, err := json.MarshalIndent(client.Capabilities(), "", "  ")
	if err != nil {
		return err
	}

	fmt.Printf("Backend:   %s\n", cfg.BaseURL)
	fmt.Printf("Transport: %s\n", client.TransportKind())
	fmt.Printf("Capabilities:\n%s\n", caps)
	return nil
}
