package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/codeloom-ai/codeloom-go/internal/config"
	"github.com/codeloom-ai/codeloom-go/internal/session"
	"github.com/codeloom-ai/codeloom-go/internal/transport"
	"github.com/codeloom-ai/codeloom-go/pkg/types"
)

var (
	chatBaseURL    string
	chatModel      string
	chatMode       string
	chatProject    string
	chatActiveFile string
	chatDir        string
	chatTimeout    time.Duration
)

var chatCmd = &cobra.Command{
	Use:   "chat [prompt...]",
	Short: "Run one generation request against the backend",
	Long: `Send a generation prompt and stream the response to stdout.

Permission questions are answered interactively on stdin.

Examples:
  codeloom chat "Add input validation to the signup form"
  codeloom chat --model gpt-5 --file src/app.ts "Refactor this module"`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatBaseURL, "base-url", "", "Backend base URL (overrides config)")
	chatCmd.Flags().StringVarP(&chatModel, "model", "m", "", "Model to use")
	chatCmd.Flags().StringVar(&chatMode, "mode", "", "Generation mode")
	chatCmd.Flags().StringVar(&chatProject, "project", "", "Project id")
	chatCmd.Flags().StringVarP(&chatActiveFile, "file", "f", "", "Active file for context")
	chatCmd.Flags().StringVar(&chatDir, "directory", "", "Working directory")
	chatCmd.Flags().DurationVar(&chatTimeout, "timeout", 5*time.Minute, "Overall request timeout")
}

func runChat(cmd *cobra.Command, args []string) error {
	prompt := strings.Join(args, " ")
	if prompt == "" {
		return fmt.Errorf("prompt required. Usage: codeloom chat \"your prompt\"")
	}

	workDir, err := GetWorkDir(chatDir)
	if err != nil {
		return err
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return err
	}
	if chatBaseURL != "" {
		cfg.BaseURL = chatBaseURL
	}
	if chatModel != "" {
		cfg.Model = chatModel
	}
	if chatMode != "" {
		cfg.Mode = chatMode
	}

	client := session.New(session.Options{
		BaseURL:                  cfg.BaseURL,
		ConnectTimeout:           time.Duration(cfg.ConnectTimeout),
		TokenPath:                cfg.TokenPath,
		SocketPath:               cfg.SocketPath,
		StreamPath:               cfg.StreamPath,
		PingInterval:             time.Duration(cfg.PingInterval),
		ReconnectInitialInterval: time.Duration(cfg.ReconnectInitialInterval),
		MaxReconnectAttempts:     cfg.MaxReconnectAttempts,
	})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), chatTimeout)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.BaseURL, err)
	}
	fmt.Fprintf(os.Stderr, "Connected via %s transport\n", client.TransportKind())

	done := make(chan error, 1)
	stdin := bufio.NewReader(os.Stdin)

	client.OnAny(func(resp types.AIResponse) {
		switch resp.Type {
		case types.EventProgress:
			if resp.Data != nil && resp.Data.Stage != "" {
				fmt.Fprintf(os.Stderr, "[%s]\n", resp.Data.Stage)
			}
		case types.EventCode:
			fmt.Print(resp.Content)
		case types.EventQuestion:
			if resp.RequiresApproval() {
				go answerPermission(client, resp, stdin, done)
			} else if resp.Message != "" {
				fmt.Fprintf(os.Stderr, "? %s\n", resp.Message)
			}
		case types.EventComplete:
			if resp.Usage != nil {
				fmt.Fprintf(os.Stderr, "\nDone (%d tokens)\n", resp.Usage.Total)
			}
			done <- nil
		case types.EventError:
			done <- fmt.Errorf("generation failed: %s", resp.Message)
		case types.EventRequestCancelled:
			done <- fmt.Errorf("request cancelled")
		}
	})

	id, err := client.GenerateCode(ctx, session.GenerateOptions{
		Prompt:     prompt,
		ProjectID:  chatProject,
		ActiveFile: chatActiveFile,
		Model:      cfg.Model,
		Mode:       cfg.Mode,
	})
	if err != nil {
		if transport.IsCapabilityError(err) {
			return fmt.Errorf("%w; wait for the active request to finish or retry when the duplex channel is available", err)
		}
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		// Cancel is best-effort: the streaming transport cannot carry it.
		if err := client.CancelRequest(id); err != nil && !transport.IsCapabilityError(err) {
			fmt.Fprintf(os.Stderr, "cancel failed: %v\n", err)
		}
		return fmt.Errorf("timed out after %s", chatTimeout)
	}
}

// answerPermission prompts on stdin for each pending permission and sends the
// decision back.
func answerPermission(client *session.Client, resp types.AIResponse, stdin *bufio.Reader, done chan<- error) {
	if resp.Message != "" {
		fmt.Fprintf(os.Stderr, "\n%s\n", resp.Message)
	}

	var approved, rejected []string
	for _, perm := range resp.Data.Permissions {
		fmt.Fprintf(os.Stderr, "Allow %q (%s)? [y/N] ", perm.Title, perm.Kind)
		line, err := stdin.ReadString('\n')
		if err != nil {
			done <- fmt.Errorf("read permission answer: %w", err)
			return
		}
		if strings.EqualFold(strings.TrimSpace(line), "y") {
			approved = append(approved, perm.ID)
		} else {
			rejected = append(rejected, perm.ID)
		}
	}

	if len(approved) > 0 {
		if err := client.ApprovePermissions(resp.RequestID, approved); err != nil {
			done <- err
			return
		}
	}
	if len(rejected) > 0 {
		if err := client.RejectPermissions(resp.RequestID, rejected); err != nil {
			done <- err
			return
		}
	}
}
