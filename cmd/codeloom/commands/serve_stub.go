package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/codeloom-ai/codeloom-go/internal/logging"
	"github.com/codeloom-ai/codeloom-go/internal/stubserver"
)

var (
	stubPort     int
	stubHostname string
)

var serveStubCmd = &cobra.Command{
	Use:   "serve-stub",
	Short: "Start a local stub backend",
	Long: `Start a scriptable stub backend serving the credential, duplex, and
streaming endpoints. Useful for developing against Codeloom without a real
backend.`,
	RunE: runServeStub,
}

func init() {
	serveStubCmd.Flags().IntVarP(&stubPort, "port", "p", 8080, "Port to listen on")
	serveStubCmd.Flags().StringVar(&stubHostname, "hostname", "127.0.0.1", "Hostname to listen on")
}

func runServeStub(cmd *cobra.Command, args []string) error {
	stub := stubserver.New()

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", stubHostname, stubPort),
		Handler: stub.Handler(),
	}

	go func() {
		logging.Info().Str("addr", srv.Addr).Msg("stub backend listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatal().Err(err).Msg("stub backend failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("shutting down stub backend")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
