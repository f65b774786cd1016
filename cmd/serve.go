package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/database/postgres"
	"github.com/kozaktomas/rollcall/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the Rollcall web server.
The server exposes the JSON API used by the classroom camera page: teacher
login, student enrollment, attendance capture, ledger listing and export.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().String("session-secret", "", "Secret for signing session cookies (defaults to random)")
}

// resolveServeHostPort resolves port and host from flags and environment variables.
func resolveServeHostPort(cmd *cobra.Command) (int, string, string) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")
	sessionSecret := mustGetString(cmd, "session-secret")

	if sessionSecret == "" {
		sessionSecret = os.Getenv("WEB_SESSION_SECRET")
	}
	if envPort := os.Getenv("WEB_PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &port)
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" {
		host = envHost
	}
	return port, host, sessionSecret
}

// saveEncodingIndex saves the HNSW index to disk during shutdown.
func saveEncodingIndex() {
	rebuilder := database.GetIndexRebuilder()
	if rebuilder == nil {
		return
	}
	if err := rebuilder.SaveIndex(); err != nil {
		fmt.Printf("Warning: failed to save encoding HNSW index: %v\n", err)
	} else {
		fmt.Println("Encoding HNSW index saved to disk")
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	fmt.Printf("Connecting to PostgreSQL database...\n")
	a, err := setupApp(context.Background(), true)
	if err != nil {
		return err
	}
	defer a.close()

	if len(a.cfg.Auth.Teachers) == 0 {
		fmt.Println("Warning: TEACHERS is empty, nobody can log in")
	}

	port, host, sessionSecret := resolveServeHostPort(cmd)
	server := web.NewServer(a.cfg, web.Options{
		Host:           host,
		Port:           port,
		SessionSecret:  sessionSecret,
		AllowedOrigins: os.Getenv("WEB_ALLOWED_ORIGINS"),
		SessionRepo:    postgres.NewSessionRepository(a.pool),
	}, web.Services{
		Enrollment: a.enrollment,
		Attendance: a.attendance,
		Index:      a.indexRebuilder(),
	})
	fmt.Printf("Session persistence enabled (PostgreSQL)\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		saveEncodingIndex()

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Rollcall on http://%s:%d\n", host, port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
