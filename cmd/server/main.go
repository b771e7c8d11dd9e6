/*
main.go - Application entry point

PURPOSE:
  Starts the member portal server and its maintenance commands.
  Handles configuration, dependency injection, and graceful shutdown.

COMMANDS:
  serve           Run the HTTP API (default when no command is given)
  sweep-vouchers  Expire vouchers past their expiry once and exit
  issue-token     Print a member token for local testing

STARTUP SEQUENCE (serve):
  1. Load .env and environment configuration
  2. Initialize SQLite store
  3. Build platform clients for every configured platform
  4. Connect the event publisher (AMQP, or log only)
  5. Wire the orchestrator, cancellation manager and HTTP router
  6. Start the voucher expiry scheduler and the HTTP server

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler, close the publisher and the database
  4. Exit

EXAMPLES:
  # Run with the settings in .env
  ./server serve

  # Run with in-memory database on a different port
  DATABASE_PATH=":memory:" PORT=3000 JWT_SECRET=dev ./server serve

SEE ALSO:
  - config/config.go: Every setting and its default
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/warp/member-portal/api"
	"github.com/warp/member-portal/booking"
	"github.com/warp/member-portal/cancellation"
	"github.com/warp/member-portal/config"
	"github.com/warp/member-portal/events"
	"github.com/warp/member-portal/platform"
	"github.com/warp/member-portal/reservation"
	"github.com/warp/member-portal/store/sqlite"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "server",
		Short: "Member portal booking server",
		RunE:  runServe,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(sweepVouchersCmd())
	rootCmd.AddCommand(issueTokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE:  runServe,
	}
}

func sweepVouchersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-vouchers",
		Short: "Expire vouchers past their expiry and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			store, err := sqlite.New(cfg.DatabasePath)
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			defer store.Close()

			n := api.NewVoucherExpiryScheduler(store).Sweep(cmd.Context())
			fmt.Printf("Expired %d vouchers\n", n)
			return nil
		},
	}
}

func issueTokenCmd() *cobra.Command {
	var (
		memberID string
		orgID    string
		email    string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Print a signed member token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return fmt.Errorf("JWT_SECRET is not set")
			}
			tok, err := api.IssueToken(cfg.JWTSecret, api.Member{ID: memberID, OrganizationID: orgID, Email: email}, ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}

	cmd.Flags().StringVar(&memberID, "member", "", "member id (sub claim)")
	cmd.Flags().StringVar(&orgID, "org", "", "organization id")
	cmd.Flags().StringVar(&email, "email", "", "member email")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.MarkFlagRequired("member")
	cmd.MarkFlagRequired("org")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx := context.Background()

	// Initialize store
	store, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	// Token persistence, shared by every OAuth platform
	var tokenStore platform.TokenStore
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("Warning: redis unreachable, tokens will not be shared: %v", err)
		} else {
			tokenStore = platform.NewRedisTokenStore(rdb)
		}
	}

	// Platforms. Unconfigured ones stay nil interfaces so bookings degrade
	// to a pending sync status.
	var ticketing reservation.Ticketing
	if cfg.BackstageURL != "" {
		ticketing = platform.NewBackstage(cfg.BackstageURL, platform.StaticToken(cfg.BackstageAPIKey))
	} else {
		log.Println("Warning: ticketing platform not configured")
	}

	var webinars reservation.Webinars
	if cfg.ZoomConfigured() {
		source := platform.ClientCredentialsSource(ctx, cfg.ZoomTokenURL, cfg.ZoomClientID, cfg.ZoomClientSecret,
			platform.ZoomAccountParams(cfg.ZoomAccountID))
		webinars = platform.NewZoom(cfg.ZoomURL, platform.NewTokenCache("zoom", source, tokenStore))
	} else {
		log.Println("Warning: webinar platform not configured")
	}

	opts := booking.Options{InvoicingEnabled: cfg.InvoicingEnabled}
	if cfg.XeroConfigured() {
		source := platform.RefreshTokenSource(ctx, cfg.XeroTokenURL, cfg.XeroClientID, cfg.XeroClientSecret, cfg.XeroRefreshToken)
		opts.Accounting = platform.NewXero(cfg.XeroURL, cfg.XeroTenantID, cfg.XeroAccountCode,
			platform.NewTokenCache("xero", source, tokenStore))
	}
	if cfg.StripeSecretKey != "" {
		opts.Payments = platform.NewStripeVerifier(cfg.StripeSecretKey, nil)
	}

	// Events
	if cfg.AMQPURL != "" {
		publisher, err := events.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return fmt.Errorf("failed to connect to event broker: %w", err)
		}
		defer publisher.Close()
		opts.Publisher = publisher
	}

	// Wire the core
	orch := booking.New(store, reservation.NewCoordinator(ticketing, webinars), opts)
	handler := api.NewHandler(store, orch, cancellation.NewManager(store))
	router := api.NewRouter(handler, cfg.JWTSecret, cfg.Origins())

	scheduler := api.NewVoucherExpiryScheduler(store)
	scheduler.CheckInterval = cfg.VoucherSweepInterval
	scheduler.Start()
	defer scheduler.Stop()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server starting on http://localhost:%d", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("Server stopped")
	return nil
}
