package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/markb/mentionbot/internal/autherr"
	"github.com/markb/mentionbot/internal/log"
	"github.com/markb/mentionbot/internal/server"
	"github.com/markb/mentionbot/internal/store"
	"github.com/markb/mentionbot/internal/webhook"
)

const (
	shutdownTimeout     = 10 * time.Second
	flowCleanupInterval = time.Hour
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook and OAuth callback server",
	Long: `Serves GET/POST /webhook (CRC challenge and event deliveries) and, when
the OAuth 2.0 client is configured, /oauth/authorize and /oauth/callback.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		c := cfg
		if host, _ := cmd.Flags().GetString("host"); host != "" {
			c.Server.Host = host
		}
		if cmd.Flags().Changed("port") {
			c.Server.Port, _ = cmd.Flags().GetInt("port")
		}
		if noVerify, _ := cmd.Flags().GetBool("no-verify"); noVerify {
			c.Server.VerifySignatures = false
		}
		if domain, _ := cmd.Flags().GetString("domain"); domain != "" {
			c.Server.TLSDomain = domain
		}

		if err := c.ValidateWebhook(); err != nil {
			log.Warn("webhook challenges will fail", "error", err)
		}

		opts := server.Options{
			WebhookSecret:    c.OAuth1.ConsumerSecret,
			VerifySignatures: c.Server.VerifySignatures,
			AllowedOrigins:   c.Server.AllowedOrigins,
			OnEvent:          logMentions,
			Telemetry:        tel,
		}

		a, err := openApp(ctx, c, nil)
		switch {
		case errors.Is(err, autherr.ErrConfig):
			log.Warn("oauth routes disabled", "error", err)
		case err != nil:
			return err
		default:
			defer a.Close()
			opts.Flow = a.flow
			store.StartCleanupRoutine(ctx, a.backend.Flows, flowCleanupInterval)
		}

		srv := server.New(opts)
		errCh := make(chan error, 1)
		go func() {
			if c.Server.TLSDomain != "" {
				errCh <- srv.ListenAndServeTLS(server.HTTPSConfig{
					Domain:  c.Server.TLSDomain,
					CertDir: c.Server.CertDir,
				})
				return
			}
			errCh <- srv.ListenAndServe(c.Addr())
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

// logMentions records deliveries that carry new mentions.
func logMentions(r *http.Request, ev *webhook.Event) error {
	if ev.HasMentions() {
		log.Info("mention received",
			"for_user_id", ev.ForUserID,
			"count", strconv.Itoa(ev.Kinds["tweet_create_events"]),
			"request_id", log.GetRequestID(r.Context()),
		)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "", "Host to bind to (default from MENTIONBOT_HOST)")
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	serveCmd.Flags().Bool("no-verify", false, "Accept webhook deliveries without a valid signature")
	serveCmd.Flags().String("domain", "", "Serve HTTPS with a Let's Encrypt certificate for this domain")
}
