package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"formrelay/internal/commands/send"
	"formrelay/internal/commands/upload"
	"formrelay/internal/config"
	"formrelay/internal/server"

	"github.com/gnitoahc/go-dotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "formrelay",
	Short: "Formrelay forwards form submissions to email and object storage.",
	Long: `Formrelay forwards form submissions to third-party services: feedback email,
newsletter sign-ups and verified file uploads to S3-compatible object storage.`,
	SilenceUsage: true,
}

var servePort int
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server.",
	Long:  `Run the HTTP server exposing /api/upload, /api/feedback and /api/newsletter.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return server.Serve(cmd.Context(), cfg, servePort)
	},
}

var uploadCmdFlags upload.Flags
var uploadCmd = &cobra.Command{
	Use:   "upload [file]",
	Short: "Upload a file and confirm the store reflects it.",
	Long: `Upload a file to the configured bucket and wait until the object store reports
the new version. With --remote the file is posted to a running server instead.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return upload.Run(cmd.Context(), uploadCmdFlags, args[0], cmd.OutOrStdout())
	},
}

var feedbackCmdFlags send.FeedbackFlags
var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Send a feedback message.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return send.Feedback(cmd.Context(), feedbackCmdFlags, cmd.OutOrStdout())
	},
}

var subscribeRemote string
var subscribeCmd = &cobra.Command{
	Use:   "subscribe [email]",
	Short: "Subscribe an address to the newsletter.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return send.Subscribe(cmd.Context(), subscribeRemote, args[0], cmd.OutOrStdout())
	},
}

func setupLogging() {
	dotenv.Load(".env")
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	level, err := zerolog.ParseLevel(strings.ToLower(dotenv.Get("LOG_LEVEL", "info")))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func main() {
	setupLogging()
	rootCmd.AddCommand(serveCmd, uploadCmd, feedbackCmd, subscribeCmd)

	// ==============
	// serveCmd flags
	// ==============
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (default HTTP_PORT or 3000)")

	// ===============
	// uploadCmd flags
	// ===============
	uploadCmd.Flags().StringVarP(&uploadCmdFlags.Key, "key", "k", "", "Object key, defaults to the file name")
	uploadCmd.Flags().StringVarP(&uploadCmdFlags.Bucket, "bucket", "b", "", "Bucket, defaults to UPLOAD_BUCKET")
	uploadCmd.Flags().DurationVarP(&uploadCmdFlags.Wait, "wait", "w", 0, "How long to wait for the store to reflect the upload (default UPLOAD_WAIT)")
	uploadCmd.Flags().StringVarP(&uploadCmdFlags.Remote, "remote", "r", "", "Server URL; post the file there instead of writing to storage directly")

	// =================
	// feedbackCmd flags
	// =================
	feedbackCmd.Flags().StringVarP(&feedbackCmdFlags.Contact, "contact", "c", "", "How to reach you")
	feedbackCmd.Flags().StringVarP(&feedbackCmdFlags.Subject, "subject", "s", "", "Subject line")
	feedbackCmd.Flags().StringVarP(&feedbackCmdFlags.Message, "message", "m", "", "Message body")
	feedbackCmd.Flags().StringVarP(&feedbackCmdFlags.Remote, "remote", "r", "", "Server URL")

	// ==================
	// subscribeCmd flags
	// ==================
	subscribeCmd.Flags().StringVarP(&subscribeRemote, "remote", "r", "", "Server URL")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
