// Package main implements mragctl, a command-line client for the mediarag
// HTTP API.
package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

// version is set via ldflags during build.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// options are the persistent flags shared by every command.
type options struct {
	serverURL string
	timeout   time.Duration
	jsonOut   bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "mragctl",
		Short: "CLI for the mediarag knowledge base",
		Long: `mragctl talks to a running mediarag server. It embeds and compares text,
stores and searches documents, and chats with the assistant.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.serverURL, "server", envOr("MEDIARAG_URL", "http://localhost:8080"), "mediarag server URL")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 60*time.Second, "request timeout")
	root.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "print raw JSON responses")

	root.AddCommand(
		newHealthCmd(opts),
		newEmbedCmd(opts),
		newCompareCmd(opts),
		newSearchCmd(opts),
		newSearchAllCmd(opts),
		newAskCmd(opts),
		newIngestCmd(opts),
		newListCmd(opts),
		newClearCmd(opts),
	)
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
