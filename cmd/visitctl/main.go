// Command visitctl is a command-line visitor: it keeps its own increment-once
// state (a sqlite file by default) and calls the visit endpoint like a
// browser tab would.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/eternovinculo/visitguard"
)

type options struct {
	statePath string
	baseURL   string
	codec     string
	mirror    string
	redisAddr string
	namespace string
	crossTab  string
	timeout   time.Duration
	verbose   bool
	logFormat string

	logger visitguard.Logger
}

func defaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "visitguard", "state.db")
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "visitctl",
		Short: "Count profile visits once per client",
		Long: `visitctl visits public memorial profiles the way a browser does: the first
visit to a profile is counted, later ones are not, and a failed attempt may be
retried.

Kinds: profile, family, couple (route names such as family-profiles work too).

Example:
  visitctl --base-url https://api.example.com visit family garcia-lopez
  visitctl status family garcia-lopez
  visitctl reset-all --kind family`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			l, err := newLogger(opts.logFormat, cmd.ErrOrStderr(), opts.verbose)
			if err != nil {
				return err
			}
			opts.logger = l
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.statePath, "state", defaultStatePath(), "sqlite file holding counted visits")
	pf.StringVar(&opts.baseURL, "base-url", os.Getenv("VISITCTL_BASE_URL"), "visit endpoint base URL (env VISITCTL_BASE_URL)")
	pf.StringVar(&opts.codec, "codec", "json", "state record encoding: json, msgpack, cbor, proto")
	pf.StringVar(&opts.mirror, "mirror", "sqlite", "where counted visits are remembered: sqlite, redis")
	pf.StringVar(&opts.redisAddr, "redis-addr", "localhost:6379", "redis address for --mirror redis and --cross-tab")
	pf.StringVar(&opts.namespace, "namespace", "visitctl", "redis namespace for the mirror and channel")
	pf.StringVar(&opts.crossTab, "cross-tab", "off", "coordination with other visitctl processes via redis: off, notify, lock")
	pf.DurationVar(&opts.timeout, "timeout", 0, "overall timeout (0 = none)")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	pf.StringVar(&opts.logFormat, "log-format", "console", "log output: "+strings.Join(logFormats, ", "))

	root.AddCommand(
		newVisitCmd(opts),
		newStatusCmd(opts),
		newListCmd(opts),
		newResetCmd(opts),
		newResetAllCmd(opts),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
