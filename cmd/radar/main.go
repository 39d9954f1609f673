// Command radar runs the financial news radar: source ingestion, enrichment,
// causal graph maintenance, and outbox delivery.
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

const (
	appName = "radar"
	version = "v0.3.0"
)

// process exit codes
const (
	exitConfig  = 1
	exitStorage = 2
	exitBroker  = 3
)

// codedError carries the process exit code alongside the cause.
type codedError struct {
	code int
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }
func (e *codedError) Unwrap() error { return e.err }

func fail(code int, err error) error {
	return &codedError{code: code, err: err}
}

var (
	configPath  string
	sourcesPath string
)

func addPathFlags(fs *pflag.FlagSet) {
	fs.StringVar(&configPath, "config", "config/config.yaml", "Path to the config file")
	fs.StringVar(&sourcesPath, "sources", "config/sources.yaml", "Path to the source list")
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Financial news ingestion and causal event graph service",
		Version: version,
	}
	addPathFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run every stage: pollers, enrichment, relay, and the HTTP surface",
			RunE:  runServe,
		},
		&cobra.Command{
			Use:   "ingest",
			Short: "Run only source polling and ingestion",
			RunE:  runIngest,
		},
		&cobra.Command{
			Use:   "enrich",
			Short: "Run only the enrichment worker pool",
			RunE:  runEnrich,
		},
		&cobra.Command{
			Use:   "relay",
			Short: "Run only the outbox relay",
			RunE:  runRelay,
		},
		&cobra.Command{
			Use:   "backfill",
			Short: "Drain source history into the store, then exit",
			RunE:  runBackfill,
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("%s %s\n", appName, version)
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		code := exitConfig
		var ce *codedError
		if errors.As(err, &ce) {
			code = ce.code
		}
		log.Error().Err(err).Msg("exiting")
		os.Exit(code)
	}
}
