// bitflip repairs a buffer corrupted by a single flipped bit. Given the file
// and the digest of the original data, it flips every bit in turn and writes
// the first variant whose digest matches to <file>_corrected.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bleepsandbloops/bitflip/internal/config"
	"github.com/bleepsandbloops/bitflip/internal/digest"
	"github.com/bleepsandbloops/bitflip/internal/progress"
	"github.com/bleepsandbloops/bitflip/internal/search"
	"github.com/bleepsandbloops/bitflip/internal/sink"
	"github.com/bleepsandbloops/bitflip/internal/source"
	"github.com/bleepsandbloops/bitflip/pkg/debug"
)

const (
	exitOK    = 0
	exitError = 1

	// failureLogTail is how many buffered log entries are replayed when a
	// search fails with logging on.
	failureLogTail = 20
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type cliFlags struct {
	algorithm      string
	workers        int
	envFile        string
	reportURL      string
	noProgress     bool
	listAlgorithms bool
	trace          bool
	help           bool
}

func newFlagSet(stderr io.Writer, flags *cliFlags) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("bitflip", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&flags.algorithm, "algorithm", "a", digest.DefaultAlgorithm, "digest algorithm (see --list-algorithms)")
	flagSet.IntVarP(&flags.workers, "workers", "w", 0, "number of workers (0 = one per CPU)")
	flagSet.StringVar(&flags.envFile, "env-file", "", "load settings from this file instead of ./"+config.DefaultEnvFile)
	flagSet.StringVar(&flags.reportURL, "report-url", "", "also report a found collision to this ws:// or wss:// endpoint")
	flagSet.BoolVar(&flags.noProgress, "no-progress", false, "do not render progress")
	flagSet.BoolVar(&flags.listAlgorithms, "list-algorithms", false, "list supported digest algorithms and exit")
	flagSet.BoolVarP(&flags.trace, "debug", "d", false, "trace every examined bit")
	flagSet.BoolVarP(&flags.help, "help", "h", false, "show help")
	return flagSet
}

// run executes the command and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var flags cliFlags
	flagSet := newFlagSet(stderr, &flags)

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(stderr, flagSet)
			return exitOK
		}
		return usageError(stderr, "%v", err)
	}
	if flags.help {
		printHelp(stderr, flagSet)
		return exitOK
	}
	if flags.listAlgorithms {
		for _, name := range digest.List() {
			h, _ := digest.Get(name)
			fmt.Fprintf(stdout, "%-12s %d bytes\n", name, h.Size())
		}
		return exitOK
	}

	positional := flagSet.Args()
	if len(positional) != 2 {
		return usageError(stderr, "expected <file_path> and <target_digest_hex>, got %d arguments", len(positional))
	}
	path, target := positional[0], positional[1]

	cfg, err := loadConfig(flagSet, &flags)
	if err != nil {
		return fail(stderr, err)
	}

	logOpts := cfg.DebugOptions()
	logOpts.Output = stderr
	if err := debug.Configure(logOpts); err != nil {
		return fail(stderr, err)
	}

	hasher, err := digest.Get(cfg.Algorithm)
	if err != nil {
		return fail(stderr, err)
	}
	if _, err := digest.NormalizeDigest(hasher, target); err != nil {
		return usageError(stderr, "%v", err)
	}

	data, err := source.Load(path, cfg.MaxInputBytes)
	if err != nil {
		return fail(stderr, err)
	}

	sinks := sink.MultiSink{sink.NewFileSink(path)}
	if cfg.ReportURL != "" {
		ws, err := sink.NewWebSocketSink(cfg.ReportURL)
		if err != nil {
			return fail(stderr, err)
		}
		sinks = append(sinks, ws)
	}

	engineOpts := []search.Option{
		search.WithWorkers(cfg.Workers),
		search.WithQueueCapacity(cfg.QueueCapacity),
		search.WithMaxScratchBytes(cfg.MaxScratchBytes),
		search.WithTrace(flags.trace),
		search.WithSink(sinks),
	}

	var bar *progress.Bar
	if !flags.noProgress {
		bar = progress.New(stderr)
		engineOpts = append(engineOpts, search.WithProgress(cfg.ProgressInterval, bar.Render))
	}

	engine, err := search.New(hasher, engineOpts...)
	if err != nil {
		return fail(stderr, err)
	}

	outcome, err := engine.Search(ctx, data, target)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		if outcome != nil && outcome.Found {
			printCollision(stdout, outcome)
		}
		code := fail(stderr, err)
		if debug.IsDebugEnabled() {
			printRecentLogs(stderr, failureLogTail)
		}
		return code
	}

	if !outcome.Found {
		fmt.Fprintln(stdout, "No collision found.")
		return exitOK
	}

	printCollision(stdout, outcome)
	fmt.Fprintf(stdout, "Corrected data written to %s\n", sink.CorrectedPath(path))
	return exitOK
}

// loadConfig merges the env file, the environment and flags, in increasing
// precedence.
func loadConfig(flagSet *pflag.FlagSet, flags *cliFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.envFile)
	if err != nil {
		return nil, err
	}

	if flagSet.Changed("algorithm") {
		cfg.Algorithm = flags.algorithm
	}
	if flagSet.Changed("workers") {
		cfg.Workers = flags.workers
	}
	if flagSet.Changed("report-url") {
		cfg.ReportURL = flags.reportURL
	}
	if flags.trace {
		cfg.Debug = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func printCollision(w io.Writer, outcome *search.Outcome) {
	c := outcome.Collision
	fmt.Fprintf(w, "Collision found! byte=%d bit=%d digest=%s\n", c.Index.Byte, c.Index.Bit, c.Digest)
}

// printRecentLogs replays the newest n entries of the in-memory log buffer.
func printRecentLogs(w io.Writer, n int) {
	status := debug.GetStatus()
	entries := debug.TailBufferedLogs(n)

	fmt.Fprintf(w, "recent log entries (%d of %d buffered, %d dropped, level %s):\n",
		len(entries), status.BufferCount, status.BufferDropped, status.Level)
	for _, e := range entries {
		fmt.Fprintf(w, "  [%s] [%s] [%s:%d] %s\n",
			e.Level, e.Timestamp.Format("15:04:05.000"), filepath.Base(e.File), e.Line, e.Message)
	}
	if status.FileLoggingEnabled {
		fmt.Fprintf(w, "full log: %s\n", status.LogFilePath)
	}
}

func fail(stderr io.Writer, err error) int {
	fmt.Fprintf(stderr, "error: %v\n", err)
	return exitError
}

func usageError(stderr io.Writer, format string, args ...any) int {
	fmt.Fprintf(stderr, "error: "+format+"\n", args...)
	fmt.Fprintln(stderr, "usage: bitflip <file_path> <target_digest_hex> [-d] [flags]")
	return exitError
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, `bitflip finds the single flipped bit that turns a file back into data with
the given digest, and writes the repaired copy to <file_path>_corrected.

Usage:
  bitflip <file_path> <target_digest_hex> [flags]

Inputs ending in .7z, .zst or .lz4 are decompressed before the search.
Settings can also come from BITFLIP_* environment variables or a .env file.

Exit status is 0 when the search completes, whether or not a collision was
found, and 1 on any error.

Flags:
%s`, flagSet.FlagUsages())
}
