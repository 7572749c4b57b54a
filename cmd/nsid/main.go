// Package main provides the entry point for the nsid daemon.
package main

import (
	"bufio"
	"fmt"
	"log"
	"net/http"
	nethttppprof "net/http/pprof"
	"os"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nsicore/nsi/cmd/nsid/commands"
	"github.com/nsicore/nsi/internal/version"
)

// Memory watchdog and pprof configuration constants.
const (
	// watchdogInterval is the polling interval for the memory watchdog.
	watchdogInterval = 30 * time.Second

	// megabyte is 1 MiB in bytes, used for unit conversions.
	megabyte = 1024 * 1024

	// rssThresholdMiB is the RSS threshold in MiB above which a warning is logged.
	// nsid's CGO surface (libgit2 tree reads, tree-sitter parses) runs per
	// request rather than in the bulk batches codefang's history analyzer
	// does, so the threshold is lower and no heap dump is triggered — a log
	// line is enough for an operator to decide whether to attach pprof.
	rssThresholdMiB = 1024

	// pprofReadHeaderTimeout is the read header timeout for the pprof HTTP server.
	pprofReadHeaderTimeout = 10 * time.Second
)

var (
	verbose bool
	quiet   bool
)

// readRSSMiB reads current RSS from /proc/self/statm.
func readRSSMiB() int64 {
	f, err := os.Open("/proc/self/statm")
	if err != nil {
		return 0
	}
	defer f.Close()

	var vsize, rss int64

	_, scanErr := fmt.Fscan(f, &vsize)
	if scanErr != nil {
		return 0
	}

	_, scanErr = fmt.Fscan(f, &rss)
	if scanErr != nil {
		return 0
	}

	return rss * int64(os.Getpagesize()) / megabyte
}

// readProcField reads a named field from /proc/self/status.
func readProcField(field string) string {
	f, err := os.Open("/proc/self/status")
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if after, ok := strings.CutPrefix(line, field); ok {
			return strings.TrimSpace(after)
		}
	}

	return ""
}

// startMemoryWatchdog logs RSS, Go heap, OS threads, and goroutine count
// every watchdogInterval, and warns once RSS crosses rssThresholdMiB. Unlike
// a bulk analysis run, nsid is a long-lived daemon serving many short-lived
// tool calls, so this is a slow-leak detector rather than a per-batch dump.
func startMemoryWatchdog(thresholdMiB int64) {
	go func() {
		warned := false

		for {
			time.Sleep(watchdogInterval)

			rssMiB := readRSSMiB()
			threads := readProcField("Threads:")

			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)

			goHeapMiB := ms.HeapInuse / megabyte
			goroutines := runtime.NumGoroutine()

			log.Printf("MEM RSS=%d GoHeap=%d threads=%s goroutines=%d",
				rssMiB, goHeapMiB, threads, goroutines)

			if rssMiB > thresholdMiB && !warned {
				log.Printf("WARN: RSS=%d MiB exceeds %d MiB threshold; attach pprof at localhost:6060 to investigate", rssMiB, thresholdMiB)

				warned = true
			}
		}
	}()
}

// ensureMallocTunables re-execs the process with glibc malloc env vars set.
// glibc reads these at the very first malloc() call, before any threads
// exist, so mallopt() called later from Go/CGO is too late.
//
// libgit2 tree reads and tree-sitter parse trees both allocate through CGO;
// without these tunables, glibc's default arena count fragments badly under
// the daemon's concurrent per-session request load.
func ensureMallocTunables() {
	if os.Getenv("MALLOC_ARENA_MAX") != "" {
		return // already configured (re-exec completed or manual override).
	}

	exe, err := os.Executable()
	if err != nil {
		return // best-effort; continue without tuning.
	}

	os.Setenv("MALLOC_ARENA_MAX", "2")
	os.Setenv("MALLOC_MMAP_THRESHOLD_", "32768")
	os.Setenv("MALLOC_TRIM_THRESHOLD_", "16384")
	os.Setenv("MALLOC_MMAP_MAX_", "65536")

	execErr := syscall.Exec(exe, os.Args, os.Environ())
	if execErr != nil {
		log.Printf("re-exec failed: %v", execErr)
	}
}

func main() {
	ensureMallocTunables()

	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/debug/pprof/", nethttppprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", nethttppprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", nethttppprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", nethttppprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", nethttppprof.Trace)
		server := &http.Server{
			Addr:              "localhost:6060",
			Handler:           mux,
			ReadHeaderTimeout: pprofReadHeaderTimeout,
		}
		log.Println(server.ListenAndServe())
	}()

	startMemoryWatchdog(rssThresholdMiB)

	version.InitBinaryVersion()

	rootCmd := &cobra.Command{
		Use:   "nsid",
		Short: "nsid - native session isolation daemon for multi-agent coding",
		Long: `nsid lets multiple coding agents work against the same repository
concurrently, each in its own isolated session, without colliding on disk or
in git history until they explicitly submit and merge.

Commands:
  serve    Start the MCP stdio server and diagnostics HTTP server
  version  Show version information`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress output")

	rootCmd.AddCommand(commands.NewServeCommand(&verbose, &quiet))
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "nsid %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
