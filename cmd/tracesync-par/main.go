// Command tracesync-par is the distributed driver: one OS process per trace
// process, synchronizing by exchanging corrected send/receive times over a
// relt-backed transport. The launcher that assigns rank and size is an
// external collaborator — here it is read from environment variables, the
// substitute this module uses for the reference implementation's MPI
// launcher.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	kingpin "github.com/alecthomas/kingpin/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/version"

	"github.com/jabolina/tracesync/pkg/tracesync/core"
	"github.com/jabolina/tracesync/pkg/tracesync/definition"
	"github.com/jabolina/tracesync/pkg/tracesync/metrics"
	"github.com/jabolina/tracesync/pkg/tracesync/trace"
	"github.com/jabolina/tracesync/pkg/tracesync/types"
)

const (
	envRank  = "TRACESYNC_RANK"
	envSize  = "TRACESYNC_SIZE"
	envRunID = "TRACESYNC_RUN_ID"
)

var (
	app = kingpin.New("tracesync-par", "Rewrite one process's slice of a KairaThreadTrace run, coordinating with peer ranks over a reliable transport.")

	kthPath      = app.Arg("kth-path", "path to the run's .kth header file").Required().String()
	minEventDiff = app.Arg("min-event-diff-ns", "minimum nanosecond gap between consecutive events in a process").Required().Uint64()
	minMsgDelay  = app.Arg("min-msg-delay-ns", "minimum nanosecond delay between a send and its receive").Required().Uint64()

	logLevel       = app.Flag("log-level", "debug enables debug output; any other value logs at info level").Default("info").String()
	metricsAddr    = app.Flag("metrics-addr", "address to serve Prometheus metrics on, empty to disable").Default("").String()
	noForwardAmort = app.Flag("no-forward-amort", "disable forward amortization").Bool()
	noBackAmort    = app.Flag("no-backward-amort", "disable backward amortization").Bool()
	namePrefix     = app.Flag("transport-prefix", "group name prefix peers rendezvous under").Default("tracesync").String()
)

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	rank, size, err := rankAndSize()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := definition.NewDefaultLogger().WithField("rank", rank)
	log.ToggleDebug(*logLevel == "debug")

	if err := run(rank, size, log); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

func rankAndSize() (int, int, error) {
	rankStr := os.Getenv(envRank)
	sizeStr := os.Getenv(envSize)
	if rankStr == "" || sizeStr == "" {
		return 0, 0, fmt.Errorf("tracesync-par: launcher must set %s and %s", envRank, envSize)
	}
	rank, err := strconv.Atoi(rankStr)
	if err != nil {
		return 0, 0, fmt.Errorf("tracesync-par: invalid %s: %w", envRank, err)
	}
	size, err := strconv.Atoi(sizeStr)
	if err != nil {
		return 0, 0, fmt.Errorf("tracesync-par: invalid %s: %w", envSize, err)
	}
	return rank, size, nil
}

func run(rank, size int, log *definition.DefaultLogger) error {
	runID := os.Getenv(envRunID)
	if runID == "" {
		runID = fmt.Sprintf("run-%d", os.Getpid())
	}
	log.Infof("tracesync-par %s rank %d/%d joining run %s", version.Version, rank, size, runID)

	collector := metrics.NewRunCollector(runID)
	if *metricsAddr != "" {
		stopMetrics := serveMetrics(*metricsAddr, collector, log)
		defer stopMetrics()
	}

	header, err := trace.ReadHeader(*kthPath)
	if err != nil {
		return fmt.Errorf("reading header %s: %w", *kthPath, err)
	}

	stem := trimKthSuffix(*kthPath)
	name := trace.ProcessTraceName(filepath.Base(stem), rank)
	path := filepath.Join(filepath.Dir(stem), name)
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	processHeader, err := trace.ParseProcessHeader(raw)
	if err != nil {
		return fmt.Errorf("parsing header of %s: %w", path, err)
	}

	outDir := filepath.Join(filepath.Dir(stem), "synchronized")
	if rank == 0 {
		if err := trace.CopyHeaderFile(*kthPath, outDir, filepath.Base(*kthPath)); err != nil {
			return fmt.Errorf("copying header into %s: %w", outDir, err)
		}
	} else if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir %s: %w", outDir, err)
	}

	cfg := types.DefaultConfiguration(*minEventDiff, *minMsgDelay)
	cfg.ForwardAmort = !*noForwardAmort
	cfg.BackwardAmort = !*noBackAmort
	cfg.Logger = log

	synchronizer := core.NewSynchronizer(uint32(rank), raw, processHeader, header.PointerSize, cfg)

	transport, err := core.NewRelayTransport(rank, size, *namePrefix+"-"+runID, log)
	if err != nil {
		return fmt.Errorf("joining transport: %w", err)
	}
	defer transport.Close()

	coordinator := core.NewParallelCoordinator(rank, size, synchronizer, transport, cfg)

	start := time.Now()
	if err := coordinator.Run(context.Background()); err != nil {
		return fmt.Errorf("running parallel coordinator: %w", err)
	}
	elapsed := time.Since(start)
	collector.SetRunDuration(uint64(elapsed.Milliseconds()))
	log.Infof("rank %d completed in %s", rank, elapsed)

	out := synchronizer.ExportBytes()
	collector.AddBytesWritten(uint64(len(out)))

	events, violating, slack := synchronizer.Stats()
	collector.AddEventsProcessed(uint64(events))
	for i := 0; i < violating; i++ {
		collector.AddViolatingReceive()
	}
	collector.AddSlackInjected(slack)

	outPath := filepath.Join(outDir, filepath.Base(path))
	if err := trace.WriteProcessFile(outPath, processHeader.Raw, synchronizer.DataList()); err != nil {
		return fmt.Errorf("writing %s: %w", outPath, err)
	}
	log.Infof("wrote %s (%d bytes)", outPath, len(out))
	return nil
}

func trimKthSuffix(kthPath string) string {
	ext := filepath.Ext(kthPath)
	return kthPath[:len(kthPath)-len(ext)]
}

func serveMetrics(addr string, collector *metrics.RunCollector, log *definition.DefaultLogger) func() {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collector)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux}

	invoker := definition.NewDefaultInvoker()
	invoker.Spawn(func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("metrics server: %v", err)
		}
	})
	return func() {
		_ = server.Close()
		invoker.Stop()
	}
}
