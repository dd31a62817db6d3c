// Command tracesync-seq is the single-process driver: it loads every
// process's .ktt file into one address space and runs the sequential
// coordinator over all of them, writing one merged .kst file.
package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	kingpin "github.com/alecthomas/kingpin/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/version"
	"github.com/rs/xid"

	"github.com/jabolina/tracesync/pkg/tracesync/core"
	"github.com/jabolina/tracesync/pkg/tracesync/definition"
	"github.com/jabolina/tracesync/pkg/tracesync/metrics"
	"github.com/jabolina/tracesync/pkg/tracesync/trace"
	"github.com/jabolina/tracesync/pkg/tracesync/types"
)

var (
	app = kingpin.New("tracesync-seq", "Rewrite a KairaThreadTrace run into a causally-consistent merged trace.")

	kthPath      = app.Arg("kth-path", "path to the run's .kth header file").Required().String()
	minEventDiff = app.Arg("min-event-diff-ns", "minimum nanosecond gap between consecutive events in a process").Required().Uint64()
	minMsgDelay  = app.Arg("min-msg-delay-ns", "minimum nanosecond delay between a send and its receive").Required().Uint64()

	logLevel       = app.Flag("log-level", "debug enables debug output; any other value logs at info level").Default("info").String()
	metricsAddr    = app.Flag("metrics-addr", "address to serve Prometheus metrics on, empty to disable").Default("").String()
	noForwardAmort = app.Flag("no-forward-amort", "disable forward amortization").Bool()
	noBackAmort    = app.Flag("no-backward-amort", "disable backward amortization").Bool()
)

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	log := definition.NewDefaultLogger()
	log.ToggleDebug(*logLevel == "debug")

	if err := run(log); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(log *definition.DefaultLogger) error {
	runID := xid.New().String()
	log.Infof("tracesync-seq %s starting run %s", version.Version, runID)

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
	processCount, processData, processHeaders, err := loadProcesses(stem, header.PointerSize)
	if err != nil {
		return err
	}
	log.Infof("loaded %d processes, pointer size %d", processCount, header.PointerSize)

	cfg := types.DefaultConfiguration(*minEventDiff, *minMsgDelay)
	cfg.ForwardAmort = !*noForwardAmort
	cfg.BackwardAmort = !*noBackAmort
	cfg.Logger = log

	synchronizers := make([]*core.Synchronizer, processCount)
	for i := 0; i < processCount; i++ {
		synchronizers[i] = core.NewSynchronizer(uint32(i), processData[i], processHeaders[i], header.PointerSize, cfg)
	}

	start := time.Now()
	coordinator := core.NewSequentialCoordinator(synchronizers, cfg)
	if err := coordinator.Run(); err != nil {
		return fmt.Errorf("running sequential coordinator: %w", err)
	}
	elapsed := time.Since(start)
	collector.SetRunDuration(uint64(elapsed.Milliseconds()))
	log.Infof("run %s completed in %s", runID, elapsed)

	perProcess := make([][]byte, processCount)
	var totalBytes uint64
	for i, s := range synchronizers {
		out := s.ExportBytes()
		perProcess[i] = out
		totalBytes += uint64(len(out))

		events, violating, slack := s.Stats()
		collector.AddEventsProcessed(uint64(events))
		for j := 0; j < violating; j++ {
			collector.AddViolatingReceive()
		}
		collector.AddSlackInjected(slack)
	}
	collector.AddBytesWritten(totalBytes)

	outPath := filepath.Join(filepath.Dir(*kthPath), "synchronized_trace.kst")
	rawHeader, err := os.ReadFile(*kthPath)
	if err != nil {
		return fmt.Errorf("re-reading header %s: %w", *kthPath, err)
	}
	if err := trace.WriteSequentialFile(outPath, header.PointerSize, processCount, rawHeader, perProcess); err != nil {
		return fmt.Errorf("writing %s: %w", outPath, err)
	}

	log.Infof("wrote %s (%d bytes)", outPath, totalBytes)
	return nil
}

// trimKthSuffix mirrors the reference driver's trim_filename_suffix: the
// .ktt files share the .kth's path stem, minus the extension.
func trimKthSuffix(kthPath string) string {
	ext := filepath.Ext(kthPath)
	return kthPath[:len(kthPath)-len(ext)]
}

// loadProcesses reads process .ktt files named "<stem>-<id>-0.ktt" starting
// at id 0, stopping at the first id that doesn't exist; process discovery
// (file I/O) is explicitly the CLI layer's concern, not the synchronization
// core's.
func loadProcesses(stem string, pointerSize int) (int, [][]byte, []trace.ProcessHeader, error) {
	var data [][]byte
	var headers []trace.ProcessHeader
	for id := 0; ; id++ {
		name := trace.ProcessTraceName(filepath.Base(stem), id)
		path := filepath.Join(filepath.Dir(stem), name)
		raw, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				break
			}
			return 0, nil, nil, fmt.Errorf("reading %s: %w", path, err)
		}
		header, err := trace.ParseProcessHeader(raw)
		if err != nil {
			return 0, nil, nil, fmt.Errorf("parsing header of %s: %w", path, err)
		}
		data = append(data, raw)
		headers = append(headers, header)
	}
	return len(data), data, headers, nil
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
