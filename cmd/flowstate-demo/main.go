package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	flowstate "github.com/flowstate-labs/flowstate/pkg/flowstate/v1"
	"github.com/flowstate-labs/flowstate/pkg/flowstate/v1/action"
	"github.com/flowstate-labs/flowstate/pkg/flowstate/v1/connectivity"
	flowerrors "github.com/flowstate-labs/flowstate/pkg/flowstate/v1/errors"
	flowlog "github.com/flowstate-labs/flowstate/pkg/flowstate/v1/log"
	flowpersist "github.com/flowstate-labs/flowstate/pkg/flowstate/v1/persist"

	"github.com/flowstate-labs/flowstate/internal/config"
	"github.com/flowstate-labs/flowstate/internal/events"
	"github.com/flowstate-labs/flowstate/internal/logger"
	"github.com/flowstate-labs/flowstate/internal/metrics"
	"github.com/flowstate-labs/flowstate/internal/persist"
	"github.com/flowstate-labs/flowstate/internal/tracing"
)

const (
	ExitSuccess         = 0
	ExitFailure         = 1
	ExitUsageError      = 2
	ExitSigIntBase      = 128
	ExitSigInt          = ExitSigIntBase + int(syscall.SIGINT)
	ExitSigTerm         = ExitSigIntBase + int(syscall.SIGTERM)
	DefaultLogLevel     = "info"
	DefaultLogFmt       = "text"
	DefaultEventBusSize = 256
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "validate" {
		runValidateCommand(os.Args[2:])
		return
	}
	if len(os.Args) == 2 && (os.Args[1] == "--version" || os.Args[1] == "-version") {
		printVersion()
		os.Exit(ExitSuccess)
	}
	os.Exit(runDemoCommand(os.Args[1:]))
}

func printVersion() {
	fmt.Printf("flowstate-demo version %s\n", version)
	fmt.Printf("commit: %s\n", commit)
	fmt.Printf("built: %s\n", buildDate)
	fmt.Printf("go version: %s\n", runtime.Version())
	fmt.Printf("os/arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

func runValidateCommand(args []string) {
	validateFlags := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := validateFlags.String("config", "", "Path to the store config YAML file to validate (required)")
	logLevel := validateFlags.String("log-level", DefaultLogLevel, "Log level for validation output (debug, info, warn, error)")

	validateFlags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s validate -config <path> [flags...]\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Validates the structure and schema compatibility of a flowstate config file.")
		fmt.Fprintln(os.Stderr, "\nFlags:")
		validateFlags.PrintDefaults()
	}

	if err := validateFlags.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing validate flags: %v\n", err)
		os.Exit(ExitUsageError)
	}

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "Error: -config flag is required for validation")
		validateFlags.Usage()
		os.Exit(ExitUsageError)
	}

	log := logger.NewLogger(*logLevel, "text", os.Stderr)
	log.Infof("Validating config: %s", *configPath)

	_, err := config.LoadFromFile(*configPath)
	if err != nil {
		var validationErr *flowerrors.ValidationError
		var configErr *flowerrors.ConfigError
		if errors.As(err, &validationErr) {
			log.Errorf("Config validation failed:\n%s", validationErr.Error())
		} else if errors.As(err, &configErr) {
			log.Errorf("Config error:\n%s", configErr.Error())
		} else {
			log.Errorf("Failed to load or validate config: %v", err)
		}
		os.Exit(ExitFailure)
	}

	log.Infof("Config validation successful: %s", *configPath)
	os.Exit(ExitSuccess)
}

// todoState is the demo application state: a small todo list with a filter.
type todoState struct {
	Todos  []string `json:"todos"`
	Filter string   `json:"filter"`
	Loads  int      `json:"loads"`
}

func runDemoCommand(args []string) int {
	demoFlags := flag.NewFlagSet("flowstate-demo", flag.ExitOnError)
	configPath := demoFlags.String("config", "", "Path to a store config YAML file (optional)")
	logLevel := demoFlags.String("log-level", DefaultLogLevel, "Log level (debug, info, warn, error)")
	logFormat := demoFlags.String("log-format", DefaultLogFmt, "Log format (text, json)")
	metricsAddr := demoFlags.String("metrics-addr", "", "Address for the Prometheus /metrics endpoint (requires metrics enabled in config)")
	versionFlag := demoFlags.Bool("version", false, "Print version information and exit")

	demoFlags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags...]\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Runs a demonstration scenario against a flowstate store.")
		fmt.Fprintln(os.Stderr, "\nFlags:")
		demoFlags.PrintDefaults()
	}

	if err := demoFlags.Parse(args); err != nil {
		return ExitUsageError
	}
	if *versionFlag {
		printVersion()
		return ExitSuccess
	}
	if *logFormat != "text" && *logFormat != "json" {
		fmt.Fprintln(os.Stderr, "Error: -log-format must be 'text' or 'json'")
		return ExitUsageError
	}

	cfg := &config.Config{}
	if *configPath != "" {
		loaded, err := config.LoadFromFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config '%s': %v\n", *configPath, err)
			return ExitFailure
		}
		cfg = loaded
	}
	if cfg.Logging.Level != "" && *logLevel == DefaultLogLevel {
		*logLevel = cfg.Logging.Level
	}
	if cfg.Logging.Format != "" && *logFormat == DefaultLogFmt {
		*logFormat = cfg.Logging.Format
	}

	var logWriter io.Writer = os.Stderr
	log := logger.NewLogger(*logLevel, *logFormat, logWriter)
	log = log.With("flowstate_version", version)

	log.Infof("flowstate demo v%s starting...", version)

	busSize := cfg.Events.BufferSize
	if busSize <= 0 {
		busSize = DefaultEventBusSize
	}
	eventBus := events.NewChannelEventBus(busSize, log)

	opts := []flowstate.Option[todoState]{
		flowstate.WithLogger[todoState](log),
		flowstate.WithEventBus[todoState](eventBus),
	}

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsProvider := metrics.NewPrometheusRegistryProvider()
		opts = append(opts, flowstate.WithMetricsRegistryProvider[todoState](metricsProvider))
		if *metricsAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(metricsProvider.Registry(), promhttp.HandlerOpts{}))
			metricsServer = &http.Server{Addr: *metricsAddr, Handler: mux}
			go func() {
				log.Infof("Serving metrics on %s/metrics", *metricsAddr)
				if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Warnf("Metrics server stopped: %v", err)
				}
			}()
		}
	}

	if cfg.Tracing.Enabled {
		tracerProvider, err := tracing.NewProviderFromEnv(context.Background())
		if err != nil {
			log.Warnf("Failed to initialize tracing from environment: %v. Using NoOp tracer.", err)
			tracerProvider, _ = tracing.NewNoOpProvider()
		}
		opts = append(opts, flowstate.WithTracerProvider[todoState](tracerProvider))
	}

	if cfg.Connectivity.ProbeAddr != "" {
		checker := connectivity.TCPProbe(cfg.Connectivity.ProbeAddr, cfg.Connectivity.ProbeTimeoutParsed)
		opts = append(opts, flowstate.WithConnectivityChecker[todoState](checker))
	}

	persister, cleanup, err := buildPersister(cfg, log)
	if err != nil {
		log.Errorf("Failed to initialize persistence: %v", err)
		return ExitFailure
	}
	if cleanup != nil {
		defer cleanup()
	}
	if persister != nil {
		opts = append(opts, flowstate.WithPersister[todoState](persister, cfg.Persistence.IntervalParsed))
	}

	opts = append(opts, flowstate.WithDefaults[todoState](flowstate.Defaults{
		ThrottleWindow: cfg.Defaults.ThrottleWindowParsed,
		DebounceWindow: cfg.Defaults.DebounceWindowParsed,
		RetryMax:       cfg.Defaults.Retry.MaxRetries,
		RetryDelay:     cfg.Defaults.Retry.InitialDelayParsed,
		RetryMult:      cfg.Defaults.Retry.Multiplier,
		RetryMaxDelay:  cfg.Defaults.Retry.MaxDelayParsed,
	}))

	st, err := flowstate.New(todoState{Filter: "all"}, opts...)
	if err != nil {
		log.Errorf("Failed to create store: %v", err)
		return ExitFailure
	}

	if persister != nil {
		if err := st.Hydrate(context.Background()); err != nil {
			log.Warnf("Hydration failed, starting from the initial state: %v", err)
		} else {
			log.Infof("Hydrated state: %d todos from previous runs", len(st.State().Todos))
		}
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	var sigMu sync.Mutex
	var receivedSignal os.Signal
	go func() {
		select {
		case sig := <-sigChan:
			log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
			sigMu.Lock()
			receivedSignal = sig
			sigMu.Unlock()
			cancelRun()
		case <-runCtx.Done():
		}
	}()

	execErr := runScenario(runCtx, st, log)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := st.Close(shutdownCtx); err != nil {
		log.Warnf("Error closing store: %v", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Warnf("Error shutting down metrics server: %v", err)
		}
	}

	sigMu.Lock()
	finalSignal := receivedSignal
	sigMu.Unlock()
	return determineExitCode(execErr, finalSignal, log)
}

// buildPersister constructs the persistence adapter named by the config.
// The returned cleanup func, when non-nil, must run after the store closed.
func buildPersister(cfg *config.Config, log flowlog.Logger) (flowpersist.Persister[todoState], func(), error) {
	switch cfg.Persistence.Driver {
	case "":
		return nil, nil, nil
	case "file":
		p, err := persist.NewFilePersister[todoState](cfg.Persistence.Path, nil)
		if err != nil {
			return nil, nil, err
		}
		log.Infof("Persisting snapshots to file %s", cfg.Persistence.Path)
		return p, nil, nil
	case "sqlite":
		p, err := persist.NewSQLitePersister[todoState](context.Background(), cfg.Persistence.Path, nil)
		if err != nil {
			return nil, nil, err
		}
		log.Infof("Persisting snapshots to sqlite database %s", cfg.Persistence.Path)
		return p, func() {
			if err := p.Close(); err != nil {
				log.Warnf("Error closing sqlite persister: %v", err)
			}
		}, nil
	default:
		return nil, nil, flowerrors.NewConfigError(
			fmt.Sprintf("unknown persistence driver '%s'", cfg.Persistence.Driver), nil)
	}
}

// addTodo appends a todo entry to the list.
type addTodo struct {
	text string
}

func (a *addTodo) Type() string        { return "add-todo" }
func (a *addTodo) Shape() action.Shape { return action.Sync }
func (a *addTodo) Reduce(rc *action.Context[todoState]) (*todoState, error) {
	next := rc.State()
	next.Todos = append(append([]string(nil), next.Todos...), a.text)
	return &next, nil
}

// setFilter changes the visible-todos filter. Rapid repeated dispatches
// (think keystrokes) are debounced so only the trailing value executes.
type setFilter struct {
	filter string
}

func (a *setFilter) Type() string        { return "set-filter" }
func (a *setFilter) Shape() action.Shape { return action.Sync }
func (a *setFilter) Capabilities() action.Capabilities {
	return action.Capabilities{Debounce: &action.DebounceSpec{Window: 100 * time.Millisecond}}
}
func (a *setFilter) Reduce(rc *action.Context[todoState]) (*todoState, error) {
	next := rc.State()
	next.Filter = a.filter
	return &next, nil
}

// loadTodos simulates a flaky remote load that succeeds on the third attempt.
type loadTodos struct{}

func (a *loadTodos) Type() string        { return "load-todos" }
func (a *loadTodos) Shape() action.Shape { return action.Async }
func (a *loadTodos) Capabilities() action.Capabilities {
	return action.Capabilities{Retry: &action.RetrySpec{MaxRetries: 3, InitialDelay: 50 * time.Millisecond}}
}
func (a *loadTodos) Reduce(rc *action.Context[todoState]) (*todoState, error) {
	if rc.Attempt() < 2 {
		return nil, fmt.Errorf("simulated transient failure (attempt %d)", rc.Attempt())
	}
	next := rc.State()
	next.Todos = append(append([]string(nil), next.Todos...), "fetched: review release notes")
	next.Loads++
	return &next, nil
}

// runScenario exercises the store end to end: plain dispatches, a debounced
// burst and a retried load.
func runScenario(ctx context.Context, st flowstate.Store[todoState], log flowlog.Logger) error {
	log.Infof("Adding todos...")
	for _, text := range []string{"write config docs", "wire metrics endpoint"} {
		if _, err := st.DispatchAndWait(ctx, &addTodo{text: text}); err != nil {
			return err
		}
	}

	log.Infof("Simulating a filter keystroke burst (debounced)...")
	for _, f := range []string{"a", "ac", "act", "active"} {
		if _, err := st.Dispatch(ctx, &setFilter{filter: f}); err != nil {
			return err
		}
	}
	if err := st.WaitForCondition(ctx, func(s todoState) bool { return s.Filter == "active" }, 2*time.Second); err != nil {
		return fmt.Errorf("debounced filter never settled: %w", err)
	}

	log.Infof("Loading remote todos (retries transparently)...")
	o, err := st.DispatchAndWait(ctx, &loadTodos{})
	if err != nil {
		return err
	}
	log.Infof("Remote load succeeded after %d attempts", o.Attempts)

	final := st.State()
	log.Infof("Final state: filter=%q, %d todos", final.Filter, len(final.Todos))
	for i, todo := range final.Todos {
		log.Infof("  %d. %s", i+1, todo)
	}
	return nil
}

func determineExitCode(execErr error, sig os.Signal, log flowlog.Logger) int {
	if execErr == nil {
		log.Infof("Demo completed successfully.")
		return ExitSuccess
	}
	if errors.Is(execErr, context.Canceled) && sig != nil {
		switch sig {
		case syscall.SIGINT:
			log.Warnf("Demo interrupted by signal: SIGINT")
			return ExitSigInt
		case syscall.SIGTERM:
			log.Warnf("Demo terminated by signal: SIGTERM")
			return ExitSigTerm
		}
	}
	if strings.Contains(execErr.Error(), "timed out") {
		log.Errorf("Demo timed out: %v", execErr)
		return ExitFailure
	}
	log.Errorf("Demo failed: %v", execErr)
	return ExitFailure
}
