/*
mboitata - intercepting recon proxy and JavaScript static analysis pipeline.

Usage:

	mboitata [flags]
	mboitata version
	mboitata generate-ca [flags]
	mboitata config dump [flags]
	mboitata config validate [flags]
*/
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/linharesaron/mboitata/internal/allowlist"
	"github.com/linharesaron/mboitata/internal/config"
	"github.com/linharesaron/mboitata/internal/logbuf"
	"github.com/linharesaron/mboitata/internal/logging"
	"github.com/linharesaron/mboitata/internal/mitmca"
	"github.com/linharesaron/mboitata/internal/pipeline"
	"github.com/linharesaron/mboitata/internal/pipeline/stages"
	"github.com/linharesaron/mboitata/internal/proxy"
	"github.com/linharesaron/mboitata/internal/telemetry"
	"github.com/linharesaron/mboitata/internal/version"
	"github.com/linharesaron/mboitata/web"
)

var (
	// CLI flags — these override config file values when explicitly set.
	flagPort          int
	flagOutput        string
	flagCertsDir      string
	flagAllowList     []string
	flagURLs          []string
	flagPretty        bool
	flagLogDir        string
	flagVerbose       bool
	flagConfigPath    string
	flagManagementAddr string
	flagMaxBodyBytes  int64

	flagDashboardUser string
	flagDashboardPass string

	flagForceCA bool
)

var rootCmd = &cobra.Command{
	Use:   "mboitata",
	Short: "mboitata - intercepting recon proxy and JS analysis pipeline",
	RunE:  runProxy,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Println(version.Full())
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the resolved configuration as YAML",
	RunE:  runConfigDump,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and exit",
	RunE:  runConfigValidate,
}

var generateCACmd = &cobra.Command{
	Use:   "generate-ca",
	Short: "Generate a CA certificate and private key for MITM interception",
	RunE:  runGenerateCA,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path (default: mboitata.yml in current directory)")

	rootCmd.Flags().IntVarP(&flagPort, "port", "p", 0, "listen port")
	rootCmd.Flags().StringVarP(&flagOutput, "output", "o", "", "directory captured responses and findings are written under")
	rootCmd.Flags().StringVarP(&flagCertsDir, "certs-dir", "c", "", "directory the CA certificate and key are loaded from/written to")
	rootCmd.Flags().StringSliceVar(&flagAllowList, "allow-list", nil, "host substring to capture (repeatable); empty means capture everything")
	rootCmd.Flags().StringSliceVarP(&flagURLs, "urls", "u", nil, "seed URL to navigate (repeatable); pass - to read newline-delimited URLs from stdin")
	rootCmd.Flags().BoolVar(&flagPretty, "pretty", false, "reserved; currently has no effect")
	rootCmd.Flags().StringVar(&flagLogDir, "log-dir", "", "directory for log files (empty to disable file logging)")
	rootCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose (DEBUG) logging")
	rootCmd.Flags().StringVar(&flagManagementAddr, "management-addr", "", "optional standalone address to also serve the dashboard on")
	rootCmd.Flags().Int64Var(&flagMaxBodyBytes, "max-body-bytes", 0, "cap on buffered response body size in bytes (0 means unbounded)")

	rootCmd.Flags().StringVar(&flagDashboardUser, "dashboard-user", "", "dashboard HTTP Basic Auth username")
	rootCmd.Flags().StringVar(&flagDashboardPass, "dashboard-pass", "", "dashboard HTTP Basic Auth password")

	generateCACmd.Flags().BoolVar(&flagForceCA, "force", false, "overwrite existing CA files")

	configCmd.AddCommand(configDumpCmd)
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(generateCACmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads and merges configuration from file, env vars, and CLI
// flags, in that overlay order.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, cfgPath, err := config.Load(flagConfigPath)
	if err != nil {
		return cfg, err
	}
	if cfgPath != "" {
		fmt.Fprintf(os.Stderr, "config: loaded %s\n", cfgPath)
	}

	cfg.ApplyEnv()

	urls, err := resolveURLs(cmd)
	if err != nil {
		return cfg, err
	}

	overrides := config.CLIOverrides{}
	if cmd.Flags().Changed("port") {
		overrides.Port = &flagPort
	}
	if cmd.Flags().Changed("output") {
		overrides.Output = &flagOutput
	}
	if cmd.Flags().Changed("certs-dir") {
		overrides.CertsDir = &flagCertsDir
	}
	if cmd.Flags().Changed("allow-list") {
		overrides.AllowList = flagAllowList
	}
	if len(urls) > 0 {
		overrides.URLs = urls
	}
	if cmd.Flags().Changed("pretty") {
		overrides.Pretty = &flagPretty
	}
	if cmd.Flags().Changed("log-dir") {
		overrides.LogDir = &flagLogDir
	}
	if cmd.Flags().Changed("verbose") {
		overrides.Verbose = &flagVerbose
	}
	if cmd.Flags().Changed("management-addr") {
		overrides.ManagementAddr = &flagManagementAddr
	}
	if cmd.Flags().Changed("max-body-bytes") {
		overrides.MaxBodyBytes = &flagMaxBodyBytes
	}
	if cmd.Flags().Changed("dashboard-user") {
		overrides.DashboardUser = &flagDashboardUser
	}
	if cmd.Flags().Changed("dashboard-pass") {
		overrides.DashboardPass = &flagDashboardPass
	}

	cfg.Merge(overrides)

	if len(cfg.URLs) > 0 {
		cfg.AllowList = config.MergeAllowList(cfg.AllowList, cfg.URLs)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// resolveURLs expands --urls, honoring the "-" sentinel that reads
// newline-delimited URLs from stdin instead (the headless-navigator feed
// mode).
func resolveURLs(cmd *cobra.Command) ([]string, error) {
	if !cmd.Flags().Changed("urls") {
		return nil, nil
	}
	var out []string
	for _, u := range flagURLs {
		if u != "-" {
			out = append(out, u)
			continue
		}
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := scanner.Text()
			if line != "" {
				out = append(out, line)
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read urls from stdin: %w", err)
		}
	}
	return out, nil
}

// runProxy is the root command: it wires every subsystem together and
// blocks serving traffic until a shutdown signal arrives.
func runProxy(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logBuf := logbuf.New(1000)
	logResult := logging.Setup(logging.Config{
		LogDir:        cfg.LogDir,
		Verbose:       cfg.Verbose,
		ExtraHandlers: []slog.Handler{logBuf.Handler()},
	})
	defer logResult.Cleanup()
	logger := logResult.Logger

	if err := os.MkdirAll(cfg.CertsDir, 0o750); err != nil { //nolint:gosec // certs directory, not sensitive content
		return fmt.Errorf("create certs dir: %w", err)
	}
	if err := os.MkdirAll(cfg.Output, 0o750); err != nil { //nolint:gosec // output directory
		return fmt.Errorf("create output dir: %w", err)
	}

	certPath := filepath.Join(cfg.CertsDir, "ca-cert.pem")
	keyPath := filepath.Join(cfg.CertsDir, "ca-key.pem")
	ca, err := mitmca.LoadOrCreate(certPath, keyPath)
	if err != nil {
		return fmt.Errorf("mitm CA: %w", err)
	}
	certFactory := mitmca.NewFactory(ca)

	allow := allowlist.New(cfg.AllowList)

	collector := telemetry.NewCollector()
	telemetryDB, err := telemetry.Open(filepath.Join(cfg.Output, "telemetry.db"), collector, logger, cfg.TelemetryFlushInterval.Duration)
	if err != nil {
		return fmt.Errorf("open telemetry db: %w", err)
	}
	defer telemetryDB.Close() //nolint:errcheck // best-effort on shutdown (includes final flush)
	telemetryDB.Start()

	httpClient := &http.Client{Timeout: 10 * time.Second}

	dashboard := web.New(web.Config{
		PathPrefix: cfg.ManagementPrefix,
		Username:   cfg.DashboardUser,
		Password:   cfg.DashboardPassword,
		CAPEM:      ca.CertPEM,
		HeartbeatJSON: func() ([]byte, error) {
			return json.Marshal(map[string]any{
				"status":          "ok",
				"captures_total":  collector.CapturesTotal(),
				"findings_total":  collector.FindingsTotal(),
				"allowlist_size":  allow.Len(),
			})
		},
		TelemetryJSON: func() ([]byte, error) {
			return json.Marshal(map[string]any{
				"captures_total":  collector.CapturesTotal(),
				"findings_total":  collector.FindingsTotal(),
				"js_parse_failed": collector.JSParseFailures(),
				"hosts":           collector.SnapshotHosts(),
				"stages":          collector.SnapshotStages(),
				"finding_kinds":   collector.SnapshotFindingKinds(),
			})
		},
		LogBuffer: logBuf,
		Logger:    logger,
	})
	dashboard.Start()
	defer dashboard.Stop()

	stageTable := buildStages(cfg, allow, httpClient, collector, logger)
	dispatcher, router := pipeline.Build(stageTable, logger)

	srv := proxy.New(proxy.Config{
		ListenAddr:       fmt.Sprintf(":%d", cfg.Port),
		Logger:           logger,
		Verbose:          cfg.Verbose,
		Allow:            allow,
		CertFactory:      certFactory,
		Dispatcher:       dispatcher,
		MaxBodyBytes:     cfg.MaxBodyBytes,
		ManagementPrefix: cfg.ManagementPrefix,
		CAPEMHandler: func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/x-pem-file")
			w.Header().Set("Content-Disposition", "attachment; filename=mboitata-ca.pem")
			_, _ = w.Write(ca.CertPEM) //nolint:errcheck // best-effort response
		},
		DashboardHandler: dashboard,
		ConnectTimeout:   cfg.ConnectTimeout.Duration,
		OnCapture: func(host string) {
			collector.RecordCapture(host)
			dashboard.BroadcastCapture(host, "", "")
		},
	})

	var mgmtServer *http.Server
	if cfg.ManagementAddr != "" {
		mgmtServer = &http.Server{
			Addr:              cfg.ManagementAddr,
			Handler:           dashboard,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("dashboard standalone listener starting", "addr", cfg.ManagementAddr)
			if err := mgmtServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("dashboard listener error", "error", err)
			}
		}()
	}

	return runServers(cfg, srv, mgmtServer, router, dispatcher, allow, logger)
}

// buildStages constructs the fixed stage lookup table, wrapping every
// stage in stages.Instrumented so the telemetry collector observes every
// processed event and finding without the stages package importing
// internal/telemetry directly.
func buildStages(cfg config.Config, allow *allowlist.List, httpClient *http.Client, collector *telemetry.Collector, logger *slog.Logger) map[pipeline.StageID]pipeline.Stage {
	wrap := func(id pipeline.StageID, s pipeline.Stage) pipeline.Stage {
		return stages.Instrumented{Stage: s, ID: id, Counter: collector}
	}

	return map[pipeline.StageID]pipeline.Stage{
		pipeline.Filter:   wrap(pipeline.Filter, &stages.FilterStage{Allow: allow}),
		pipeline.Map:      wrap(pipeline.Map, &stages.SourceMapStage{Client: httpClient, Logger: logger}),
		pipeline.SaveFile: wrap(pipeline.SaveFile, &stages.SaveFileStage{OutputDir: cfg.Output, Logger: logger}),
		pipeline.Scan:     wrap(pipeline.Scan, &stages.SecretScanStage{}),
		pipeline.JsScan:   wrap(pipeline.JsScan, &stages.JsAnalysisStage{Logger: logger, OnParseFailure: collector.RecordJSParseFailure}),
	}
}

// runServers starts the proxy listener, waits for a shutdown signal, and
// performs ordered graceful shutdown: stop accepting new connections,
// drain the pipeline, then close remaining resources.
func runServers(cfg config.Config, srv *proxy.Server, mgmtServer *http.Server, router *pipeline.Router, dispatcher *pipeline.Dispatcher, allow *allowlist.List, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("proxy starting",
			"version", version.Full(),
			"port", cfg.Port,
			"output", cfg.Output,
			"certs_dir", cfg.CertsDir,
			"allowlist_entries", allow.Len(),
			"verbose", cfg.Verbose,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	if mgmtServer != nil {
		_ = mgmtServer.Shutdown(shutdownCtx) //nolint:errcheck // best-effort on shutdown
	}

	dispatcher.CloseGracefully()
	router.Wait()

	logger.Info("proxy stopped")
	return nil
}

func runConfigDump(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out, err := cfg.Dump()
	if err != nil {
		return fmt.Errorf("dump config: %w", err)
	}
	fmt.Print(string(out))
	return nil
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	_, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	fmt.Println("config: valid")
	return nil
}

func runGenerateCA(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	certPath := filepath.Join(cfg.CertsDir, "ca-cert.pem")
	keyPath := filepath.Join(cfg.CertsDir, "ca-key.pem")

	if flagForceCA {
		_ = os.Remove(certPath) //nolint:errcheck // best-effort; LoadOrCreate recreates if absent
		_ = os.Remove(keyPath)  //nolint:errcheck
	}

	if err := os.MkdirAll(cfg.CertsDir, 0o750); err != nil { //nolint:gosec // certs directory
		return fmt.Errorf("create certs dir: %w", err)
	}

	if _, err := mitmca.LoadOrCreate(certPath, keyPath); err != nil {
		return fmt.Errorf("generate CA: %w", err)
	}

	fmt.Fprintf(os.Stderr, "CA certificate: %s\n", certPath)
	fmt.Fprintf(os.Stderr, "CA private key: %s\n", keyPath)
	fmt.Fprintln(os.Stderr, "Install the CA certificate on client devices to enable MITM interception.")
	return nil
}
