package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"aci-kyc/internal/apic"
	"aci-kyc/internal/config"
	"aci-kyc/internal/engine"
	"aci-kyc/internal/model"
	"aci-kyc/internal/output"
	"aci-kyc/internal/parser"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	configFile   string
	host         string
	username     string
	password     string
	insecure     bool
	timeout      string
	tenant       string
	contract     string
	dnFilter     string
	nameFilter   string
	targetsFile  string
	outFile      string
	templateFile string
	dbDSN        string
	provider     string
	snapshotID   string
	workers      int
	logLevel     string
	logFile      string
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "aci-kyc",
		Short: "Know your contracts: export fabric contracts to a workbook",
		Long: `aci-kyc reads contracts, their consumers, providers, subjects, filters and
filter entries from the fabric controller and writes one worksheet per contract.`,
		SilenceUsage: true,
		RunE:         run,
	}

	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "YAML run profile")
	rootCmd.Flags().StringVar(&host, "host", "", "Controller address or base URL")
	rootCmd.Flags().StringVarP(&username, "username", "u", "admin", "Controller user")
	rootCmd.Flags().StringVarP(&password, "password", "p", "", "Controller password (or "+config.PasswordEnv+")")
	rootCmd.Flags().BoolVar(&insecure, "insecure", true, "Skip TLS certificate verification")
	rootCmd.Flags().StringVar(&timeout, "timeout", "30s", "Timeout of a single controller request")
	rootCmd.Flags().StringVar(&tenant, "tenant", "", "Tenant of the contracts to export")
	rootCmd.Flags().StringVar(&contract, "contract", "", "Contract name to export")
	rootCmd.Flags().StringVar(&dnFilter, "dn-filter", "", "Wildcard filter on contract DNs")
	rootCmd.Flags().StringVar(&nameFilter, "name-filter", "", "Wildcard filter on contract names")
	rootCmd.Flags().StringVar(&targetsFile, "targets", "", "CSV file with Tenant and Contract columns")
	rootCmd.Flags().StringVarP(&outFile, "out", "o", "contracts.xlsx", "Output workbook")
	rootCmd.Flags().StringVar(&templateFile, "template", "", "Workbook holding a 'template' sheet")
	rootCmd.Flags().StringVar(&dbDSN, "db", "", "MariaDB DSN to save snapshots to (or load from with --provider mariadb)")
	rootCmd.Flags().StringVar(&provider, "provider", "apic", "Contract provider: 'apic' or 'mariadb'")
	rootCmd.Flags().StringVar(&snapshotID, "snapshot", "", "Snapshot to load with --provider mariadb (default: newest)")
	rootCmd.Flags().IntVarP(&workers, "workers", "w", 1, "Subjects resolved concurrently per contract")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
	rootCmd.Flags().StringVar(&logFile, "log-file", "", "Log file path (default: stderr)")

	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	logger := setupLogger(cfg.Log.Level, cfg.Log.File).With("run_id", runID)
	slog.SetDefault(logger)

	slog.Info("Starting contract export", "provider", provider)
	startTime := time.Now()

	if err := cfg.Validate(provider); err != nil {
		slog.Error("Invalid configuration", "error", err)
		return err
	}

	contracts, err := loadContracts(cmd.Context(), provider, cfg)
	if err != nil {
		slog.Error("Failed to load contracts", "error", err)
		return err
	}
	slog.Info("Contracts loaded", "count", len(contracts))

	if err := writeWorkbook(contracts, cfg.Output.Template, cfg.Output.Path); err != nil {
		slog.Error("Failed to write workbook", "path", cfg.Output.Path, "error", err)
		return err
	}
	slog.Info("Workbook written", "path", cfg.Output.Path, "sheets", len(contracts))

	if provider == "apic" && cfg.Output.DB != "" {
		if err := saveSnapshot(cmd.Context(), cfg, runID, contracts); err != nil {
			slog.Error("Failed to save snapshot", "error", err)
			return err
		}
		slog.Info("Snapshot saved", "snapshot", runID)
	}

	slog.Info("Export complete", "duration", time.Since(startTime))
	return nil
}

// resolveConfig loads the profile and applies the flags given on the command line.
func resolveConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	override := func(name string, dst *string, value string) {
		if flags.Changed(name) {
			*dst = value
		}
	}
	override("host", &cfg.Controller.Host, host)
	override("username", &cfg.Controller.Username, username)
	override("password", &cfg.Controller.Password, password)
	override("timeout", &cfg.Controller.Timeout, timeout)
	override("tenant", &cfg.Query.Tenant, tenant)
	override("contract", &cfg.Query.Contract, contract)
	override("dn-filter", &cfg.Query.DNFilter, dnFilter)
	override("name-filter", &cfg.Query.NameFilter, nameFilter)
	override("targets", &cfg.Query.TargetsFile, targetsFile)
	override("out", &cfg.Output.Path, outFile)
	override("template", &cfg.Output.Template, templateFile)
	override("db", &cfg.Output.DB, dbDSN)
	override("log-level", &cfg.Log.Level, logLevel)
	override("log-file", &cfg.Log.File, logFile)
	if flags.Changed("insecure") {
		cfg.Controller.Insecure = insecure
	}
	if flags.Changed("workers") {
		cfg.Concurrency = workers
	}
	if cfg.Controller.Password == "" {
		cfg.Controller.Password = os.Getenv(config.PasswordEnv)
	}
	return cfg, nil
}

func setupLogger(level, logFilePath string) *slog.Logger {
	var logWriter io.Writer = os.Stderr
	if logFilePath != "" {
		f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err == nil {
			logWriter = f
		}
		// Falls back to stderr; there is no logger yet to report the error.
	}

	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(logWriter, &slog.HandlerOptions{Level: lvl}))
}

func loadContracts(ctx context.Context, provider string, cfg config.Config) ([]model.Contract, error) {
	switch provider {
	case "apic":
		d, err := cfg.TimeoutDuration()
		if err != nil {
			return nil, err
		}
		client := apic.NewClient(apic.Options{
			Host:     cfg.Controller.Host,
			Username: cfg.Controller.Username,
			Password: cfg.Controller.Password,
			Insecure: cfg.Controller.Insecure,
			Timeout:  d,
		})
		if err := client.Login(ctx); err != nil {
			return nil, err
		}

		query := parser.Query{
			Tenant:     cfg.Query.Tenant,
			Contract:   cfg.Query.Contract,
			DNFilter:   cfg.Query.DNFilter,
			NameFilter: cfg.Query.NameFilter,
		}
		if cfg.Query.TargetsFile != "" {
			query.Targets, err = readTargets(cfg.Query.TargetsFile)
			if err != nil {
				return nil, err
			}
		}
		p := parser.NewAPICParser(client, query, cfg.Concurrency)
		if err := p.Parse(ctx); err != nil {
			return nil, err
		}
		return p.Contracts, nil
	case "mariadb":
		if cfg.Output.DB == "" {
			return nil, fmt.Errorf("database connection string must be provided for mariadb provider")
		}
		p, err := parser.NewMariaDBParser(cfg.Output.DB, snapshotID)
		if err != nil {
			return nil, err
		}
		defer p.Close()
		if err := p.Parse(ctx); err != nil {
			return nil, err
		}
		slog.Info("Loaded snapshot", "snapshot", p.SnapshotID)
		return p.Contracts, nil
	default:
		return nil, fmt.Errorf("unknown contract provider: %s", provider)
	}
}

func readTargets(path string) ([]parser.ContractTarget, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	targets, err := parser.ParseContractTargets(f)
	if err != nil {
		return nil, fmt.Errorf("error parsing targets file: %w", err)
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("targets file %s lists no contracts", path)
	}
	return targets, nil
}

func writeWorkbook(contracts []model.Contract, templatePath, outPath string) error {
	w, err := output.NewWorkbookWriter(templatePath)
	if err != nil {
		return err
	}
	defer w.Close()

	for _, plan := range engine.LayoutAll(contracts) {
		if _, err := w.AddSheet(plan); err != nil {
			return err
		}
	}
	return w.Save(outPath)
}

func saveSnapshot(ctx context.Context, cfg config.Config, id string, contracts []model.Contract) error {
	store, err := output.NewMariaDBStore(cfg.Output.DB)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}
	return store.Save(ctx, id, cfg.Controller.Host, contracts)
}
