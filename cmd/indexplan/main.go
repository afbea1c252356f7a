package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/evanschultz/indexplan/internal/adapters/storage/sqlite"
	"github.com/evanschultz/indexplan/internal/app"
	"github.com/evanschultz/indexplan/internal/config"
	"github.com/evanschultz/indexplan/internal/domain"
	"github.com/evanschultz/indexplan/internal/mapping"
	"github.com/evanschultz/indexplan/internal/platform"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// version stores a package-level helper value.
var version = "dev"

// main handles main.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}

// run builds the command tree and executes one invocation.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	root := newRootCommand(stdout, stderr)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return fang.Execute(ctx, root, fang.WithVersion(version))
}

// globalOptions holds flags shared by every subcommand.
type globalOptions struct {
	configPath string
	dbPath     string
	appName    string
	devMode    bool
	quiet      bool
	stderr     io.Writer
}

// newRootCommand wires the global flags and all subcommands.
func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := &globalOptions{stderr: stderr}
	defaultDevMode := version == "dev"
	if envDev, ok := parseBoolEnv("INDEXPLAN_DEV_MODE"); ok {
		defaultDevMode = envDev
	}
	appName := platform.DefaultAppName
	if envApp := strings.TrimSpace(os.Getenv("INDEXPLAN_APP_NAME")); envApp != "" {
		appName = envApp
	}

	root := &cobra.Command{
		Use:   "indexplan",
		Short: "Consolidate entity changes into search index work",
		Long: "indexplan journals entity changes and turns each unit of work into a minimal,\n" +
			"ordered list of index operations, following containment between mapped types.",
		SilenceUsage: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to config TOML")
	flags.StringVar(&opts.dbPath, "db", "", "path to sqlite database")
	flags.StringVar(&opts.appName, "app", appName, "application name for config/data path resolution")
	flags.BoolVar(&opts.devMode, "dev", defaultDevMode, "use dev mode paths (<app>-dev)")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "suppress console runtime logs")

	root.AddCommand(
		newPathsCommand(opts, stdout),
		newInitCommand(opts, stdout),
		newTypesCommand(opts, stdout),
		newPutCommand(opts, stdout),
		newDeleteCommand(opts, stdout),
		newTouchCommand(opts, stdout),
		newPurgeAllCommand(opts, stdout),
		newDeleteWhereCommand(opts, stdout),
		newPlanCommand(opts, stdout),
		newFlushCommand(opts, stdout),
		newDocumentsCommand(opts, stdout),
		newExportCommand(opts, stdout),
		newImportCommand(opts, stdout),
		newServeCommand(opts),
	)
	return root
}

// resolvePaths applies flag and env overrides on top of platform defaults.
func (o *globalOptions) resolvePaths() (platform.Paths, bool, error) {
	paths, err := platform.DefaultPathsWithOptions(platform.Options{
		AppName: o.appName,
		DevMode: o.devMode,
	})
	if err != nil {
		return platform.Paths{}, false, err
	}
	configPath := o.configPath
	if strings.TrimSpace(configPath) == "" {
		configPath = strings.TrimSpace(os.Getenv("INDEXPLAN_CONFIG"))
	}
	dbPath := o.dbPath
	if strings.TrimSpace(dbPath) == "" {
		dbPath = strings.TrimSpace(os.Getenv("INDEXPLAN_DB_PATH"))
	}
	return paths.WithOverrides(configPath, dbPath), strings.TrimSpace(dbPath) != "", nil
}

// runtimeEnv is the opened state one data command runs against.
type runtimeEnv struct {
	paths   platform.Paths
	cfg     config.Config
	logger  *runtimeLogger
	repo    *sqlite.Repository
	metrics *app.Metrics
	svc     *app.Service
}

// open resolves configuration, logging, storage and the application service.
func (o *globalOptions) open(command string) (*runtimeEnv, error) {
	paths, dbOverridden, err := o.resolvePaths()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(paths.ConfigPath, config.Default(paths.DBPath))
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", paths.ConfigPath, err)
	}
	if dbOverridden {
		cfg.Database.Path = paths.DBPath
	}

	logger, err := newRuntimeLogger(o.stderr, o.appName, o.devMode, cfg.Logging, time.Now)
	if err != nil {
		return nil, fmt.Errorf("configure runtime logger: %w", err)
	}
	logger.SetConsoleEnabled(!o.quiet)
	env := &runtimeEnv{paths: paths, cfg: cfg, logger: logger}

	logger.Info("startup configuration resolved", "app", o.appName, "dev_mode", o.devMode, "command", command)
	logger.Debug("runtime paths resolved", "config_path", paths.ConfigPath, "data_dir", paths.DataDir, "db_path", cfg.Database.Path)
	if devPath := logger.DevLogPath(); devPath != "" {
		logger.Info("dev file logging enabled", "path", devPath)
	}

	catalog, err := buildCatalog(cfg)
	if err != nil {
		env.close()
		return nil, fmt.Errorf("build mapping catalog: %w", err)
	}
	logger.Debug("mapping catalog ready", "types", strings.Join(catalog.Types(), ","), "max_depth", catalog.MaxDepth())

	repo, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Error("sqlite open failed", "db_path", cfg.Database.Path, "err", err)
		env.close()
		return nil, fmt.Errorf("open sqlite repository: %w", err)
	}
	env.repo = repo
	logger.Debug("sqlite repository ready", "db_path", cfg.Database.Path, "migrations", "ensured")

	env.metrics = app.NewMetrics()
	env.svc = app.NewService(repo, repo, catalog, uuid.NewString, time.Now, app.ServiceConfig{
		BatchSize:     cfg.Indexing.BatchSize,
		DefaultTenant: cfg.Indexing.DefaultTenant,
		Logger:        logger.Primary(),
		Metrics:       env.metrics,
	})
	return env, nil
}

// close releases storage and log sinks.
func (e *runtimeEnv) close() {
	if e == nil {
		return
	}
	if e.repo != nil {
		if err := e.repo.Close(); err != nil {
			e.logger.Warn("sqlite close failed", "db_path", e.cfg.Database.Path, "err", err)
		}
	}
	_ = e.logger.Close()
}

// withRuntime opens the runtime, runs fn and logs the command outcome.
func (o *globalOptions) withRuntime(command string, fn func(*runtimeEnv) error) error {
	env, err := o.open(command)
	if err != nil {
		return err
	}
	defer env.close()
	env.logger.Info("command flow start", "command", command)
	if err := fn(env); err != nil {
		env.logger.Error("command flow failed", "command", command, "err", err)
		return fmt.Errorf("run %s command: %w", command, err)
	}
	env.logger.Info("command flow complete", "command", command)
	return nil
}

// buildCatalog converts the configured type mappings into a catalog.
func buildCatalog(cfg config.Config) (*mapping.Catalog, error) {
	specs := make([]mapping.TypeSpec, 0, len(cfg.Types))
	for _, typ := range cfg.Types {
		spec := mapping.TypeSpec{
			Name:            typ.Name,
			Indexed:         typ.Indexed,
			ProvidedID:      typ.ProvidedID,
			DocumentIDField: typ.DocumentIDField,
			Fields:          append([]string(nil), typ.Fields...),
		}
		for _, embed := range typ.Embeds {
			spec.Embeds = append(spec.Embeds, mapping.EmbedSpec{
				Field:  embed.Field,
				Type:   embed.Type,
				Fields: append([]string(nil), embed.Fields...),
				As:     embed.As,
			})
		}
		if typ.Intercept != nil {
			spec.Intercept = &mapping.InterceptSpec{
				Field:    typ.Intercept.Field,
				Equals:   typ.Intercept.Equals,
				Override: typ.Intercept.Override,
			}
		}
		specs = append(specs, spec)
	}
	return mapping.NewCatalog(specs, cfg.Indexing.MaxDepth)
}

func newPathsCommand(opts *globalOptions, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print resolved config, data and database paths",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			paths, _, err := opts.resolvePaths()
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(stdout, "app: %s\n", opts.appName)
			_, _ = fmt.Fprintf(stdout, "dev_mode: %t\n", opts.devMode)
			_, _ = fmt.Fprintf(stdout, "config: %s\n", paths.ConfigPath)
			_, _ = fmt.Fprintf(stdout, "data_dir: %s\n", paths.DataDir)
			_, _ = fmt.Fprintf(stdout, "db: %s\n", paths.DBPath)
			_, _ = fmt.Fprintf(stdout, "log_dir: %s\n", paths.LogDir)
			return nil
		},
	}
}

func newInitCommand(opts *globalOptions, stdout io.Writer) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write an example config with a small library mapping",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			paths, _, err := opts.resolvePaths()
			if err != nil {
				return err
			}
			if _, statErr := os.Stat(paths.ConfigPath); statErr == nil && !force {
				return fmt.Errorf("config %q already exists (use --force to overwrite)", paths.ConfigPath)
			}
			if err := config.Save(paths.ConfigPath, config.Example(paths.DBPath)); err != nil {
				return fmt.Errorf("write example config: %w", err)
			}
			_, _ = fmt.Fprintf(stdout, "wrote %s\n", paths.ConfigPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func newTypesCommand(opts *globalOptions, stdout io.Writer) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "types",
		Short: "List mapped entity types and their containers",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return opts.withRuntime("types", func(env *runtimeEnv) error {
				return writeTypesTable(stdout, env.svc.DescribeTypes(), asJSON)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func newPutCommand(opts *globalOptions, stdout io.Writer) *cobra.Command {
	var (
		tenantID   string
		fieldPairs []string
		rawJSON    string
	)
	cmd := &cobra.Command{
		Use:   "put TYPE ID",
		Short: "Create or replace one record",
		Example: "  indexplan put author a1 --field name=Octavia\n" +
			"  indexplan put book b1 --json '{\"title\":\"Kindred\",\"author_ids\":[\"a1\"]}'",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseFields(fieldPairs, rawJSON)
			if err != nil {
				return err
			}
			return opts.withRuntime("put", func(env *runtimeEnv) error {
				receipt, err := env.svc.PutRecord(cmd.Context(), tenantID, args[0], args[1], fields)
				if err != nil {
					return err
				}
				printReceipt(stdout, receipt)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant identifier")
	cmd.Flags().StringArrayVarP(&fieldPairs, "field", "f", nil, "field assignment key=value (value may be JSON)")
	cmd.Flags().StringVar(&rawJSON, "json", "", "record fields as one JSON object")
	return cmd
}

func newDeleteCommand(opts *globalOptions, stdout io.Writer) *cobra.Command {
	var tenantID string
	cmd := &cobra.Command{
		Use:   "delete TYPE ID",
		Short: "Delete one record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRuntime("delete", func(env *runtimeEnv) error {
				receipt, err := env.svc.DeleteRecord(cmd.Context(), tenantID, args[0], args[1])
				if err != nil {
					return err
				}
				printReceipt(stdout, receipt)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant identifier")
	return cmd
}

func newTouchCommand(opts *globalOptions, stdout io.Writer) *cobra.Command {
	var tenantID string
	cmd := &cobra.Command{
		Use:   "touch KIND TYPE ID",
		Short: "Record index, collection or purge work for one record without changing it",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseWorkKind(args[0])
			if err != nil {
				return err
			}
			return opts.withRuntime("touch", func(env *runtimeEnv) error {
				receipt, err := env.svc.Touch(cmd.Context(), kind, tenantID, args[1], args[2])
				if err != nil {
					return err
				}
				printReceipt(stdout, receipt)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant identifier")
	return cmd
}

func newPurgeAllCommand(opts *globalOptions, stdout io.Writer) *cobra.Command {
	var tenantID string
	cmd := &cobra.Command{
		Use:   "purge-all TYPE",
		Short: "Remove every indexed document of one type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRuntime("purge-all", func(env *runtimeEnv) error {
				receipt, err := env.svc.PurgeType(cmd.Context(), tenantID, args[0])
				if err != nil {
					return err
				}
				printReceipt(stdout, receipt)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant identifier")
	return cmd
}

func newDeleteWhereCommand(opts *globalOptions, stdout io.Writer) *cobra.Command {
	var tenantID string
	cmd := &cobra.Command{
		Use:   "delete-where TYPE FIELD VALUE",
		Short: "Remove indexed documents of one type whose field equals a value",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRuntime("delete-where", func(env *runtimeEnv) error {
				receipt, err := env.svc.DeleteWhere(cmd.Context(), tenantID, args[0], args[1], args[2])
				if err != nil {
					return err
				}
				printReceipt(stdout, receipt)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant identifier")
	return cmd
}

func newPlanCommand(opts *globalOptions, stdout io.Writer) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the index operations the pending journal would produce",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withRuntime("plan", func(env *runtimeEnv) error {
				report, err := env.svc.Plan(cmd.Context())
				if err != nil {
					return err
				}
				return writeReport(stdout, report, asJSON)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the plan as JSON")
	return cmd
}

func newFlushCommand(opts *globalOptions, stdout io.Writer) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Plan and apply the pending journal to the document index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withRuntime("flush", func(env *runtimeEnv) error {
				report, err := env.svc.Flush(cmd.Context())
				if err != nil {
					return err
				}
				return writeReport(stdout, report, asJSON)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the applied batches as JSON")
	return cmd
}

func newDocumentsCommand(opts *globalOptions, stdout io.Writer) *cobra.Command {
	var (
		tenantID string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "documents [TYPE]",
		Short: "List indexed documents",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entityType := ""
			if len(args) == 1 {
				entityType = args[0]
			}
			return opts.withRuntime("documents", func(env *runtimeEnv) error {
				docs, err := env.svc.Documents(cmd.Context(), tenantID, entityType)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(stdout, map[string]any{"documents": docs})
				}
				return writeDocumentsTable(stdout, docs)
			})
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant identifier")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print documents as JSON")
	return cmd
}

func newExportCommand(opts *globalOptions, stdout io.Writer) *cobra.Command {
	var (
		tenantID string
		outPath  string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export one tenant's records as a JSON snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withRuntime("export", func(env *runtimeEnv) error {
				snap, err := env.svc.ExportSnapshot(cmd.Context(), tenantID)
				if err != nil {
					return fmt.Errorf("export snapshot: %w", err)
				}
				if outPath == "-" {
					return writeJSON(stdout, snap)
				}
				if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
					return fmt.Errorf("create export output dir: %w", err)
				}
				file, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("create export file: %w", err)
				}
				if err := writeJSON(file, snap); err != nil {
					_ = file.Close()
					return err
				}
				return file.Close()
			})
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant identifier")
	cmd.Flags().StringVar(&outPath, "out", "-", "output file path ('-' for stdout)")
	return cmd
}

func newImportCommand(opts *globalOptions, stdout io.Writer) *cobra.Command {
	var inPath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Put every record of a JSON snapshot as one unit of work",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(inPath) == "" {
				return fmt.Errorf("--in is required")
			}
			content, err := os.ReadFile(inPath)
			if err != nil {
				return fmt.Errorf("read import file: %w", err)
			}
			var snap app.Snapshot
			if err := json.Unmarshal(content, &snap); err != nil {
				return fmt.Errorf("decode snapshot json: %w", err)
			}
			return opts.withRuntime("import", func(env *runtimeEnv) error {
				receipt, err := env.svc.ImportSnapshot(cmd.Context(), snap)
				if err != nil {
					return err
				}
				printReceipt(stdout, receipt)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&inPath, "in", "", "input snapshot JSON file")
	return cmd
}

// parseFields merges a JSON object and key=value assignments; assignments win.
func parseFields(pairs []string, rawJSON string) (map[string]any, error) {
	fields := map[string]any{}
	if strings.TrimSpace(rawJSON) != "" {
		if err := json.Unmarshal([]byte(rawJSON), &fields); err != nil {
			return nil, fmt.Errorf("decode --json fields: %w", err)
		}
	}
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --field %q: want key=value", pair)
		}
		fields[key] = parseFieldValue(raw)
	}
	return fields, nil
}

// parseFieldValue decodes JSON literals and falls back to the raw string.
func parseFieldValue(raw string) any {
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return raw
	}
	return decoded
}

func printReceipt(w io.Writer, receipt app.Receipt) {
	_, _ = fmt.Fprintf(w, "recorded unit %s (%d journal entries)\n", receipt.UnitID, receipt.Entries)
}

func writeJSON(w io.Writer, payload any) error {
	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	encoded = append(encoded, '\n')
	if _, err := w.Write(encoded); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}

// parseBoolEnv parses one optional boolean environment variable.
func parseBoolEnv(name string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
