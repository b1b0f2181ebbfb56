package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	cliconfig "github.com/goran-ethernal/subgraphd/internal/config"
	"github.com/goran-ethernal/subgraphd/internal/db"
	"github.com/goran-ethernal/subgraphd/internal/facade"
	"github.com/goran-ethernal/subgraphd/internal/guestmem"
	"github.com/goran-ethernal/subgraphd/internal/inspector"
	"github.com/goran-ethernal/subgraphd/internal/logger"
	"github.com/goran-ethernal/subgraphd/internal/memstore"
	"github.com/goran-ethernal/subgraphd/internal/metrics"
	"github.com/goran-ethernal/subgraphd/internal/pipeline"
	"github.com/goran-ethernal/subgraphd/internal/sandbox"
	"github.com/goran-ethernal/subgraphd/internal/source"
	"github.com/goran-ethernal/subgraphd/internal/store"
	"github.com/goran-ethernal/subgraphd/pkg/config"
	"github.com/goran-ethernal/subgraphd/pkg/manifest"
	"github.com/goran-ethernal/subgraphd/pkg/schema"
)

const version = "1.0.0"

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "subgraphd",
	Short:   "subgraphd - subgraph indexer runtime",
	Long:    `subgraphd runs sandboxed guest code against pre-fetched chain data and persists versioned entity state with reorg recovery.`,
	Version: version,
	RunE:    runIndexer,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	rootCmd.AddCommand(revertCmd, statusCmd, listEntitiesCmd)
}

func runIndexer(cmd *cobra.Command, args []string) error {
	cfg, err := cliconfig.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	rt, err := bootstrap(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		rt.log.Info("shutting down gracefully")
		cancel()
	}()

	metricsServer := metrics.NewServer(&cfg.Metrics)
	go func() {
		if err := metricsServer.Start(ctx); err != nil {
			rt.log.Errorf("metrics server stopped: %v", err)
		}
	}()

	maintenance := db.NewMaintenanceCoordinator(cfg.Backend.DB.Path, rt.sqlDB, &cfg.Maintenance, rt.log)
	if err := maintenance.Start(ctx); err != nil {
		return fmt.Errorf("starting maintenance coordinator: %w", err)
	}
	defer maintenance.Stop() //nolint:errcheck

	rt.log.Infof("subgraphd %s starting subgraph %q", version, cfg.Subgraph.ID)
	if err := rt.orchestrator.Run(ctx); err != nil {
		if ctx.Err() != nil {
			rt.log.Info("run stopped by shutdown signal")
			return nil
		}
		return fmt.Errorf("pipeline run: %w", err)
	}
	return nil
}

// runtime holds every component bootstrap wires together.
type runtime struct {
	log          *logger.Logger
	sqlDB        *sql.DB
	ext          *store.Store
	facade       *facade.Facade
	agent        *facade.Agent
	sandbox      *sandbox.Sandbox
	orchestrator *pipeline.Orchestrator
}

func (rt *runtime) Close() {
	if rt.sandbox != nil {
		rt.sandbox.Close()
	}
	if rt.sqlDB != nil {
		rt.sqlDB.Close() //nolint:errcheck
	}
}

func bootstrap(cfg *config.Config) (*runtime, error) {
	log := logger.NewComponentLoggerFromConfig("bootstrap", &cfg.Logging)

	schemas, err := schema.Load(cfg.Subgraph.Schema)
	if err != nil {
		return nil, fmt.Errorf("loading schema: %w", err)
	}

	m, err := manifest.Load(cfg.Subgraph.Manifest)
	if err != nil {
		return nil, fmt.Errorf("loading manifest: %w", err)
	}

	sqlDB, err := db.NewSQLiteDBFromConfig(cfg.Backend.DB)
	if err != nil {
		return nil, fmt.Errorf("opening backend database: %w", err)
	}

	ext := store.New(sqlDB, schemas, log)
	if err := ext.EnsureSchema(); err != nil {
		sqlDB.Close() //nolint:errcheck
		return nil, fmt.Errorf("ensuring store schema: %w", err)
	}

	mem := memstore.New()
	f := facade.New(mem, ext, schemas, log)
	agent := facade.NewAgent(f, log)

	sb, err := sandbox.New(sandbox.Config{
		WasmPath:   m.WasmPath,
		APIVersion: m.APIVersion,
		TypeIDs:    guestmem.StaticTypeIDs(m.TypeIDs),
	}, agent, log)
	if err != nil {
		sqlDB.Close() //nolint:errcheck
		return nil, fmt.Errorf("starting sandbox: %w", err)
	}

	src, err := source.New(cfg.Subgraph.Source)
	if err != nil {
		sb.Close()
		sqlDB.Close() //nolint:errcheck
		return nil, fmt.Errorf("starting source: %w", err)
	}

	insp := inspector.New(cfg.ReorgThreshold, minStartBlock(m), log)

	orch, err := pipeline.New(cfg.Subgraph.ID, m, insp, agent, sb, src, log)
	if err != nil {
		sb.Close()
		sqlDB.Close() //nolint:errcheck
		return nil, fmt.Errorf("building pipeline: %w", err)
	}

	return &runtime{
		log:          log,
		sqlDB:        sqlDB,
		ext:          ext,
		facade:       f,
		agent:        agent,
		sandbox:      sb,
		orchestrator: orch,
	}, nil
}

// minStartBlock computes min(startBlock_i for i in sources, else 0)
// (spec.md §4.1).
func minStartBlock(m *manifest.Manifest) uint64 {
	var min *uint64
	for _, ds := range m.DataSources {
		if ds.StartBlock == nil {
			continue
		}
		if min == nil || *ds.StartBlock < *min {
			v := *ds.StartBlock
			min = &v
		}
	}
	if min == nil {
		return 0
	}
	return *min
}
