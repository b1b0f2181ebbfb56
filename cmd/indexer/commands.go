package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	cliconfig "github.com/goran-ethernal/subgraphd/internal/config"
	"github.com/goran-ethernal/subgraphd/internal/db"
	"github.com/goran-ethernal/subgraphd/internal/logger"
	"github.com/goran-ethernal/subgraphd/internal/store"
	"github.com/goran-ethernal/subgraphd/pkg/schema"
)

// openStore opens the External Store alone, for the introspection
// subcommands below; none of them touch the sandbox, source, or pipeline.
func openStore() (*store.Store, *logger.Logger, func(), error) {
	cfg, err := cliconfig.LoadFromFile(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading config: %w", err)
	}

	log := logger.NewComponentLoggerFromConfig("cli", &cfg.Logging)

	schemas, err := schema.Load(cfg.Subgraph.Schema)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading schema: %w", err)
	}

	sqlDB, err := db.NewSQLiteDBFromConfig(cfg.Backend.DB)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening backend database: %w", err)
	}

	ext := store.New(sqlDB, schemas, log)
	closeFn := func() { sqlDB.Close() } //nolint:errcheck

	return ext, log, closeFn, nil
}

var revertCmd = &cobra.Command{
	Use:   "revert <block-number>",
	Short: "Revert the External Store to below the given block number",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid block number %q: %w", args[0], err)
		}

		ext, log, closeFn, err := openStore()
		if err != nil {
			return err
		}
		defer closeFn()

		if err := ext.RevertFromBlock(context.Background(), from); err != nil {
			return fmt.Errorf("revert_from_block(%d): %w", from, err)
		}
		log.Infof("reverted entities from block %d onward", from)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the most recently indexed block pointers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ext, _, closeFn, err := openStore()
		if err != nil {
			return err
		}
		defer closeFn()

		ptrs, err := ext.LoadRecentBlockPtrs(10)
		if err != nil {
			return fmt.Errorf("loading recent block pointers: %w", err)
		}
		if len(ptrs) == 0 {
			fmt.Println("no blocks indexed yet")
			return nil
		}
		for _, p := range ptrs {
			fmt.Println(p.String())
		}
		return nil
	},
}

var listEntitiesCmd = &cobra.Command{
	Use:   "list-entities <entity-type>",
	Short: "List ids of non-deleted entities of the given type",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entityType := args[0]

		ext, _, closeFn, err := openStore()
		if err != nil {
			return err
		}
		defer closeFn()

		ids, err := ext.ListLatestIDs(entityType, 100)
		if err != nil {
			return fmt.Errorf("listing %s entities: %w", entityType, err)
		}
		if len(ids) == 0 {
			fmt.Printf("no %s entities found\n", entityType)
			return nil
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}
