package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vaidyasetu/vaidyasetu/internal/config"
	"github.com/vaidyasetu/vaidyasetu/internal/domain/catalog"
	"github.com/vaidyasetu/vaidyasetu/internal/domain/mapping"
	"github.com/vaidyasetu/vaidyasetu/internal/domain/matching"
	"github.com/vaidyasetu/vaidyasetu/internal/platform/db"
	"github.com/vaidyasetu/vaidyasetu/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "vaidyasetu-server",
		Short: "Terminology mapping workspace API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(matchCmd())
	rootCmd.AddCommand(mappingsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run Postgres migrations for the kv store",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})

	return cmd
}

func matchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match <query>",
		Short: "List local mapping candidates for a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			direction, _ := cmd.Flags().GetString("direction")
			dir := catalog.ParseDirection(direction)

			res := catalog.NewLoader(cfg.DatasetURL, cfg.DatasetCSVURL, cfg.DatasetXLSXPath, newLogger(cfg)).Load(cmd.Context())
			if res.Warning != "" {
				fmt.Fprintln(os.Stderr, "warning:", res.Warning)
			}

			src, dst := res.Catalog.Pools(dir)
			groups := matching.Generate(args[0], src, dst)
			if len(groups) == 0 {
				fmt.Println("No matching source codes.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			for _, g := range groups {
				fmt.Fprintf(w, "%s:%s\t%s\n", g.Source.System, g.Source.Code, g.Source.Term)
				for _, c := range g.Candidates {
					fmt.Fprintf(w, "  %.3f\t%s:%s\t%s\n", c.Score, c.Dest.System, c.Dest.Code, c.Dest.Term)
				}
			}
			return w.Flush()
		},
	}
	cmd.Flags().String("direction", string(catalog.ToClassification), "toClassification or toSource")
	return cmd
}

func mappingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mappings",
		Short: "Inspect the mapping ledger",
	}

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write all approved mappings as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			backend, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer backend.Close()

			data, err := mapping.NewStore(backend.store, nil, newLogger(cfg)).ExportAll(ctx)
			if err != nil {
				return err
			}
			out, _ := cmd.Flags().GetString("out")
			if out == "" || out == "-" {
				_, err = os.Stdout.Write(append(data, '\n'))
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Fprintf(os.Stderr, "Wrote %s\n", out)
			return nil
		},
	}
	exportCmd.Flags().String("out", "", "Output file (default stdout)")
	cmd.AddCommand(exportCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <id>",
		Short: "Remove one mapping by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			backend, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer backend.Close()

			removed, err := mapping.NewStore(backend.store, nil, newLogger(cfg)).Remove(ctx, args[0])
			if err != nil {
				return err
			}
			result := map[string]interface{}{"id": args[0], "removed": removed}
			return json.NewEncoder(os.Stdout).Encode(result)
		},
	})

	return cmd
}
