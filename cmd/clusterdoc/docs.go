package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"clusterdoc/config"
	"clusterdoc/storage"
)

// withStorage runs fn against the configured local backend.
func withStorage(cmd *cobra.Command, fn func(ctx context.Context, cfg *config.Config, st storage.Storage) error) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Storage.Backend == config.BackendRemote {
		return fmt.Errorf("%s needs a local backend, not %q", cmd.Name(), cfg.Storage.Backend)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(timeout)*time.Second)
	defer cancel()

	st, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(ctx, cfg, st)
}

// listDocuments returns the stored document ids matching pattern, sorted.
func listDocuments(ctx context.Context, st storage.Storage, pattern string, limit int) ([]string, error) {
	ids, err := st.Keys(ctx, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// resetDocument deletes the cluster document. Running nodes recreate it,
// empty, on their next cycle.
func resetDocument(ctx context.Context, st storage.Storage, id string) (bool, error) {
	n, err := st.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", id, err)
	}
	return n > 0, nil
}

func docsCmd() *cobra.Command {
	var (
		pattern string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "docs",
		Short: "List documents held by the local backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, func(ctx context.Context, _ *config.Config, st storage.Storage) error {
				ids, err := listDocuments(ctx, st, pattern, limit)
				if err != nil {
					return err
				}
				printIDs(cmd.OutOrStdout(), ids)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&pattern, "pattern", "*", "Match ids with a leading or trailing *")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum ids to list (0 for all)")
	return cmd
}

func resetCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the cluster document from the local backend",
		Long: `Delete the shared cluster document, dropping every node and route. Nodes
still running write a fresh document on their next heartbeat.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return fmt.Errorf("reset drops the whole cluster document; pass --force")
			}
			return withStorage(cmd, func(ctx context.Context, cfg *config.Config, st storage.Storage) error {
				deleted, err := resetDocument(ctx, st, cfg.Cluster.DocumentID)
				if err != nil {
					return err
				}
				if deleted {
					fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", cfg.Cluster.DocumentID)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%s did not exist\n", cfg.Cluster.DocumentID)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Confirm the reset")
	return cmd
}

func printIDs(out io.Writer, ids []string) {
	for _, id := range ids {
		fmt.Fprintln(out, id)
	}
}
