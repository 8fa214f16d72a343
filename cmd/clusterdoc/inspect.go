package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"clusterdoc/pkg/cluster"
	"clusterdoc/pkg/docstore"
)

// readDocument fetches the shared cluster document without joining.
func readDocument(ctx context.Context, store docstore.Store, id string) (cluster.NodeRegistry, cluster.RoutingTable, error) {
	doc, err := store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	var nodes cluster.NodeRegistry
	var routes cluster.RoutingTable
	if err := doc.Decode("nodes", &nodes); err != nil {
		return nil, nil, fmt.Errorf("decode nodes: %w", err)
	}
	if err := doc.Decode("routing_table", &routes); err != nil {
		return nil, nil, fmt.Errorf("decode routing table: %w", err)
	}
	return nodes, routes, nil
}

func inspect(show func(w io.Writer, nodes cluster.NodeRegistry, routes cluster.RoutingTable)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(timeout)*time.Second)
		defer cancel()

		store, closeStore, err := openStore(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		defer closeStore()

		nodes, routes, err := readDocument(ctx, store, cfg.Cluster.DocumentID)
		if err != nil {
			return err
		}
		show(cmd.OutOrStdout(), nodes, routes)
		return nil
	}
}

func nodesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nodes",
		Short: "List the nodes in the cluster document",
		RunE: inspect(func(out io.Writer, nodes cluster.NodeRegistry, _ cluster.RoutingTable) {
			printNodes(out, nodes, time.Now())
		}),
	}
}

func routesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "List the routing table in the cluster document",
		RunE: inspect(func(out io.Writer, _ cluster.NodeRegistry, routes cluster.RoutingTable) {
			printRoutes(out, routes)
		}),
	}
}

func printNodes(out io.Writer, nodes cluster.NodeRegistry, now time.Time) {
	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NODE\tLAST HEARTBEAT\tAGE")
	for _, id := range ids {
		last := time.UnixMilli(nodes[id].LastUpdate)
		fmt.Fprintf(w, "%s\t%s\t%s\n", id, last.UTC().Format(time.RFC3339), now.Sub(last).Round(time.Millisecond))
	}
	w.Flush()
}

func printRoutes(out io.Writer, routes cluster.RoutingTable) {
	ids := make([]string, 0, len(routes))
	for id := range routes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RESOURCE\tTYPE\tNODE\tSTATE")
	for _, id := range ids {
		e := routes[id]
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", id, e.Type, e.Node, e.State)
	}
	w.Flush()
}
