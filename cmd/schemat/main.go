// Package main is the schemat process entry point: it runs a node
// worker, reinserts records under new ids, and seeds new clusters from
// a manifest.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/asaidimu/go-schemat/core/runtime"
	"github.com/asaidimu/go-schemat/core/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "schemat",
		Short:         "Schemat node process",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml")

	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(newReinsertCmd(&configPath))
	root.AddCommand(newCreateClusterCmd(&configPath))
	return root
}

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run this node's worker process until it drains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := runtime.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			rt, err := runtime.Boot(cfg, &runtime.Options{Logger: logger})
			if err != nil {
				return err
			}
			return rt.Run(cmd.Context())
		},
	}
}

// reinsertFlags are the record-copy options.
type reinsertFlags struct {
	newID int64
	ring  string
}

func (f *reinsertFlags) register(fs *pflag.FlagSet) {
	fs.Int64Var(&f.newID, "new", 0, "explicit id for the copied record")
	fs.StringVar(&f.ring, "ring", "", "target ring name")
}

func newReinsertCmd(configPath *string) *cobra.Command {
	flags := &reinsertFlags{}

	cmd := &cobra.Command{
		Use:   "reinsert <id>...",
		Short: "Copy records under fresh ids, optionally into another ring",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := runtime.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			st, err := runtime.OpenStore(cfg, nil)
			if err != nil {
				return err
			}
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			if flags.newID > 0 && len(ids) > 1 {
				return fmt.Errorf("--new applies to a single record, got %d", len(ids))
			}
			return reinsert(cmd.Context(), st, ids, flags.newID, flags.ring, cmd.OutOrStdout())
		},
	}
	flags.register(cmd.Flags())
	return cmd
}

func reinsert(ctx context.Context, st *store.Store, ids []int64, newID int64, ringName string, out io.Writer) error {
	for _, id := range ids {
		data, _, err := st.Select(ctx, id)
		if err != nil {
			return err
		}
		var assigned int64
		if newID > 0 {
			assigned, err = st.InsertAt(ctx, newID, data, ringName)
		} else {
			assigned, err = st.Insert(ctx, data, ringName)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%d -> %d\n", id, assigned)
	}
	return nil
}

// clusterManifest seeds the initial objects of a new cluster.
type clusterManifest struct {
	Nodes []struct {
		ID   int64          `yaml:"id"`
		Data map[string]any `yaml:"data"`
	} `yaml:"nodes"`
}

func newCreateClusterCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "create-cluster <manifest.yaml>",
		Short: "Insert the manifest's node records and persist this node's id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := runtime.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			st, err := runtime.OpenStore(cfg, nil)
			if err != nil {
				return err
			}
			return createCluster(cmd.Context(), st, cfg, args[0], cmd.OutOrStdout())
		},
	}
}

func createCluster(ctx context.Context, st *store.Store, cfg *runtime.Config, manifestPath string, out io.Writer) error {
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return err
	}
	var manifest clusterManifest
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return fmt.Errorf("malformed manifest %s: %w", manifestPath, err)
	}
	if len(manifest.Nodes) == 0 {
		return fmt.Errorf("manifest %s declares no nodes", manifestPath)
	}

	first := int64(0)
	for _, node := range manifest.Nodes {
		data, err := json.Marshal(node.Data)
		if err != nil {
			return err
		}
		var id int64
		if node.ID > 0 {
			id, err = st.InsertAt(ctx, node.ID, string(data), "")
		} else {
			id, err = st.Insert(ctx, string(data), "")
		}
		if err != nil {
			return err
		}
		if first == 0 {
			first = id
		}
		fmt.Fprintf(out, "node %d created\n", id)
	}
	if err := cfg.SaveNodeID(first); err != nil {
		return err
	}
	fmt.Fprintf(out, "node id %d persisted\n", first)
	return nil
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid object id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
