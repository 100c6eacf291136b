package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"storefront"
	"storefront/bootstrap"
	"storefront/config"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "storefrontctl",
		Short:         "Create, read, list and update storefront entities",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (YAML)")

	cmd.AddCommand(migrateCmd(opts))
	cmd.AddCommand(createCmd(opts))
	cmd.AddCommand(fetchCmd(opts))
	cmd.AddCommand(fetchSlugCmd(opts))
	cmd.AddCommand(listCmd(opts))
	cmd.AddCommand(updateCmd(opts))
	return cmd
}

// open loads the configuration and wires the core. Logs go to stderr so
// stdout carries only results.
func (o *rootOptions) open(ctx context.Context, cmd *cobra.Command) (*bootstrap.System, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	logger, err := bootstrap.NewLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	return bootstrap.Open(ctx, cfg, bootstrap.WithLogger(logger))
}

func migrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations to the configured database",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sys, err := opts.open(ctx, cmd)
			if err != nil {
				return err
			}
			defer sys.Close()

			if sys.Service == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "memory store: nothing to migrate")
				return nil
			}
			if err := sys.Service.Migrate(ctx); err != nil {
				return err
			}
			version, err := sys.Service.MigrationVersion(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
			return nil
		},
	}
}

func createCmd(opts *rootOptions) *cobra.Command {
	var fieldsJSON string
	cmd := &cobra.Command{
		Use:   "create KIND [field=value ...]",
		Short: "Create an entity",
		Example: `  storefrontctl create Product name="Oak Chair" price=4500 category=cat-1 stock=3
  storefrontctl create Order --fields '{"paymentMethod":"upi","totalPrice":4500}'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseFields(fieldsJSON, args[1:])
			if err != nil {
				return err
			}
			return withSystem(cmd, opts, func(ctx context.Context, sys *bootstrap.System) (storefront.AccessResult, error) {
				return sys.Facade.Create(ctx, storefront.Kind(args[0]), fields)
			})
		},
	}
	cmd.Flags().StringVar(&fieldsJSON, "fields", "", "fields as a JSON object")
	return cmd
}

func fetchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch KIND ID",
		Short: "Fetch an entity by ID",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSystem(cmd, opts, func(ctx context.Context, sys *bootstrap.System) (storefront.AccessResult, error) {
				return sys.Facade.Fetch(ctx, storefront.Kind(args[0]), args[1])
			})
		},
	}
}

func fetchSlugCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch-slug KIND SLUG",
		Short: "Fetch an entity by slug",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSystem(cmd, opts, func(ctx context.Context, sys *bootstrap.System) (storefront.AccessResult, error) {
				return sys.Facade.FetchBySlug(ctx, storefront.Kind(args[0]), args[1])
			})
		},
	}
}

func listCmd(opts *rootOptions) *cobra.Command {
	var (
		where    []string
		pageSize int32
		cursor   string
	)
	cmd := &cobra.Command{
		Use:   "list KIND",
		Short: "List entities of a kind",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := storefront.Filter{PageSize: pageSize, Cursor: cursor}
			for _, w := range where {
				name, value, ok := strings.Cut(w, "=")
				if !ok {
					return fmt.Errorf("invalid --where %q, want field=value", w)
				}
				filter.Conditions = append(filter.Conditions, storefront.Eq(name, parseValue(value)))
			}
			return withSystem(cmd, opts, func(ctx context.Context, sys *bootstrap.System) (storefront.AccessResult, error) {
				return sys.Facade.List(ctx, storefront.Kind(args[0]), filter)
			})
		},
	}
	cmd.Flags().StringArrayVarP(&where, "where", "w", nil, "equality filter field=value (repeatable)")
	cmd.Flags().Int32VarP(&pageSize, "page-size", "n", 0, "page size")
	cmd.Flags().StringVar(&cursor, "cursor", "", "cursor from a previous page")
	return cmd
}

func updateCmd(opts *rootOptions) *cobra.Command {
	var (
		fieldsJSON string
		version    int64
	)
	cmd := &cobra.Command{
		Use:   "update KIND ID [field=value ...]",
		Short: "Patch an entity's fields",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := parseFields(fieldsJSON, args[2:])
			if err != nil {
				return err
			}
			var expected *int64
			if cmd.Flags().Changed("expected-version") {
				expected = &version
			}
			return withSystem(cmd, opts, func(ctx context.Context, sys *bootstrap.System) (storefront.AccessResult, error) {
				return sys.Facade.Update(ctx, storefront.Kind(args[0]), args[1], patch, expected)
			})
		},
	}
	cmd.Flags().StringVar(&fieldsJSON, "fields", "", "patch as a JSON object")
	cmd.Flags().Int64Var(&version, "expected-version", 0, "fail unless the stored version matches")
	return cmd
}

// withSystem opens the core, runs fn and prints its result as JSON.
// Synthesized results are flagged on stderr.
func withSystem(cmd *cobra.Command, opts *rootOptions, fn func(context.Context, *bootstrap.System) (storefront.AccessResult, error)) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	sys, err := opts.open(ctx, cmd)
	if err != nil {
		return err
	}
	defer sys.Close()

	res, err := fn(ctx, sys)
	if err != nil {
		return err
	}
	if !res.Authoritative() {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning: store unavailable, showing placeholder data")
	}
	return printJSON(cmd.OutOrStdout(), res)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseFields merges a JSON object with field=value arguments.
func parseFields(raw string, pairs []string) (storefront.Fields, error) {
	fields := storefront.Fields{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &fields); err != nil {
			return nil, fmt.Errorf("invalid --fields: %w", err)
		}
	}
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid field %q, want name=value", p)
		}
		fields[name] = parseValue(value)
	}
	return fields, nil
}

// parseValue reads numbers and booleans as such; everything else is a
// string.
func parseValue(s string) any {
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}
