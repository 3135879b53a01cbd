package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/Financial-Times/neo-ogm-go/neoogm"
	"github.com/spf13/cobra"
)

func newListCmd(a *app) *cobra.Command {
	var withLookup bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List constraints and indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, conn *neoogm.Connection) error {
				schema := conn.Schema()
				constraints, err := schema.ListConstraints(ctx)
				if err != nil {
					return err
				}
				indexes, err := schema.ListIndexes(ctx, !withLookup)
				if err != nil {
					return err
				}
				return printCatalog(cmd.OutOrStdout(), constraints, indexes)
			})
		},
	}
	cmd.Flags().BoolVar(&withLookup, "lookup", false, "include token lookup indexes")
	return cmd
}

func printCatalog(out io.Writer, constraints []neoogm.ConstraintDescriptor, indexes []neoogm.IndexDescriptor) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RULE\tNAME\tKIND\tENTITY\tLABEL\tPROPERTIES")
	for _, c := range constraints {
		fmt.Fprintf(w, "constraint\t%s\t%s\t%s\t%s\t%v\n", c.Name, c.Kind, c.Entity, c.Label, c.Properties)
	}
	for _, i := range indexes {
		fmt.Fprintf(w, "index\t%s\t%s\t%s\t%s\t%v\n", i.Name, i.Kind, i.Entity, i.Label, i.Properties)
	}
	return w.Flush()
}

func newInstallCmd(a *app) *cobra.Command {
	var existence bool
	cmd := &cobra.Command{
		Use:   "install SCHEMA_FILE",
		Short: "Install the constraints and indexes declared in a schema file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := neoogm.LoadSchemaFile(args[0])
			if err != nil {
				return err
			}
			registry, err := file.Registry()
			if err != nil {
				return err
			}
			if existence {
				a.settings.InstallExistenceConstraints = true
			}
			return a.run(cmd, func(ctx context.Context, conn *neoogm.Connection) error {
				if err := conn.Schema().InstallAllLabels(ctx, registry); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "installed %d models\n", len(registry.Models()))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&existence, "existence", false, "install existence constraints for required properties")
	return cmd
}

func newRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove",
		Short: "Drop every constraint and index except token lookup indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, conn *neoogm.Connection) error {
				return conn.Schema().RemoveAllLabels(ctx)
			})
		},
	}
}

func newSnapshotCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Write the constraints and indexes to a YAML snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, conn *neoogm.Connection) error {
				snap, err := conn.Schema().Snapshot(ctx)
				if err != nil {
					return err
				}
				if output == "" || output == "-" {
					return snap.Write(cmd.OutOrStdout())
				}
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				if err := snap.Write(f); err != nil {
					f.Close()
					return err
				}
				return f.Close()
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "file to write, standard output if empty")
	return cmd
}

func newRestoreCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restore SNAPSHOT_FILE",
		Short: "Recreate the constraints and indexes of a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			snap, err := neoogm.ReadCatalogSnapshot(f)
			if err != nil {
				return err
			}
			return a.run(cmd, func(ctx context.Context, conn *neoogm.Connection) error {
				return conn.Schema().Restore(ctx, snap)
			})
		},
	}
}

func newResetCmd(a *app) *cobra.Command {
	var (
		constraints bool
		indexes     bool
		force       bool
	)
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every node and relationship",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return errors.New("reset deletes all data, pass --force to confirm")
			}
			return a.run(cmd, func(ctx context.Context, conn *neoogm.Connection) error {
				return conn.Schema().ClearDatabase(ctx, constraints, indexes)
			})
		},
	}
	cmd.Flags().BoolVar(&constraints, "constraints", false, "also drop constraints")
	cmd.Flags().BoolVar(&indexes, "indexes", false, "also drop indexes")
	cmd.Flags().BoolVar(&force, "force", false, "confirm deleting all data")
	return cmd
}

func newCheckCmd(a *app) *cobra.Command {
	var writable bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check that the database answers queries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, conn *neoogm.Connection) error {
				if err := neoogm.Check(ctx, conn); err != nil {
					return err
				}
				if writable {
					if err := neoogm.CheckWritable(ctx, conn); err != nil {
						return err
					}
				}
				fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&writable, "writable", false, "also require a writable instance")
	return cmd
}

func newServerCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Print the flavour, version and edition of the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, conn *neoogm.Connection) error {
				id, err := conn.Identity(ctx)
				if err != nil {
					return err
				}
				populated, err := conn.Schema().IsPopulated(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s), populated: %t\n", id.Flavour, id.Version, id.Edition, populated)
				return nil
			})
		},
	}
}
