package commands

import (
	"fmt"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/ormanager/ormanager/internal/cli/ui"
)

var (
	schemaInMemory bool
	dropYes        bool
)

// NewSchemaCommand creates the schema command
func NewSchemaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Manage the tables of the registered entities",
		Long: `Create, inspect and drop the tables of the registered entities.

Tables are created only when absent and foreign keys are added only when
missing, so running create twice is safe. There is no versioning.`,
	}

	cmd.PersistentFlags().BoolVar(&schemaInMemory, "in-memory", false, "Use a private in-memory SQLite database")

	cmd.AddCommand(newSchemaCreateCommand())
	cmd.AddCommand(newSchemaStatusCommand())
	cmd.AddCommand(newSchemaDropCommand())

	return cmd
}

func newSchemaCreateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "create [entity...]",
		Short: "Create missing tables and foreign keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, schemaInMemory)
			if err != nil {
				return err
			}
			defer s.Close()

			defs, err := s.entities(args)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			names := make([]string, 0, len(defs))
			for _, def := range defs {
				names = append(names, def.Name())
				created, err := s.engine.Schema().EnsureTable(ctx, def.Name())
				if err != nil {
					return &displayError{message: ui.SchemaError(fmt.Sprintf("cannot create table of %s", def.Name()), err.Error(), noColor), err: err}
				}
				if created {
					ui.WriteSuccess(out, fmt.Sprintf("Created table for %s", def.Name()), noColor)
				} else {
					fmt.Fprint(out, ui.Info(fmt.Sprintf("Table for %s already exists", def.Name()), noColor))
				}
			}

			if err := s.engine.CreateRelationships(ctx, names...); err != nil {
				return &displayError{message: ui.SchemaError("cannot establish relationships", err.Error(), noColor), err: err}
			}
			ui.WriteSuccess(out, "Relationships established", noColor)
			return nil
		},
	}
}

func newSchemaStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show which tables and foreign keys exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, schemaInMemory)
			if err != nil {
				return err
			}
			defer s.Close()

			statuses, err := s.engine.Schema().Status(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			kv := ui.NewKeyValueTable(out, noColor)
			kv.AddRow("Driver", s.cfg.Database.Driver)
			kv.AddRow("Dialect", s.engine.Dialect().Name())
			kv.AddRow("Entities", fmt.Sprintf("%d", len(statuses)))
			kv.Render()
			fmt.Fprintln(out)

			table := ui.NewTable(out, []string{"ENTITY", "TABLE", "EXISTS", "FOREIGN KEYS"}, noColor)
			for _, st := range statuses {
				var keys []string
				for _, rel := range st.Relations {
					mark := "missing"
					if rel.Established {
						mark = "ok"
					}
					keys = append(keys, fmt.Sprintf("%s -> %s (%s)", rel.ForeignKey, rel.Target, mark))
				}
				fks := "-"
				if len(keys) > 0 {
					fks = strings.Join(keys, ", ")
				}
				table.AddRow(st.Entity, st.Table, yesNo(st.Exists), fks)
			}
			table.Render()
			return nil
		},
	}
}

func newSchemaDropCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drop [entity...]",
		Short: "Drop entity tables and their rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, schemaInMemory)
			if err != nil {
				return err
			}
			defer s.Close()

			defs, err := s.entities(args)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !dropYes {
				names := make([]string, 0, len(defs))
				for _, def := range defs {
					names = append(names, def.Name())
				}
				confirmed := false
				prompt := &survey.Confirm{
					Message: fmt.Sprintf("Drop the tables of %s? All rows will be lost.", strings.Join(names, ", ")),
					Default: false,
				}
				if err := survey.AskOne(prompt, &confirmed); err != nil {
					return err
				}
				if !confirmed {
					fmt.Fprint(out, ui.Warning("Aborted, nothing dropped", noColor))
					return nil
				}
			}

			// referencing tables go first
			for i := len(defs) - 1; i >= 0; i-- {
				name := defs[i].Name()
				if err := s.engine.Schema().DropTable(ctx, name); err != nil {
					return &displayError{message: ui.SchemaError(fmt.Sprintf("cannot drop table of %s", name), err.Error(), noColor), err: err}
				}
				ui.WriteSuccess(out, fmt.Sprintf("Dropped table for %s", name), noColor)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&dropYes, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
