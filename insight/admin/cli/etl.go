package cli

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/cfuwib/insightbot/insight/pkg/etl"
	"github.com/cfuwib/insightbot/insight/pkg/store"
	"github.com/cfuwib/insightbot/insight/pkg/templates"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

type ETLCmd struct{}

func NewETLCmd() *ETLCmd {
	return &ETLCmd{}
}

func (c *ETLCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "etl",
		Short: "Spreadsheet ingestion",
	}

	load := &cobra.Command{
		Use:   "load",
		Short: "Reload tables from the configured spreadsheets, replacing existing data",
		RunE: func(cmd *cobra.Command, args []string) error {
			only, err := cmd.Flags().GetStringSlice("table")
			if err != nil {
				return fmt.Errorf("failed to get table flag: %w", err)
			}
			dbPath, err := cmd.Root().PersistentFlags().GetString("db")
			if err != nil {
				return fmt.Errorf("failed to get db flag: %w", err)
			}
			dataPath, err := cmd.Root().PersistentFlags().GetString("data")
			if err != nil {
				return fmt.Errorf("failed to get data flag: %w", err)
			}

			log, err := commandLogger(cmd)
			if err != nil {
				return err
			}

			tmpl, err := templates.Load(log)
			if err != nil {
				return fmt.Errorf("failed to load templates: %w", err)
			}
			tables := tmpl.Tables()
			if len(only) > 0 {
				tables = slices.DeleteFunc(tables, func(t templates.Table) bool {
					return !slices.Contains(only, t.Name)
				})
				if len(tables) == 0 {
					return fmt.Errorf("no configured table matches %v", only)
				}
			}

			db, err := store.Open(store.Config{Logger: log, Path: dbPath})
			if err != nil {
				return err
			}
			defer db.Close()

			loader, err := etl.NewLoader(etl.Config{Logger: log, Writer: db, DataPath: dataPath})
			if err != nil {
				return err
			}
			summaries, err := loader.Load(cmd.Context(), tables)
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetAutoFormatHeaders(false)
			table.SetHeader([]string{"Table", "Sheets", "Rows"})
			for _, s := range summaries {
				table.Append([]string{s.Table, strconv.Itoa(s.Sheets), strconv.Itoa(s.Rows)})
			}
			table.Render()
			return nil
		},
	}
	load.Flags().StringSlice("table", nil, "only load the named tables")

	cmd.AddCommand(load)
	return cmd
}
