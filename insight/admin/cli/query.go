package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/cfuwib/insightbot/insight/pkg/store"
	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

type QueryCmd struct{}

func NewQueryCmd() *QueryCmd {
	return &QueryCmd{}
}

func (c *QueryCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query SQL",
		Short: "Run a read-only SQL query and print the rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, err := cmd.Flags().GetInt("limit")
			if err != nil {
				return fmt.Errorf("failed to get limit flag: %w", err)
			}

			log, err := commandLogger(cmd)
			if err != nil {
				return err
			}
			db, err := openStore(cmd, log)
			if err != nil {
				return err
			}
			defer db.Close()

			res, err := db.Query(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to execute query: %w", err)
			}
			printResult(cmd.OutOrStdout(), res, limit)
			return nil
		},
	}
	cmd.Flags().Int("limit", 50, "maximum rows to print (0 for all)")
	return cmd
}

func printResult(w io.Writer, res store.Result, limit int) {
	rows := res.Rows
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeader(res.Columns)
	for _, row := range rows {
		values := make([]string, len(res.Columns))
		for i, col := range res.Columns {
			values[i] = formatCell(col, row[col])
		}
		table.Append(values)
	}
	table.Render()
	fmt.Fprintf(w, "%d row(s)", res.Count())
	if len(rows) < res.Count() {
		fmt.Fprintf(w, ", showing %d", len(rows))
	}
	fmt.Fprintln(w)
}

// formatCell renders numbers with thousands separators, except period keys.
func formatCell(col string, v any) string {
	isPeriod := strings.Contains(strings.ToLower(col), "period")
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		if isPeriod {
			return fmt.Sprintf("%.0f", x)
		}
		return humanize.CommafWithDigits(x, 2)
	case int64:
		if isPeriod {
			return fmt.Sprintf("%d", x)
		}
		return humanize.Comma(x)
	default:
		return fmt.Sprint(x)
	}
}
