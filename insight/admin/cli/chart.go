package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/cfuwib/insightbot/insight/pkg/chart"
	"github.com/spf13/cobra"
)

type ChartCmd struct{}

func NewChartCmd() *ChartCmd {
	return &ChartCmd{}
}

func (c *ChartCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chart SQL",
		Short: "Build the plotly figure JSON for the rows returned by SQL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			typeStr, err := cmd.Flags().GetString("type")
			if err != nil {
				return fmt.Errorf("failed to get type flag: %w", err)
			}
			out, err := cmd.Flags().GetString("out")
			if err != nil {
				return fmt.Errorf("failed to get out flag: %w", err)
			}

			chartType := chart.Type(typeStr)
			switch chartType {
			case chart.Trend, chart.ComparisonTrend, chart.ExternalRevenueTrend:
			default:
				return fmt.Errorf("invalid chart type: %s", typeStr)
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

			fig := chart.CreateTrendChart(res.Rows, chartType)
			if fig == nil {
				return errors.New("rows do not have the columns required for this chart type")
			}
			data, err := fig.JSON()
			if err != nil {
				return fmt.Errorf("failed to encode figure: %w", err)
			}

			if out == "" {
				fmt.Fprintln(cmd.OutOrStdout(), data)
				return nil
			}
			if err := os.WriteFile(out, []byte(data), 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", out, err)
			}
			log.Info("chart: written", "path", out, "subplots", len(fig.SubplotTitles()))
			return nil
		},
	}
	cmd.Flags().String("type", string(chart.ComparisonTrend), "chart type (trend, comparison_trend, external_revenue_trend)")
	cmd.Flags().StringP("out", "o", "", "write the figure to a file instead of stdout")
	return cmd
}
