package cli

import (
	"fmt"
	"strings"

	"github.com/cfuwib/insightbot/insight/pkg/templates"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

type CatalogCmd struct{}

func NewCatalogCmd() *CatalogCmd {
	return &CatalogCmd{}
}

func (c *CatalogCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List the configured tables and instruction templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			show, err := cmd.Flags().GetString("show")
			if err != nil {
				return fmt.Errorf("failed to get show flag: %w", err)
			}
			log, err := commandLogger(cmd)
			if err != nil {
				return err
			}
			tmpl, err := templates.Load(log)
			if err != nil {
				return fmt.Errorf("failed to load templates: %w", err)
			}

			w := cmd.OutOrStdout()
			if show != "" {
				fmt.Fprintln(w, tmpl.GetPromptByName(show))
				return nil
			}

			tables := tablewriter.NewWriter(w)
			tables.SetAutoWrapText(false)
			tables.SetAutoFormatHeaders(false)
			tables.SetHeader([]string{"Table", "Description", "Sources"})
			for _, t := range tmpl.Tables() {
				sources := make([]string, 0, len(t.Sources))
				for _, src := range t.Sources {
					sources = append(sources, fmt.Sprintf("%s [%s]", src.FileName, strings.Join(src.SheetNames, ", ")))
				}
				tables.Append([]string{t.Name, t.Description, strings.Join(sources, "\n")})
			}
			tables.Render()

			prompts := tablewriter.NewWriter(w)
			prompts.SetAutoWrapText(false)
			prompts.SetAutoFormatHeaders(false)
			prompts.SetHeader([]string{"Template", "Description"})
			for _, p := range tmpl.Prompts() {
				prompts.Append([]string{p.Name, p.Description})
			}
			prompts.Render()
			return nil
		},
	}
	cmd.Flags().String("show", "", "print the instruction text of the named template")
	return cmd
}
