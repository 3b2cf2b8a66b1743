package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"hdbresale/server/config"
	"hdbresale/server/internal/cache"
	"hdbresale/server/internal/database"
	"hdbresale/server/internal/models"
	"hdbresale/server/internal/pipeline"
)

func newPivotCmd() *cobra.Command {
	defaults := config.DefaultDashboard

	cmd := &cobra.Command{
		Use:   "pivot",
		Short: "Print resale prices pivoted by flat type and town.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}

			towns, _ := cmd.Flags().GetStringSlice("town")
			flatTypes, _ := cmd.Flags().GetStringSlice("flat-type")
			yearFrom, _ := cmd.Flags().GetInt("year-from")
			yearTo, _ := cmd.Flags().GetInt("year-to")
			agg, _ := cmd.Flags().GetString("agg")

			filter := models.Filter{
				Towns:     selection(towns, config.NormalizeTown),
				FlatTypes: selection(flatTypes, config.NormalizeFlatType),
				YearFrom:  yearFrom,
				YearTo:    yearTo,
			}

			db, err := database.NewDatabase("file:hdbctl?mode=memory&cache=shared", logger)
			if err != nil {
				return err
			}
			defer db.Close()

			p, err := pipeline.FromConfig(cfg, db, cache.New(cfg.CacheTTL()), logger)
			if err != nil {
				return err
			}
			defer p.Close()

			if _, err := p.Dataset(cmd.Context()); err != nil {
				return err
			}

			table, err := db.PivotAverage(cmd.Context(), filter, agg)
			if err != nil {
				return err
			}
			renderPivot(cmd.OutOrStdout(), table)
			return nil
		},
	}

	cmd.Flags().StringSlice("town", defaults.Towns, "towns to include, or all")
	cmd.Flags().StringSlice("flat-type", defaults.FlatTypes, "flat types to include, or all")
	cmd.Flags().Int("year-from", defaults.YearFrom, "first year, 0 for no bound")
	cmd.Flags().Int("year-to", defaults.YearTo, "last year, 0 for no bound")
	cmd.Flags().String("agg", database.AggregateMean, "aggregate: mean, median, sum or count")
	return cmd
}

// selection normalizes flag values; "all" lifts the constraint.
func selection(values []string, normalize func(string) string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), "all") {
			return nil
		}
		out = append(out, normalize(v))
	}
	return out
}

func renderPivot(w io.Writer, pivot *models.PivotTable) {
	if len(pivot.Index) == 0 {
		fmt.Fprintln(w, "No transactions match the selection.")
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetBorder(true)
	table.SetRowLine(true)
	table.SetHeader(append([]string{"Flat type"}, pivot.Columns...))

	alignment := []int{tablewriter.ALIGN_LEFT}
	for range pivot.Columns {
		alignment = append(alignment, tablewriter.ALIGN_RIGHT)
	}
	table.SetColumnAlignment(alignment)

	for _, ft := range pivot.Index {
		row := []string{ft}
		for _, v := range pivot.Values[ft] {
			if pivot.Aggregate == database.AggregateCount {
				row = append(row, humanize.Comma(int64(v)))
			} else {
				row = append(row, humanize.CommafWithDigits(v, 0))
			}
		}
		table.Append(row)
	}
	table.Render()
}
