package cli

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"hdbresale/server/internal/loader"
	"hdbresale/server/internal/models"
	"hdbresale/server/internal/transform"
)

func newLoadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Read every partition and report row counts.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}

			l := loader.NewLoader(loader.Options{
				Partitions:   cfg.PartitionPaths(),
				SnapshotPath: cfg.SnapshotPath(),
				PoolSize:     cfg.Loader.PoolSize,
			}, logger)
			defer l.Close()

			dataset, err := l.Load(cmd.Context())
			if err != nil {
				return err
			}

			result, err := transform.TransformAll(cmd.Context(), dataset.Records, nil, nil, logger)
			if err != nil {
				return err
			}

			renderPartitions(cmd.OutOrStdout(), dataset.Partitions, len(dataset.Records), result.Skipped)
			return nil
		},
	}
	return cmd
}

func renderPartitions(w io.Writer, partitions []models.PartitionCount, total, skipped int) {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetHeader([]string{"Partition", "Rows"})
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT})

	for _, p := range partitions {
		table.Append([]string{p.Source, humanize.Comma(int64(p.Rows))})
	}
	table.SetFooter([]string{"Total", humanize.Comma(int64(total))})
	table.Render()

	if skipped > 0 {
		fmt.Fprintf(w, "%s rows could not be parsed and would be skipped\n", humanize.Comma(int64(skipped)))
	}
}
