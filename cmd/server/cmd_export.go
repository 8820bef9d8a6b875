package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ssukumar/GlobalInvigoration/internal/app"
	"github.com/ssukumar/GlobalInvigoration/internal/export"
)

var (
	exportFormat      string
	exportParticipant string
	exportOut         string
)

// exportCmd dumps stored records for analysis.
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored reaches, rounds and sessions",
	Long: `Export stored records from the configured store.

Formats:
  csv    - sessions.csv, rounds.csv and reaches.csv written to --out
  ndjson - one document per line written to stdout`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", string(export.FormatCSV), "csv or ndjson")
	exportCmd.Flags().StringVar(&exportParticipant, "participant", "", "only export this participant")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", ".", "output directory for csv files")
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	st, err := app.OpenStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	paths, err := export.Export(ctx, st, export.Options{
		Format:        export.Format(exportFormat),
		ParticipantID: exportParticipant,
		Dir:           exportOut,
		Out:           cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}
	for _, path := range paths {
		fmt.Fprintln(os.Stderr, path)
	}
	logger.Debug("export finished", zap.String("format", exportFormat), zap.Int("files", len(paths)))
	return nil
}
