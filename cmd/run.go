package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/leasedata/goldenrec/internal/ingest"
	"github.com/leasedata/goldenrec/internal/model"
	"github.com/leasedata/goldenrec/internal/pipeline"
)

var (
	runFile      string
	runBatchID   string
	runBatchType string
	runReference string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process one extract batch into the golden record store",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		batchType := model.BatchType(runBatchType)
		if batchType != model.BatchFullRefresh && batchType != model.BatchChangeOnly {
			return eris.Errorf("invalid batch type %q", runBatchType)
		}

		reference := time.Now().UTC().Truncate(24 * time.Hour)
		if runReference == "" {
			runReference = cfg.Pipeline.ReferenceDate
		}
		if runReference != "" {
			var err error
			reference, err = time.Parse("2006-01-02", runReference)
			if err != nil {
				return eris.Wrap(err, "parse reference date")
			}
		}

		batchID := runBatchID
		if batchID == "" {
			batchID = uuid.NewString()
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		p, err := initPipeline(ctx, st)
		if err != nil {
			return err
		}

		res, err := ingest.ReadFile(ctx, runFile, batchID, time.Now().UTC())
		if err != nil {
			return eris.Wrap(err, "ingest batch file")
		}
		zap.L().Info("batch ingested",
			zap.String("batch_id", batchID),
			zap.String("file", runFile),
			zap.Int("accepted", len(res.Records)),
			zap.Int("rejected", len(res.Rejects)),
		)

		report, err := p.Run(ctx, pipeline.Params{
			BatchID:      batchID,
			Type:         batchType,
			Reference:    reference,
			Records:      res.Records,
			RowsRejected: len(res.Rejects),
		})
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	runCmd.Flags().StringVar(&runFile, "file", "", "batch extract file, .csv or .xlsx (required)")
	runCmd.Flags().StringVar(&runBatchID, "batch-id", "", "batch id (default: random UUID)")
	runCmd.Flags().StringVar(&runBatchType, "type", string(model.BatchChangeOnly), "batch type: full-refresh or change-only")
	runCmd.Flags().StringVar(&runReference, "reference-date", "", "reference date YYYY-MM-DD for remaining-years (default: today)")
	_ = runCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(runCmd)
}
