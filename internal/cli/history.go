package cli

import (
	"github.com/spf13/cobra"

	"github.com/dl-alexandre/pullsync/internal/sync/index"
	"github.com/dl-alexandre/pullsync/internal/utils"
)

var (
	historyLimit int
	historyRunID string
)

var historyCmd = &cobra.Command{
	Use:   "history <profile>",
	Short: "Show recorded sync runs of a profile",
	Long: `Show recorded sync runs of a profile, newest first.

With --run, the individual changes recorded for that run are listed instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "Number of runs to show (0 uses historyLimit from the config, -1 shows all)")
	historyCmd.Flags().StringVar(&historyRunID, "run", "", "List the records of a single run")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx, log := commandContext(cmd)
	out := newOutput(ctx, cmd)

	sess, err := openSession(ctx, log)
	if err != nil {
		return out.WriteFailure("history", err)
	}
	defer sess.Close()

	profile, err := sess.profile(ctx, args[0])
	if err != nil {
		return out.WriteFailure("history", err)
	}

	if historyRunID != "" {
		records, err := sess.db.ListRunRecords(ctx, historyRunID)
		if err != nil {
			return out.WriteFailure("history", err)
		}
		if records == nil {
			records = []index.RunRecord{}
		}
		return out.WriteSuccess("history.run", index.RunRecordList(records))
	}

	limit := historyLimit
	if limit == 0 {
		limit = sess.cfg.HistoryLimit
	}
	if limit < -1 {
		return out.WriteError("history", utils.NewCLIError(utils.ErrCodeInvalidArgument,
			"limit must be -1, 0 or positive").Build())
	}
	runs, err := sess.db.ListRuns(ctx, profile.ID, limit)
	if err != nil {
		return out.WriteFailure("history", err)
	}
	if runs == nil {
		runs = []index.Run{}
	}
	return out.WriteSuccess("history", index.RunList(runs))
}
