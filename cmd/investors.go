package cmd

import (
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/report-archive-crawler/internal/app"
	"github.com/JakeFAU/report-archive-crawler/internal/enumerate"
	"github.com/JakeFAU/report-archive-crawler/internal/metrics"
)

func newInvestorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "investors",
		Short: "Crawls the investor-profile API",
	}
	cmd.AddCommand(newInvestorsSearchCmd(), newInvestorsInfoCmd())
	return cmd
}

func newInvestorsSearchCmd() *cobra.Command {
	var maxLen int
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Enumerates search terms and stores every response",
		Long: `The API only offers substring search, so every digit and every string of
digits and lowercase letters up to --max-len characters is searched. Each
response is stored as index_<term>.json; terms with a stored response are
skipped, so the command resumes where a previous run stopped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if maxLen <= 0 {
				maxLen = a.Config.Investor.MaxTermLength
			}
			cp, err := a.OpenCheckpoint(a.Config.Investor.StorageDir, "index_")
			if err != nil {
				return err
			}
			a.Logger.Info("starting search enumeration",
				zap.Int("max_len", maxLen),
				zap.Int("already_saved", cp.Len()),
			)
			e := enumerate.New(a.Investor, cp, a.Logger, termObserver(a))
			_, err = e.Run(cmd.Context(), enumerate.Terms(enumerate.DefaultPhases(maxLen)...))
			return err
		},
	}
	cmd.Flags().IntVar(&maxLen, "max-len", 0, "longest search term (default investor.max_term_length)")
	return cmd
}

func newInvestorsInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <id>...",
		Short: "Stores the profile of each company id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cp, err := a.OpenCheckpoint(filepath.Join(a.Config.Investor.StorageDir, "info"), "")
			if err != nil {
				return err
			}
			e := enumerate.New(enumerate.SearchFunc(a.Investor.Info), cp, a.Logger, termObserver(a))
			_, err = e.Run(cmd.Context(), func(yield func(string) bool) {
				for _, id := range args {
					if !yield(id) {
						return
					}
				}
			})
			return err
		},
	}
	return cmd
}

func termObserver(a *app.App) enumerate.Observer {
	if !a.Config.Metrics.Enabled {
		return nil
	}
	return metrics.NewRecorder()
}
