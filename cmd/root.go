// Package cmd defines and implements the CLI commands of the report crawler.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/report-archive-crawler/internal/app"
	"github.com/JakeFAU/report-archive-crawler/internal/config"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. Tests replace it to inject services
// pointed at local servers.
var newApp = func(ctx context.Context, cfgPath string, dryRun bool) (*app.App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, app.Options{DryRun: dryRun})
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var (
		cfgFile string
		dryRun  bool
	)
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "Crawls annual and responsibility report directories.",
		Long: `reports builds an offline dataset of companies and their report archives
from the annual and responsibility report directories, and enumerates the
investor-profile API. Every page goes through a persistent fetch cache, so
interrupted runs resume without refetching.`,
		SilenceUsage: true,

		// Build the services once and hand them to the subcommand via the context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile, dryRun)
			if err != nil {
				return eris.Wrap(err, "initialize application services")
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(*app.App); ok && appInstance != nil {
				appInstance.Close(cmd.Context())
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); REPORTS_* environment variables override it")
	cmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "fetch normally but keep the cache, outputs, search results and cookies in memory")

	cmd.AddCommand(
		newCompaniesCmd(),
		newReportsCmd(),
		newInvestorsCmd(),
		newCacheCmd(),
		newIPInfoCmd(),
	)
	return cmd
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		logger, logErr := zap.NewProduction()
		if logErr != nil {
			os.Exit(1)
		}
		logger.Fatal("command execution failed", zap.Error(err))
	}
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, eris.New("application services not initialized")
	}
	return appInstance, nil
}
