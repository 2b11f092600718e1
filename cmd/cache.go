package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspects and edits the fetch cache",
	}
	cmd.AddCommand(newCacheRmCmd(), newCacheRmLastCmd())
	return cmd
}

func newCacheRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <url>...",
		Short: "Removes cached pages so they are fetched again",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			for _, u := range args {
				removed, err := a.Fetcher.Remove(cmd.Context(), u)
				if err != nil {
					return err
				}
				state := "not cached"
				if removed {
					state = "removed"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", state, u)
			}
			return nil
		},
	}
}

func newCacheRmLastCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm-last <url>...",
		Short: "Removes the last cached page of an ordered page list",
		Long: `Given the pages of a paginated listing in order, removes the last one that
is cached so the tail page is fetched again on the next run.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			removed, err := a.Fetcher.DropLast(cmd.Context(), args)
			if err != nil {
				return err
			}
			if removed == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "none of the pages is cached")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed\t%s\n", removed)
			return nil
		},
	}
}
