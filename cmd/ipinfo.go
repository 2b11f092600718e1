package cmd

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/report-archive-crawler/internal/fetch"
)

const defaultIPInfoURL = "https://ipinfo.io/json"

func newIPInfoCmd() *cobra.Command {
	var endpoint string
	cmd := &cobra.Command{
		Use:   "ipinfo",
		Short: "Shows the public address requests leave from",
		Long:  `Fetches an IP lookup service through the configured session, bypassing the cache, to check the proxy setup.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.Session.SetReferer(endpoint); err != nil {
				return err
			}
			var info map[string]any
			ok, err := a.Fetcher.GetJSON(cmd.Context(), endpoint, &info, fetch.WithBypassCache())
			if err != nil {
				return err
			}
			if !ok {
				return eris.Errorf("no response from %s", endpoint)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		},
	}
	cmd.Flags().StringVar(&endpoint, "url", defaultIPInfoURL, "IP lookup endpoint")
	return cmd
}
