package cmd

import (
	"bytes"
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/report-archive-crawler/internal/app"
	"github.com/JakeFAU/report-archive-crawler/internal/extract"
	"github.com/JakeFAU/report-archive-crawler/internal/fetch"
	"github.com/JakeFAU/report-archive-crawler/internal/sink"
)

const (
	siteAnnual         = "annual"
	siteResponsibility = "responsibility"
	siteAll            = "all"
)

func newCompaniesCmd() *cobra.Command {
	var (
		site        string
		refresh     bool
		saveCookies bool
	)
	cmd := &cobra.Command{
		Use:   "companies",
		Short: "Fetches the company listings",
		Long: `Fetches the /Companies listing of each report directory and writes
companies-ar.json and companies-rr.json.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			sites, err := selectSites(a, site)
			if err != nil {
				return err
			}
			var opts []fetch.GetOption
			if refresh {
				opts = append(opts, fetch.WithBypassCache())
			}
			if saveCookies {
				opts = append(opts, fetch.WithSaveCookies())
			}
			for _, s := range sites {
				companies, err := loadCompanies(cmd.Context(), a, s, opts...)
				if err != nil {
					return err
				}
				uri, err := sink.WriteJSON(cmd.Context(), a.Sink, listingFile(s), companies)
				if err != nil {
					return err
				}
				a.Logger.Info("company listing written",
					zap.String("source", s.Source),
					zap.Int("companies", len(companies)),
					zap.String("uri", uri),
				)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&site, "site", siteAll, "report directory: annual, responsibility or all")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "fetch the listing even when it is cached")
	cmd.Flags().BoolVar(&saveCookies, "save-cookies", false, "persist session cookies after the fetch")
	return cmd
}

// loadCompanies fetches and parses the listing of one site.
func loadCompanies(ctx context.Context, a *app.App, s extract.Site, opts ...fetch.GetOption) ([]extract.CompanyIndex, error) {
	body, err := a.Fetcher.Get(ctx, s.ListingURL(), opts...)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, eris.Errorf("company listing %s is unavailable", s.ListingURL())
	}
	return extract.ParseCompanyList(bytes.NewReader(body))
}

func selectSites(a *app.App, name string) ([]extract.Site, error) {
	switch name {
	case siteAnnual:
		return []extract.Site{a.AnnualSite()}, nil
	case siteResponsibility:
		return []extract.Site{a.ResponsibilitySite()}, nil
	case siteAll, "":
		return a.Sites(), nil
	default:
		return nil, eris.Errorf("unknown site %q (want annual, responsibility or all)", name)
	}
}

func listingFile(s extract.Site) string {
	return "companies-" + s.Suffix() + ".json"
}
