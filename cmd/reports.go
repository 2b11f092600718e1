package cmd

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/report-archive-crawler/internal/extract"
	"github.com/JakeFAU/report-archive-crawler/internal/metrics"
	"github.com/JakeFAU/report-archive-crawler/internal/sink"
)

func newReportsCmd() *cobra.Command {
	var (
		site  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "reports [slug...]",
		Short: "Scrapes company pages and their report archives",
		Long: `Loads the company listing of each report directory (or uses the given
slugs), warms the fetch cache for every company page with a worker pool, then
extracts one record per company into companies/<slug>-<ar|rr>.json. Archive
download links synthesized for every listed year are written to links.txt.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := resolveApp(ctx)
			if err != nil {
				return err
			}
			sites, err := selectSites(a, site)
			if err != nil {
				return err
			}

			var links []string
			for _, s := range sites {
				slugs := args
				if len(slugs) == 0 {
					companies, err := loadCompanies(ctx, a, s)
					if err != nil {
						return err
					}
					if _, err := sink.WriteJSON(ctx, a.Sink, listingFile(s), companies); err != nil {
						return err
					}
					for _, c := range companies {
						slugs = append(slugs, c.Slug)
					}
				}
				if limit > 0 && len(slugs) > limit {
					slugs = slugs[:limit]
				}

				urls := make([]string, 0, len(slugs))
				for _, slug := range slugs {
					urls = append(urls, s.CompanyURL(slug))
				}
				report, err := a.Fetcher.Prefetch(ctx, urls)
				if err != nil {
					return err
				}
				if a.Config.Metrics.Enabled {
					metrics.ObservePrefetch(report.Cached, report.Fetched, len(report.Failed))
				}
				if len(report.Failed) > 0 {
					a.Logger.Warn("some company pages could not be fetched",
						zap.String("source", s.Source),
						zap.Strings("urls", report.FailedURLs()),
					)
				}

				for i, slug := range slugs {
					a.Logger.Info(fmt.Sprintf("[%04d/%d] %s", i+1, len(slugs), slug), zap.String("source", s.Source))
					body, err := a.Fetcher.Get(ctx, s.CompanyURL(slug))
					if err != nil {
						return err
					}
					if body == nil {
						continue
					}
					rec, err := extract.ParseCompanyPage(bytes.NewReader(body), slug, s)
					if err != nil {
						return err
					}
					if _, err := sink.WriteJSON(ctx, a.Sink, companyFile(slug, s), rec); err != nil {
						return err
					}
					if key, ok := rec.ReportKey.Get(); ok {
						links = append(links, extract.ReportLinks(s, key, rec.Years)...)
					}
				}
			}

			uri, err := sink.WriteLines(ctx, a.Sink, "links.txt", links)
			if err != nil {
				return err
			}
			a.Logger.Info("report links written", zap.Int("links", len(links)), zap.String("uri", uri))
			return nil
		},
	}
	cmd.Flags().StringVar(&site, "site", siteAll, "report directory: annual, responsibility or all")
	cmd.Flags().IntVar(&limit, "limit", 0, "scrape at most this many companies per site (0 = all)")
	return cmd
}

func companyFile(slug string, s extract.Site) string {
	return "companies/" + strings.ToLower(slug) + "-" + s.Suffix() + ".json"
}
