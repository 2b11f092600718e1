package extract

import "strings"

// Report sources.
const (
	SourceAnnual         = "annual"
	SourceResponsibility = "responsibility"
)

// Site identifies one report directory.
type Site struct {
	// Source is SourceAnnual or SourceResponsibility.
	Source  string
	BaseURL string
}

// Suffix is the short tag used in output file names ("ar" or "rr").
func (s Site) Suffix() string {
	if s.Source == SourceResponsibility {
		return "rr"
	}
	return "ar"
}

// URL resolves path against the site base. Absolute URLs pass through and
// an empty path stays empty.
func (s Site) URL(path string) string {
	if path == "" {
		return ""
	}
	if strings.Contains(path, "://") {
		return path
	}
	return strings.TrimRight(s.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// ListingURL is the company directory page.
func (s Site) ListingURL() string {
	return s.URL("/Companies")
}

// CompanyURL is the detail page for slug.
func (s Site) CompanyURL(slug string) string {
	return s.URL("/Company/" + slug)
}

func (s Site) resolve(f Field[string]) Field[string] {
	return Map(f, s.URL)
}
