package extract

import (
	"io"
	"path"
	"slices"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
)

// AnnualReport is one report entry on a company page.
type AnnualReport struct {
	DownloadLink Field[string] `json:"download_link"`
	Heading      Field[string] `json:"heading"`
	PreviewImg   Field[string] `json:"preview_img"`
	ReportID     Field[string] `json:"report_id"`
	ReportYear   Field[string] `json:"report_year"`
	Source       string        `json:"source"`
	ViewLink     Field[string] `json:"view_link"`
}

// CompanyRecord is the normalised content of a company detail page. Fields
// are declared in key order so the JSON encoding is sorted.
type CompanyRecord struct {
	Description Field[string]   `json:"description"`
	DownloadKey Field[string]   `json:"download_key"`
	Employees   Field[string]   `json:"employees"`
	Exchange    Field[string]   `json:"exchange"`
	Location    Field[string]   `json:"location"`
	LogoURL     Field[string]   `json:"logo_url"`
	Name        Field[string]   `json:"name"`
	RatingCount Field[int64]    `json:"rating_count"`
	RatingValue Field[float64]  `json:"rating_value"`
	ReportKey   Field[string]   `json:"report_key"`
	Reports     []AnnualReport  `json:"reports"`
	Slug        string          `json:"slug"`
	SocialLinks Field[[]string] `json:"social_links"`
	SortChar    string          `json:"sort_char"`
	TickerName  Field[string]   `json:"ticker_name"`
	URL         Field[string]   `json:"url"`
	Years       []int           `json:"years"`
}

// ParseCompanyPage reads a company detail page.
func ParseCompanyPage(r io.Reader, slug string, site Site) (CompanyRecord, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return CompanyRecord{}, eris.Wrapf(err, "parse company page %s", slug)
	}

	rec := CompanyRecord{
		Slug:    strings.TrimSpace(slug),
		Reports: make([]AnnualReport, 0),
		Years:   make([]int, 0),
	}
	if err := applyStructuredData(doc, &rec); err != nil {
		return CompanyRecord{}, eris.Wrapf(err, "company page %s", slug)
	}

	if top := doc.Find("li.top_content_list").First(); top.Length() > 0 {
		rec.TickerName = selText(top, "span.ticker_name")
		if right := top.Find("div.right").First(); right.Length() > 0 {
			rec.Exchange = exchangeText(right)
		}
	}
	rec.SortChar = sortChar(rec.TickerName.OrZero(), rec.Slug)

	rec.Employees = selText(doc.Selection, "li.employees")
	rec.Location = Map(selText(doc.Selection, "li.location"), func(s string) string {
		return strings.TrimSpace(strings.ReplaceAll(s, "Based in ", ""))
	})

	var years []int
	if block := doc.Find("div.most_recent_content_block").First(); block.Length() > 0 {
		report := AnnualReport{
			Source:       site.Source,
			DownloadLink: Some(""),
			ViewLink:     Some(""),
		}
		if src := selAttr(block, "div.most_recent_pvw_img > img", "src"); src.Valid() {
			report.PreviewImg = site.resolve(src)
			report.ReportID = Map(src, fileStem)
		}
		report.Heading = selText(block, ".bold_txt")
		report.ReportYear = yearOf(report.Heading)
		years = appendYear(years, report.ReportYear)
		if report.ReportID.Valid() {
			rec.Reports = append(rec.Reports, report)
		}
	}

	archived := archivedReports(doc, site)
	for _, report := range archived {
		years = appendYear(years, report.ReportYear)
	}
	rec.Reports = append(rec.Reports, archived...)
	rec.Years = sortedDistinct(years)

	if len(archived) > 0 {
		last := archived[len(archived)-1].DownloadLink.OrZero()
		rec.DownloadKey = DownloadKey(last)
		rec.ReportKey = ReportKey(last)
	}
	return rec, nil
}

// applyStructuredData projects the first JSON-LD Corporation block onto rec.
func applyStructuredData(doc *goquery.Document, rec *CompanyRecord) error {
	var blockErr error
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		code := strings.TrimSpace(s.Text())
		if code == "" {
			return true
		}
		if !gjson.Valid(code) {
			if strings.Contains(code, "Corporation") {
				blockErr = eris.New("malformed JSON-LD corporation block")
				return false
			}
			return true
		}
		data := gjson.Parse(code)
		if data.Get(gjson.Escape("@type")).String() != "Corporation" {
			return true
		}
		rec.Name = jsonString(data, "name")
		rec.Description = jsonString(data, "description")
		rec.URL = jsonString(data, "url")
		rec.LogoURL = jsonString(data, "logo.contentUrl")
		if v := data.Get("aggregateRating.reviewCount"); v.Exists() && v.Type != gjson.Null {
			rec.RatingCount = Some(v.Int())
		}
		if v := data.Get("aggregateRating.ratingValue"); v.Exists() && v.Type != gjson.Null {
			rec.RatingValue = Some(v.Float())
		}
		rec.SocialLinks = jsonStrings(data, "sameAs")
		return false
	})
	return blockErr
}

func jsonString(data gjson.Result, p string) Field[string] {
	v := data.Get(p)
	if !v.Exists() || v.Type == gjson.Null {
		return None[string]()
	}
	return text(v.String())
}

func jsonStrings(data gjson.Result, p string) Field[[]string] {
	v := data.Get(p)
	if !v.Exists() || v.Type == gjson.Null {
		return None[[]string]()
	}
	if !v.IsArray() {
		return Map(text(v.String()), func(s string) []string { return []string{s} })
	}
	out := make([]string, 0)
	for _, item := range v.Array() {
		if s := strings.TrimSpace(item.String()); s != "" {
			out = append(out, s)
		}
	}
	return Some(out)
}

// exchangeText reads div.right without its badge and "more" link.
func exchangeText(right *goquery.Selection) Field[string] {
	node := right.Clone()
	node.Find("span.blue_txt").First().Remove()
	node.Find("span.more").First().Remove()
	return text(node.Text())
}

func archivedReports(doc *goquery.Document, site Site) []AnnualReport {
	list := doc.Find("div.archived_report_content_block > ul").First()
	if list.Length() == 0 {
		return nil
	}
	var reports []AnnualReport
	list.Find("li").Each(func(_ int, li *goquery.Selection) {
		report := AnnualReport{Source: site.Source}
		if src := selAttr(li, "img", "src"); src.Valid() {
			report.PreviewImg = site.resolve(src)
			report.ReportID = Map(src, fileStem)
		}
		report.Heading = selText(li, "span.heading")
		report.ReportYear = yearOf(report.Heading)
		report.ViewLink = site.resolve(selAttr(li, "span.view_annual_report > a", "href"))
		report.DownloadLink = site.resolve(selAttr(li, "span.download > a", "href"))
		reports = append(reports, report)
	})
	return reports
}

func yearOf(heading Field[string]) Field[string] {
	h, ok := heading.Get()
	if !ok {
		return None[string]()
	}
	return ReportYear(h)
}

func appendYear(years []int, year Field[string]) []int {
	y, ok := year.Get()
	if !ok {
		return years
	}
	n, err := strconv.Atoi(y)
	if err != nil {
		return years
	}
	return append(years, n)
}

func sortedDistinct(years []int) []int {
	out := slices.Clone(years)
	slices.Sort(out)
	out = slices.Compact(out)
	if out == nil {
		out = make([]int, 0)
	}
	return out
}

func fileStem(src string) string {
	if i := strings.IndexAny(src, "?#"); i >= 0 {
		src = src[:i]
	}
	base := path.Base(src)
	return strings.TrimSuffix(base, path.Ext(base))
}

func sortChar(ticker, slug string) string {
	s := ticker
	if s == "" {
		s = slug
	}
	r, _ := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return ""
	}
	return string(unicode.ToLower(r))
}
