// Package extract turns report-directory pages into company records.
//
// Parsing is lenient: markup the pages do not carry becomes an absent Field,
// never an error. Only an unreadable document or a corrupt structured-data
// block is reported.
package extract

import (
	"io"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
)

// CompanyIndex is one row of a company listing.
type CompanyIndex struct {
	Name     string        `json:"name"`
	Slug     string        `json:"slug"`
	Sector   Field[string] `json:"sector"`
	Industry Field[string] `json:"industry"`
}

// ParseCompanyList reads a listing page. Items without a company name link
// are skipped.
func ParseCompanyList(r io.Reader) ([]CompanyIndex, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, eris.Wrap(err, "parse company listing")
	}

	companies := make([]CompanyIndex, 0)
	doc.Find("li").Not(".header_section").Each(func(_ int, li *goquery.Selection) {
		nameNode := li.Find("span.companyName").First()
		if nameNode.Length() == 0 {
			return
		}
		name := text(nameNode.Text())
		href, ok := nameNode.Find("a").First().Attr("href")
		if !ok || !name.Valid() {
			return
		}
		slug := path.Base(strings.TrimRight(strings.TrimSpace(href), "/"))
		if slug == "" || slug == "." || slug == "/" {
			return
		}
		companies = append(companies, CompanyIndex{
			Name:     name.OrZero(),
			Slug:     slug,
			Sector:   selText(li, "span.sectorName"),
			Industry: selText(li, "span.industryName"),
		})
	})
	return companies, nil
}

// selText is the collapsed text of the first node matching selector.
func selText(s *goquery.Selection, selector string) Field[string] {
	node := s.Find(selector).First()
	if node.Length() == 0 {
		return None[string]()
	}
	return text(node.Text())
}

// selAttr is the trimmed attribute of the first node matching selector.
func selAttr(s *goquery.Selection, selector, attr string) Field[string] {
	v, ok := s.Find(selector).First().Attr(attr)
	if !ok {
		return None[string]()
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return None[string]()
	}
	return Some(v)
}
