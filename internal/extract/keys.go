package extract

import (
	"path"
	"regexp"
	"strconv"
	"strings"
)

const archivePrefix = "/HostedData/AnnualReportArchive/"

var yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// ReportYear returns the first four-digit year in 1900-2099 found in s.
func ReportYear(s string) Field[string] {
	m := yearPattern.FindString(s)
	if m == "" {
		return None[string]()
	}
	return Some(m)
}

// DownloadKey returns the two directory segments that hold an archived
// report, e.g. "x/y" for "/dl/x/y/NAME_2018.pdf". The result does not depend
// on the year in the file name.
func DownloadKey(link string) Field[string] {
	p := linkPath(link)
	if p == "" {
		return None[string]()
	}
	dir := strings.Trim(path.Dir(p), "/")
	if dir == "" || dir == "." {
		return None[string]()
	}
	return Some(lastSegments(dir, 2))
}

// ReportKey returns the archive template for a download link: the last two
// path segments with the trailing "_<year>.<ext>" dropped, e.g. "a/NYSE_ABC"
// for ".../a/NYSE_ABC_2018.pdf".
func ReportKey(link string) Field[string] {
	p := linkPath(link)
	i := strings.LastIndex(p, "_")
	if i < 0 {
		return None[string]()
	}
	p = strings.Trim(p[:i], "/")
	if p == "" {
		return None[string]()
	}
	return Some(lastSegments(p, 2))
}

// ReportLinks synthesises archive download URLs for every year from a
// report key.
func ReportLinks(site Site, reportKey string, years []int) []string {
	if reportKey == "" {
		return nil
	}
	out := make([]string, 0, len(years))
	for _, y := range years {
		out = append(out, site.URL(archivePrefix+reportKey+"_"+strconv.Itoa(y)+".pdf"))
	}
	return out
}

// linkPath strips scheme, host, query and fragment from link.
func linkPath(link string) string {
	link = strings.TrimSpace(link)
	if i := strings.Index(link, "://"); i >= 0 {
		link = link[i+3:]
		j := strings.Index(link, "/")
		if j < 0 {
			return ""
		}
		link = link[j:]
	}
	if i := strings.IndexAny(link, "?#"); i >= 0 {
		link = link[:i]
	}
	return link
}

func lastSegments(p string, n int) string {
	parts := strings.Split(p, "/")
	if len(parts) > n {
		parts = parts[len(parts)-n:]
	}
	return strings.Join(parts, "/")
}
