package source

import (
	"net/url"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultSkipSegments are archive paths that never hold route pages.
var DefaultSkipSegments = []string{"/category/", "/kategoria/", "/tag/", "/page/"}

// Link is an anchor found on a page, resolved to an absolute URL.
type Link struct {
	Title string
	URL   *url.URL
}

// Links returns the absolute http(s) links inside sel, deduplicated by URL
// in document order. Fragments are dropped.
func Links(sel *goquery.Selection, base *url.URL) []Link {
	var out []Link
	seen := make(map[string]bool)
	sel.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		u, ok := ResolveLink(base, href)
		if !ok {
			return
		}
		k := Canonical(u)
		if seen[k] {
			return
		}
		seen[k] = true
		out = append(out, Link{Title: Text(a), URL: u})
	})
	return out
}

// ResolveLink resolves href against base and keeps only http(s) targets.
func ResolveLink(base *url.URL, href string) (*url.URL, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return nil, false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return nil, false
	}
	u := base.ResolveReference(ref)
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u, true
}

// Canonical returns u without fragment and trailing slash, for dedup.
func Canonical(u *url.URL) string {
	c := *u
	c.Fragment, c.RawFragment = "", ""
	c.Host = strings.ToLower(c.Host)
	return strings.TrimSuffix(c.String(), "/")
}

// SameHost reports whether u is served by host or one of its subdomains.
func SameHost(u *url.URL, host string) bool {
	h := strings.ToLower(u.Hostname())
	host = strings.ToLower(host)
	return h == host || strings.HasSuffix(h, "."+host)
}

// HasSkipSegment reports whether u's path contains any of segments.
func HasSkipSegment(u *url.URL, segments []string) bool {
	for _, s := range segments {
		if strings.Contains(u.Path, s) {
			return true
		}
	}
	return false
}

// IsDocument reports whether u points at a file with one of the given
// extensions, compared case-insensitively.
func IsDocument(u *url.URL, exts ...string) bool {
	ext := strings.ToLower(path.Ext(u.Path))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

var spaceRe = regexp.MustCompile(`\s+`)

// Text returns the text under sel with a space between text nodes, so
// adjacent table cells do not run together.
func Text(sel *goquery.Selection) string {
	var parts []string
	var walk func(*goquery.Selection)
	walk = func(s *goquery.Selection) {
		s.Contents().Each(func(_ int, c *goquery.Selection) {
			if goquery.NodeName(c) == "#text" {
				parts = append(parts, c.Text())
				return
			}
			walk(c)
		})
	}
	walk(sel)
	return CollapseSpace(strings.Join(parts, " "))
}

// CollapseSpace trims s and collapses internal whitespace runs.
func CollapseSpace(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// TimePattern matches schedule times such as 7:15 or 07.15.
var TimePattern = regexp.MustCompile(`\b(\d{1,2})[:.](\d{2})\b`)

// Times returns the valid clock times in s as sorted, deduplicated H:MM
// strings. A dot separator is normalized to a colon.
func Times(s string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range TimePattern.FindAllStringSubmatch(s, -1) {
		h, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if h > 23 || mm > 59 {
			continue
		}
		t := m[1] + ":" + m[2]
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}
