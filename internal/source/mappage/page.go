package mappage

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	errs "shuttlestops/internal/errors"
	"shuttlestops/internal/source"
	"shuttlestops/internal/stop"
)

// Page is the parsed content of one route page.
type Page struct {
	Route    string
	Records  []stop.Record
	Warnings []error
}

// ParsePage extracts stop records from a route page: every anchor pointing
// at one of mapHosts is a stop, named by its text and positioned by its URL.
func ParsePage(body []byte, pageURL, network string, mapHosts []string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &errs.ParseError{Source: network, URL: pageURL, Err: err}
	}

	p := &Page{Route: routeTitle(doc, pageURL)}
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		u, err := url.Parse(strings.Join(strings.Fields(href), ""))
		if err != nil || !isMapLink(u, mapHosts) {
			return
		}

		name := source.Text(a)
		if name == "" {
			p.Warnings = append(p.Warnings, &errs.ParseError{
				Source: network, URL: pageURL, Record: href, Err: fmt.Errorf("map link without stop name"),
			})
			return
		}
		c, ok := ExtractCoordinate(u)
		if !ok {
			p.Warnings = append(p.Warnings, &errs.ParseError{
				Source: network, URL: pageURL, Record: name, Err: fmt.Errorf("no usable coordinate in %s", href),
			})
			return
		}

		scope := a.Closest("tr, li, p, div")
		if scope.Length() == 0 {
			scope = doc.Selection
		}
		p.Records = append(p.Records, stop.Record{
			Kind:       stop.KindHTML,
			Name:       name,
			Network:    network,
			Route:      p.Route,
			SourceURL:  pageURL,
			Coordinate: c,
			Source:     stop.SourceMapLink,
			Context:    source.Times(source.Text(scope)),
		})
	})
	return p, nil
}

// MentionsMap reports whether a raw page references any of mapHosts.
func MentionsMap(body []byte, mapHosts []string) bool {
	for _, h := range mapHosts {
		if bytes.Contains(body, []byte(h)) {
			return true
		}
	}
	return false
}

func isMapLink(u *url.URL, mapHosts []string) bool {
	if u.Host == "" {
		return false
	}
	for _, h := range mapHosts {
		if source.SameHost(u, h) {
			return true
		}
	}
	return false
}

// routeTitle is the first h1 or h2 heading, falling back to the page URL.
func routeTitle(doc *goquery.Document, pageURL string) string {
	if t := source.Text(doc.Find("h1, h2").First()); t != "" {
		return t
	}
	return pageURL
}
