package timetable

import (
	"net/url"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"shuttlestops/internal/config"
	"shuttlestops/internal/source"
	"shuttlestops/internal/stop"
)

// DefaultSkipWords mark header and legend lines.
var DefaultSkipWords = []string{"rozklad", "godz", "legenda"}

// A latitude and longitude printed on a timetable line, e.g. "51.1079, 17.0385".
var inlineLatLonRe = regexp.MustCompile(`([+-]?\d{1,2}[.,]\d{4,})\s*[,;/\s]\s*([+-]?\d{1,3}[.,]\d{4,})`)

const nameTrim = " -–:;|"

// Line is one stop parsed from a timetable line.
type Line struct {
	Name       string
	Times      []string
	Coordinate *stop.Coordinate
}

// Document is the parsed content of one timetable.
type Document struct {
	Route   string
	Network string
	Lines   []Line
}

// ParseLines extracts stops from timetable text. Lines containing a skip
// word, and lines whose name part is shorter than three characters, are
// ignored.
func ParseLines(text string, skipWords []string) []Line {
	var out []Line
	for _, raw := range strings.Split(text, "\n") {
		line := source.CollapseSpace(raw)
		if utf8.RuneCountInString(line) < 3 || hasSkipWord(line, skipWords) {
			continue
		}
		if l, ok := parseLine(line); ok {
			out = append(out, l)
		}
	}
	return out
}

func parseLine(line string) (Line, bool) {
	var l Line
	rest := line
	if m := inlineLatLonRe.FindStringSubmatch(line); m != nil {
		if c, ok := parseCoordinate(m[1], m[2]); ok {
			l.Coordinate = c
		}
		rest = inlineLatLonRe.ReplaceAllString(rest, " ")
	}
	l.Times = source.Times(rest)
	rest = source.TimePattern.ReplaceAllString(rest, " ")

	l.Name = strings.Trim(source.CollapseSpace(rest), nameTrim)
	if utf8.RuneCountInString(l.Name) < 3 || !hasLetter(l.Name) {
		return Line{}, false
	}
	return l, true
}

func parseCoordinate(lat, lon string) (*stop.Coordinate, bool) {
	la, err := strconv.ParseFloat(strings.Replace(lat, ",", ".", 1), 64)
	if err != nil {
		return nil, false
	}
	lo, err := strconv.ParseFloat(strings.Replace(lon, ",", ".", 1), 64)
	if err != nil {
		return nil, false
	}
	c := &stop.Coordinate{Lat: la, Lon: lo}
	return c, c.Valid()
}

// InferRouteTitle picks the first of the leading non-empty lines that is at
// least four characters long and contains a letter. Otherwise the document
// file name is used, with separators turned into spaces.
func InferRouteTitle(docURL string, lines []string) string {
	n := 0
	for _, raw := range lines {
		line := source.CollapseSpace(raw)
		if line == "" {
			continue
		}
		if n++; n > 5 {
			break
		}
		if utf8.RuneCountInString(line) >= 4 && hasLetter(line) {
			return line
		}
	}

	name := docURL
	if u, err := url.Parse(docURL); err == nil {
		name = path.Base(u.Path)
		if unescaped, err := url.PathUnescape(name); err == nil {
			name = unescaped
		}
	}
	if ext := path.Ext(name); strings.EqualFold(ext, ".pdf") {
		name = strings.TrimSuffix(name, ext)
	}
	name = strings.TrimSpace(strings.NewReplacer("_", " ", "-", " ").Replace(name))
	if name == "" || name == "/" || name == "." {
		return docURL
	}
	return name
}

// DetectNetwork finds a network id or alias mentioned in any of texts and
// returns the owning network's id. Longer ids are tried first so "wro5"
// is not mistaken for "wro".
func DetectNetwork(networks []config.Network, texts ...string) string {
	type candidate struct{ id, owner string }
	var cands []candidate
	for _, n := range networks {
		for _, id := range n.IDs() {
			cands = append(cands, candidate{id: id, owner: n.ID})
		}
	}
	sort.SliceStable(cands, func(i, j int) bool { return len(cands[i].id) > len(cands[j].id) })

	for _, text := range texts {
		lowered := strings.ToLower(text)
		for _, c := range cands {
			if containsToken(lowered, c.id) {
				return c.owner
			}
		}
	}
	return ""
}

// containsToken reports whether tok occurs in s not flanked by letters or digits.
func containsToken(s, tok string) bool {
	for i := 0; ; {
		j := strings.Index(s[i:], tok)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(tok)
		before, _ := utf8.DecodeLastRuneInString(s[:start])
		after, _ := utf8.DecodeRuneInString(s[end:])
		if !isAlnum(before) && !isAlnum(after) {
			return true
		}
		i = start + 1
	}
}

func isAlnum(r rune) bool {
	return r != utf8.RuneError && (unicode.IsLetter(r) || unicode.IsDigit(r))
}

func hasLetter(s string) bool {
	return strings.IndexFunc(s, unicode.IsLetter) >= 0
}

var polishL = strings.NewReplacer("ł", "l", "Ł", "L")

// fold lowercases s and strips diacritics, so "Rozkład" matches "rozklad".
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, polishL.Replace(s))
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

func hasSkipWord(line string, words []string) bool {
	folded := fold(line)
	for _, w := range words {
		if strings.Contains(folded, fold(w)) {
			return true
		}
	}
	return false
}

// ParseDocument turns the page texts of one timetable into a Document. The
// line used as the route title is not treated as a stop.
func ParseDocument(pages []string, docURL string, networks []config.Network, fallbackNetwork string, skipWords []string) Document {
	text := strings.Join(pages, "\n")
	lines := strings.Split(text, "\n")

	doc := Document{Route: InferRouteTitle(docURL, lines)}
	doc.Network = DetectNetwork(networks, doc.Route, docURL)
	if doc.Network == "" {
		doc.Network = stop.NormalizeNetwork(fallbackNetwork)
	}

	titleSkipped := false
	for _, l := range ParseLines(text, skipWords) {
		if !titleSkipped && l.Coordinate == nil && len(l.Times) == 0 && l.Name == strings.Trim(doc.Route, nameTrim) {
			titleSkipped = true
			continue
		}
		doc.Lines = append(doc.Lines, l)
	}
	return doc
}

// Records converts the document's lines into stop records.
func (d Document) Records(docURL string) []stop.Record {
	recs := make([]stop.Record, 0, len(d.Lines))
	for _, l := range d.Lines {
		r := stop.Record{
			Kind:      stop.KindPDF,
			Name:      l.Name,
			Network:   d.Network,
			Route:     d.Route,
			SourceURL: docURL,
			Source:    stop.SourceNone,
			Context:   l.Times,
		}
		if l.Coordinate != nil {
			r.Coordinate = l.Coordinate
			r.Source = stop.SourceDocumentInline
		}
		recs = append(recs, r)
	}
	return recs
}
