package timetable

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shuttlestops/internal/config"
	errs "shuttlestops/internal/errors"
	"shuttlestops/internal/stop"
)

var networks = []config.Network{
	{ID: "wro", Aliases: []string{"wro1", "wro2"}},
	{ID: "wro5"},
	{ID: "poz1"},
}

func TestParseLines(t *testing.T) {
	text := strings.Join([]string{
		"Rozkład jazdy - linia 3",
		"Godz. odjazdu",
		"Dworzec Główny 05:40 13:40 21:40",
		"  Pl.   Grunwaldzki  -  05.52 | 13.52 ",
		"Brama Główna 51.1079, 17.0385 06:05",
		"06:10 06:20",
		"ab",
		"Legenda: * kursuje w soboty",
		"",
	}, "\n")

	got := ParseLines(text, DefaultSkipWords)
	require.Len(t, got, 3)

	assert.Equal(t, "Dworzec Główny", got[0].Name)
	assert.Equal(t, []string{"05:40", "13:40", "21:40"}, got[0].Times)
	assert.Nil(t, got[0].Coordinate)

	assert.Equal(t, "Pl. Grunwaldzki", got[1].Name)
	assert.Equal(t, []string{"05:52", "13:52"}, got[1].Times)

	assert.Equal(t, "Brama Główna", got[2].Name)
	assert.Equal(t, &stop.Coordinate{Lat: 51.1079, Lon: 17.0385}, got[2].Coordinate)
	assert.Equal(t, []string{"06:05"}, got[2].Times)
}

func TestParseLines_SkipWordsIgnoreDiacritics(t *testing.T) {
	got := ParseLines("ROZKŁAD JAZDY\nGodzina odjazdu\nStop A 07:00", DefaultSkipWords)
	require.Len(t, got, 1)
	assert.Equal(t, "Stop A", got[0].Name)
}

func TestInferRouteTitle(t *testing.T) {
	tests := []struct {
		name  string
		url   string
		lines []string
		want  string
	}{
		{"first meaningful line", "https://x/a.pdf", []string{"", "12", "WRO5 Bielany - Magazyn", "Stop"}, "WRO5 Bielany - Magazyn"},
		{"file name fallback", "https://x/files/Linia_3-Poznan.PDF", []string{"12", "07:00"}, "Linia 3 Poznan"},
		{"escaped file name", "https://x/Trasa%20Nocna.pdf", nil, "Trasa Nocna"},
		{"only within five lines", "https://x/Dzienna.pdf", []string{"1", "2", "3", "4", "5", "Late title"}, "Dzienna"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InferRouteTitle(tt.url, tt.lines))
		})
	}
}

func TestDetectNetwork(t *testing.T) {
	assert.Equal(t, "wro5", DetectNetwork(networks, "Trasa WRO5 Bielany"))
	assert.Equal(t, "wro", DetectNetwork(networks, "wro2: linia 4"))
	assert.Equal(t, "poz1", DetectNetwork(networks, "Linia 3", "https://transport-fc.pl/files/poz1_linia3.pdf"))
	assert.Equal(t, "", DetectNetwork(networks, "Trasa wro55"))
	assert.Equal(t, "", DetectNetwork(networks, "Linia nocna"))
}

func TestParseDocument(t *testing.T) {
	pages := []string{
		"Linia 3 POZ1\nDworzec 05:40\n",
		"Rondo 05:52\n",
	}
	doc := ParseDocument(pages, "https://transport-fc.pl/linia3.pdf", networks, "", DefaultSkipWords)
	assert.Equal(t, "Linia 3 POZ1", doc.Route)
	assert.Equal(t, "poz1", doc.Network)
	require.Len(t, doc.Lines, 2, "title line is not a stop")

	recs := doc.Records("https://transport-fc.pl/linia3.pdf")
	require.Len(t, recs, 2)
	assert.Equal(t, stop.KindPDF, recs[0].Kind)
	assert.Equal(t, stop.SourceNone, recs[0].Source)
	assert.Equal(t, "Linia 3 POZ1", recs[0].Route)
	assert.Equal(t, "poz1:rondo", recs[1].Key())
}

func TestParseDocument_FallbackNetworkAndInline(t *testing.T) {
	doc := ParseDocument([]string{"Trasa specjalna\nBrama 51.1079 17.0385 06:05"},
		"https://x/s.pdf", networks, "WRO5", DefaultSkipWords)
	assert.Equal(t, "wro5", doc.Network)

	recs := doc.Records("https://x/s.pdf")
	require.Len(t, recs, 1)
	assert.Equal(t, stop.SourceDocumentInline, recs[0].Source)
	require.NotNil(t, recs[0].Coordinate)
}

func TestPDFExtractor_RejectsGarbage(t *testing.T) {
	_, err := PDFExtractor{}.Extract([]byte("definitely not a pdf"))
	assert.Error(t, err)
}

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
}

func (f *fakeFetcher) Get(_ context.Context, source, u string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.pages[u]
	if !ok {
		return nil, &errs.SourceFetchError{Source: source, URL: u, StatusCode: 404}
	}
	return []byte(body), nil
}

// textExtractor treats the document body as text with form feeds between pages.
type textExtractor struct{}

func (textExtractor) Extract(data []byte) ([]string, error) {
	if strings.HasPrefix(string(data), "%broken") {
		return nil, errors.New("corrupt xref")
	}
	return strings.Split(string(data), "\f"), nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestCollect(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{
		"https://transport-fc.pl/employee-transport.html": `<html><body>
			<a href="/files/wro5-bielany.pdf">Bielany</a>
			<a href="files/broken.pdf">Broken</a>
			<a href="/files/missing.pdf">Missing</a>
			<a href="/files/empty.pdf">Empty</a>
			<a href="/kontakt.html">Kontakt</a>
		</body></html>`,
		"https://transport-fc.pl/files/wro5-bielany.pdf": "WRO5 Bielany\nMagazyn 05:40\fBielany Centrum 05:55",
		"https://transport-fc.pl/files/broken.pdf":       "%broken",
		"https://transport-fc.pl/files/empty.pdf":        "Rozklad\f",
		"https://transport-fc.pl/files/extra.pdf":        "Linia nocna\nDworzec 23:10",
	}}

	a := New(f, textExtractor{}, Options{
		Documents: config.Documents{
			IndexURLs: []string{"https://transport-fc.pl/employee-transport.html"},
			URLs:      []string{"https://transport-fc.pl/files/extra.pdf", "https://transport-fc.pl/files/wro5-bielany.pdf"},
		},
		Networks: networks,
	}, discard())

	res, err := a.Collect(context.Background())
	require.NoError(t, err)

	var names []string
	for _, r := range res.Records {
		names = append(names, r.Network+"/"+r.Name)
	}
	assert.Equal(t, []string{"wro5/Magazyn", "wro5/Bielany Centrum", "/Dworzec"}, names)
	assert.Equal(t, 2, res.Pages)
	assert.Len(t, res.Warnings, 3, "broken, missing and empty documents")
}

func TestCollect_IndexUnreachable(t *testing.T) {
	a := New(&fakeFetcher{}, textExtractor{}, Options{
		Documents: config.Documents{IndexURLs: []string{"https://transport-fc.pl/employee-transport.html"}},
	}, discard())

	res, err := a.Collect(context.Background())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrSourceFetch))
	require.NotNil(t, res)
	assert.Empty(t, res.Records)
}

func TestCollect_NothingConfigured(t *testing.T) {
	res, err := New(&fakeFetcher{}, nil, Options{}, discard()).Collect(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Records)
}
