package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
)

//go:embed sources.yaml
var defaultSources []byte

// Discovery modes for finding route pages on a network site.
const (
	DiscoveryListing = "listing" // links inside the content area of a listing page
	DiscoveryLinks   = "links"   // every same-host link of the root that mentions a map
	DiscoveryCrawl   = "crawl"   // bounded breadth-first crawl from seeds
)

// Sources is the static list of networks and documents to harvest.
type Sources struct {
	Networks     []Network   `yaml:"networks" validate:"dive"`
	Documents    Documents   `yaml:"documents"`
	MapHosts     []string    `yaml:"map_hosts" validate:"min=1,dive,required"`
	SkipSegments []string    `yaml:"skip_segments"`
	Crawl        CrawlLimits `yaml:"crawl"`
}

// Network is one shuttle operator site. Aliases name other network ids
// that publish through the same site, e.g. wro1..wro4 share one listing.
type Network struct {
	ID        string   `yaml:"id" validate:"required"`
	Aliases   []string `yaml:"aliases"`
	BaseURL   string   `yaml:"base_url" validate:"required,url"`
	Discovery string   `yaml:"discovery" validate:"oneof=listing links crawl"`
	Seeds     []string `yaml:"seeds" validate:"dive,url"`
}

// Documents lists PDF timetables, either directly or via index pages.
type Documents struct {
	IndexURLs []string `yaml:"index_urls" validate:"dive,url"`
	URLs      []string `yaml:"urls" validate:"dive,url"`
	SkipWords []string `yaml:"skip_words"`
	// Network is used when a document's network cannot be detected.
	Network string `yaml:"network"`
}

// CrawlLimits bounds the breadth-first crawl.
type CrawlLimits struct {
	MaxDepth        int `yaml:"max_depth" validate:"gte=0"`
	MaxPagesPerHost int `yaml:"max_pages_per_host" validate:"gte=1"`
}

// LoadSources reads a YAML source list from path, or the embedded default
// when path is empty.
func LoadSources(path string) (*Sources, error) {
	data := defaultSources
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read sources: %w", err)
		}
		data = b
	}
	return ParseSources(data)
}

// ParseSources decodes and validates a YAML source list.
func ParseSources(data []byte) (*Sources, error) {
	var s Sources
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode sources: %w", err)
	}
	if s.Crawl.MaxPagesPerHost == 0 {
		s.Crawl.MaxPagesPerHost = 300
	}
	if err := validator.New().Struct(&s); err != nil {
		return nil, fmt.Errorf("invalid sources: %w", err)
	}

	seen := make(map[string]string)
	for _, n := range s.Networks {
		for _, id := range n.IDs() {
			if prev, dup := seen[id]; dup {
				return nil, fmt.Errorf("invalid sources: network id %q declared by %s and %s", id, prev, n.ID)
			}
			seen[id] = n.ID
		}
		if n.Discovery == DiscoveryCrawl && len(n.Seeds) == 0 {
			return nil, fmt.Errorf("invalid sources: network %s uses crawl without seeds", n.ID)
		}
	}
	return &s, nil
}

// IDs returns the network id followed by its aliases, lowercased.
func (n Network) IDs() []string {
	ids := make([]string, 0, 1+len(n.Aliases))
	ids = append(ids, strings.ToLower(n.ID))
	for _, a := range n.Aliases {
		ids = append(ids, strings.ToLower(a))
	}
	return ids
}
