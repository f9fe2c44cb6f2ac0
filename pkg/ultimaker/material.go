package ultimaker

import (
	"context"
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// materialDocument maps the parts of an UMMF material file we care about.
// The printer serves these as XML under /materials/{guid}.
type materialDocument struct {
	XMLName  xml.Name `xml:"fdmmaterial"`
	Metadata struct {
		Name struct {
			Brand    string `xml:"brand"`
			Material string `xml:"material"`
			Color    string `xml:"color"`
		} `xml:"name"`
	} `xml:"metadata"`
}

var materialNamePattern = regexp.MustCompile(`<material>([^<]+)</material>`)

// MaterialResolver maps opaque material GUIDs to human-readable names.
// Resolved names are cached for the lifetime of the resolver; material GUIDs
// are immutable catalog keys, so entries are never invalidated.
type MaterialResolver struct {
	fetcher *Fetcher
	logger  *logrus.Logger

	mu    sync.Mutex
	cache map[string]string
}

func NewMaterialResolver(fetcher *Fetcher, logger *logrus.Logger) *MaterialResolver {
	return &MaterialResolver{
		fetcher: fetcher,
		logger:  logger,
		cache:   make(map[string]string),
	}
}

// Resolve returns the display name for a material GUID. Unknown or empty
// GUIDs resolve to "unknown" without I/O; on any fetch or parse failure the
// GUID itself is returned and the cache is left untouched.
func (r *MaterialResolver) Resolve(ctx context.Context, guid string) string {
	if guid == "" || guid == StatusUnknown {
		return StatusUnknown
	}

	r.mu.Lock()
	name, hit := r.cache[guid]
	r.mu.Unlock()
	if hit {
		return name
	}

	doc, err := r.fetcher.FetchText(ctx, fmt.Sprintf("/materials/%s", guid))
	if err != nil || doc == "" {
		r.logger.WithField("guid", guid).WithError(err).Debug("Material document unavailable")
		return guid
	}

	name = extractMaterialName(doc)
	if name == "" {
		r.logger.WithField("guid", guid).Debug("Material document did not contain a name")
		return guid
	}

	r.mu.Lock()
	r.cache[guid] = name
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{"guid": guid, "name": name}).Debug("Resolved material name")
	return name
}

// CacheSize returns the number of resolved entries, for diagnostics.
func (r *MaterialResolver) CacheSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}

// extractMaterialName tries a structured parse of the UMMF document first
// and falls back to a best-effort pattern match on the raw text.
func extractMaterialName(doc string) string {
	var parsed materialDocument
	if err := xml.Unmarshal([]byte(doc), &parsed); err == nil {
		name := parsed.Metadata.Name
		parts := make([]string, 0, 2)
		if brand := strings.TrimSpace(name.Brand); brand != "" {
			parts = append(parts, brand)
		}
		if material := strings.TrimSpace(name.Material); material != "" {
			parts = append(parts, material)
		}
		if len(parts) > 0 {
			return strings.Join(parts, " ")
		}
	}

	if m := materialNamePattern.FindStringSubmatch(doc); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}
