package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// ErrBlockPage is returned when the fetched document is a bot-protection
// interstitial rather than real page content. Callers must not advance a
// monitor's baseline on this error.
var ErrBlockPage = errors.New("fingerprint: bot protection detected")

// blockIndicators are substrings that mark a bot-blocking page when found
// anywhere in the lowercased document.
var blockIndicators = []string{
	"cloudflare",
	"ddos-guard",
	"captcha",
	"please verify you are human",
	"just a moment...",
	"access denied",
	"security check",
	"attention required",
	"ray id",
}

// titleIndicators are substrings that mark a blocking page when found in
// the lowercased <title>.
var titleIndicators = []string{
	"access denied",
	"blocked",
	"security check",
	"captcha",
	"just a moment",
}

// noisePatterns strip dynamic text that would destabilize the hash:
// dates, times, session ids, ray ids, update stamps, copyright years,
// countdowns, and inline tokens.
var noisePatterns = []string{
	`\d{4}-\d{2}-\d{2}`,
	`\d{2}/\d{2}/\d{4}`,
	`\d{1,2}:\d{2}(:\d{2})?`,
	`session[\s_-]?id\s*[:=]\s*[\w-]+`,
	`ray\s*id\s*[:=]\s*\w+`,
	`last updated\s*[:]?.*`,
	`copyright\s*©\s*\d{4}`,
	`time remaining:.*`,
	`token\s*[:=]\s*[\w-]+`,
}

var noiseRe = regexp.MustCompile(`(?i)` + strings.Join(noisePatterns, "|"))

// skipZones are elements whose direct text content is excluded from the
// hash; chrome churn in these zones should not look like a page change.
var skipZones = map[string]bool{
	"nav":    true,
	"footer": true,
	"header": true,
	"aside":  true,
}

// removeTags are subtrees dropped entirely during cleaning.
var removeTags = map[string]bool{
	"script":   true,
	"style":    true,
	"meta":     true,
	"link":     true,
	"noscript": true,
	"iframe":   true,
	"svg":      true,
}

// structuralTags is the fixed vocabulary counted for the structural
// profile.
var structuralTags = map[string]bool{
	"div": true, "p": true, "span": true,
	"h1": true, "h2": true, "h3": true,
	"table": true, "ul": true, "li": true,
	"article": true, "section": true, "nav": true,
}

// Generator produces fingerprints from raw page bodies.
type Generator struct {
	noiseRe *regexp.Regexp
}

// NewGenerator creates a Generator.
func NewGenerator() *Generator {
	return &Generator{noiseRe: noiseRe}
}

// Generate runs the full pipeline over body: block-page detection, markup
// cleaning, stable text extraction, hashing, and structural profiling.
func (g *Generator) Generate(body string) (*Fingerprint, error) {
	if g.IsBlockPage(body) {
		return nil, ErrBlockPage
	}

	root, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("fingerprint: parse document: %w", err)
	}

	clean(root)
	stable := g.extractStableText(root)
	sum := md5.Sum([]byte(stable))

	return &Fingerprint{
		Hash:               hex.EncodeToString(sum[:]),
		Version:            Version,
		Algorithm:          Algorithm,
		ContentWeights:     countTags(root),
		StructureSignature: "",
	}, nil
}

// IsBlockPage reports whether body looks like a bot-protection page. The
// title is checked first, then the raw document for known phrases.
func (g *Generator) IsBlockPage(body string) bool {
	if root, err := html.Parse(strings.NewReader(body)); err == nil {
		title := strings.ToLower(titleText(root))
		for _, ind := range titleIndicators {
			if strings.Contains(title, ind) {
				return true
			}
		}
	}

	lower := strings.ToLower(body)
	for _, ind := range blockIndicators {
		if strings.Contains(lower, ind) {
			return true
		}
	}
	return false
}

// ExtractText runs the cleaning pipeline over body and returns the stable
// text that would be hashed. Used for diffing decompressed snapshots
// against fresh fetches.
func (g *Generator) ExtractText(body string) string {
	root, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return ""
	}
	clean(root)
	return g.extractStableText(root)
}

// StructureMap parses body and counts occurrences of the structural tag
// vocabulary. Both sides of a comparison must be counted by this same
// function for the structural score to be meaningful.
func StructureMap(body string) map[string]float64 {
	root, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return map[string]float64{}
	}
	return countTags(root)
}

// extractStableText walks text nodes in document order, skipping chrome
// zones, stripping noise, and discarding fragments too short to matter.
func (g *Generator) extractStableText(root *html.Node) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if p := n.Parent; p != nil && p.Type == html.ElementNode && skipZones[p.Data] {
				return
			}
			text := strings.TrimSpace(n.Data)
			if text == "" {
				return
			}
			cleaned := g.noiseRe.ReplaceAllString(text, "")
			if len([]rune(cleaned)) > 2 {
				parts = append(parts, cleaned)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return strings.Join(parts, " ")
}

// clean removes comment nodes and volatile subtrees in place.
func clean(n *html.Node) {
	var next *html.Node
	for c := n.FirstChild; c != nil; c = next {
		next = c.NextSibling
		if c.Type == html.CommentNode || (c.Type == html.ElementNode && removeTags[c.Data]) {
			n.RemoveChild(c)
			continue
		}
		clean(c)
	}
}

// countTags tallies structural vocabulary elements under root.
func countTags(root *html.Node) map[string]float64 {
	counts := make(map[string]float64)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && structuralTags[n.Data] {
			counts[n.Data]++
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return counts
}

// titleText returns the text of the first <title> element, or empty.
func titleText(root *html.Node) string {
	var title string
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "title" {
			var sb strings.Builder
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.TextNode {
					sb.WriteString(c.Data)
				}
			}
			title = sb.String()
			return true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	walk(root)
	return title
}
