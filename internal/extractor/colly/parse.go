package collyextractor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/ratingharvest/internal/harvest"
)

var (
	ogTitleScore    = regexp.MustCompile(`(?i)\brated\b.*?([0-9]+(?:[.,][0-9]+)?)\s*/\s*5`)
	trustScoreAlt   = regexp.MustCompile(`(?i)TrustScore\s+([0-9]+(?:[.,][0-9]+)?)\s+out of`)
	bareScore       = regexp.MustCompile(`^[0-9]+(?:[.,][0-9]+)?$`)
	countSeparators = strings.NewReplacer(",", "", " ", "", "\u00a0", "", "\u202f", "")
)

// Parse reads a rating from an HTML document. Sources are tried in order:
// schema.org aggregateRating in JSON-LD (including @graph containers), the
// og:title meta tag, a TrustScore image alt text, and finally an element
// carrying data-rating-typography. The review count only comes from JSON-LD.
func Parse(body []byte) (harvest.Rating, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return harvest.Rating{}, fmt.Errorf("read html: %w", err)
	}

	var rating harvest.Rating
	rating.Score, rating.ReviewCount = fromJSONLD(doc)
	if rating.Score == nil {
		rating.Score = fromOGTitle(doc)
	}
	if rating.Score == nil {
		rating.Score = fromTrustScoreAlt(doc)
	}
	if rating.Score == nil {
		rating.Score = fromRatingTypography(doc)
	}
	if rating.Score == nil {
		return harvest.Rating{}, harvest.ErrNoRating
	}
	return rating, nil
}

func fromJSONLD(doc *goquery.Document) (score *string, count *int) {
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		dec := json.NewDecoder(strings.NewReader(s.Text()))
		dec.UseNumber()
		var payload any
		if err := dec.Decode(&payload); err != nil {
			return true
		}
		agg := findAggregateRating(payload)
		if agg == nil {
			return true
		}
		if c := numberAsInt(agg["reviewCount"]); c != nil {
			count = c
		} else if c := numberAsInt(agg["ratingCount"]); c != nil {
			count = c
		}
		score = valueAsString(agg["ratingValue"])
		return score == nil
	})
	return score, count
}

func findAggregateRating(v any) map[string]any {
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if agg := findAggregateRating(item); agg != nil {
				return agg
			}
		}
	case map[string]any:
		if agg, ok := t["aggregateRating"].(map[string]any); ok {
			return agg
		}
		if typ, _ := t["@type"].(string); typ == "AggregateRating" {
			return t
		}
		if graph, ok := t["@graph"]; ok {
			return findAggregateRating(graph)
		}
	}
	return nil
}

func valueAsString(v any) *string {
	switch t := v.(type) {
	case json.Number:
		return harvest.StringPtr(t.String())
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return harvest.StringPtr(s)
		}
	}
	return nil
}

func numberAsInt(v any) *int {
	var raw string
	switch t := v.(type) {
	case json.Number:
		raw = t.String()
	case string:
		raw = countSeparators.Replace(strings.TrimSpace(t))
	default:
		return nil
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return harvest.IntPtr(n)
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return harvest.IntPtr(int(f))
	}
	return nil
}

func fromOGTitle(doc *goquery.Document) *string {
	content, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content")
	if !ok {
		return nil
	}
	return firstGroup(ogTitleScore, content)
}

func fromTrustScoreAlt(doc *goquery.Document) *string {
	var score *string
	doc.Find(`img[alt*="TrustScore"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		alt, _ := s.Attr("alt")
		score = firstGroup(trustScoreAlt, alt)
		return score == nil
	})
	return score
}

func fromRatingTypography(doc *goquery.Document) *string {
	var score *string
	doc.Find(`[data-rating-typography]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		if bareScore.MatchString(text) {
			score = harvest.StringPtr(text)
		}
		return score == nil
	})
	return score
}

func firstGroup(re *regexp.Regexp, s string) *string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return nil
	}
	return harvest.StringPtr(m[1])
}
