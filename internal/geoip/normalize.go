package geoip

import (
	"unicode"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ConversionDepth selects how aggressively database strings are
// normalized before being handed to callers (spec.md §4.E "Text
// normalization").
type ConversionDepth int

const (
	// DepthPassthrough leaves UTF-8 strings unchanged.
	DepthPassthrough ConversionDepth = 0
	// DepthTranscode transcodes to the configured hub encoding.
	DepthTranscode ConversionDepth = 1
	// DepthTransliterate first strips combining marks (the ASCII-compatible
	// transliteration step: "NFD; [:M:] Remove; NFC"), then transcodes.
	DepthTransliterate ConversionDepth = 2
)

// Normalizer applies a configured ConversionDepth to database strings.
// Scoped to the Lookup instance and recreated when the configured charset
// changes (spec.md §5 "Resource lifetime").
type Normalizer struct {
	depth   ConversionDepth
	charset string
}

// NewNormalizer builds a Normalizer for the given depth and target
// charset. charset is ignored at DepthPassthrough and is validated lazily
// on first transcode (an unknown charset falls back to passthrough; no
// error is reported for it).
func NewNormalizer(depth ConversionDepth, charset string) *Normalizer {
	return &Normalizer{depth: depth, charset: charset}
}

// Normalize applies the configured depth to s. Country codes, region
// codes, postal codes, continent codes and time-zone names are always
// ASCII and must bypass this — callers only route the three free-text geo
// fields (country name, city name, ASN organization) through it.
func (n *Normalizer) Normalize(s string) string {
	if s == "" || n == nil || n.depth == DepthPassthrough {
		return s
	}

	if n.depth == DepthTransliterate {
		s = transliterate(s)
	}

	return n.transcode(s)
}

// transliterate reproduces the ICU transform "NFD; [:M:] Remove; NFC":
// decompose to NFD, drop combining marks, recompose to NFC.
func transliterate(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// transcode re-encodes s into the configured hub charset. An unrecognized
// charset name is treated as "leave unchanged" rather than an error —
// degrading gracefully matches spec.md's external-lookup-failure handling
// for other geo-cache failure modes.
func (n *Normalizer) transcode(s string) string {
	if n.charset == "" || isUTF8Alias(n.charset) {
		return s
	}

	enc, err := htmlindex.Get(n.charset)
	if err != nil {
		return s
	}

	out, err := enc.NewEncoder().String(s)
	if err != nil {
		return s
	}
	return out
}

func isUTF8Alias(charset string) bool {
	return charset == "UTF-8" || charset == "utf-8" || charset == "UTF8"
}
