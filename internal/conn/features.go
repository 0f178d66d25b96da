package conn

import "strconv"

// FeatureFlag is a bit in a Connection's negotiated feature-support set.
// The enumeration is closed: spec.md §3 lists every flag a client may
// advertise during handshaking.
type FeatureFlag uint32

const (
	FeatureOpPlus FeatureFlag = 1 << iota
	FeatureNoHello
	FeatureNoGetINFO
	FeatureQuickList
	FeatureBotINFO
	FeatureZPipe
	FeatureChatOnly
	FeatureMCTo
	FeatureUserCommand
	FeatureBotList
	FeatureHubTopic
	FeatureUserIP2
	FeatureTTHSearch
	FeatureFeed
	FeatureTTHS
	FeatureIN
	FeatureBanMsg
	FeatureTLS
	FeatureDHT0
)

// Has reports whether every bit in want is set in f.
func (f FeatureFlag) Has(want FeatureFlag) bool { return f&want == want }

// Any reports whether f shares any bit with want.
func (f FeatureFlag) Any(want FeatureFlag) bool { return f&want != 0 }

// featureTokens maps the textual tokens a client advertises during
// handshaking to the closed FeatureFlag enumeration. ZPipe0 is kept as an
// alias of ZPipe: the corpus treats the two identically. DHT0 is
// deliberately NOT given a sibling alias — spec.md's open question says
// not to guess at one without a concrete reason to add it.
var featureTokens = map[string]FeatureFlag{
	"OpPlus":      FeatureOpPlus,
	"NoHello":     FeatureNoHello,
	"NoGetINFO":   FeatureNoGetINFO,
	"QuickList":   FeatureQuickList,
	"BotINFO":     FeatureBotINFO,
	"ZPipe":       FeatureZPipe,
	"ZPipe0":      FeatureZPipe,
	"ChatOnly":    FeatureChatOnly,
	"MCTo":        FeatureMCTo,
	"UserCommand": FeatureUserCommand,
	"BotList":     FeatureBotList,
	"HubTopic":    FeatureHubTopic,
	"UserIP2":     FeatureUserIP2,
	"TTHSearch":   FeatureTTHSearch,
	"Feed":        FeatureFeed,
	"TTHS":        FeatureTTHS,
	"IN":          FeatureIN,
	"BanMsg":      FeatureBanMsg,
	"TLS":         FeatureTLS,
	"DHT0":        FeatureDHT0,
}

// ParseFeatureToken resolves a single textual support token (as advertised
// in a client's $Supports line) to its flag. ok is false for tokens outside
// the closed enumeration.
func ParseFeatureToken(token string) (flag FeatureFlag, ok bool) {
	flag, ok = featureTokens[token]
	return flag, ok
}

// ParseSupportTokens folds a whitespace-split list of support tokens into a
// single feature set, silently ignoring tokens outside the enumeration
// (unrecognized tokens are a normal, forward-compatible occurrence during
// handshaking — only InUserSupports applies the numeric fallback).
func ParseSupportTokens(tokens []string) FeatureFlag {
	var set FeatureFlag
	for _, t := range tokens {
		if flag, ok := ParseFeatureToken(t); ok {
			set |= flag
		}
	}
	return set
}

// MatchesSupportToken reports whether set contains the flag named by token.
// If token does not name a flag in the closed enumeration and
// numericFallback is true, token is parsed as a decimal bitmask and the
// query succeeds if it intersects set (spec.md §4.D: "unknown textual
// flags fall back to interpreting the string as a decimal integer bitmask
// — compatibility quirk, reproduce").
func MatchesSupportToken(set FeatureFlag, token string, numericFallback bool) bool {
	if flag, ok := ParseFeatureToken(token); ok {
		return set.Has(flag)
	}
	if !numericFallback {
		return false
	}
	n, err := strconv.ParseUint(token, 10, 32)
	if err != nil {
		return false
	}
	return set.Any(FeatureFlag(n))
}
