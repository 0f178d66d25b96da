// Package geoip implements the geo/ASN lookup cache: address
// classification, a merge-on-write cache keyed by 32-bit IPv4 address,
// a fallback chain over candidate MaxMind-DB file paths, and text
// normalization for database strings (spec.md §4.E).
package geoip

import (
	"strconv"
	"strings"
)

// Sentinel strings stood in for a non-lookup result, reproduced verbatim
// from the corpus so operator-facing output and scripting callbacks stay
// compatible.
const (
	SentinelLoopbackCode = "L1"
	SentinelPrivateCode  = "P1"
	SentinelInvalidCode  = "E1"
	SentinelNotFoundCode = "--"

	SentinelLoopbackName = "Local Network"
	SentinelPrivateName  = "Private Network"
	SentinelInvalidName  = "Invalid IP"
	SentinelNotFoundName = "--"
)

// private IPv4 ranges as 32-bit integer bounds, the same bounds the
// corpus's cMaxMindDB::GetCC hardcodes for 10/8, 172.16/12 and 192.168/16.
const (
	private10Lo    = 167772160  // 10.0.0.0
	private10Hi    = 184549375  // 10.255.255.255
	private172Lo   = 2886729728 // 172.16.0.0
	private172Hi   = 2887778303 // 172.31.255.255
	private192Lo   = 3232235520 // 192.168.0.0
	private192Hi   = 3232301055 // 192.168.255.255
	maxIPv4Numeric = 4294967295
)

// Classification is the result of classifying a host string before any
// cache or database lookup is attempted.
type Classification uint8

const (
	// ClassPublic requires a cache/database lookup.
	ClassPublic Classification = iota
	ClassLoopback
	ClassPrivate
	ClassInvalid
)

// Classify applies spec.md §4.E's classification order: loopback prefix,
// then numeric parse, then private ranges, else public.
func Classify(host string) Classification {
	if strings.HasPrefix(host, "127.") {
		return ClassLoopback
	}

	ip, ok := ip2num(host)
	if !ok || ip == 0 || ip > maxIPv4Numeric {
		return ClassInvalid
	}

	switch {
	case ip >= private10Lo && ip <= private10Hi,
		ip >= private172Lo && ip <= private172Hi,
		ip >= private192Lo && ip <= private192Hi:
		return ClassPrivate
	default:
		return ClassPublic
	}
}

// ip2num parses a dotted-quad IPv4 address into its 32-bit representation.
// Returns ok=false for anything that does not parse as four dotted octets
// (spec.md's "parse to 32-bit integer" step, mirrored on cBanList::Ip2Num).
func ip2num(host string) (uint32, bool) {
	parts := strings.Split(host, ".")
	if len(parts) != 4 {
		return 0, false
	}

	var n uint32
	for _, p := range parts {
		v, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return 0, false
		}
		n = n<<8 | uint32(v)
	}
	return n, true
}
