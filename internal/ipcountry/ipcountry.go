// Package ipcountry is the pure dotted-quad-to-country-code function
// spec.md section 1 treats as an external collaborator: "the IP-to-
// country lookup (a pure function from dotted-quad to two-letter code)".
// No example in the retrieval pack carries a geolocation library, so this
// is implemented directly against a small embedded range table rather
// than left unimplemented — see DESIGN.md for why no third-party library
// was wired here.
package ipcountry

import (
	"net"
	"sort"
)

type ipRange struct {
	start   uint32
	end     uint32
	country string
}

// ranges is a deliberately small illustrative table covering a handful
// of well-known allocated blocks; it is not a complete GeoIP database.
// Good enough to exercise the capture pipeline's optional Country field
// without committing the repo to a GeoIP data dependency.
var ranges = []ipRange{
	{ip4(1, 0, 0, 0), ip4(1, 0, 255, 255), "AU"},
	{ip4(2, 0, 0, 0), ip4(2, 15, 255, 255), "FR"},
	{ip4(3, 0, 0, 0), ip4(3, 255, 255, 255), "US"},
	{ip4(5, 0, 0, 0), ip4(5, 31, 255, 255), "RU"},
	{ip4(8, 8, 8, 0), ip4(8, 8, 8, 255), "US"},
	{ip4(36, 0, 0, 0), ip4(36, 255, 255, 255), "CN"},
	{ip4(41, 0, 0, 0), ip4(41, 255, 255, 255), "ZA"},
	{ip4(77, 0, 0, 0), ip4(77, 255, 255, 255), "DE"},
	{ip4(103, 0, 0, 0), ip4(103, 255, 255, 255), "IN"},
	{ip4(126, 0, 0, 0), ip4(126, 255, 255, 255), "JP"},
	{ip4(127, 0, 0, 0), ip4(127, 255, 255, 255), "ZZ"}, // loopback, sentinel
}

func ip4(a, b, c, d byte) uint32 {
	return uint32(a)<<24 | uint32(b)<<16 | uint32(c)<<8 | uint32(d)
}

func init() {
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].start < ranges[j].start })
}

// Lookup maps a dotted-quad (or any parseable IPv4/IPv6-mapped-IPv4
// address) to a two-letter country code, or "" if no range matches
// (private or unmapped addresses, or IPv6). Loopback addresses
// (127.0.0.0/8) map to the sentinel "ZZ".
func Lookup(ipStr string) string {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return ""
	}
	v4 := ip.To4()
	if v4 == nil {
		return ""
	}
	n := uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3])

	lo, hi := 0, len(ranges)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		switch {
		case n < ranges[mid].start:
			hi = mid - 1
		case n > ranges[mid].end:
			lo = mid + 1
		default:
			return ranges[mid].country
		}
	}
	return ""
}
