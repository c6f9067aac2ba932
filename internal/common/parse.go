package common

import (
	"strconv"
	"strings"
)

// ParseUint64orHex converts the given uint64 string into the number.
// It can parse the string with 0x prefix as well.
func ParseUint64orHex(val *string) (uint64, error) {
	if val == nil {
		return 0, nil
	}

	str := strings.TrimSpace(*val)
	base := 10

	if strings.HasPrefix(str, "0x") || strings.HasPrefix(str, "0X") {
		str = str[2:]
		base = 16
	}

	return strconv.ParseUint(str, base, 64)
}

// ParseBlockNumber parses a block number given either in decimal or 0x-prefixed hex.
func ParseBlockNumber(s string) (uint64, error) {
	return ParseUint64orHex(&s)
}

const bytesInMB = 1024 * 1024

func BytesToMB(bytes uint64) uint64 {
	return bytes / bytesInMB
}

func ToLowerWithTrim(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeHex lower-cases a hex string and makes sure it carries the 0x prefix.
// Empty input stays empty.
func NormalizeHex(s string) string {
	s = ToLowerWithTrim(s)
	if s == "" {
		return ""
	}
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	return s
}
