package tally

import (
	"regexp"
	"strconv"
)

// Characters invalid in XML 1.0. Tally sometimes emits raw control bytes
// inside item names exported from old data files.
var invalidXMLChars = regexp.MustCompile("[^\\x09\\x0A\\x0D\\x20-\\x{D7FF}\\x{E000}-\\x{FFFD}\\x{10000}-\\x{10FFFF}]")

// Numeric character references (&#NNN; or &#xHH;). Tally sometimes emits
// e.g. &#8; (backspace) or &#x1C; (file separator) in item names.
var charRef = regexp.MustCompile(`&#(?:([0-9]+)|[xX]([0-9A-Fa-f]+));`)

func isValidXMLCodepoint(cp int64) bool {
	return cp == 0x09 || cp == 0x0A || cp == 0x0D ||
		(0x20 <= cp && cp <= 0xD7FF) ||
		(0xE000 <= cp && cp <= 0xFFFD) ||
		(0x10000 <= cp && cp <= 0x10FFFF)
}

// stripInvalidCharRefs removes numeric entity refs that reference invalid
// XML 1.0 codepoints. Valid refs are kept verbatim for the decoder to resolve.
func stripInvalidCharRefs(text string) string {
	return charRef.ReplaceAllStringFunc(text, func(match string) string {
		groups := charRef.FindStringSubmatch(match)
		var cp int64
		var err error
		if groups[1] != "" {
			cp, err = strconv.ParseInt(groups[1], 10, 64)
		} else {
			cp, err = strconv.ParseInt(groups[2], 16, 64)
		}
		if err != nil || !isValidXMLCodepoint(cp) {
			return ""
		}
		return match
	})
}

// sanitizeXML makes a raw Tally response safe for the structural parser:
// raw illegal codepoints are dropped, then entity refs pointing at illegal
// codepoints are dropped as a unit.
func sanitizeXML(text string) string {
	clean := invalidXMLChars.ReplaceAllString(text, "")
	return stripInvalidCharRefs(clean)
}
