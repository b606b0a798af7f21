// Package country converts between the ISO 3166-1 code schemes geocoding
// providers return. Every code leaving a provider adapter is alpha-3.
package country

import (
	"strings"
	"unicode"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Normalize accepts an alpha-2 or alpha-3 code in any case and returns the
// alpha-3 code, or "" when the input is not an assigned country code.
func Normalize(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 2 && len(code) != 3 {
		return ""
	}
	for _, r := range code {
		if r > unicode.MaxASCII || !unicode.IsLetter(r) {
			return ""
		}
	}
	region, err := language.ParseRegion(code)
	if err != nil || !region.IsCountry() {
		return ""
	}
	return region.ISO3()
}

// Name returns the English short name of an alpha-2 or alpha-3 code.
// Unknown codes are returned unchanged.
func Name(code string) string {
	region, err := language.ParseRegion(strings.ToUpper(code))
	if err != nil {
		return code
	}
	if name := display.English.Regions().Name(region); name != "" {
		return name
	}
	return code
}
