package domain

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// RegionKey canonicalizes a region name so "Turkana", " turkana " and
// "TURKANA" group together. Unicode input is NFC-normalized before folding.
func RegionKey(region string) string {
	region = norm.NFC.String(strings.TrimSpace(region))
	if region == "" {
		return ""
	}
	region = strings.Join(strings.Fields(region), " ")
	// Casers carry state, so each call gets its own.
	return cases.Fold().String(region)
}
