package pricing

import (
	"fmt"
	"regexp"
	"strconv"
)

// NoteSplitPrice marks rows whose stored amount covers only part of a unit.
const NoteSplitPrice = "SPLIT_PRICE:"

var splitPattern = regexp.MustCompile(`(?i)\bpart(?:ie)?\s*(\d+)\s*(?:/|of|sur)\s*(\d+)`)

// Split describes a price published in several parts.
type Split struct {
	Part  int
	Total int
}

// DetectSplit finds a "part X of Y" marker in a description. Accepted forms
// include "Part 1/2", "part 1 of 2" and "partie 1 sur 2".
func DetectSplit(description string) (Split, bool) {
	m := splitPattern.FindStringSubmatch(description)
	if m == nil {
		return Split{}, false
	}
	part, err1 := strconv.Atoi(m[1])
	total, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil || total < 2 || part < 1 || part > total {
		return Split{}, false
	}
	return Split{Part: part, Total: total}, true
}

// Note renders the audit note for a split price.
func (s Split) Note() string {
	return fmt.Sprintf("%s part %d of %d, stored amount covers only part of the unit price", NoteSplitPrice, s.Part, s.Total)
}
