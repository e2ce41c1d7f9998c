package paramvalidate

import (
	"regexp"
	"sync"
)

var (
	regexCacheMu sync.Mutex
	regexCache   = make(map[string]*regexp.Regexp)
)

// matchAnchoredRegex compiles (and caches) pattern anchored to the full
// value — spec §4.4 calls for an "anchored" regex, i.e. the whole value must
// match, not merely contain a match.
func matchAnchoredRegex(pattern, value string) bool {
	regexCacheMu.Lock()
	re, ok := regexCache[pattern]
	if !ok {
		compiled, err := regexp.Compile("^(?:" + pattern + ")$")
		if err != nil {
			regexCacheMu.Unlock()
			return false
		}
		re = compiled
		regexCache[pattern] = re
	}
	regexCacheMu.Unlock()
	return re.MatchString(value)
}
