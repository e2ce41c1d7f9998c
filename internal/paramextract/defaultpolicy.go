package paramextract

import "time"

// resolveDefaultPolicy evaluates a named default policy (spec §4.3's
// "default_policy" resolution method) such as "today", independent of wall
// time elsewhere in the pipeline, since this is the one place a calendar
// default is legitimately needed.
func resolveDefaultPolicy(policy string) (string, bool) {
	switch policy {
	case "today":
		return time.Now().Format("2006-01-02"),
			true
	case "this_month_start":
		now := time.Now()
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).Format("2006-01-02"), true
	case "this_year_start":
		now := time.Now()
		return time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location()).Format("2006-01-02"), true
	default:
		return "", false
	}
}
