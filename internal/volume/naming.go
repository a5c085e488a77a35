package volume

import (
	"strconv"
	"strings"
	"time"
)

// RenderName expands naming.archive_name_pattern with the {date}, {token},
// {disk}, and {part} tokens.
func RenderName(pattern, dateFmt, token string, diskIdx, partIdx int, now time.Time) string {
	r := strings.NewReplacer(
		"{date}", now.Format(dateFmt),
		"{token}", token,
		"{disk}", strconv.Itoa(diskIdx),
		"{part}", strconv.Itoa(partIdx),
	)
	return r.Replace(pattern)
}

// Dedupe appends a numeric ordinal suffix to any archive base name that
// collides with one already seen in this run.
func Dedupe(names []string) []string {
	seen := make(map[string]int, len(names))
	out := make([]string, len(names))
	for i, n := range names {
		count := seen[n]
		seen[n] = count + 1
		if count == 0 {
			out[i] = n
		} else {
			out[i] = n + "-" + strconv.Itoa(count)
		}
	}
	return out
}
