package event

import (
	"regexp"
	"strings"
)

var linkPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)@([a-z][\w]{4,31})`),
	regexp.MustCompile(`(?i)(?:https?://)?t\.me/(\+?[a-z0-9_\-]+)`),
	regexp.MustCompile(`(?i)(?:https?://)?([a-z0-9][\w\-]*\.(?:io|com|net|org|in|ag|co|me|ru|cc|gg|xyz|dev|app))\b`),
}

var linkBlacklist = map[string]bool{
	"nohello":     true,
	"nohello.org": true,
	"nohello.com": true,
	"nohello.net": true,
	"hello":       true,
	"example":     true,
	"test":        true,
	"username":    true,
	"t.me":        true,
}

// CleanText strips NUL bytes and surrounding whitespace.
func CleanText(s string) string {
	if s == "" {
		return s
	}
	return strings.TrimSpace(strings.ReplaceAll(s, "\x00", ""))
}

// ExtractLinks finds channel handles, invite slugs and bare domains mentioned
// in free text such as a profile bio. Results keep first-occurrence order,
// are unique case-insensitively and skip well-known filler handles.
func ExtractLinks(text string, exclude ...string) []string {
	text = CleanText(text)
	if text == "" {
		return nil
	}

	seen := make(map[string]bool)
	for _, ex := range exclude {
		if ex = strings.ToLower(strings.TrimPrefix(ex, "@")); ex != "" {
			seen[ex] = true
		}
	}

	var links []string
	for _, re := range linkPatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			link := m[1]
			key := strings.ToLower(link)
			if seen[key] || linkBlacklist[key] {
				continue
			}
			seen[key] = true
			links = append(links, link)
		}
	}
	return links
}
