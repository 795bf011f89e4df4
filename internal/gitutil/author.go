package gitutil

import (
	"fmt"
	"strings"
)

// FormatAuthor renders an author in the "Name <email>" form both backends
// accept for commit attribution.
func FormatAuthor(name, email string) string {
	return fmt.Sprintf("%s <%s>", name, email)
}

// ParseAuthor splits a "Name <email>" author string. Strings without an
// email part return the whole input as the name.
func ParseAuthor(author string) (name, email string) {
	start := strings.LastIndex(author, "<")
	end := strings.LastIndex(author, ">")
	if start == -1 || end == -1 || end < start {
		return strings.TrimSpace(author), ""
	}
	return strings.TrimSpace(author[:start]), strings.TrimSpace(author[start+1 : end])
}
