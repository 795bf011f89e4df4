// Package commitmsg rewrites reviewer annotations in commit messages.
//
// A reviewer annotation lives in the summary line of a commit message and is
// introduced by one of the specifiers r=, r?, a=, a?, sr=, sr?, rs=, rs?,
// ui-r= or ui-r?, followed by a list of reviewer nicks. Rewriting replaces
// the first bare r-annotation with a canonical one listing the supplied
// reviewers, removes every later bare r-annotation, and leaves all other
// specifiers untouched.
//
// The grammar is matched with an explicit scanner rather than a regular
// expression so the behavior stays deterministic and independent of any
// pattern-matching library. Removed annotations are tracked as spans and
// stripped in a second pass together with their dangling list separator; no
// placeholder character is ever inserted into the text.
package commitmsg

import "strings"

// specifierNames is ordered longest-first so "sr"/"rs"/"ui-r" are never
// misread as a bare "r" followed by garbage.
var specifierNames = [...]string{"ui-r", "sr", "rs", "r", "a"}

// annotation is one grammar match in a summary line.
type annotation struct {
	start     int // index of the delimiter (== specStart when the annotation opens the line)
	specStart int // index of the specifier
	end       int // index just past the reviewer list
	bare      bool
}

// Rewrite returns message with its reviewer annotations rewritten to list
// exactly the given reviewers, in the order supplied. An empty reviewer list
// removes every bare r-annotation. The summary line is rewritten; the body,
// if any, is preserved verbatim.
func Rewrite(message string, reviewers []string) string {
	canonical := ""
	if len(reviewers) > 0 {
		canonical = "r=" + strings.Join(reviewers, ",")
	}

	if message == "" {
		return canonical
	}

	lines := strings.Split(strings.TrimSuffix(message, "\n"), "\n")
	summary := lines[0]
	body := strings.Join(lines[1:], "\n")

	if !hasBareSpecifier(summary) {
		summary += " " + canonical
	} else {
		summary = rewriteSummary(summary, canonical)
	}

	summary = strings.TrimSpace(summary)
	if body == "" {
		return summary
	}
	return summary + "\n" + body
}

// rewriteSummary scans every annotation in the summary left to right. The
// first bare r-annotation becomes the canonical text, later bare ones are
// marked for removal, anything else is kept as-is.
func rewriteSummary(summary, canonical string) string {
	var b strings.Builder
	b.Grow(len(summary) + len(canonical))

	replaced := false
	last := 0
	for pos := 0; pos < len(summary); {
		m, ok := matchAnnotation(summary, pos)
		if !ok {
			pos++
			continue
		}

		if !m.bare {
			// Other specifiers (a=, sr=, ...) are untouched.
			pos = m.end
			continue
		}

		b.WriteString(summary[last:m.start])
		if !replaced {
			replaced = true
			// Keep the delimiter, swap the annotation for the canonical text.
			b.WriteString(summary[m.start:m.specStart])
			b.WriteString(canonical)
		} else {
			// Second pass of the mark-then-strip scheme: the span is dropped
			// here, and the list separator that would otherwise dangle in the
			// text built so far is collapsed with it.
			stripDanglingSeparator(&b)
		}
		last = m.end
		pos = m.end
	}
	b.WriteString(summary[last:])
	return b.String()
}

// stripDanglingSeparator removes a trailing "separator, optional whitespace"
// run from the builder, left behind when the annotation that followed it was
// dropped.
func stripDanglingSeparator(b *strings.Builder) {
	s := b.String()
	trimmed := strings.TrimRight(s, " \t")
	if trimmed == "" || !isListSeparator(trimmed[len(trimmed)-1]) {
		return
	}
	b.Reset()
	b.WriteString(trimmed[:len(trimmed)-1])
}

// hasBareSpecifier reports whether the summary contains r= or r? preceded by
// a word boundary. This check is independent of the full annotation grammar.
func hasBareSpecifier(summary string) bool {
	for i := 0; i+1 < len(summary); i++ {
		if summary[i] != 'r' {
			continue
		}
		if summary[i+1] != '=' && summary[i+1] != '?' {
			continue
		}
		if i == 0 || !isWordChar(summary[i-1]) {
			return true
		}
	}
	return false
}

// matchAnnotation attempts to match the annotation grammar at index i.
func matchAnnotation(s string, i int) (annotation, bool) {
	var m annotation
	m.start = i

	// Delimiter: a whitespace char or one of ( . [ ; , — or nothing at the
	// start of the line.
	switch {
	case isDelimiter(s[i]):
		m.specStart = i + 1
	case i == 0:
		m.specStart = i
	default:
		return m, false
	}

	spec, specLen := matchSpecifier(s, m.specStart)
	if specLen == 0 {
		return m, false
	}
	m.bare = spec == "r"
	m.end = matchReviewerList(s, m.specStart+specLen)
	return m, true
}

// matchSpecifier returns the specifier name matched at index i and the total
// length consumed including the trailing = or ?. A zero length means no match.
func matchSpecifier(s string, i int) (string, int) {
	for _, name := range specifierNames {
		end := i + len(name)
		if end >= len(s) || s[i:end] != name {
			continue
		}
		if s[end] == '=' || s[end] == '?' {
			return name, len(name) + 1
		}
	}
	return "", 0
}

// matchReviewerList consumes an optional reviewer list starting at index i
// and returns the index just past it. Additional reviewers are taken greedily
// as long as the separator run does not open a new specifier.
func matchReviewerList(s string, i int) int {
	end, ok := matchReviewer(s, i)
	if !ok {
		return i
	}
	for {
		next, ok := matchSeparatorThenReviewer(s, end)
		if !ok {
			return end
		}
		end = next
	}
}

// matchReviewer consumes "#? nick !?" at index i.
func matchReviewer(s string, i int) (int, bool) {
	j := i
	if j < len(s) && s[j] == '#' {
		j++
	}
	start := j
	for j < len(s) && isNickChar(s[j]) {
		j++
	}
	if j == start {
		return i, false
	}
	if j < len(s) && s[j] == '!' {
		j++
	}
	return j, true
}

func matchSeparatorThenReviewer(s string, i int) (int, bool) {
	if i >= len(s) || !isListSeparator(s[i]) {
		return i, false
	}
	j := i + 1
	for j < len(s) && (s[j] == ' ' || s[j] == '\t') {
		j++
	}
	if opensSpecifier(s, j) {
		return i, false
	}
	return matchReviewer(s, j)
}

// opensSpecifier is the lookahead guard: a run of [a-z0-9.-] directly
// followed by = or ? would start a new annotation, so the separator before it
// must not be consumed as part of the current reviewer list.
func opensSpecifier(s string, i int) bool {
	j := i
	for j < len(s) && (isLowerAlnum(s[j]) || s[j] == '.' || s[j] == '-') {
		j++
	}
	return j > i && j < len(s) && (s[j] == '=' || s[j] == '?')
}

func isDelimiter(c byte) bool {
	switch c {
	case ' ', '\t', '(', '.', '[', ';', ',':
		return true
	}
	return false
}

func isListSeparator(c byte) bool {
	switch c {
	case ';', ',', '/', '\\':
		return true
	}
	return false
}

func isNickChar(c byte) bool {
	return c == '-' || c == '_' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func isLowerAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}

func isWordChar(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
