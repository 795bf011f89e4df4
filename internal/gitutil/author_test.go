package gitutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatAuthor(t *testing.T) {
	assert.Equal(t, "Alice <alice@example.com>", FormatAuthor("Alice", "alice@example.com"))
}

func TestParseAuthor(t *testing.T) {
	tests := []struct {
		name      string
		author    string
		wantName  string
		wantEmail string
	}{
		{
			name:      "full author",
			author:    "Alice Example <alice@example.com>",
			wantName:  "Alice Example",
			wantEmail: "alice@example.com",
		},
		{
			name:      "name only",
			author:    "Alice Example",
			wantName:  "Alice Example",
			wantEmail: "",
		},
		{
			name:      "angle brackets inside name",
			author:    "Alice <ae> <alice@example.com>",
			wantName:  "Alice <ae>",
			wantEmail: "alice@example.com",
		},
		{
			name:      "empty string",
			author:    "",
			wantName:  "",
			wantEmail: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, email := ParseAuthor(tt.author)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantEmail, email)
		})
	}
}
