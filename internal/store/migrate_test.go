package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaAllowsNullFileURI(t *testing.T) {
	var messagesDDL string
	for _, stmt := range schema {
		if strings.Contains(stmt, "CREATE TABLE IF NOT EXISTS messages") {
			messagesDDL = stmt
		}
	}
	require.NotEmpty(t, messagesDDL)

	// CreateMessage stores NULL for empty file uris via NULLIF, so the
	// column must stay nullable or every text message insert would fail.
	for _, line := range strings.Split(messagesDDL, "\n") {
		if strings.Contains(line, "file_uri") {
			assert.NotContains(t, line, "NOT NULL")
		}
	}
}
