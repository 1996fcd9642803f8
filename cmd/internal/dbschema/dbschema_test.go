package dbschema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQL_QuotesSchema(t *testing.T) {
	stmt, err := SQL("tenant_a")
	require.NoError(t, err)
	assert.Contains(t, stmt, `CREATE SCHEMA IF NOT EXISTS "tenant_a";`)
	assert.Contains(t, stmt, `"tenant_a".refresh_credentials`)
	assert.False(t, strings.Contains(stmt, "{{schema}}"))
}

func TestSQL_RejectsBadIdentifier(t *testing.T) {
	for _, s := range []string{"", "1abc", "a;drop", `a"b`} {
		_, err := SQL(s)
		assert.Error(t, err, s)
	}
}
