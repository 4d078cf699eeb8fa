package repository

import (
	"fmt"
	"io/fs"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-expense-approvals/pkg/errors"
)

func TestParseAmount(t *testing.T) {
	d, err := parseAmount("1234.50")
	require.NoError(t, err)
	assert.Equal(t, "1234.5", d.String())

	_, err = parseAmount("twelve")
	assert.True(t, errors.Is(err, errors.ErrCodeInternal))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(nil))
}

func TestUnmarshalJSONEmpty(t *testing.T) {
	var steps []*ApprovalStep
	require.NoError(t, unmarshalJSON(nil, &steps, "chain steps"))
	assert.Nil(t, steps)

	require.NoError(t, unmarshalJSON([]byte(`[{"step_order":1,"step_type":"manager"}]`), &steps, "chain steps"))
	require.Len(t, steps, 1)
	assert.Equal(t, StepManager, steps[0].Type())
}

func TestMigrationFilesAreSequential(t *testing.T) {
	files, err := migrationFiles()
	require.NoError(t, err)

	names, err := fs.Glob(files, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, names)
	for i, name := range names {
		assert.Regexp(t, fmt.Sprintf(`^%04d_\w+\.sql$`, i+1), name)
	}

	body, err := fs.ReadFile(files, names[0])
	require.NoError(t, err)
	assert.Contains(t, string(body), "CREATE TABLE IF NOT EXISTS expense_approvals")
	assert.NotContains(t, string(body), "{{", "migrations are rendered as templates")
}
