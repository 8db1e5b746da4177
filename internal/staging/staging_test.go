package staging

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"data-act-broker/internal/schema"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadSchema(t *testing.T, fileType string) (*schema.Registry, *schema.Schema) {
	t.Helper()
	reg, err := schema.Load()
	require.NoError(t, err)
	s, err := reg.Get(fileType)
	require.NoError(t, err)
	return reg, s
}

// prefixMatcher accepts any statement starting with the expected text and
// records what was executed.
func prefixMatcher(executed *[]string) sqlmock.QueryMatcher {
	return sqlmock.QueryMatcherFunc(func(expected, actual string) error {
		if !strings.HasPrefix(actual, expected) {
			return fmt.Errorf("query %q does not start with %q", actual, expected)
		}
		*executed = append(*executed, actual)
		return nil
	})
}

func str(v string) *string { return &v }

func TestCreateTableSQL(t *testing.T) {
	_, s := loadSchema(t, "D2")
	ddl := CreateTableSQL(s)

	assert.True(t, strings.HasPrefix(ddl, "CREATE TABLE IF NOT EXISTS `stg_award_financial_assistance`"))
	assert.Contains(t, ddl, "`row_number` BIGINT NOT NULL")
	assert.Contains(t, ddl, "`valid_record` BOOLEAN")
	assert.Contains(t, ddl, "`record_type` BIGINT NULL")
	assert.Contains(t, ddl, "`total_funding_amount` BIGINT NULL")
	assert.Contains(t, ddl, "`federal_action_obligation` DECIMAL(65,30) NULL")
	assert.Contains(t, ddl, "`is_historical` BOOLEAN NULL")
	assert.Contains(t, ddl, "`action_date` TEXT NULL")
	assert.NotContains(t, ddl, "display_tas")

	_, a := loadSchema(t, "A")
	assert.Contains(t, CreateTableSQL(a), "`display_tas` VARCHAR(255) NULL")
}

func TestNewWriter_CapsBatchSize(t *testing.T) {
	_, s := loadSchema(t, "A")
	cols := len(insertColumns(s))

	w := NewWriter(nil, s, 1, 1, 1_000_000, zerolog.Nop())
	assert.Equal(t, maxPlaceholders/cols, w.BatchSize())
	assert.LessOrEqual(t, w.BatchSize()*cols, maxPlaceholders)

	w = NewWriter(nil, s, 1, 1, 0, zerolog.Nop())
	assert.Equal(t, 1, w.BatchSize())
}

func TestWriter_BatchesAndFlushesRemainder(t *testing.T) {
	_, s := loadSchema(t, "A")
	var executed []string
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(prefixMatcher(&executed)))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS `stg_appropriation`").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM `stg_appropriation`").WithArgs(int64(9)).WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec("DELETE FROM `flex_field`").WithArgs(int64(9), "A").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO `stg_appropriation`").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO `flex_field`").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO `stg_appropriation`").WillReturnResult(sqlmock.NewResult(0, 1))

	ctx := context.Background()
	w := NewWriter(db, s, 9, 3, 2, zerolog.Nop())
	require.NoError(t, w.Prepare(ctx))

	for i := int64(2); i <= 4; i++ {
		row := Row{
			RowNumber: i,
			Values:    map[string]interface{}{"agency_identifier": "020"},
			Valid:     i != 3,
			UniqueKey: "020-X-0100-000",
		}
		if i == 2 {
			row.Flex = map[string]*string{"flex_a": str("1"), "flex_b": nil}
		}
		require.NoError(t, w.Write(ctx, row))
	}
	require.NoError(t, w.Flush(ctx))
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, int64(3), w.Written())
	var inserts []string
	for _, q := range executed {
		if strings.HasPrefix(q, "INSERT INTO `stg_appropriation`") {
			inserts = append(inserts, q)
		}
	}
	require.Len(t, inserts, 2)
	assert.Equal(t, 2, strings.Count(inserts[0], "(?"))
	assert.Equal(t, 1, strings.Count(inserts[1], "(?"))
}

func TestWriter_DiscardPurgesFlushedRows(t *testing.T) {
	_, s := loadSchema(t, "A")
	var executed []string
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(prefixMatcher(&executed)))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS `stg_appropriation`").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM `stg_appropriation`").WithArgs(int64(9)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM `flex_field`").WithArgs(int64(9), "A").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO `stg_appropriation`").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM `stg_appropriation`").WithArgs(int64(9)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM `flex_field`").WithArgs(int64(9), "A").WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	w := NewWriter(db, s, 9, 3, 1, zerolog.Nop())
	require.NoError(t, w.Prepare(ctx))
	require.NoError(t, w.Write(ctx, Row{RowNumber: 2, Valid: true}))
	require.Equal(t, int64(1), w.Written())

	require.NoError(t, w.Discard(ctx))
	assert.Equal(t, int64(0), w.Written())

	// Nothing is left to write after a discard.
	require.NoError(t, w.Flush(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriter_RowArgs(t *testing.T) {
	_, s := loadSchema(t, "A")
	w := NewWriter(nil, s, 9, 3, 10, zerolog.Nop())

	args := w.rowArgs(Row{RowNumber: 5, Valid: false, Values: map[string]interface{}{"agency_identifier": "020"}})
	require.Len(t, args, len(w.columns))
	assert.Equal(t, []interface{}{int64(9), int64(3), int64(5), false}, args[:4])
	assert.Nil(t, args[len(args)-1])

	idx := -1
	for i, c := range w.columns {
		if c == "agency_identifier" {
			idx = i
		}
	}
	require.NotEqual(t, -1, idx)
	assert.Equal(t, "020", args[idx])
}

func TestTables_CountAndFlex(t *testing.T) {
	reg, _ := loadSchema(t, "A")
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherFunc(func(expected, actual string) error {
		if !strings.HasPrefix(actual, expected) {
			return fmt.Errorf("unexpected query %q", actual)
		}
		return nil
	})))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT COUNT(*)").WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"total", "valid"}).AddRow(10, 8))
	mock.ExpectQuery("SELECT `row_number`, `header`, `cell` FROM `flex_field`").
		WithArgs(int64(9), "A", int64(2), int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"row_number", "header", "cell"}).
			AddRow(2, "flex_b", "x").
			AddRow(2, "flex_a", nil))

	tables := NewTables(db, reg)
	total, valid, err := tables.Count(context.Background(), 9, "A")
	require.NoError(t, err)
	assert.Equal(t, int64(10), total)
	assert.Equal(t, int64(8), valid)

	flex, err := tables.Flex(context.Background(), 9, "A", []int64{2, 4})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"flex_a": "", "flex_b": "x"}, flex[2])
	assert.Nil(t, flex[4])
	require.NoError(t, mock.ExpectationsWereMet())
}
