package knowledge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStoreWithDB(sqlx.NewDb(db, "postgres"), 20, zap.NewNop()), mock
}

func passageColumns() []string {
	return []string{"doc_id", "section", "section_name", "snippet", "company", "year", "quarter", "doc_type", "filed_at"}
}

func TestLookupFullKey(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows(passageColumns()).
		AddRow("WFC-2025-Q1-10Q", "item2", "MD&A", "CET1 ratio was 11.2%", "WFC", 2025, "Q1", "10-Q", time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC))
	mock.ExpectQuery(`SELECT .+ FROM filing_sections WHERE company = \$1 AND year = \$2 AND quarter = \$3 AND doc_type = \$4 ORDER BY filed_at DESC, section ASC LIMIT 20`).
		WithArgs("WFC", 2025, "Q1", "10-Q").
		WillReturnRows(rows)

	got, err := store.Lookup(context.Background(), Key{CompanyID: "WFC", Year: 2025, Quarter: "Q1", DocType: "10-Q"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "CET1 ratio was 11.2%", got[0].Text)
	assert.Equal(t, "MD&A", got[0].SectionName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupPartialKeyRelaxesSegments(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM filing_sections WHERE company = \$1 ORDER BY filed_at DESC, section ASC LIMIT 20`).
		WithArgs("JPM").
		WillReturnRows(sqlmock.NewRows(passageColumns()))

	got, err := store.Lookup(context.Background(), Key{CompanyID: "JPM"})
	require.NoError(t, err)
	assert.Empty(t, got, "absent key segments return empty, not an error")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupEmptyResultIsNotError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM filing_sections WHERE company = \$1 AND year = \$2 ORDER BY`).
		WithArgs("ZION", 2019).
		WillReturnRows(sqlmock.NewRows(passageColumns()))

	got, err := store.Lookup(context.Background(), Key{CompanyID: "ZION", Year: 2019})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLookupTransportError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM filing_sections`).
		WillReturnError(errors.New("connection refused"))

	_, err := store.Lookup(context.Background(), Key{CompanyID: "WFC"})
	require.Error(t, err)
}
