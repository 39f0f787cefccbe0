package migration

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sentinel = "SELECT to_regclass('public.documents') IS NOT NULL"

func TestEnsureMigrated_Skip(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	log, hook := test.NewNullLogger()

	mock.ExpectQuery(regexp.QuoteMeta(sentinel)).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	require.NoError(t, EnsureMigrated(context.Background(), db, log, "db.local"))
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, "db_migration_skip", hook.LastEntry().Data["event"])
}

func TestEnsureMigrated_AppliesAllSteps(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	log, hook := test.NewNullLogger()

	mock.ExpectQuery(regexp.QuoteMeta(sentinel)).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	for _, s := range steps {
		mock.ExpectExec(regexp.QuoteMeta(s.SQL)).WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, EnsureMigrated(context.Background(), db, log, "db.local"))
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, "db_migration_success", hook.LastEntry().Data["event"])
}

func TestEnsureMigrated_StepFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	log, hook := test.NewNullLogger()

	mock.ExpectQuery(regexp.QuoteMeta(sentinel)).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(regexp.QuoteMeta(steps[0].SQL)).WillReturnError(errors.New("permission denied"))

	err = EnsureMigrated(context.Background(), db, log, "db.local")
	require.Error(t, err)
	assert.Contains(t, err.Error(), steps[0].Name)
	assert.Equal(t, steps[0].Name, hook.LastEntry().Data["migration_step"])
}
