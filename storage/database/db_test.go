package database

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/liceojbh/intranet/core"
)

func TestTxRunner_RunInTx(t *testing.T) {
	errBoom := errors.New("boom")
	tests := []struct {
		name    string
		fnErr   error
		commit  bool
		wantErr error
	}{
		{name: "commit", commit: true},
		{name: "rollback", fnErr: errBoom, wantErr: errBoom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockDB, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("sqlmock.New() error = %v", err)
			}
			defer func() { _ = mockDB.Close() }()

			mock.ExpectBegin()
			mock.ExpectExec("UPDATE users").WillReturnResult(sqlmock.NewResult(0, 1))
			if tt.commit {
				mock.ExpectCommit()
			} else {
				mock.ExpectRollback()
			}

			runner := NewTxRunner(sqlx.NewDb(mockDB, "sqlmock"))
			err = runner.RunInTx(context.Background(), func(exec core.DBExecutor) error {
				if _, err := exec.ExecContext(context.Background(), "UPDATE users SET is_active = true"); err != nil {
					return err
				}
				return tt.fnErr
			})
			if errors.Cause(err) != tt.wantErr {
				t.Errorf("RunInTx() error = %v, wantErr %v", err, tt.wantErr)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestTxRunner_RunInTx_panic(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = mockDB.Close() }()

	mock.ExpectBegin()
	mock.ExpectRollback()

	runner := NewTxRunner(sqlx.NewDb(mockDB, "sqlmock"))
	assert.Panics(t, func() {
		_ = runner.RunInTx(context.Background(), func(core.DBExecutor) error {
			panic("unexpected")
		})
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}
