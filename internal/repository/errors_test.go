package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestTranslateError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{name: "nil", in: nil, want: nil},
		{name: "no rows", in: pgx.ErrNoRows, want: ErrNotFound},
		{name: "wrapped no rows", in: fmt.Errorf("query: %w", pgx.ErrNoRows), want: ErrNotFound},
		{name: "unique violation", in: &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "users_email_lower_key"}, want: ErrDuplicateEmail},
		{name: "foreign key violation", in: &pgconn.PgError{Code: pgForeignKeyViolation}, want: ErrHasDependents},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translateError(tt.in)
			if tt.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tt.want)
		})
	}

	t.Run("other errors pass through", func(t *testing.T) {
		boom := errors.New("connection reset")
		assert.Equal(t, boom, translateError(boom))
	})

	t.Run("other pg codes pass through", func(t *testing.T) {
		pgErr := &pgconn.PgError{Code: "42P01"}
		assert.Equal(t, error(pgErr), translateError(pgErr))
	})
}
