package postgres

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/jkaninda/ruhusa/internal/domain"
)

// uniqueViolation is the PostgreSQL SQLSTATE for duplicate keys.
const uniqueViolation = "23505"

// notFound maps gorm.ErrRecordNotFound to a domain NotFoundError.
func notFound(err error, entity, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &domain.NotFoundError{Entity: entity, ID: id}
	}
	return err
}

// isUniqueViolation reports a duplicate-key insert on either dialect.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
