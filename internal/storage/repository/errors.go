package repository

import (
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// Типизированные ошибки хранилища. Вызывающая сторона решает сама,
// повторять ли операцию — хранилище никогда не паникует.
var (
	// ErrNotFound — запрошенная запись отсутствует.
	ErrNotFound = errors.New("record not found")
	// ErrConflict — нарушение ограничения уникальности.
	ErrConflict = errors.New("record already exists")
)

// isUniqueViolation сообщает, является ли ошибка нарушением
// уникального ограничения PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
