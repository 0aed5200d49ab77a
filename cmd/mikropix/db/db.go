package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

var (
	ErrNotFound          = errors.New("запись не найдена")
	ErrInsufficientFunds = errors.New("недостаточно средств")
	ErrAlreadyCredited   = errors.New("продажа уже зачислена")
	ErrNotPending        = errors.New("вывод уже обработан")
	ErrDuplicate         = errors.New("запись уже существует")
)

func Init(databaseURI string) (*sql.DB, error) {
	conn, err := sql.Open("pgx", databaseURI)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(20)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return conn, nil
}

// inList renders "$n, $n+1, ..." for values and appends them to args.
func inList(args []interface{}, values []string) (string, []interface{}) {
	parts := make([]string, len(values))
	for i, v := range values {
		args = append(args, v)
		parts[i] = "$" + strconv.Itoa(len(args))
	}
	return strings.Join(parts, ", "), args
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
