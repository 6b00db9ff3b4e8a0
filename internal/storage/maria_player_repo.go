package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"github.com/annel0/fg-server/internal/protocol"
)

// MariaPlayerRepo реализует PlayerRepo для MariaDB/MySQL.
// Снимки лежат в таблице player_records.
type MariaPlayerRepo struct {
	db *sql.DB
}

// NewMariaPlayerRepo подключается к базе и создает таблицу, если её нет.
//
// Параметры:
//
//	dsn - строка подключения (user:pass@tcp(host:port)/dbname)
func NewMariaPlayerRepo(dsn string) (*MariaPlayerRepo, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось проверить соединение с MariaDB: %w", err)
	}

	repo := &MariaPlayerRepo{db: db}
	if err := repo.createTable(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось создать таблицу: %w", err)
	}
	return repo, nil
}

func (r *MariaPlayerRepo) createTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS player_records (
			pid        INT         PRIMARY KEY,
			data       MEDIUMBLOB  NOT NULL,
			updated_at TIMESTAMP   DEFAULT CURRENT_TIMESTAMP
			           ON UPDATE   CURRENT_TIMESTAMP,
			INDEX idx_updated_at (updated_at)
		) ENGINE=InnoDB
	`
	if _, err := r.db.Exec(query); err != nil {
		return fmt.Errorf("ошибка создания таблицы player_records: %w", err)
	}
	return nil
}

// Save использует INSERT ... ON DUPLICATE KEY UPDATE.
func (r *MariaPlayerRepo) Save(ctx context.Context, pid protocol.PID, data []byte) error {
	query := `
		INSERT INTO player_records (pid, data)
		VALUES (?, ?)
		ON DUPLICATE KEY UPDATE
			data = VALUES(data),
			updated_at = CURRENT_TIMESTAMP
	`
	if _, err := r.db.ExecContext(ctx, query, pid, data); err != nil {
		return fmt.Errorf("ошибка сохранения записи игрока %d: %w", pid, err)
	}
	return nil
}

// Load загружает снимок. Отсутствие строки означает нового игрока.
func (r *MariaPlayerRepo) Load(ctx context.Context, pid protocol.PID) ([]byte, bool, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx, `SELECT data FROM player_records WHERE pid = ?`, pid).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ошибка загрузки записи игрока %d: %w", pid, err)
	}
	return data, true, nil
}

// Delete удаляет запись игрока.
func (r *MariaPlayerRepo) Delete(ctx context.Context, pid protocol.PID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM player_records WHERE pid = ?`, pid)
	if err != nil {
		return fmt.Errorf("ошибка удаления записи игрока %d: %w", pid, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка получения количества затронутых строк: %w", err)
	}
	if rows == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// Close закрывает пул соединений
func (r *MariaPlayerRepo) Close() error {
	return r.db.Close()
}
