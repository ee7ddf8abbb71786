package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// TxManager выполняет функцию в границах одной транзакции БД.
// Каждая логическая операция (команда или применение события) оборачивается
// в одну транзакцию, чтобы частичные обновления не были наблюдаемы.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type txKey struct{}

type sqlxTxManager struct {
	db  *sqlx.DB
	log *zap.SugaredLogger
}

// NewTxManager создает менеджер транзакций поверх sqlx
func NewTxManager(db *sqlx.DB, log *zap.SugaredLogger) TxManager {
	return &sqlxTxManager{db: db, log: log}
}

// WithinTx начинает транзакцию и кладет ее в контекст; вложенные вызовы
// переиспользуют уже открытую транзакцию
func (m *sqlxTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return fn(ctx)
	}

	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		m.log.Errorw("Failed to begin transaction", "error", err)
		return fmt.Errorf("repository: failed to begin transaction: %w", err)
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			m.log.Errorw("Failed to rollback transaction", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		m.log.Errorw("Failed to commit transaction", "error", err)
		return fmt.Errorf("repository: failed to commit transaction: %w", err)
	}
	return nil
}

// ext возвращает активную транзакцию из контекста либо само соединение
func ext(ctx context.Context, db *sqlx.DB) sqlx.ExtContext {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return db
}
