package repository

import (
	"context"

	"gorm.io/gorm"
)

// Tx is an open database transaction, passed explicitly to repository
// methods that must participate in the caller's atomic unit of work (the
// header-log apply path needs Header, Change, Dataset.IDHeader, and
// Downloaded writes to commit or fail together).
type Tx struct {
	db *gorm.DB
}

// DB exposes the transaction-scoped *gorm.DB for collaborators outside this
// package that need to issue raw SQL within the same atomic unit of work —
// internal/rowstore's per-entity DDL/DML, in particular.
func (t Tx) DB() *gorm.DB {
	return t.db
}

// Transactor starts a transaction and runs fn inside it, committing on nil
// error and rolling back otherwise.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

type gormTransactor struct {
	db *gorm.DB
}

// NewTransactor returns a Transactor backed by the provided *gorm.DB.
func NewTransactor(db *gorm.DB) Transactor {
	return &gormTransactor{db: db}
}

func (t *gormTransactor) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	return t.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		return fn(Tx{db: gtx})
	})
}
