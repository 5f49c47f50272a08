package repo

import (
	"context"

	"gorm.io/gorm"
)

// Base is embedded by the engine's repositories. A Base bound to a
// transaction handle runs every query inside that transaction.
type Base struct {
	db *gorm.DB
}

func NewBase(db *gorm.DB) Base {
	return Base{db: db}
}

// DB returns the connection bound to ctx.
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.db
	}
	return b.db.WithContext(ctx)
}

// Bind rebinds the base to tx. A nil tx keeps the current binding.
func (b Base) Bind(tx *gorm.DB) Base {
	if tx == nil {
		return b
	}
	return Base{db: tx}
}
