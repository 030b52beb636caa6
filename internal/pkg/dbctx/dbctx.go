package dbctx

import (
	"context"

	"gorm.io/gorm"
)

// Context carries the caller's context and, inside a transaction, the
// transaction handle. Repos use Tx when set and their own *gorm.DB otherwise.
type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}

func New(ctx context.Context) Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return Context{Ctx: ctx}
}

func (c Context) WithTx(tx *gorm.DB) Context {
	return Context{Ctx: c.Ctx, Tx: tx}
}

// Detached keeps the context values but drops its cancellation, for writes
// that must land after the request is gone. Any transaction is dropped too.
func (c Context) Detached() Context {
	return Context{Ctx: context.WithoutCancel(c.Ctx)}
}
