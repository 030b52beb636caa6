package dbctx

import (
	"context"
	"testing"

	"gorm.io/gorm"
)

type ctxKey struct{}

func TestDetachedOutlivesCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "v"))
	dbc := New(parent).WithTx(&gorm.DB{})
	cancel()

	bg := dbc.Detached()
	if bg.Ctx.Err() != nil {
		t.Fatalf("detached context was cancelled: %v", bg.Ctx.Err())
	}
	if bg.Ctx.Value(ctxKey{}) != "v" {
		t.Fatalf("detached context lost its values")
	}
	if bg.Tx != nil {
		t.Fatalf("detached context kept the transaction")
	}
}

func TestNewNilContext(t *testing.T) {
	//nolint:staticcheck
	if New(nil).Ctx == nil {
		t.Fatalf("expected background context")
	}
}
