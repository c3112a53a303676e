package httpapi

import (
	"context"
	"testing"
	"time"
)

type ctxKey struct{}

func TestJoinContextsCancelsOnBase(t *testing.T) {
	base, cancelBase := context.WithCancel(context.Background())
	req := context.WithValue(context.Background(), ctxKey{}, "rid")
	ctx, cancel := joinContexts(base, req)
	defer cancel()
	if ctx.Value(ctxKey{}) != "rid" {
		t.Fatal("request values lost")
	}
	cancelBase()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("joined context not cancelled by base")
	}
}

func TestJoinContextsCancelsOnRequest(t *testing.T) {
	req, cancelReq := context.WithCancel(context.Background())
	ctx, cancel := joinContexts(context.Background(), req)
	defer cancel()
	cancelReq()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("joined context not cancelled by request")
	}
}

func TestSetBaseContextNil(t *testing.T) {
	SetBaseContext(nil)
	if serverBaseCtx == nil {
		t.Fatal("nil base context")
	}
	SetBaseContext(context.Background())
}
