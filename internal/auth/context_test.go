package auth

import (
	"context"
	"testing"
)

func TestWithAuthAndFromContext(t *testing.T) {
	ac := AuthContext{
		UserID:    "user-1",
		Admin:     true,
		RequestID: "req-1",
	}

	ctx := WithAuth(context.Background(), ac)
	got, ok := FromContext(ctx)
	if !ok {
		t.Fatal("expected AuthContext in context")
	}
	if got.UserID != "user-1" {
		t.Errorf("UserID = %q, want %q", got.UserID, "user-1")
	}
	if !got.Admin {
		t.Error("Admin = false, want true")
	}
	if got.RequestID != "req-1" {
		t.Errorf("RequestID = %q, want %q", got.RequestID, "req-1")
	}
}

func TestFromContextMissing(t *testing.T) {
	_, ok := FromContext(context.Background())
	if ok {
		t.Error("expected false for missing AuthContext")
	}
}

func TestHelpersWithoutContext(t *testing.T) {
	ctx := context.Background()
	if UserID(ctx) != "" {
		t.Error("UserID should be empty")
	}
	if RequestID(ctx) != "" {
		t.Error("RequestID should be empty")
	}
	if IsAdmin(ctx) {
		t.Error("IsAdmin should be false")
	}
}

func TestUpdatePreservesFields(t *testing.T) {
	ctx := WithAuth(context.Background(), AuthContext{RequestID: "req-9"})
	ctx = Update(ctx, func(ac *AuthContext) { ac.UserID = "u2" })

	if UserID(ctx) != "u2" {
		t.Errorf("UserID = %q, want u2", UserID(ctx))
	}
	if RequestID(ctx) != "req-9" {
		t.Errorf("RequestID = %q, want req-9", RequestID(ctx))
	}
}
