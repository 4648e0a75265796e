package auth

import (
	"testing"
	"time"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter2secret")
	if err != nil {
		t.Fatalf("hashing: %v", err)
	}
	if !CheckPassword("hunter2secret", hash) {
		t.Error("correct password rejected")
	}
	if CheckPassword("wrong", hash) {
		t.Error("wrong password accepted")
	}
}

func TestLoginAndTokenRoundTrip(t *testing.T) {
	hash, err := HashPassword("hunter2secret")
	if err != nil {
		t.Fatalf("hashing: %v", err)
	}
	svc := NewService("test-secret", time.Hour, "admin", hash)

	token, err := svc.Login("admin", "hunter2secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("validating: %v", err)
	}
	if claims.Username != "admin" {
		t.Errorf("username = %q", claims.Username)
	}
}

func TestLoginRejections(t *testing.T) {
	hash, _ := HashPassword("hunter2secret")
	svc := NewService("test-secret", time.Hour, "admin", hash)

	if _, err := svc.Login("admin", "wrong"); err != ErrInvalidCredentials {
		t.Errorf("wrong password error = %v", err)
	}
	if _, err := svc.Login("root", "hunter2secret"); err != ErrInvalidCredentials {
		t.Errorf("wrong user error = %v", err)
	}

	// No hash configured disables login entirely.
	open := NewService("test-secret", time.Hour, "admin", "")
	if _, err := open.Login("admin", "anything"); err != ErrInvalidCredentials {
		t.Errorf("empty hash error = %v", err)
	}
}

func TestValidateTokenRejectsTampering(t *testing.T) {
	svc := NewService("test-secret", time.Hour, "admin", "")
	token, err := svc.GenerateToken("admin")
	if err != nil {
		t.Fatalf("generating: %v", err)
	}

	other := NewService("different-secret", time.Hour, "admin", "")
	if _, err := other.ValidateToken(token); err != ErrInvalidToken {
		t.Errorf("cross-secret validation error = %v", err)
	}

	if _, err := svc.ValidateToken(token + "x"); err != ErrInvalidToken {
		t.Errorf("tampered token error = %v", err)
	}
}
