package security

import (
	"errors"
	"testing"
	"time"
)

func TestIssueAndParseUserToken(t *testing.T) {
	token, err := IssueUserToken("test-secret", 42, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, errParse := ParseUserToken("test-secret", token)
	if errParse != nil {
		t.Fatalf("parse: %v", errParse)
	}
	if claims.UserID != 42 {
		t.Fatalf("user id = %d, want 42", claims.UserID)
	}
}

func TestParseUserTokenWrongSecret(t *testing.T) {
	token, err := IssueUserToken("secret-a", 42, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, errParse := ParseUserToken("secret-b", token); !errors.Is(errParse, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", errParse)
	}
}

func TestParseUserTokenExpired(t *testing.T) {
	token, err := IssueUserToken("test-secret", 42, -time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, errParse := ParseUserToken("test-secret", token); !errors.Is(errParse, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", errParse)
	}
}

func TestParseUserTokenGarbage(t *testing.T) {
	if _, err := ParseUserToken("test-secret", "not.a.jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := ParseUserToken("", "anything"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	if token, ok := BearerToken("Bearer abc123"); !ok || token != "abc123" {
		t.Fatalf("got %q ok=%v", token, ok)
	}
	if _, ok := BearerToken("abc123"); ok {
		t.Fatal("expected missing Bearer prefix to fail")
	}
	if _, ok := BearerToken("Bearer   "); ok {
		t.Fatal("expected empty token to fail")
	}
}
