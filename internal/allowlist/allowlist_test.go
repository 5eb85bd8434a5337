package allowlist

import (
	"errors"
	"testing"
)

func TestValidateAllowedProviders(t *testing.T) {
	urls := []string{
		"https://api.openai.com/v1/chat/completions",
		"https://api.anthropic.com/v1/messages",
		"https://api.mistral.ai/v1/chat/completions",
		"https://generativelanguage.googleapis.com/v1beta/models",
		"https://myresource.openai.azure.com/openai/deployments",
		"https://bedrock-runtime.us-east-1.amazonaws.com/model/invoke",
	}
	for _, u := range urls {
		if err := Validate(u); err != nil {
			t.Fatalf("Validate(%q) = %v, want nil", u, err)
		}
	}
}

func TestValidateRejectsNonHTTPS(t *testing.T) {
	if err := Validate("http://api.openai.com/v1/x"); !errors.Is(err, ErrSchemeNotAllowed) {
		t.Fatalf("expected ErrSchemeNotAllowed, got %v", err)
	}
	if err := Validate("ftp://api.openai.com/"); !errors.Is(err, ErrSchemeNotAllowed) {
		t.Fatalf("expected ErrSchemeNotAllowed, got %v", err)
	}
}

func TestValidateRejectsBlockedHostnames(t *testing.T) {
	urls := []string{
		"https://169.254.169.254/latest/meta-data",
		"https://metadata.google.internal/computeMetadata/v1/",
		"https://localhost/admin",
		"https://0.0.0.0/",
	}
	for _, u := range urls {
		if err := Validate(u); !errors.Is(err, ErrHostBlocked) {
			t.Fatalf("Validate(%q) = %v, want ErrHostBlocked", u, err)
		}
	}
}

func TestValidateRejectsPrivateRanges(t *testing.T) {
	urls := []string{
		"https://10.0.0.5/internal",
		"https://172.16.1.1/",
		"https://172.31.255.255/",
		"https://192.168.1.10/",
		"https://127.0.0.2/",
		"https://169.254.1.1/",
		"https://100.64.0.1/",
		"https://0.1.2.3/",
		"https://[::1]/",
		"https://[fc00::1]/",
		"https://[fe80::1]/",
	}
	for _, u := range urls {
		if err := Validate(u); !errors.Is(err, ErrHostBlocked) {
			t.Fatalf("Validate(%q) = %v, want ErrHostBlocked", u, err)
		}
	}
}

func TestValidateRejectsUnlistedDomains(t *testing.T) {
	urls := []string{
		"https://evil.example.com",
		"https://api.openai.com.evil.example.com/v1",
		"https://notapi.openai.com.attacker.io/",
		"https://8.8.8.8/",
	}
	for _, u := range urls {
		if err := Validate(u); !errors.Is(err, ErrDomainNotAllowed) {
			t.Fatalf("Validate(%q) = %v, want ErrDomainNotAllowed", u, err)
		}
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	if err := Validate("::not a url::"); !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("expected ErrInvalidURL, got %v", err)
	}
	if err := Validate(""); !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("expected ErrInvalidURL, got %v", err)
	}
}
