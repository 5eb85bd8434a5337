// Package allowlist validates outbound proxy targets against a static list
// of AI-provider API domains and blocks private and metadata address space.
// Validation is purely lexical on the URL string: no DNS resolution happens,
// so the check is synchronous and side-effect-free. DNS rebinding after
// validation is an accepted residual risk.
package allowlist

import (
	"errors"
	"net/netip"
	"net/url"
	"strings"
)

// Rejection reasons returned by Validate.
var (
	// ErrInvalidURL indicates the target did not parse as a URL.
	ErrInvalidURL = errors.New("invalid URL format")
	// ErrSchemeNotAllowed indicates a non-https scheme.
	ErrSchemeNotAllowed = errors.New("only HTTPS URLs are allowed")
	// ErrHostBlocked indicates a loopback/metadata hostname or a private,
	// link-local, loopback, carrier-NAT, or unique-local IP literal.
	ErrHostBlocked = errors.New("target URL is not permitted")
	// ErrDomainNotAllowed indicates a hostname outside the provider allowlist.
	ErrDomainNotAllowed = errors.New("domain is not in the allowed list")
)

// allowedDomains lists known AI-provider API hosts. A hostname passes when it
// equals an entry or is a subdomain of one.
var allowedDomains = []string{
	"api.openai.com",
	"api.anthropic.com",
	"api.cohere.ai",
	"api.cohere.com",
	"generativelanguage.googleapis.com",
	"aiplatform.googleapis.com",
	"api.together.xyz",
	"api.replicate.com",
	"api.mistral.ai",
	"api.groq.com",
	"api.perplexity.ai",
	"api.fireworks.ai",
	"api.deepinfra.com",
	"api.anyscale.com",
	"api-inference.huggingface.co",
	"huggingface.co",
	"openai.azure.com",
	"bedrock-runtime.us-east-1.amazonaws.com",
	"bedrock-runtime.us-west-2.amazonaws.com",
	"bedrock-runtime.eu-west-1.amazonaws.com",
	"api.stability.ai",
	"api.ai21.com",
	"api.voyageai.com",
	"api.cerebras.ai",
	"ai.gateway.lovable.dev",
}

// blockedHostnames are rejected outright regardless of the allowlist.
var blockedHostnames = map[string]struct{}{
	"169.254.169.254":          {}, // AWS/GCP/Azure metadata
	"metadata.google.internal": {}, // GCP metadata
	"metadata.goog":            {}, // GCP metadata alternative
	"localhost":                {},
	"0.0.0.0":                  {},
}

// blockedPrefixes covers private, loopback, link-local, carrier-NAT, and
// unique-local ranges for IP-literal hostnames.
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

// Validate checks an outbound target URL. A nil return means the URL may be
// proxied; otherwise the error is one of the package's rejection reasons.
func Validate(targetURL string) error {
	parsed, errParse := url.Parse(targetURL)
	if errParse != nil || parsed.Host == "" {
		return ErrInvalidURL
	}

	if parsed.Scheme != "https" {
		return ErrSchemeNotAllowed
	}

	hostname := strings.ToLower(parsed.Hostname())
	if hostname == "" {
		return ErrInvalidURL
	}

	if _, blocked := blockedHostnames[hostname]; blocked {
		return ErrHostBlocked
	}

	if addr, errAddr := netip.ParseAddr(hostname); errAddr == nil {
		for _, prefix := range blockedPrefixes {
			if prefix.Contains(addr.Unmap()) {
				return ErrHostBlocked
			}
		}
		// Public IP literals are still not provider domains.
		return ErrDomainNotAllowed
	}

	for _, domain := range allowedDomains {
		if hostname == domain || strings.HasSuffix(hostname, "."+domain) {
			return nil
		}
	}
	return ErrDomainNotAllowed
}
