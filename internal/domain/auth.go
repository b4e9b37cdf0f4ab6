package domain

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
)

// AuthType defines supported authentication methods.
type AuthType int

const (
	// BasicAuth sends username (account email) and API token as HTTP basic auth.
	BasicAuth AuthType = iota
	// BearerAuth sends the token as an OAuth2 bearer token.
	BearerAuth
	// PrivateTokenAuth sends the token in a PRIVATE-TOKEN header.
	PrivateTokenAuth
)

// String returns the string representation of AuthType.
func (a AuthType) String() string {
	switch a {
	case BasicAuth:
		return "basic"
	case BearerAuth:
		return "bearer"
	case PrivateTokenAuth:
		return "private_token"
	default:
		return "unknown"
	}
}

// ParseAuthType converts a string to AuthType.
func ParseAuthType(s string) AuthType {
	switch s {
	case "bearer", "token":
		return BearerAuth
	case "private_token":
		return PrivateTokenAuth
	default:
		return BasicAuth
	}
}

// Credentials stores authentication information for one service.
type Credentials struct {
	Type     AuthType
	Username string // basic auth only
	Token    string
}

func (c *Credentials) validate() error {
	if c == nil {
		return fmt.Errorf("credentials cannot be nil")
	}
	switch c.Type {
	case BasicAuth:
		if c.Username == "" {
			return fmt.Errorf("username is required for basic authentication")
		}
		if c.Token == "" {
			return fmt.Errorf("API token is required for basic authentication")
		}
	case BearerAuth, PrivateTokenAuth:
		if c.Token == "" {
			return fmt.Errorf("token is required for %s authentication", c.Type)
		}
	default:
		return fmt.Errorf("invalid authentication type: %v", c.Type)
	}
	return nil
}

// AuthenticationManager hands out HTTP clients that authenticate every
// request for one service. Clients are long-lived and safe to share
// between concurrent invocations.
type AuthenticationManager struct {
	credentials map[Group]*Credentials
	proxy       *url.URL
	timeout     time.Duration
}

// NewAuthenticationManager creates a new authentication manager.
// proxyURL may be empty, in which case the standard proxy environment
// variables apply.
func NewAuthenticationManager(credentials map[Group]*Credentials, proxyURL string) (*AuthenticationManager, error) {
	am := &AuthenticationManager{
		credentials: credentials,
		timeout:     60 * time.Second,
	}
	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		am.proxy = parsed
	}
	return am, nil
}

// NewAuthenticationManagerFromConfig extracts credentials for every
// configured service.
func NewAuthenticationManagerFromConfig(config *Config) (*AuthenticationManager, error) {
	credentials := make(map[Group]*Credentials)
	for _, group := range []Group{GroupJira, GroupConfluence, GroupGitHub, GroupGitLab} {
		if sc := config.Service(group); sc != nil && sc.Auth != nil {
			credentials[group] = credentialsFromAuthConfig(sc.Auth)
		}
	}
	return NewAuthenticationManager(credentials, config.ProxyURL)
}

// credentialsFromAuthConfig converts an AuthConfig to Credentials.
func credentialsFromAuthConfig(authConfig *AuthConfig) *Credentials {
	return &Credentials{
		Type:     ParseAuthType(authConfig.Type),
		Username: authConfig.Username,
		Token:    authConfig.Token,
	}
}

// ValidateCredentials checks if credentials are properly configured for a service.
func (am *AuthenticationManager) ValidateCredentials(group Group) error {
	creds, ok := am.credentials[group]
	if !ok {
		return fmt.Errorf("no credentials configured for %s", group)
	}
	if err := creds.validate(); err != nil {
		return fmt.Errorf("%s: %w", group, err)
	}
	return nil
}

// GetAuthenticatedClient returns an HTTP client with authentication configured.
func (am *AuthenticationManager) GetAuthenticatedClient(group Group) (*http.Client, error) {
	if err := am.ValidateCredentials(group); err != nil {
		return nil, err
	}
	return am.clientFor(am.credentials[group]), nil
}

func (am *AuthenticationManager) clientFor(creds *Credentials) *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()
	if am.proxy != nil {
		base.Proxy = http.ProxyURL(am.proxy)
	}

	var transport http.RoundTripper
	if creds.Type == BearerAuth {
		transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: creds.Token, TokenType: "Bearer"}),
			Base:   base,
		}
	} else {
		transport = &authenticatedTransport{base: base, credentials: creds}
	}

	return &http.Client{
		Transport: transport,
		Timeout:   am.timeout,
	}
}

// authenticatedTransport is an http.RoundTripper that adds authentication headers.
type authenticatedTransport struct {
	base        http.RoundTripper
	credentials *Credentials
}

// RoundTrip implements http.RoundTripper by adding authentication headers to requests.
func (t *authenticatedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid modifying the original
	clonedReq := req.Clone(req.Context())

	switch t.credentials.Type {
	case BasicAuth:
		auth := t.credentials.Username + ":" + t.credentials.Token
		clonedReq.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(auth)))
	case PrivateTokenAuth:
		clonedReq.Header.Set("PRIVATE-TOKEN", t.credentials.Token)
	}

	return t.base.RoundTrip(clonedReq)
}
