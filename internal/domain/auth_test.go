package domain

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
)

// captureHeaders starts a server that records the headers of the last request.
func captureHeaders(t *testing.T) (*httptest.Server, *http.Header) {
	t.Helper()
	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server, &got
}

func TestAuthenticatedClientHeaders(t *testing.T) {
	tests := []struct {
		name   string
		creds  *Credentials
		header string
		want   string
	}{
		{
			name:   "basic",
			creds:  &Credentials{Type: BasicAuth, Username: "me@example.com", Token: "api-token"},
			header: "Authorization",
			want:   "Basic " + base64.StdEncoding.EncodeToString([]byte("me@example.com:api-token")),
		},
		{
			name:   "bearer",
			creds:  &Credentials{Type: BearerAuth, Token: "ghp_abc"},
			header: "Authorization",
			want:   "Bearer ghp_abc",
		},
		{
			name:   "private token",
			creds:  &Credentials{Type: PrivateTokenAuth, Token: "glpat-xyz"},
			header: "Private-Token",
			want:   "glpat-xyz",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, got := captureHeaders(t)

			am, err := NewAuthenticationManager(map[Group]*Credentials{GroupGitHub: tt.creds}, "")
			if err != nil {
				t.Fatalf("NewAuthenticationManager() error = %v", err)
			}
			client, err := am.GetAuthenticatedClient(GroupGitHub)
			if err != nil {
				t.Fatalf("GetAuthenticatedClient() error = %v", err)
			}

			req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
			resp, err := client.Do(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			resp.Body.Close()

			if v := got.Get(tt.header); v != tt.want {
				t.Errorf("%s = %q, want %q", tt.header, v, tt.want)
			}
			if req.Header.Get(tt.header) != "" {
				t.Error("the caller's request must not be mutated")
			}
		})
	}
}

func TestAuthenticationManager_MissingOrInvalidCredentials(t *testing.T) {
	am, err := NewAuthenticationManager(map[Group]*Credentials{
		GroupJira:   {Type: BasicAuth, Token: "no-username"},
		GroupGitLab: {Type: PrivateTokenAuth},
	}, "")
	if err != nil {
		t.Fatal(err)
	}

	for _, group := range []Group{GroupJira, GroupGitLab, GroupConfluence} {
		if _, err := am.GetAuthenticatedClient(group); err == nil {
			t.Errorf("GetAuthenticatedClient(%s) should fail", group)
		}
	}
}

func TestAuthenticationManager_Proxy(t *testing.T) {
	var proxied string
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxied = r.URL.String()
		w.WriteHeader(http.StatusOK)
	}))
	defer proxy.Close()

	am, err := NewAuthenticationManager(map[Group]*Credentials{
		GroupGitLab: {Type: PrivateTokenAuth, Token: "t"},
	}, proxy.URL)
	if err != nil {
		t.Fatal(err)
	}
	client, err := am.GetAuthenticatedClient(GroupGitLab)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := client.Get("http://gitlab.internal.test/api/v4/projects")
	if err != nil {
		t.Fatalf("request via proxy failed: %v", err)
	}
	resp.Body.Close()

	if proxied != "http://gitlab.internal.test/api/v4/projects" {
		t.Errorf("proxy saw %q", proxied)
	}
}

func TestNewAuthenticationManager_InvalidProxy(t *testing.T) {
	if _, err := NewAuthenticationManager(nil, "://bad"); err == nil {
		t.Error("expected an error for an unparsable proxy URL")
	}
}

func TestNewAuthenticationManagerFromConfig(t *testing.T) {
	config := &Config{Services: ServicesConfig{
		Jira:   &ServiceConfig{BaseURL: "https://x", Auth: &AuthConfig{Type: "basic", Username: "u", Token: "t"}},
		GitHub: &ServiceConfig{BaseURL: "https://api.github.com", Auth: &AuthConfig{Type: "token", Token: "t"}},
	}}

	am, err := NewAuthenticationManagerFromConfig(config)
	if err != nil {
		t.Fatal(err)
	}
	if err := am.ValidateCredentials(GroupJira); err != nil {
		t.Errorf("jira: %v", err)
	}
	if err := am.ValidateCredentials(GroupGitHub); err != nil {
		t.Errorf("github: %v", err)
	}
	if err := am.ValidateCredentials(GroupConfluence); err == nil {
		t.Error("confluence has no credentials and should fail validation")
	}
}

func TestParseAuthType(t *testing.T) {
	cases := map[string]AuthType{
		"basic":         BasicAuth,
		"bearer":        BearerAuth,
		"token":         BearerAuth,
		"private_token": PrivateTokenAuth,
		"":              BasicAuth,
	}
	for in, want := range cases {
		if got := ParseAuthType(in); got != want {
			t.Errorf("ParseAuthType(%q) = %v, want %v", in, got, want)
		}
	}
}
