package graph

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// tokenEndpointFormat is the Azure AD v2 token endpoint for a tenant.
const tokenEndpointFormat = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"

// defaultScope requests an app-only Graph token.
const defaultScope = "https://graph.microsoft.com/.default"

// oauthTokenSource adapts an oauth2.TokenSource to the TokenSource
// interface consumed by Client. oauth2.ReuseTokenSource handles caching
// and refreshes tokens shortly before expiry.
type oauthTokenSource struct {
	src oauth2.TokenSource
}

func (s *oauthTokenSource) Token() (string, error) {
	tok, err := s.src.Token()
	if err != nil {
		return "", fmt.Errorf("graph: obtaining token: %s", Sanitize(err.Error()))
	}

	return tok.AccessToken, nil
}

// NewAppTokenSource builds a caching TokenSource from app-only client
// credentials. ctx must outlive the source — it is bound to every token
// refresh request; pass context.Background() for run-long sessions.
func NewAppTokenSource(ctx context.Context, tenantID, clientID, clientSecret string, logger *slog.Logger) TokenSource {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     fmt.Sprintf(tokenEndpointFormat, tenantID),
		Scopes:       []string{defaultScope},
	}

	logger.Debug("token source configured",
		slog.String("tenant_id", tenantID),
		slog.String("client_id", clientID),
	)

	return &oauthTokenSource{src: oauth2.ReuseTokenSource(nil, cfg.TokenSource(ctx))}
}

// StaticTokenSource returns a TokenSource yielding a fixed token.
// Used by tests and by callers that manage credentials externally.
func StaticTokenSource(token string) TokenSource {
	return staticToken(token)
}

type staticToken string

func (s staticToken) Token() (string, error) {
	return string(s), nil
}
