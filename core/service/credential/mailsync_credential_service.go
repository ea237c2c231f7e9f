// Package credential implements the credential store: encrypted secrets
// in, ready-to-use provider credentials out.
package credential

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"
	"mailsync_server/pkg/logger"

	"golang.org/x/oauth2"
)

// expiryMargin refreshes tokens slightly before the wire expiry so a
// token never dies mid-request.
const expiryMargin = 2 * time.Minute

type Service struct {
	credRepo domain.CredentialRepository
	configs  map[domain.Provider]*oauth2.Config
}

func NewService(credRepo domain.CredentialRepository, configs map[domain.Provider]*oauth2.Config) *Service {
	return &Service{
		credRepo: credRepo,
		configs:  configs,
	}
}

// Access resolves the credential for one account, transparently
// refreshing an expired OAuth token. A refresh rejected with
// invalid_grant surfaces as an auth_expired provider error so the
// orchestrator flags the account for reconnect.
func (s *Service) Access(ctx context.Context, account *domain.Account) (*out.AccessCredential, error) {
	cred, err := s.credRepo.Get(account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load credential for account %d: %w", account.ID, err)
	}

	if account.Provider == domain.ProviderIMAP {
		if cred.RelayAccessKey == "" {
			return nil, out.NewProviderError(account.Provider, out.ProviderErrAuthExpired, "relay key missing", nil, false)
		}
		return &out.AccessCredential{
			RelayKey: cred.RelayAccessKey,
			Mailbox:  account.Email,
		}, nil
	}

	token := &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       cred.TokenExpiry,
	}

	if token.AccessToken != "" && time.Until(token.Expiry) > expiryMargin {
		return &out.AccessCredential{Token: token, Mailbox: account.Email}, nil
	}

	refreshed, err := s.refresh(ctx, account, token)
	if err != nil {
		return nil, err
	}

	// 갱신된 토큰 저장 (refresh token 회전 대응)
	cred.AccessToken = refreshed.AccessToken
	if refreshed.RefreshToken != "" {
		cred.RefreshToken = refreshed.RefreshToken
	}
	cred.TokenExpiry = refreshed.Expiry
	if saveErr := s.credRepo.Save(cred); saveErr != nil {
		logger.Error("[CredentialService] Failed to persist refreshed token for account %d: %v", account.ID, saveErr)
	}

	return &out.AccessCredential{Token: refreshed, Mailbox: account.Email}, nil
}

func (s *Service) refresh(ctx context.Context, account *domain.Account, token *oauth2.Token) (*oauth2.Token, error) {
	config, ok := s.configs[account.Provider]
	if !ok {
		return nil, domain.ErrUnsupportedProvider
	}
	if token.RefreshToken == "" {
		return nil, out.NewProviderError(account.Provider, out.ProviderErrAuthExpired, "no refresh token", nil, false)
	}

	newToken, err := config.TokenSource(ctx, token).Token()
	if err != nil {
		if isPermanentTokenError(err) {
			logger.Warn("[CredentialService] Refresh rejected for account %d, reconnect required: %v", account.ID, err)
			return nil, out.NewProviderError(account.Provider, out.ProviderErrAuthExpired, "refresh token revoked", err, false)
		}
		return nil, out.NewProviderError(account.Provider, out.ProviderErrNetwork, "token refresh failed", err, true)
	}

	logger.Debug("[CredentialService] Token refreshed for account %d", account.ID)
	return newToken, nil
}

// isPermanentTokenError checks if the error means the grant is dead and
// only re-consent can recover.
func isPermanentTokenError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "invalid_client") ||
		strings.Contains(errStr, "invalid_grant") ||
		strings.Contains(errStr, "Token has been expired or revoked") ||
		strings.Contains(errStr, "Token has been revoked")
}

var _ out.CredentialPort = (*Service)(nil)
