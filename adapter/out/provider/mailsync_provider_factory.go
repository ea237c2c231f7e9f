package provider

import (
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"
	gmailv1 "google.golang.org/api/gmail/v1"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"
)

// =============================================================================
// Provider Registry
// =============================================================================

// GmailConfig holds Google OAuth and Pub/Sub configuration.
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	ProjectID    string
	PushTopic    string
}

// GraphConfig holds Microsoft OAuth configuration.
type GraphConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	TenantID     string // "common" for multi-tenant
}

// RelayConfig holds IMAP relay service configuration.
type RelayConfig struct {
	BaseURL string
	APIKey  string
}

// RegistryConfig holds all provider configurations.
type RegistryConfig struct {
	Gmail *GmailConfig
	Graph *GraphConfig
	Relay *RelayConfig
}

// Registry resolves a provider enum to its adapter. Adapters are
// stateless per-account, so one instance per provider is shared.
type Registry struct {
	adapters     map[domain.Provider]out.ProviderAdapterPort
	oauthConfigs map[domain.Provider]*oauth2.Config
}

func NewRegistry(cfg *RegistryConfig) *Registry {
	r := &Registry{
		adapters:     make(map[domain.Provider]out.ProviderAdapterPort),
		oauthConfigs: make(map[domain.Provider]*oauth2.Config),
	}

	if cfg.Gmail != nil {
		gmailOAuth := newGmailOAuthConfig(cfg.Gmail)
		r.oauthConfigs[domain.ProviderGmail] = gmailOAuth
		r.adapters[domain.ProviderGmail] = NewGmailAdapter(
			gmailOAuth, cfg.Gmail.ProjectID, cfg.Gmail.PushTopic)
	}
	if cfg.Graph != nil {
		graphOAuth := newGraphOAuthConfig(cfg.Graph)
		r.oauthConfigs[domain.ProviderMicrosoft] = graphOAuth
		r.adapters[domain.ProviderMicrosoft] = NewGraphAdapter(graphOAuth)
	}
	if cfg.Relay != nil {
		r.adapters[domain.ProviderIMAP] = NewRelayAdapter(cfg.Relay.BaseURL, cfg.Relay.APIKey)
	}

	return r
}

// OAuthConfigs exposes the per-provider oauth2 configs, e.g. for token
// refresh in the credential store.
func (r *Registry) OAuthConfigs() map[domain.Provider]*oauth2.Config {
	return r.oauthConfigs
}

func (r *Registry) Adapter(provider domain.Provider) (out.ProviderAdapterPort, error) {
	adapter, ok := r.adapters[provider]
	if !ok {
		return nil, domain.ErrUnsupportedProvider
	}
	return adapter, nil
}

func newGmailOAuthConfig(cfg *GmailConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes: []string{
			gmailv1.GmailReadonlyScope,
			gmailv1.GmailModifyScope,
		},
		Endpoint: google.Endpoint,
	}
}

func newGraphOAuthConfig(cfg *GraphConfig) *oauth2.Config {
	tenantID := cfg.TenantID
	if tenantID == "" {
		tenantID = "common"
	}
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes: []string{
			"https://graph.microsoft.com/Mail.Read",
			"https://graph.microsoft.com/User.Read",
			"offline_access",
		},
		Endpoint: microsoft.AzureADEndpoint(tenantID),
	}
}

var _ out.ProviderRegistry = (*Registry)(nil)
