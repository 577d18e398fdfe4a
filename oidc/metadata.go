package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
)

// ProviderMetadata is the subset of a provider's discovery document this
// module consumes.
type ProviderMetadata struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserInfoEndpoint      string `json:"userinfo_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
	EndSessionEndpoint    string `json:"end_session_endpoint"`
	CheckSessionIframe    string `json:"check_session_iframe"`
}

// MetadataStore provides cached provider metadata per configuration.
// Implementations must be concurrently safe.
type MetadataStore interface {
	// Metadata reads the cached metadata for the configuration.  A nil
	// result with a nil error means nothing is cached yet.
	Metadata(ctx context.Context, configID string) (*ProviderMetadata, error)

	// Fetch retrieves the discovery document at wellKnownURL, caches it
	// under the configuration id and returns it.
	Fetch(ctx context.Context, configID string, wellKnownURL string) (*ProviderMetadata, error)
}

// DiscoveryMetadataStore implements MetadataStore on top of the provider's
// discovery endpoint.  Documents are fetched once and kept for the life of
// the store.
type DiscoveryMetadataStore struct {
	client *http.Client
	logger hclog.Logger

	mu    sync.RWMutex
	cache map[string]*ProviderMetadata
}

// ensure that DiscoveryMetadataStore implements the MetadataStore interface
var _ MetadataStore = (*DiscoveryMetadataStore)(nil)

// NewDiscoveryMetadataStore creates a store which discovers provider
// metadata over HTTP.
//
// Supported options: WithProviderCA, WithLogger
func NewDiscoveryMetadataStore(opt ...Option) (*DiscoveryMetadataStore, error) {
	const op = "oidc.NewDiscoveryMetadataStore"
	opts := getMetadataStoreOpts(opt...)
	client, err := NewHTTPClient(opts.withProviderCA)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}
	logger := opts.withLogger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &DiscoveryMetadataStore{
		client: client,
		logger: logger.Named("metadata"),
		cache:  map[string]*ProviderMetadata{},
	}, nil
}

// Metadata implements MetadataStore.
func (s *DiscoveryMetadataStore) Metadata(ctx context.Context, configID string) (*ProviderMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache[configID], nil
}

// Fetch implements MetadataStore.  A document already cached for the
// configuration is returned without a network call.
func (s *DiscoveryMetadataStore) Fetch(ctx context.Context, configID string, wellKnownURL string) (*ProviderMetadata, error) {
	const op = "oidc.DiscoveryMetadataStore.Fetch"
	if wellKnownURL == "" {
		return nil, fmt.Errorf("%s: well-known URL is empty: %w", op, ErrInvalidParameter)
	}
	if md, _ := s.Metadata(ctx, configID); md != nil {
		return md, nil
	}

	s.logger.Debug("fetching provider metadata", "config_id", configID, "url", wellKnownURL)
	var md ProviderMetadata
	if strings.HasSuffix(wellKnownURL, WellKnownSuffix) {
		// the discovery library resolves issuer + WellKnownSuffix, so hand it
		// the issuer the URL implies
		issuer := strings.TrimSuffix(wellKnownURL, WellKnownSuffix)
		issuer = strings.TrimSuffix(issuer, "/")
		provider, err := oidc.NewProvider(oidc.ClientContext(ctx, s.client), issuer)
		if err != nil {
			return nil, fmt.Errorf("%s: unable to discover provider metadata from %q: %w", op, wellKnownURL, err)
		}
		if err := provider.Claims(&md); err != nil {
			return nil, fmt.Errorf("%s: unable to decode provider metadata from %q: %w", op, wellKnownURL, err)
		}
	} else {
		// a document at a non-standard path is fetched directly
		if err := s.fetchDocument(ctx, wellKnownURL, &md); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[configID] = &md
	return &md, nil
}

// fetchDocument retrieves and decodes a discovery document living somewhere
// other than the standard well-known path.
func (s *DiscoveryMetadataStore) fetchDocument(ctx context.Context, wellKnownURL string, md *ProviderMetadata) error {
	const op = "oidc.DiscoveryMetadataStore.fetchDocument"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnownURL, nil)
	if err != nil {
		return fmt.Errorf("%s: unable to create request: %w", op, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: unable to fetch %q: %w", op, wellKnownURL, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: unable to read response body: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s: %w", op, &HTTPStatusError{StatusCode: resp.StatusCode, Body: raw})
	}
	if err := json.Unmarshal(raw, md); err != nil {
		return fmt.Errorf("%s: unable to decode provider metadata from %q: %w", op, wellKnownURL, err)
	}
	return nil
}

// metadataStoreOptions is the set of available options for
// NewDiscoveryMetadataStore
type metadataStoreOptions struct {
	withProviderCA string
	withLogger     hclog.Logger
}

func metadataStoreDefaults() metadataStoreOptions {
	return metadataStoreOptions{}
}

// getMetadataStoreOpts gets the defaults and applies the opt overrides
// passed in
func getMetadataStoreOpts(opt ...Option) metadataStoreOptions {
	opts := metadataStoreDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
