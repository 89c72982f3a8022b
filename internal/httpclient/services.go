package httpclient

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Service binds the client to one downstream service's base URL and offers
// the domain-specific helpers. Helpers are thin parameter-shaping wrappers
// over Request; all fault tolerance lives in the client.
type Service struct {
	Name    string
	BaseURL string
	client  *Client
}

// NewService creates a named service binding. The base URL must be absolute.
func NewService(name, baseURL string, client *Client) (*Service, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("service %s: invalid base url %q", name, baseURL)
	}
	return &Service{
		Name:    name,
		BaseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}, nil
}

// Host returns the host:port key this service's circuit breaker is scoped to.
func (s *Service) Host() string {
	u, _ := url.Parse(s.BaseURL)
	return u.Host
}

// HealthCheck probes the service's health endpoint with the short health
// timeout profile.
func (s *Service) HealthCheck(ctx context.Context) (*Response, error) {
	return s.client.Get(ctx, s.BaseURL+"/health", WithType(TypeHealth))
}

// RAGQuery runs a retrieval query against the knowledge service.
func (s *Service) RAGQuery(ctx context.Context, query string, sources []string, matchCount int) (*Response, error) {
	if matchCount <= 0 {
		matchCount = 5
	}
	body := map[string]interface{}{
		"query":       query,
		"match_count": matchCount,
	}
	if len(sources) > 0 {
		body["sources"] = sources
	}
	return s.client.Post(ctx, s.BaseURL+"/api/rag/query", WithType(TypeQuery), WithJSON(body))
}

// StoreDocument uploads a document with the long bulk-storage timeout profile.
func (s *Service) StoreDocument(ctx context.Context, doc map[string]interface{}) (*Response, error) {
	return s.client.Post(ctx, s.BaseURL+"/api/documents", WithType(TypeDocument), WithJSON(doc))
}

// Crawl kicks off a crawl operation; these can run for minutes.
func (s *Service) Crawl(ctx context.Context, targetURL string, options map[string]interface{}) (*Response, error) {
	body := map[string]interface{}{"url": targetURL}
	for k, v := range options {
		body[k] = v
	}
	return s.client.Post(ctx, s.BaseURL+"/api/crawl", WithType(TypeCrawl), WithJSON(body))
}

// Get issues a GET against a path relative to the service base URL.
func (s *Service) Get(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return s.client.Get(ctx, s.BaseURL+path, opts...)
}

// Post issues a POST against a path relative to the service base URL.
func (s *Service) Post(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return s.client.Post(ctx, s.BaseURL+path, opts...)
}
