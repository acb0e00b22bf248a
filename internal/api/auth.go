package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"slices"
	"strings"

	"courtdesk/internal/config"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const (
	apiKeyHeaderDefault   = "x-api-key"
	apiExtraHeaderDefault = "x-api-extra"
	clientKeyUnknown      = "unknown"

	permReadReservations  = "read:reservations"
	permWriteReservations = "write:reservations"
	permReadRegister      = "read:register"
	permWriteRegister     = "write:register"
	permReadHealth        = "read:health"
)

var (
	errMissingCredentials = errors.New("missing api key headers")
	errInvalidAPIKey      = errors.New("invalid api key")
	errInvalidExtra       = errors.New("invalid extra header")
	errInvalidToken       = errors.New("invalid token")
	errPermissionDenied   = errors.New("permission denied")
	errTenantDenied       = errors.New("tenant not allowed for this client")
)

// Principal is an authenticated API caller.
type Principal struct {
	Name        string
	Permissions []string
	Tenants     []int64
}

// Can reports whether the caller holds perm. An empty list allows everything.
func (p *Principal) Can(perm string) bool {
	if p == nil || perm == "" || len(p.Permissions) == 0 {
		return true
	}
	for _, have := range p.Permissions {
		if strings.TrimSpace(have) == perm {
			return true
		}
	}
	return false
}

// CanAccessTenant reports whether the caller may act on tenantID. An empty
// list allows every tenant.
func (p *Principal) CanAccessTenant(tenantID int64) bool {
	if p == nil || len(p.Tenants) == 0 {
		return true
	}
	return slices.Contains(p.Tenants, tenantID)
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the caller attached by the auth middleware, if any.
func PrincipalFrom(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}

// keyring checks API key pairs from configuration.
type keyring struct {
	apiKeyHeader string
	extraHeader  string
	clients      map[string]config.APIClientKey
}

func newKeyring(cfg config.APIAuthConfig) keyring {
	m := make(map[string]config.APIClientKey, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		m[k.Key] = k
	}
	k := keyring{
		apiKeyHeader: strings.ToLower(strings.TrimSpace(cfg.HeaderAPIKey)),
		extraHeader:  strings.ToLower(strings.TrimSpace(cfg.HeaderExtra)),
		clients:      m,
	}
	if k.apiKeyHeader == "" {
		k.apiKeyHeader = apiKeyHeaderDefault
	}
	if k.extraHeader == "" {
		k.extraHeader = apiExtraHeaderDefault
	}
	return k
}

func (k keyring) verify(apiKey, extra string) (*Principal, error) {
	if apiKey == "" || extra == "" {
		return nil, errMissingCredentials
	}
	client, ok := k.clients[apiKey]
	if !ok {
		return nil, errInvalidAPIKey
	}
	if subtle.ConstantTimeCompare([]byte(client.Extra), []byte(extra)) != 1 {
		return nil, errInvalidExtra
	}
	name := client.Name
	if name == "" {
		name = apiKey
	}
	return &Principal{Name: name, Permissions: client.Permissions, Tenants: client.Tenants}, nil
}

// AuthInterceptor authenticates gRPC calls with the same API keys as HTTP.
type AuthInterceptor struct {
	cfg     *config.APIConfig
	keys    keyring
	limiter *rateLimiter
}

func NewAuthInterceptor(cfg *config.APIConfig) *AuthInterceptor {
	return &AuthInterceptor{
		cfg:     cfg,
		keys:    newKeyring(cfg.Auth),
		limiter: newRateLimiter(cfg),
	}
}

func (a *AuthInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !a.cfg.Enabled {
			return handler(ctx, req)
		}

		if a.cfg.Auth.Enabled {
			principal, err := a.checkAuth(ctx, info.FullMethod)
			if err != nil {
				return nil, err
			}
			ctx = withPrincipal(ctx, principal)
		}
		if err := a.checkRateLimit(ctx); err != nil {
			return nil, err
		}

		return handler(ctx, req)
	}
}

func (a *AuthInterceptor) checkAuth(ctx context.Context, fullMethod string) (*Principal, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing metadata")
	}

	principal, err := a.keys.verify(first(md.Get(a.keys.apiKeyHeader)), first(md.Get(a.keys.extraHeader)))
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}
	if !principal.Can(requiredPermission(fullMethod)) {
		return nil, status.Error(codes.PermissionDenied, errPermissionDenied.Error())
	}
	return principal, nil
}

func requiredPermission(fullMethod string) string {
	switch fullMethod {
	case "/grpc.health.v1.Health/Check", "/grpc.health.v1.Health/Watch", "/grpc.health.v1.Health/List":
		return permReadHealth
	default:
		return ""
	}
}

func (a *AuthInterceptor) checkRateLimit(ctx context.Context) error {
	if !a.limiter.enabled() {
		return nil
	}
	if !a.limiter.allow(a.clientKey(ctx)) {
		return status.Error(codes.ResourceExhausted, "rate limit exceeded")
	}
	return nil
}

func (a *AuthInterceptor) clientKey(ctx context.Context) string {
	md, _ := metadata.FromIncomingContext(ctx)
	if apiKey := first(md.Get(a.keys.apiKeyHeader)); apiKey != "" {
		return apiKey
	}

	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return clientKeyUnknown
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0])
}
