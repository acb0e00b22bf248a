package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"courtdesk/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const testSecret = "test-secret"

func authConfig() config.APIConfig {
	return config.APIConfig{
		Enabled: true,
		Auth: config.APIAuthConfig{
			Enabled:      true,
			HeaderAPIKey: "x-api-key",
			HeaderExtra:  "x-api-extra",
			JWTSecret:    testSecret,
			APIKeys: []config.APIClientKey{
				{Key: "desk-key", Extra: "desk-extra", Name: "front-desk"},
				{Key: "reader-key", Extra: "reader-extra", Name: "reports", Permissions: []string{permReadRegister, permReadHealth}},
			},
		},
		RateLimit: config.APIRateLimitConfig{RPS: 100, Burst: 200},
	}
}

func TestAuthInterceptor(t *testing.T) {
	cfg := authConfig()
	auth := NewAuthInterceptor(&cfg)
	interceptor := auth.Unary()

	handler := func(ctx context.Context, req any) (any, error) {
		return PrincipalFrom(ctx), nil
	}
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	t.Run("Success", func(t *testing.T) {
		md := metadata.Pairs("x-api-key", "reader-key", "x-api-extra", "reader-extra")
		ctx := metadata.NewIncomingContext(context.Background(), md)
		resp, err := interceptor(ctx, "req", info, handler)
		require.NoError(t, err)
		assert.Equal(t, "reports", resp.(*Principal).Name)
	})

	t.Run("MissingMetadata", func(t *testing.T) {
		_, err := interceptor(context.Background(), "req", info, handler)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("MissingHeaders", func(t *testing.T) {
		ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs())
		_, err := interceptor(ctx, "req", info, handler)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("InvalidExtra", func(t *testing.T) {
		md := metadata.Pairs("x-api-key", "desk-key", "x-api-extra", "wrong")
		ctx := metadata.NewIncomingContext(context.Background(), md)
		_, err := interceptor(ctx, "req", info, handler)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("PermissionDenied", func(t *testing.T) {
		limited := authConfig()
		limited.Auth.APIKeys[1].Permissions = []string{permReadRegister}
		md := metadata.Pairs("x-api-key", "reader-key", "x-api-extra", "reader-extra")
		ctx := metadata.NewIncomingContext(context.Background(), md)
		_, err := NewAuthInterceptor(&limited).Unary()(ctx, "req", info, handler)
		assert.Equal(t, codes.PermissionDenied, status.Code(err))
	})

	t.Run("RateLimit", func(t *testing.T) {
		limited := authConfig()
		limited.RateLimit = config.APIRateLimitConfig{RPS: 0.001, Burst: 1}
		intercept := NewAuthInterceptor(&limited).Unary()
		md := metadata.Pairs("x-api-key", "desk-key", "x-api-extra", "desk-extra")
		ctx := metadata.NewIncomingContext(context.Background(), md)

		_, err := intercept(ctx, "req", info, handler)
		require.NoError(t, err)
		_, err = intercept(ctx, "req", info, handler)
		assert.Equal(t, codes.ResourceExhausted, status.Code(err))
	})

	t.Run("Disabled", func(t *testing.T) {
		off := authConfig()
		off.Enabled = false
		resp, err := NewAuthInterceptor(&off).Unary()(context.Background(), "req", info, handler)
		require.NoError(t, err)
		assert.Nil(t, resp)
	})
}

func TestHTTPAuth(t *testing.T) {
	cfg := authConfig()
	cfg.Auth.APIKeys = append(cfg.Auth.APIKeys, config.APIClientKey{Key: "other-key", Extra: "other-extra", Tenants: []int64{999}})
	api := newTestAPI(t, cfg)
	tenant := strconv.FormatInt(api.tenant.ID, 10)

	send := func(headers ...string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/register", nil)
		req.Header.Set(tenantHeader, tenant)
		for i := 0; i+1 < len(headers); i += 2 {
			req.Header.Set(headers[i], headers[i+1])
		}
		rec := httptest.NewRecorder()
		api.server.Handler().ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, send())
	assert.Equal(t, http.StatusUnauthorized, send("x-api-key", "desk-key", "x-api-extra", "nope"))
	assert.Equal(t, http.StatusOK, send("x-api-key", "desk-key", "x-api-extra", "desk-extra"))
	assert.Equal(t, http.StatusOK, send("x-api-key", "reader-key", "x-api-extra", "reader-extra"))
	assert.Equal(t, http.StatusForbidden, send("x-api-key", "other-key", "x-api-extra", "other-extra"))

	t.Run("PermissionPerRoute", func(t *testing.T) {
		code, body := api.call(t, http.MethodPost, "/api/v1/register/open", map[string]any{"start_amount": 0},
			"x-api-key", "reader-key", "x-api-extra", "reader-extra")
		assert.Equal(t, http.StatusForbidden, code)
		assert.Equal(t, errPermissionDenied.Error(), body["error"])
	})

	t.Run("BearerToken", func(t *testing.T) {
		token, err := IssueToken(testSecret, "staff-1", nil, []int64{api.tenant.ID}, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, send("Authorization", "Bearer "+token))

		foreign, err := IssueToken(testSecret, "staff-2", nil, []int64{api.tenant.ID + 1}, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, http.StatusForbidden, send("Authorization", "Bearer "+foreign))

		forged, err := IssueToken("other-secret", "staff-1", nil, nil, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, send("Authorization", "Bearer "+forged))

		expired, err := IssueToken(testSecret, "staff-1", nil, nil, -time.Minute)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, send("Authorization", "Bearer "+expired))
	})
}

func TestHTTPRateLimit(t *testing.T) {
	cfg := authConfig()
	cfg.Auth.Enabled = false
	cfg.RateLimit = config.APIRateLimitConfig{RPS: 0.001, Burst: 2}
	api := newTestAPI(t, cfg)

	got := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/register", nil)
		req.Header.Set(tenantHeader, strconv.FormatInt(api.tenant.ID, 10))
		rec := httptest.NewRecorder()
		api.server.Handler().ServeHTTP(rec, req)
		got = append(got, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, got)
}

func TestPrincipal(t *testing.T) {
	var nobody *Principal
	assert.True(t, nobody.Can(permWriteRegister))
	assert.True(t, nobody.CanAccessTenant(3))

	p := &Principal{Permissions: []string{" read:register "}, Tenants: []int64{1, 2}}
	assert.True(t, p.Can(permReadRegister))
	assert.False(t, p.Can(permWriteRegister))
	assert.True(t, p.CanAccessTenant(2))
	assert.False(t, p.CanAccessTenant(3))
}
