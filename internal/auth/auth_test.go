package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/doubt-service/internal/domain"
	"github.com/spec-kit/doubt-service/internal/repository/mock"
	apperrors "github.com/spec-kit/doubt-service/pkg/util/errorutil"
)

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	token, expiresAt, err := tm.GenerateToken(42)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), expiresAt, time.Minute)

	claims, err := tm.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, "42", claims.Subject)

	_, err = NewTokenManager("other", 5).ParseToken(token)
	assert.Error(t, err)
}

func TestExpiredTokenRejected(t *testing.T) {
	tm := NewTokenManager("secret", 1)
	tm.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, err := tm.GenerateToken(7)
	require.NoError(t, err)

	tm.now = time.Now
	_, err = tm.ParseToken(token)
	assert.Error(t, err)
}

func newAuthApp(t *testing.T) (*fiber.App, *TokenManager) {
	t.Helper()
	store := mock.NewStore()
	store.AddUser(domain.User{ID: 3, FirstName: "Tina", LastName: "Park"})
	tokens := NewTokenManager("secret", 10)

	app := fiber.New(fiber.Config{ErrorHandler: func(c *fiber.Ctx, err error) error {
		de := apperrors.ToDomainError(err)
		return c.Status(de.HTTPStatus).SendString(de.Code)
	}})
	app.Get("/me", NewAuthMiddleware(tokens, store.UserRepo()).Handle, func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("no principal")
		}
		return c.SendString(principal.User.FullName())
	})
	return app, tokens
}

func TestMiddlewareLoadsPrincipal(t *testing.T) {
	app, tokens := newAuthApp(t)
	token, _, err := tokens.GenerateToken(3)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestMiddlewareRejectsBadCredentials(t *testing.T) {
	app, tokens := newAuthApp(t)
	unknown, _, err := tokens.GenerateToken(99)
	require.NoError(t, err)

	for name, header := range map[string]string{
		"missing":      "",
		"wrong scheme": "Basic abc",
		"garbage":      "Bearer not-a-jwt",
		"unknown user": "Bearer " + unknown,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/me", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
		})
	}
}
