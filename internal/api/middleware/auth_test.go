package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// testKeyID — идентификатор ключа для тестов.
const testKeyID = "test-key-sg"

const testIssuer = "https://keycloak.test/realms/artsore"

// generateTestKey генерирует RSA ключ для тестов.
func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

// buildJWKSetJSON строит JWKS JSON из RSA публичного ключа.
func buildJWKSetJSON(pub *rsa.PublicKey, kid string) json.RawMessage {
	jwks := map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			},
		},
	}
	data, _ := json.Marshal(jwks)
	return data
}

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestJWTAuth создаёт JWTAuth со статическим JWKS.
func newTestJWTAuth(t *testing.T, key *rsa.PrivateKey) *JWTAuth {
	t.Helper()
	kf, err := keyfunc.NewJWKSetJSON(buildJWKSetJSON(&key.PublicKey, testKeyID))
	if err != nil {
		t.Fatalf("не удалось создать keyfunc: %v", err)
	}
	return NewJWTAuthWithKeyfunc(kf, testIssuer, []string{"artsore-admins"}, []string{"artsore-bots"}, testLogger())
}

// signToken подписывает claims тестовым ключом.
func signToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return tokenStr
}

// baseClaims — обязательные claims с заданным сроком действия.
func baseClaims(sub string, exp time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"sub": sub,
		"iss": testIssuer,
		"exp": jwt.NewNumericDate(exp),
		"nbf": jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		"iat": jwt.NewNumericDate(time.Now()),
	}
}

func userToken(t *testing.T, key *rsa.PrivateKey, sub string, groups []string) string {
	claims := baseClaims(sub, time.Now().Add(time.Hour))
	claims["preferred_username"] = sub
	if len(groups) > 0 {
		claims["groups"] = groups
	}
	return signToken(t, key, claims)
}

func saToken(t *testing.T, key *rsa.PrivateKey, clientID, scope string) string {
	claims := baseClaims("sa-"+clientID, time.Now().Add(time.Hour))
	claims["client_id"] = clientID
	claims["scope"] = scope
	return signToken(t, key, claims)
}

// protected — цепочка JWT + RBAC как на /api/v1.
func protected(auth *JWTAuth, reached *bool) http.Handler {
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		*reached = true
		w.WriteHeader(http.StatusOK)
	})
	return auth.Middleware()(RequireRoleOrScope(
		[]string{RoleAdmin, RoleService}, []string{ScopeGatewayWrite})(inner))
}

// TestJWTAuth_Access проверяет аутентификацию и авторизацию внутреннего API.
func TestJWTAuth_Access(t *testing.T) {
	key := generateTestKey(t)
	otherKey := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	expired := baseClaims("user-1", time.Now().Add(-time.Hour))
	expired["groups"] = []string{"artsore-admins"}

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"администратор", "Bearer " + userToken(t, key, "admin", []string{"artsore-admins"}), http.StatusOK},
		{"сервисная группа", "Bearer " + userToken(t, key, "bot", []string{"artsore-bots"}), http.StatusOK},
		{"SA со scope", "Bearer " + saToken(t, key, "sa_bot", "openid gateway:write"), http.StatusOK},
		{"SA без scope", "Bearer " + saToken(t, key, "sa_reader", "openid files:read"), http.StatusForbidden},
		{"пользователь без группы", "Bearer " + userToken(t, key, "guest", []string{"others"}), http.StatusForbidden},
		{"без заголовка", "", http.StatusUnauthorized},
		{"basic auth", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"пустой bearer", "Bearer ", http.StatusUnauthorized},
		{"просроченный токен", "Bearer " + signToken(t, key, expired), http.StatusUnauthorized},
		{"чужая подпись", "Bearer " + userToken(t, otherKey, "admin", []string{"artsore-admins"}), http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reached := false
			req := httptest.NewRequest(http.MethodGet, "/api/v1/files/x", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			protected(auth, &reached).ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("статус = %d, ожидался %d, тело: %s", rec.Code, tt.want, rec.Body.String())
			}
			if reached != (tt.want == http.StatusOK) {
				t.Errorf("handler вызван = %v", reached)
			}
		})
	}
}

// TestJWTAuth_RealmRoles проверяет роль из realm_access.roles без групп.
func TestJWTAuth_RealmRoles(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	claims := baseClaims("user-2", time.Now().Add(time.Hour))
	claims["realm_access"] = map[string]any{"roles": []string{"offline_access", "service", "admin"}}

	var got *AuthClaims
	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/files/x", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, key, claims))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got == nil {
		t.Fatal("claims не найдены в контексте")
	}
	if got.SubjectType != SubjectTypeUser || got.EffectiveRole != RoleAdmin {
		t.Errorf("claims = %+v, ожидалась роль admin", got)
	}
}

func TestHighestRole(t *testing.T) {
	if got := highestRole(nil); got != "" {
		t.Errorf("highestRole(nil) = %q", got)
	}
	if got := highestRole([]string{RoleService, RoleAdmin, RoleService}); got != RoleAdmin {
		t.Errorf("highestRole = %q, ожидалась admin", got)
	}
}
