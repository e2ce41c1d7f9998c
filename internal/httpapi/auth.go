package httpapi

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// jwksResponse is the standard JWKS document shape.
type jwksResponse struct {
	Keys []jsonWebKey `json:"keys"`
}

type jsonWebKey struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// TokenValidator verifies a bearer token's signature, issuer, and audience.
// Grounded on the teacher's auth.KeycloakValidator, narrowed from a
// Keycloak-realm-specific surface down to the generic Issuer/Audience/JWKSURL
// HTTP-edge contract this core consumes as a plain bearer-token verifier — it
// never fetches roles, introspects, or owns the identity provider.
type TokenValidator struct {
	issuer     string
	audience   string
	jwksURL    string
	httpClient *http.Client
	logger     *slog.Logger

	mu      sync.RWMutex
	keys    map[string]*rsa.PublicKey
	keysExp time.Time
}

// NewTokenValidator builds a TokenValidator. jwksURL may be empty, in which
// case Validate always fails closed — the Disabled config flag is what lets
// callers skip auth entirely in development, not an empty JWKS URL.
func NewTokenValidator(issuer, audience, jwksURL string, logger *slog.Logger) *TokenValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenValidator{
		issuer:     issuer,
		audience:   audience,
		jwksURL:    jwksURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With(slog.String("component", "httpapi.auth")),
		keys:       make(map[string]*rsa.PublicKey),
	}
}

// Validate parses and verifies tokenString, returning the subject claim.
func (v *TokenValidator) Validate(ctx context.Context, tokenString string) (string, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")
	if tokenString == "" {
		return "", fmt.Errorf("httpapi: token is required")
	}

	unverified, _, err := jwt.NewParser().ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return "", fmt.Errorf("httpapi: failed to parse token: %w", err)
	}
	kid, ok := unverified.Header["kid"].(string)
	if !ok {
		return "", fmt.Errorf("httpapi: token missing kid header")
	}

	key, err := v.publicKey(ctx, kid)
	if err != nil {
		return "", fmt.Errorf("httpapi: failed to resolve signing key: %w", err)
	}

	parserOpts := []jwt.ParserOption{jwt.WithIssuer(v.issuer)}
	if v.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return key, nil
	}, parserOpts...)
	if err != nil || !token.Valid {
		return "", fmt.Errorf("httpapi: token verification failed: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("httpapi: invalid claims type")
	}
	sub, _ := claims["sub"].(string)
	return sub, nil
}

func (v *TokenValidator) publicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	if key, ok := v.keys[kid]; ok && time.Now().Before(v.keysExp) {
		v.mu.RUnlock()
		return key, nil
	}
	v.mu.RUnlock()

	if err := v.fetchJWKS(ctx); err != nil {
		return nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	if key, ok := v.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("public key not found for kid: %s", kid)
}

func (v *TokenValidator) fetchJWKS(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build JWKS request: %w", err)
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var doc jwksResponse
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("failed to decode JWKS: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	for _, k := range doc.Keys {
		key, err := parseRSAPublicKey(k.N, k.E)
		if err != nil {
			v.logger.Warn("failed to parse JWKS key", slog.String("kid", k.Kid), slog.String("error", err.Error()))
			continue
		}
		v.keys[k.Kid] = key
	}
	v.keysExp = time.Now().Add(time.Hour)
	return nil
}

func parseRSAPublicKey(nStr, eStr string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode n: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode e: %w", err)
	}
	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

type contextKey string

const userIDKey contextKey = "user_id"

// authMiddleware validates the bearer token when validator is non-nil and
// auth isn't disabled, per spec §6.1's "optional in dev" note. Health and
// readiness checks are always exempt.
func authMiddleware(validator *TokenValidator, disabled bool, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if disabled || validator == nil || r.URL.Path == "/healthz" || r.URL.Path == "/readyz" {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeUnauthorized(w, "missing authorization header")
				return
			}

			sub, err := validator.Validate(r.Context(), authHeader)
			if err != nil {
				logger.Debug("token validation failed", slog.String("error", err.Error()))
				writeUnauthorized(w, "invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, sub)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"code": "unauthorized", "message": message}})
}
