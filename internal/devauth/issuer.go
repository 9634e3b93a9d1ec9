// Пакет devauth: выпуск тестовых JWT для локального запуска Archive Module
// с включённой аутентификацией. Генерирует RSA ключ при старте, отдаёт
// JWKS по GET /jwks и подписывает токены по POST /token.
package devauth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/goartstore/archive-module/internal/api/errors"
	"github.com/bigkaa/goartstore/archive-module/internal/api/middleware"
)

// KeyID: kid единственного ключа в JWKS.
const KeyID = "archive-dev-key"

// DefaultTTL: время жизни токена, если ttl_seconds не задан.
const DefaultTTL = time.Hour

// ErrEmptySubject: запрошен токен без sub.
var ErrEmptySubject = errors.New("поле 'sub' обязательно")

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

// Issuer хранит ключевую пару и подписывает токены.
type Issuer struct {
	key    *rsa.PrivateKey
	jwks   []byte
	now    func() time.Time
	logger *slog.Logger
}

// NewIssuer генерирует RSA ключ размером keySize бит.
func NewIssuer(keySize int, logger *slog.Logger) (*Issuer, error) {
	key, err := rsa.GenerateKey(rand.Reader, keySize)
	if err != nil {
		return nil, fmt.Errorf("генерация RSA ключа: %w", err)
	}

	pub := &key.PublicKey
	jwks, err := json.Marshal(jwkSet{Keys: []jwk{{
		Kty: "RSA",
		Kid: KeyID,
		Use: "sig",
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}}})
	if err != nil {
		return nil, fmt.Errorf("сериализация JWKS: %w", err)
	}

	return &Issuer{
		key:    key,
		jwks:   jwks,
		now:    time.Now,
		logger: logger.With(slog.String("component", "dev_issuer")),
	}, nil
}

// JWKS возвращает JSON набора публичных ключей.
func (i *Issuer) JWKS() []byte {
	return i.jwks
}

// Issue подписывает RS256 токен с указанным sub. ttl <= 0: DefaultTTL.
func (i *Issuer) Issue(sub, username string, ttl time.Duration) (string, error) {
	if sub == "" {
		return "", ErrEmptySubject
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := i.now()
	claims := middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			Issuer:    "jwks-mock",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		PreferredUsername: username,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = KeyID

	signed, err := token.SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("подпись JWT: %w", err)
	}
	return signed, nil
}

type tokenRequest struct {
	Sub               string `json:"sub"`
	PreferredUsername string `json:"preferred_username"`
	TTLSeconds        int    `json:"ttl_seconds"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// Routes возвращает роутер /jwks, /token, /health.
func (i *Issuer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/jwks", i.handleJWKS)
	r.Post("/token", i.handleToken)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return r
}

func (i *Issuer) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(i.jwks)
}

func (i *Issuer) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Невалидный JSON: "+err.Error())
		return
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	token, err := i.Issue(req.Sub, req.PreferredUsername, ttl)
	if errors.Is(err, ErrEmptySubject) {
		apierrors.ValidationError(w, err.Error())
		return
	}
	if err != nil {
		i.logger.Error("Ошибка выпуска токена", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Ошибка генерации токена")
		return
	}

	i.logger.Info("Токен выдан", slog.String("sub", req.Sub))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(tokenResponse{Token: token})
}
