// auth.go: JWT middleware для аутентификации Archive Module.
// RS256 + JWKS, в контекст запроса помещается sub, который становится автором архива.
// Без AR_JWKS_URL middleware не подключается, автор: "anonymous".
package middleware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/goartstore/archive-module/internal/api/errors"
)

// AnonymousAuthor: автор архивов, отправленных без аутентификации.
const AnonymousAuthor = "anonymous"

type contextKey string

// ContextKeySubject: ключ контекста, под которым лежит sub токена.
const ContextKeySubject contextKey = "archive_subject"

// Claims: JWT claims, которые читает Archive Module.
type Claims struct {
	jwt.RegisteredClaims
	PreferredUsername string `json:"preferred_username,omitempty"`
}

// JWTAuth проверяет Bearer-токены по ключам из JWKS.
type JWTAuth struct {
	jwks      keyfunc.Keyfunc
	jwtLeeway time.Duration
	logger    *slog.Logger
}

// JWKSConfig описывает источник ключей и допуски проверки.
// CACertPath и TLSSkipVerify относятся к HTTPS-соединению с JWKSURL.
type JWKSConfig struct {
	JWKSURL         string
	CACertPath      string
	TLSSkipVerify   bool
	ClientTimeout   time.Duration
	RefreshInterval time.Duration
	JWTLeeway       time.Duration
}

// NewJWTAuth загружает ключи с cfg.JWKSURL и периодически их обновляет.
// Недоступность JWKS на старте не ошибка: ключи подтянутся при обновлении.
func NewJWTAuth(cfg JWKSConfig, logger *slog.Logger) (*JWTAuth, error) {
	client, err := jwksClient(cfg)
	if err != nil {
		return nil, err
	}

	log := logger.With(slog.String("component", "jwks"), slog.String("url", cfg.JWKSURL))
	if cfg.CACertPath != "" {
		log.Info("Для JWKS используется дополнительный CA", slog.String("ca_cert", cfg.CACertPath))
	}

	storage, err := jwkset.NewStorageFromHTTP(cfg.JWKSURL, jwkset.HTTPClientStorageOptions{
		Client:                    client,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           cfg.RefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			log.Error("Не удалось обновить JWKS", slog.Any("error", err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("JWKS storage: %w", err)
	}

	kf, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("JWKS keyfunc: %w", err)
	}

	return NewJWTAuthWithKeyfunc(kf, cfg.JWTLeeway, logger), nil
}

// errNoCertificates: в PEM-файле не нашлось ни одного сертификата.
var errNoCertificates = errors.New("в файле нет PEM-сертификатов")

// jwksClient: HTTP-клиент для JWKS с таймаутом и настройками TLS.
func jwksClient(cfg JWKSConfig) (*http.Client, error) {
	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.TLSSkipVerify, //nolint:gosec // AR_TLS_SKIP_VERIFY
	}
	if cfg.CACertPath != "" {
		pool, err := trustPool(cfg.CACertPath)
		if err != nil {
			return nil, err
		}
		tlsCfg.RootCAs = pool
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsCfg
	return &http.Client{Timeout: cfg.ClientTimeout, Transport: transport}, nil
}

// trustPool: системные корни плюс сертификаты из caPath.
func trustPool(caPath string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA %s: %w", caPath, err)
	}

	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("CA %s: %w", caPath, errNoCertificates)
	}
	return pool, nil
}

// NewJWTAuthWithKeyfunc: JWTAuth поверх готовой keyfunc (тесты, devauth).
func NewJWTAuthWithKeyfunc(kf keyfunc.Keyfunc, jwtLeeway time.Duration, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		jwks:      kf,
		jwtLeeway: jwtLeeway,
		logger:    logger.With(slog.String("component", "jwt_auth")),
	}
}

// Middleware возвращает HTTP middleware для JWT-аутентификации.
// Проверяет подпись RS256 и exp/nbf, помещает sub в контекст запроса.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, problem := bearerToken(r)
			if problem != "" {
				apierrors.Unauthorized(w, problem)
				return
			}

			subject, problem := j.subject(r, raw)
			if problem != "" {
				apierrors.Unauthorized(w, problem)
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeySubject, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken достаёт токен из "Authorization: Bearer <token>".
// Вторым значением возвращается текст ошибки для клиента.
func bearerToken(r *http.Request) (string, string) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", "Отсутствует заголовок Authorization"
	}

	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", "Неверный формат Authorization: ожидается Bearer <token>"
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", "Пустой Bearer token"
	}
	return token, ""
}

// subject валидирует токен и возвращает его sub.
func (j *JWTAuth) subject(r *http.Request, raw string) (string, string) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, j.jwks.KeyfuncCtx(r.Context()),
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(j.jwtLeeway),
	)
	if err != nil || !token.Valid {
		j.logger.Debug("JWT валидация не пройдена",
			slog.Any("error", err),
			slog.String("remote_addr", r.RemoteAddr),
		)
		return "", "Невалидный или просроченный токен"
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", "Отсутствует sub в токене"
	}
	return sub, ""
}

// SubjectFromContext: sub аутентифицированного запроса или "".
func SubjectFromContext(ctx context.Context) string {
	sub, _ := ctx.Value(ContextKeySubject).(string)
	return sub
}

// AuthorFromContext возвращает автора архива: sub или AnonymousAuthor.
func AuthorFromContext(ctx context.Context) string {
	if sub := SubjectFromContext(ctx); sub != "" {
		return sub
	}
	return AnonymousAuthor
}
