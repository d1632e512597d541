package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"p2plend/native/lending"
)

// AuthConfig configures caller identification. With Enabled set the caller is
// the subject of an HMAC-signed bearer token; otherwise it is read from
// DevHeader.
type AuthConfig struct {
	Enabled    bool
	HMACSecret string
	Issuer     string
	Audience   string
	ClockSkew  time.Duration
	DevHeader  string
}

type contextKey string

const contextKeyCaller contextKey = "lendingd.caller"

// CallerFromContext returns the authenticated caller address, if any.
func CallerFromContext(ctx context.Context) string {
	caller, _ := ctx.Value(contextKeyCaller).(string)
	return caller
}

// Authenticator resolves the caller of each request. Requests without
// credentials pass through anonymously; handlers that mutate state demand a
// caller. Presenting a bad token is always rejected.
type Authenticator struct {
	cfg    AuthConfig
	secret []byte
	logger *slog.Logger
}

func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{cfg: cfg, secret: []byte(strings.TrimSpace(cfg.HMACSecret)), logger: logger}
}

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := ""
		if !a.cfg.Enabled {
			if a.cfg.DevHeader != "" {
				caller = strings.TrimSpace(r.Header.Get(a.cfg.DevHeader))
			}
		} else if tokenString := extractBearer(r.Header.Get("Authorization")); tokenString != "" {
			subject, err := a.subject(tokenString)
			if err != nil {
				a.logger.Warn("auth: token rejected", "error", err)
				writeCoded(w, http.StatusUnauthorized, lending.ErrUnauthorized.Code, "invalid token")
				return
			}
			caller = subject
		}
		if caller == "" {
			next.ServeHTTP(w, r)
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyCaller, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) subject(tokenString string) (string, error) {
	if len(a.secret) == 0 {
		return "", errors.New("auth secret not configured")
	}
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.cfg.ClockSkew),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}
	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("token invalid")
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", errors.New("token subject missing")
	}
	return subject, nil
}

// IssueToken signs a token naming subject as the caller. Used by lendctl and
// tests.
func IssueToken(secret, subject, issuer, audience string, ttl time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("secret required")
	}
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("subject required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if audience != "" {
		claims.Audience = jwt.ClaimStrings{audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(strings.TrimSpace(secret)))
}

func extractBearer(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
