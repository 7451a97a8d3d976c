package admin

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Auth issues and checks the bearer tokens of the admin API
type Auth struct {
	secretKey    string
	tokenTTL     time.Duration
	passwordHash string
	now          func() time.Time
}

// NewAuth creates an Auth signing with secretKey. passwordHash is the bcrypt
// hash logins are checked against; when empty, logins are refused.
func NewAuth(secretKey, passwordHash string, tokenTTL time.Duration) *Auth {
	return &Auth{
		secretKey:    secretKey,
		tokenTTL:     tokenTTL,
		passwordHash: passwordHash,
		now:          time.Now,
	}
}

// Login checks password and returns a signed token for subject.
func (a *Auth) Login(subject, password string) (string, error) {
	if a.passwordHash == "" || !CheckPassword(password, a.passwordHash) {
		return "", fmt.Errorf("invalid credentials")
	}
	return a.GenerateToken(subject)
}

// GenerateToken generates a token for subject
func (a *Auth) GenerateToken(subject string) (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    "glowroot",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(a.secretKey))
}

// ValidateToken validates a token and returns its subject
func (a *Auth) ValidateToken(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// exact algorithm only, no alg confusion
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(a.secretKey), nil
	}, jwt.WithIssuer("glowroot"), jwt.WithTimeFunc(a.now))
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.Subject == "" {
		return "", fmt.Errorf("invalid token")
	}
	return claims.Subject, nil
}

type subjectKey struct{}

// Subject returns the authenticated subject of a request, if any.
func Subject(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey{}).(string)
	return s
}

// Require rejects requests without a valid bearer token
func (a *Auth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			renderError(w, http.StatusUnauthorized, fmt.Errorf("authorization required"))
			return
		}
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			renderError(w, http.StatusUnauthorized, fmt.Errorf("invalid authorization format"))
			return
		}
		subject, err := a.ValidateToken(parts[1])
		if err != nil {
			renderError(w, http.StatusUnauthorized, fmt.Errorf("invalid token"))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subjectKey{}, subject)))
	})
}

// HashPassword hashes a password with bcrypt. Passwords longer than 72
// bytes are rejected, bcrypt would silently truncate them.
func HashPassword(password string) (string, error) {
	if len(password) > 72 {
		return "", fmt.Errorf("password exceeds maximum length of 72 bytes")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// CheckPassword compares a password with a bcrypt hash
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
