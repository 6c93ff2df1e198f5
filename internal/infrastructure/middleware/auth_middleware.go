package middleware

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"lobbysignal/internal/core/domain"
	apperrors "lobbysignal/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const peerContextKey = "auth_peer_id"

// TokenIssuer signs and verifies HS256 peer tokens. The subject claim is the
// peer id.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer signs HS256 tokens with secret, valid for ttl.
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl}
}

func (i *TokenIssuer) Issue(peerID domain.PeerID) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   string(peerID),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Verify checks the signature and expiry and returns the peer the token
// was issued to.
func (i *TokenIssuer) Verify(token string) (domain.PeerID, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	if claims.Subject == "" {
		return "", errors.New("invalid token: missing subject")
	}
	return domain.PeerID(claims.Subject), nil
}

// AuthMiddleware requires a valid bearer token and stores its peer id. A nil
// issuer disables authentication.
func AuthMiddleware(issuer *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if issuer == nil {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Error(apperrors.NewUnauthorizedError("authorization header required"))
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.Error(apperrors.NewUnauthorizedError("invalid authorization header format"))
			c.Abort()
			return
		}

		peerID, err := issuer.Verify(parts[1])
		if err != nil {
			c.Error(apperrors.NewUnauthorizedError(err.Error()))
			c.Abort()
			return
		}

		c.Set(peerContextKey, peerID)
		c.Next()
	}
}

// RequirePeer checks that the authenticated peer acts as peerID. It always
// passes when authentication is disabled.
func RequirePeer(c *gin.Context, peerID domain.PeerID) error {
	v, ok := c.Get(peerContextKey)
	if !ok {
		return nil
	}
	if authed, _ := v.(domain.PeerID); authed != peerID {
		return apperrors.NewForbiddenError("token does not belong to this peer").
			WithContext("peerId", string(peerID))
	}
	return nil
}
