package rpc

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
)

// AuthConfig configures bearer token validation.
type AuthConfig struct {
	HMACSecret string
	Issuer     string
	ClockSkew  time.Duration
}

// Authenticator resolves the calling address from an HS256 bearer token whose
// subject is the hex address.
type Authenticator struct {
	secret []byte
	issuer string
	skew   time.Duration
}

var (
	errMissingToken    = errors.New("missing bearer token")
	errSecretUnset     = errors.New("auth secret not configured")
	errInvalidSubject  = errors.New("token subject is not an address")
	errIssuerMismatch  = errors.New("issuer mismatch")
	errUnexpectedAlgo  = errors.New("unexpected signing method")
	errTokenNotExpires = errors.New("token must expire")
)

// NewAuthenticator returns an authenticator for cfg.
func NewAuthenticator(cfg AuthConfig) *Authenticator {
	skew := cfg.ClockSkew
	if skew <= 0 {
		skew = 30 * time.Second
	}
	return &Authenticator{
		secret: []byte(strings.TrimSpace(cfg.HMACSecret)),
		issuer: strings.TrimSpace(cfg.Issuer),
		skew:   skew,
	}
}

// Enabled reports whether a secret is configured.
func (a *Authenticator) Enabled() bool { return a != nil && len(a.secret) > 0 }

// Caller returns the address the request is authenticated as. ok is false
// when the request carries no token.
func (a *Authenticator) Caller(r *http.Request) (common.Address, bool, error) {
	raw := extractBearer(r.Header.Get("Authorization"))
	if raw == "" {
		return common.Address{}, false, nil
	}
	addr, err := a.Verify(raw)
	if err != nil {
		return common.Address{}, true, err
	}
	return addr, true, nil
}

// Verify validates a token and returns its subject address.
func (a *Authenticator) Verify(raw string) (common.Address, error) {
	if !a.Enabled() {
		return common.Address{}, errSecretUnset
	}
	if strings.TrimSpace(raw) == "" {
		return common.Address{}, errMissingToken
	}
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.skew),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errUnexpectedAlgo
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		return common.Address{}, err
	}
	if !token.Valid {
		return common.Address{}, errors.New("token invalid")
	}
	if !common.IsHexAddress(claims.Subject) {
		return common.Address{}, errInvalidSubject
	}
	return common.HexToAddress(claims.Subject), nil
}

// IssueToken signs a token for addr valid for ttl.
func IssueToken(secret, issuer string, addr common.Address, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errSecretUnset
	}
	if ttl <= 0 {
		return "", errTokenNotExpires
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   addr.Hex(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if issuer = strings.TrimSpace(issuer); issuer != "" {
		claims.Issuer = issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(strings.TrimSpace(secret)))
}

func extractBearer(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
