package api

import (
	"errors"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"

	"prism-board/config"
)

// clockSkew is how far ahead of the local clock tokens are checked.
const clockSkew = time.Minute

// Auth resolves bearer tokens to the board user in their sub claim.
type Auth struct {
	audience string
	issuer   string
	parser   *jwt.Parser
	key      jwt.Keyfunc
}

// NewAuth builds an Auth from cfg. In test mode tokens are HS256 signed with
// cfg.TestSecret and jwks is ignored; otherwise jwks must be set.
func NewAuth(jwks *keyfunc.JWKS, cfg config.Auth) (*Auth, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.TestMode {
		secret := []byte(cfg.TestSecret)
		return &Auth{
			parser: jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}), jwt.WithoutClaimsValidation()),
			key:    func(*jwt.Token) (any, error) { return secret, nil },
		}, nil
	}
	if jwks == nil {
		return nil, errors.New("jwks not configured")
	}
	keys := &kidCache{jwks: jwks, ttl: cfg.JWKSCacheTTL}
	return &Auth{
		audience: cfg.Audience,
		issuer:   cfg.Issuer(),
		parser:   jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}), jwt.WithoutClaimsValidation()),
		key:      keys.lookup,
	}, nil
}

// LoadAuth fetches the tenant key set unless cfg selects test mode.
func LoadAuth(cfg config.Auth) (*Auth, error) {
	if cfg.TestMode {
		return NewAuth(nil, cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	jwks, err := keyfunc.Get(cfg.JWKSURL(), keyfunc.Options{RefreshInterval: cfg.JWKSCacheTTL})
	if err != nil {
		return nil, err
	}
	return NewAuth(jwks, cfg)
}

// UserIDFromAuthHeader verifies the bearer token in h.
func (a *Auth) UserIDFromAuthHeader(h string) (string, error) {
	token, err := bearerToken(h)
	if err != nil {
		return "", err
	}
	return a.UserIDFromBearer(token)
}

// UserIDFromBearer verifies a compact JWT and returns its subject.
func (a *Auth) UserIDFromBearer(token string) (string, error) {
	var claims jwt.RegisteredClaims
	if _, err := a.parser.ParseWithClaims(token, &claims, a.key); err != nil {
		return "", err
	}
	if err := a.checkClaims(&claims, time.Now().Add(clockSkew)); err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func (a *Auth) checkClaims(c *jwt.RegisteredClaims, now time.Time) error {
	switch {
	case !c.VerifyExpiresAt(now, true):
		return errors.New("token expired")
	case !c.VerifyNotBefore(now, false):
		return errors.New("token not valid yet")
	case !c.VerifyIssuedAt(now, false):
		return errors.New("token used before issued")
	case a.audience != "" && !c.VerifyAudience(a.audience, true):
		return errors.New("invalid audience")
	case a.issuer != "" && !c.VerifyIssuer(a.issuer, true):
		return errors.New("invalid issuer")
	case c.Subject == "":
		return errors.New("missing sub")
	}
	return nil
}

// kidCache memoizes JWKS lookups per key id for ttl.
type kidCache struct {
	jwks *keyfunc.JWKS
	ttl  time.Duration
	mu   sync.Mutex
	keys map[string]cachedKey
}

type cachedKey struct {
	key     any
	expires time.Time
}

func (k *kidCache) lookup(token *jwt.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)
	if kid == "" || k.ttl <= 0 {
		return k.jwks.Keyfunc(token)
	}
	k.mu.Lock()
	entry, ok := k.keys[kid]
	k.mu.Unlock()
	if ok && time.Now().Before(entry.expires) {
		return entry.key, nil
	}

	key, err := k.jwks.Keyfunc(token)
	if err != nil {
		return nil, err
	}
	k.mu.Lock()
	if k.keys == nil {
		k.keys = make(map[string]cachedKey)
	}
	k.keys[kid] = cachedKey{key: key, expires: time.Now().Add(k.ttl)}
	k.mu.Unlock()
	return key, nil
}
