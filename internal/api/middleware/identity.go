package middleware

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/sha3"

	"github.com/printqd/printqd/internal/config"
	"github.com/printqd/printqd/internal/db"
	"github.com/printqd/printqd/internal/logger"
)

const (
	identityKey  = "identity"
	apiKeyHeader = "X-Api-Key"
)

const (
	IdentityUser    = "user"
	IdentityPrinter = "printer"
)

var (
	ErrMissingIdentity      = errors.New("missing identity")
	ErrInvalidIdentity      = errors.New("invalid identity")
	ErrAuthenticationFailed = errors.New("authentication failed")
)

// Identity is the authenticated caller of a request or event channel.
type Identity struct {
	Type      string
	UserID    int64
	IsAdmin   bool
	PrinterID int64
	Serial    string
}

// headerIdentity is the trusted proxy-injected identity document.
type headerIdentity struct {
	Type         string `json:"type"`
	ID           int64  `json:"id,omitempty"`
	IsAdmin      bool   `json:"is_admin,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
}

// identityClaims is the same document carried inside a JWT.
type identityClaims struct {
	jwt.RegisteredClaims
	Type         string `json:"type"`
	ID           int64  `json:"id,omitempty"`
	IsAdmin      bool   `json:"is_admin,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
}

// APIKeyDigest is the stored form of a printer API key. The digest is
// deterministic so the uniqueness constraint on the column holds for
// the keys themselves.
func APIKeyDigest(key string) string {
	sum := sha3.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// IdentityMiddleware resolves the caller from the identity header, a
// bearer JWT, a printer API key, or an external auth subrequest.
type IdentityMiddleware struct {
	store  *db.Store
	cfg    config.AuthConfig
	jwtKey interface{}
	client *http.Client
	log    *logger.Logger
}

func NewIdentityMiddleware(store *db.Store, cfg config.AuthConfig, log *logger.Logger) (*IdentityMiddleware, error) {
	m := &IdentityMiddleware{
		store:  store,
		cfg:    cfg,
		client: &http.Client{},
		log:    log.With("component", "identity"),
	}

	if cfg.JWTPublicKey != "" {
		key, err := parseJWTKey(cfg.JWTAlgorithm, cfg.JWTPublicKey)
		if err != nil {
			return nil, fmt.Errorf("invalid jwt key: %w", err)
		}
		m.jwtKey = key
	}
	return m, nil
}

func parseJWTKey(algorithm, key string) (interface{}, error) {
	switch algorithm {
	case "HS256":
		return []byte(key), nil
	case "RS256":
		return jwt.ParseRSAPublicKeyFromPEM([]byte(key))
	case "ES256":
		return jwt.ParseECPublicKeyFromPEM([]byte(key))
	default:
		return nil, fmt.Errorf("unsupported algorithm %s", algorithm)
	}
}

// Resolve extracts and verifies the caller's identity from a request.
func (m *IdentityMiddleware) Resolve(c *gin.Context) (*Identity, error) {
	if raw := c.GetHeader(m.cfg.IdentityHeader); raw != "" {
		return m.fromHeader(c, raw)
	}
	if key := c.GetHeader(apiKeyHeader); key != "" {
		return m.fromAPIKey(c, key)
	}
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return m.fromToken(c, strings.TrimPrefix(auth, "Bearer "))
	}
	return nil, ErrMissingIdentity
}

func (m *IdentityMiddleware) fromHeader(c *gin.Context, raw string) (*Identity, error) {
	var doc headerIdentity
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	return m.materialize(c, doc)
}

func (m *IdentityMiddleware) fromToken(c *gin.Context, tokenString string) (*Identity, error) {
	if m.jwtKey == nil {
		if m.cfg.AuthSubrequestURL != "" {
			return m.fromSubrequest(c, tokenString)
		}
		return nil, fmt.Errorf("%w: no token verifier configured", ErrAuthenticationFailed)
	}

	token, err := jwt.ParseWithClaims(tokenString, &identityClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != m.cfg.JWTAlgorithm {
			return nil, fmt.Errorf("unexpected signing method %s", token.Method.Alg())
		}
		return m.jwtKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	claims, ok := token.Claims.(*identityClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token", ErrAuthenticationFailed)
	}
	return m.materialize(c, headerIdentity{
		Type:         claims.Type,
		ID:           claims.ID,
		IsAdmin:      claims.IsAdmin,
		SerialNumber: claims.SerialNumber,
	})
}

// fromSubrequest delegates token validation to the configured external
// endpoint, which answers with an identity document.
func (m *IdentityMiddleware) fromSubrequest(c *gin.Context, tokenString string) (*Identity, error) {
	req, err := http.NewRequestWithContext(c.Request.Context(), m.cfg.AuthSubrequestMethod, m.cfg.AuthSubrequestURL, bytes.NewReader(nil))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+tokenString)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: auth subrequest: %v", ErrAuthenticationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: auth subrequest returned %d", ErrAuthenticationFailed, resp.StatusCode)
	}

	var doc headerIdentity
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	return m.materialize(c, doc)
}

func (m *IdentityMiddleware) fromAPIKey(c *gin.Context, key string) (*Identity, error) {
	p, err := m.store.Printers.GetByAPIKeyDigest(c.Request.Context(), APIKeyDigest(key))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown api key", ErrAuthenticationFailed)
		}
		return nil, err
	}
	return &Identity{Type: IdentityPrinter, PrinterID: p.ID, Serial: p.Serial}, nil
}

// materialize resolves the document to a stored entity.
func (m *IdentityMiddleware) materialize(c *gin.Context, doc headerIdentity) (*Identity, error) {
	switch doc.Type {
	case IdentityUser:
		if doc.ID == 0 {
			return nil, fmt.Errorf("%w: user identity without id", ErrInvalidIdentity)
		}
		user, err := m.store.Users.GetByID(c.Request.Context(), doc.ID)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return nil, fmt.Errorf("%w: unknown user %d", ErrAuthenticationFailed, doc.ID)
			}
			return nil, err
		}
		return &Identity{Type: IdentityUser, UserID: user.ID, IsAdmin: user.IsAdmin || doc.IsAdmin}, nil

	case IdentityPrinter:
		var p *db.Printer
		var err error
		switch {
		case doc.SerialNumber != "":
			p, err = m.store.Printers.GetBySerial(c.Request.Context(), doc.SerialNumber)
		case doc.ID != 0:
			p, err = m.store.Printers.GetByID(c.Request.Context(), doc.ID)
		default:
			return nil, fmt.Errorf("%w: printer identity without id or serial", ErrInvalidIdentity)
		}
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return nil, fmt.Errorf("%w: unknown printer", ErrAuthenticationFailed)
			}
			return nil, err
		}
		return &Identity{Type: IdentityPrinter, PrinterID: p.ID, Serial: p.Serial}, nil

	default:
		return nil, fmt.Errorf("%w: unknown identity type %q", ErrInvalidIdentity, doc.Type)
	}
}

func abortUnauthorized(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": err.Error()})
}

// RequireUser admits authenticated users only.
func (m *IdentityMiddleware) RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, err := m.Resolve(c)
		if err != nil {
			abortUnauthorized(c, err)
			return
		}
		if ident.Type != IdentityUser {
			abortUnauthorized(c, fmt.Errorf("%w: user identity required", ErrAuthenticationFailed))
			return
		}
		c.Set(identityKey, ident)
		c.Next()
	}
}

// RequireAdmin admits admin users only.
func (m *IdentityMiddleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, err := m.Resolve(c)
		if err != nil {
			abortUnauthorized(c, err)
			return
		}
		if ident.Type != IdentityUser || !ident.IsAdmin {
			abortUnauthorized(c, fmt.Errorf("%w: admin identity required", ErrAuthenticationFailed))
			return
		}
		c.Set(identityKey, ident)
		c.Next()
	}
}

// RequirePrinter admits authenticated printers only.
func (m *IdentityMiddleware) RequirePrinter() gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, err := m.Resolve(c)
		if err != nil {
			abortUnauthorized(c, err)
			return
		}
		if ident.Type != IdentityPrinter {
			abortUnauthorized(c, fmt.Errorf("%w: printer identity required", ErrAuthenticationFailed))
			return
		}
		c.Set(identityKey, ident)
		c.Next()
	}
}

// RequireAny admits any authenticated caller.
func (m *IdentityMiddleware) RequireAny() gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, err := m.Resolve(c)
		if err != nil {
			abortUnauthorized(c, err)
			return
		}
		c.Set(identityKey, ident)
		c.Next()
	}
}

// GetIdentity returns the identity set by one of the Require
// middlewares.
func GetIdentity(c *gin.Context) *Identity {
	if v, ok := c.Get(identityKey); ok {
		if ident, ok := v.(*Identity); ok {
			return ident
		}
	}
	return nil
}
