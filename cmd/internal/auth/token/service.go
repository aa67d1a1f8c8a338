package token

import (
	"time"

	paseto "aidanwoods.dev/go-paseto"

	"beacon/cmd/internal/notify"
	sectoken "beacon/cmd/security/token"
)

// Kind distinguishes the two credential types.
type Kind string

const (
	// KindAccess is a short-lived credential authorizing individual requests.
	KindAccess Kind = "access"
	// KindRefresh is a longer-lived, one-time-use credential used solely to
	// obtain a new token pair.
	KindRefresh Kind = "refresh"
)

// Claims is the verified content of a Beacon token.
type Claims struct {
	UserID     string
	SessionID  string
	Kind       Kind
	RememberMe bool
	Issuer     string
	Audience   string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// RevocationChecker is the negative-lookup dependency consulted on Verify.
type RevocationChecker interface {
	Contains(fingerprint string) bool
}

// Service issues and verifies signed tokens. Stateless except for the
// signing key; revocation state lives behind RevocationChecker.
type Service struct {
	cfg    Config
	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey

	revoked RevocationChecker
	notify  notify.Notifier
}

// NewService constructs a token Service from config.
func NewService(cfg Config, revoked RevocationChecker, sink notify.Notifier) (*Service, error) {
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.SecretKeyHex)
	if err != nil {
		return nil, ErrConfig
	}
	if sink == nil {
		sink = notify.Nop{}
	}
	return &Service{
		cfg:     cfg,
		secret:  secret,
		public:  secret.Public(),
		revoked: revoked,
		notify:  sink,
	}, nil
}

// PublicKeyHex exports the verification key for external verifiers.
func (s *Service) PublicKeyHex() string {
	return s.public.ExportHex()
}

// TTL returns the lifetime applied to a token of the given kind.
func (s *Service) TTL(kind Kind, rememberMe bool) time.Duration {
	if kind == KindRefresh {
		if rememberMe {
			return s.cfg.RefreshTTLRemember
		}
		return s.cfg.RefreshTTL
	}
	return s.cfg.AccessTTL
}

// Issue signs a new token of the given kind bound to (userID, sessionID).
func (s *Service) Issue(kind Kind, userID, sessionID string, rememberMe bool, now time.Time) (string, time.Time, error) {
	exp := now.Add(s.TTL(kind, rememberMe))

	tok := paseto.NewToken()
	tok.SetIssuer(s.cfg.Issuer)
	tok.SetAudience(s.cfg.Audience)
	tok.SetSubject(userID)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)

	_ = tok.Set("typ", string(kind))
	_ = tok.Set("sid", sessionID)
	_ = tok.Set("rm", rememberMe)

	signed := tok.V4Sign(s.secret, nil)

	s.notify.Publish("auth.token.issued", map[string]any{
		"kind":       string(kind),
		"user_id":    userID,
		"session_id": sessionID,
	})

	return signed, exp, nil
}

// Verify checks signature, revocation, issuer/audience, expiry and required
// claims. The revocation lookup happens first: a revoked fingerprint yields
// ErrTokenRevoked regardless of claim validity.
func (s *Service) Verify(signed string, now time.Time) (Claims, error) {
	if s.revoked != nil && s.revoked.Contains(sectoken.Fingerprint(signed)) {
		return Claims{}, ErrTokenRevoked
	}

	// Expiry is classified manually below so expired and malformed tokens
	// produce distinct errors.
	p := paseto.NewParserWithoutExpiryCheck()
	p.AddRule(paseto.IssuedBy(s.cfg.Issuer))
	p.AddRule(paseto.ForAudience(s.cfg.Audience))

	parsed, err := p.ParseV4Public(s.public, signed, nil)
	if err != nil {
		return Claims{}, ErrTokenMalformed
	}

	exp, err := parsed.GetExpiration()
	if err != nil {
		return Claims{}, ErrTokenMalformed
	}
	if now.After(exp.Add(s.cfg.ClockSkew)) {
		return Claims{}, ErrTokenExpired
	}

	sub, err := parsed.GetSubject()
	if err != nil || sub == "" {
		return Claims{}, ErrTokenMalformed
	}
	typ, err := parsed.GetString("typ")
	if err != nil || (typ != string(KindAccess) && typ != string(KindRefresh)) {
		return Claims{}, ErrTokenMalformed
	}
	sid, err := parsed.GetString("sid")
	if err != nil || sid == "" {
		return Claims{}, ErrTokenMalformed
	}

	var rm bool
	_ = parsed.Get("rm", &rm)

	iss, _ := parsed.GetIssuer()
	aud, _ := parsed.GetAudience()
	iat, _ := parsed.GetIssuedAt()

	return Claims{
		UserID:     sub,
		SessionID:  sid,
		Kind:       Kind(typ),
		RememberMe: rm,
		Issuer:     iss,
		Audience:   aud,
		IssuedAt:   iat,
		ExpiresAt:  exp,
	}, nil
}

// VerifyKind verifies the token and additionally enforces its kind.
// An access token must never be accepted where a refresh token is required
// and vice versa.
func (s *Service) VerifyKind(signed string, kind Kind, now time.Time) (Claims, error) {
	claims, err := s.Verify(signed, now)
	if err != nil {
		return Claims{}, err
	}
	if claims.Kind != kind {
		return Claims{}, ErrWrongTokenType
	}
	return claims, nil
}
