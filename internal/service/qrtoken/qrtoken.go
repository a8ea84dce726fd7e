// Package qrtoken mints and verifies signed merchant QR payloads. A payload
// carries the validated {merchant, amount, nonce} tuple the payment
// processor consumes; signing keeps a displayed code from being tampered
// with between mint and scan.
package qrtoken

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/tap2-payments/tap2-wallet/internal/apperrors"
)

const (
	defaultPayloadTTL    = 5 * time.Minute
	defaultSigningMethod = "HS256"
)

type payloadClaims struct {
	jwt.RegisteredClaims
	MerchantID  uuid.UUID `json:"mid"`
	AmountMinor int64     `json:"amt"`
	TipMinor    int64     `json:"tip,omitempty"`
	Nonce       string    `json:"nonce"`
}

// Payload is the validated tuple carried by a QR code.
type Payload struct {
	MerchantID  uuid.UUID
	AmountMinor int64
	TipMinor    int64
	Nonce       string
	ExpiresAt   time.Time
}

type Config struct {
	// Secret key to sign payloads. Required to be set
	SecretKey string

	// Payload lifetime. If not set then default is used
	TTL time.Duration
}

type Manager struct {
	key []byte
	alg jwt.SigningMethod
	ttl time.Duration
}

func New(cfg Config) (*Manager, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}
	if cfg.TTL == 0 {
		cfg.TTL = defaultPayloadTTL
	}

	return &Manager{
		key: []byte(cfg.SecretKey),
		alg: jwt.GetSigningMethod(defaultSigningMethod),
		ttl: cfg.TTL,
	}, nil
}

// Mint signs a payload for the merchant's displayed amount. Each mint gets
// a fresh nonce, so every displayed code is single-use.
func (m *Manager) Mint(merchantID uuid.UUID, amountMinor int64, tipMinor int64) (string, Payload, error) {
	if amountMinor < 0 || tipMinor < 0 {
		return "", Payload{}, fmt.Errorf("%w: amounts must not be negative", apperrors.ErrValidation)
	}

	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", Payload{}, fmt.Errorf("error while generating nonce. Err: %w", err)
	}
	nonce := hex.EncodeToString(b)

	now := time.Now().Truncate(time.Second)
	expiresAt := now.Add(m.ttl)

	token := jwt.NewWithClaims(m.alg, payloadClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		MerchantID:  merchantID,
		AmountMinor: amountMinor,
		TipMinor:    tipMinor,
		Nonce:       nonce,
	})

	signed, err := token.SignedString(m.key)
	if err != nil {
		return "", Payload{}, fmt.Errorf("error while signing payload. Err: %w", err)
	}

	return signed, Payload{
		MerchantID:  merchantID,
		AmountMinor: amountMinor,
		TipMinor:    tipMinor,
		Nonce:       nonce,
		ExpiresAt:   expiresAt,
	}, nil
}

// Verify checks the signature and expiry and returns the validated tuple.
func (m *Manager) Verify(tokenString string) (Payload, error) {
	var claims payloadClaims

	_, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		return m.key, nil
	}, jwt.WithValidMethods([]string{m.alg.Alg()}), jwt.WithExpirationRequired())

	if err != nil {
		return Payload{}, fmt.Errorf("%w: %w", apperrors.ErrQRPayloadInvalid, err)
	}
	if claims.Nonce == "" {
		return Payload{}, fmt.Errorf("%w: missing nonce", apperrors.ErrQRPayloadInvalid)
	}

	return Payload{
		MerchantID:  claims.MerchantID,
		AmountMinor: claims.AmountMinor,
		TipMinor:    claims.TipMinor,
		Nonce:       claims.Nonce,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

// PNG renders the signed payload as a scannable QR image. The token is
// verified first so the endpoint never serves images for forged payloads.
func (m *Manager) PNG(tokenString string, size int) ([]byte, error) {
	if _, err := m.Verify(tokenString); err != nil {
		return nil, err
	}

	if size <= 0 {
		size = 256
	}

	png, err := qrcode.Encode(tokenString, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("error while encoding qr image. Err: %w", err)
	}

	return png, nil
}
