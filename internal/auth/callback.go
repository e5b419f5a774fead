package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultCallbackTTL = time.Hour
	callbackIssuer     = "raidbot"
	callbackAudience   = "raidbot-reactions"
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingChatClaim     = errors.New("callback token missing chat claim")

	// ErrInvalidCallbackToken indicates the callback data did not originate
	// from a button this process signed.
	ErrInvalidCallbackToken = errors.New("auth: invalid callback token")
)

// CallbackIssuerConfig configures the reaction callback signer.
type CallbackIssuerConfig struct {
	SigningSecret []byte
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// CallbackIssuer signs the opaque callback data embedded in reaction
// buttons and validates it when a callback arrives. The payload is the chat
// the button was posted to; the platform supplies the message id with the
// callback itself.
type CallbackIssuer struct {
	secret []byte
	ttl    time.Duration
	clock  func() time.Time
}

// NewCallbackIssuer constructs a CallbackIssuer with sane defaults.
func NewCallbackIssuer(cfg CallbackIssuerConfig) (*CallbackIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultCallbackTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &CallbackIssuer{
		secret: append([]byte(nil), cfg.SigningSecret...),
		ttl:    ttl,
		clock:  clock,
	}, nil
}

// Issue produces signed callback data binding a reaction button to its
// chat.
func (i *CallbackIssuer) Issue(chatID int64) (string, error) {
	now := i.clock().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(chatID, 10),
		Issuer:    callbackIssuer,
		Audience:  []string{callbackAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Validate checks the callback data and returns the chat id it was issued
// for.
func (i *CallbackIssuer) Validate(tokenString string) (int64, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return i.secret, nil
		},
		jwt.WithAudience(callbackAudience),
		jwt.WithIssuer(callbackIssuer),
		jwt.WithTimeFunc(i.clock),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidCallbackToken, err)
	}
	if claims.Subject == "" {
		return 0, fmt.Errorf("%w: %v", ErrInvalidCallbackToken, errMissingChatClaim)
	}
	chatID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed chat id: %v", ErrInvalidCallbackToken, err)
	}
	return chatID, nil
}
