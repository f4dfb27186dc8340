package services

import (
	"crypto/subtle"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"voxrelay/internal/core/domain"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrUnauthorized = errors.New("unauthorized")
)

// AuthService issues and validates the JWTs protecting the relay's HTTP
// control surface. Tokens are minted by exchanging the shared API secret.
type AuthService interface {
	ExchangeSecret(apiSecret, name string, role domain.ClientRole) (string, time.Time, error)
	GenerateToken(client domain.APIClient) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
	RequireRole(claims *Claims, required domain.ClientRole) error
}

type Claims struct {
	ClientID domain.ClientID   `json:"client_id"`
	Name     string            `json:"name"`
	Role     domain.ClientRole `json:"role"`
	jwt.RegisteredClaims
}

func (c *Claims) Client() domain.APIClient {
	client := domain.APIClient{
		ID:   c.ClientID,
		Name: c.Name,
		Role: c.Role,
	}
	if c.IssuedAt != nil {
		client.IssuedAt = c.IssuedAt.Time
	}
	return client
}

type authService struct {
	jwtSecret []byte
	apiSecret string
	tokenTTL  time.Duration
}

func NewAuthService(jwtSecret, apiSecret string, tokenTTL time.Duration) AuthService {
	return &authService{
		jwtSecret: []byte(jwtSecret),
		apiSecret: apiSecret,
		tokenTTL:  tokenTTL,
	}
}

// ExchangeSecret trades the shared API secret for a client token. The secret
// comparison is constant time.
func (s *authService) ExchangeSecret(apiSecret, name string, role domain.ClientRole) (string, time.Time, error) {
	if s.apiSecret == "" {
		return "", time.Time{}, ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(apiSecret), []byte(s.apiSecret)) != 1 {
		return "", time.Time{}, ErrUnauthorized
	}
	if role != domain.RoleOperator && role != domain.RoleConsumer {
		role = domain.RoleConsumer
	}

	client := domain.APIClient{
		ID:       domain.ClientID(uuid.NewString()),
		Name:     name,
		Role:     role,
		IssuedAt: time.Now(),
	}
	token, err := s.GenerateToken(client)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, client.IssuedAt.Add(s.tokenTTL), nil
}

func (s *authService) GenerateToken(client domain.APIClient) (string, error) {
	issuedAt := client.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now()
	}

	claims := &Claims{
		ClientID: client.ID,
		Name:     client.Name,
		Role:     client.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}

// RequireRole enforces the operator > consumer hierarchy.
func (s *authService) RequireRole(claims *Claims, required domain.ClientRole) error {
	if claims == nil {
		return ErrUnauthorized
	}

	roleLevel := map[domain.ClientRole]int{
		domain.RoleConsumer: 1,
		domain.RoleOperator: 2,
	}

	if roleLevel[claims.Role] >= roleLevel[required] && roleLevel[claims.Role] > 0 {
		return nil
	}
	return ErrUnauthorized
}
