package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// Claims represents the JWT claims for an authenticated operator
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Service handles authentication for the admin endpoints
type Service struct {
	jwtSecret     []byte
	tokenDuration time.Duration

	adminUser string
	adminHash string
}

// NewService creates a new auth service
func NewService(jwtSecret string, tokenDuration time.Duration, adminUser, adminHash string) *Service {
	if tokenDuration == 0 {
		tokenDuration = 24 * time.Hour
	}
	return &Service{
		jwtSecret:     []byte(jwtSecret),
		tokenDuration: tokenDuration,
		adminUser:     adminUser,
		adminHash:     adminHash,
	}
}

// HashPassword creates a bcrypt hash of a password
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(hash), err
}

// CheckPassword compares a password against a hash
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Login verifies operator credentials and returns a signed token
func (s *Service) Login(username, password string) (string, error) {
	if username != s.adminUser || s.adminHash == "" || !CheckPassword(password, s.adminHash) {
		return "", ErrInvalidCredentials
	}
	return s.GenerateToken(username)
}

// GenerateToken creates a JWT for an authenticated operator
func (s *Service) GenerateToken(username string) (string, error) {
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ValidateToken validates a JWT and returns the claims
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	})

	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
