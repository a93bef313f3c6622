package service

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Common auth errors.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrNotSubject   = errors.New("token does not identify an assessment subject")
)

// TokenTypeSubject marks tokens issued to job applicants.
const TokenTypeSubject = "subject"

// Claims extends JWT standard claims with app-specific fields. Tokens are
// issued by the jobs platform; this service only verifies them.
type Claims struct {
	jwt.RegisteredClaims
	TokenType string `json:"token_type"`
	SubjectID int    `json:"subject_id"`
}

// AuthService verifies bearer tokens.
type AuthService struct {
	secret []byte
}

// NewAuthService creates a new AuthService.
func NewAuthService(secret string) *AuthService {
	return &AuthService{secret: []byte(secret)}
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// ValidateSubjectToken validates a token and requires subject claims.
func (s *AuthService) ValidateSubjectToken(tokenStr string) (*Claims, error) {
	claims, err := s.ValidateToken(tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeSubject || claims.SubjectID <= 0 {
		return nil, ErrNotSubject
	}
	return claims, nil
}
