package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// DeviceIDKey is the context key for the authenticated device ID
	DeviceIDKey ContextKey = "device_id"
	// PrimaryDeviceKey is the context key for the primary device flag
	PrimaryDeviceKey ContextKey = "primary_device"
)

// Claims represents the JWT claims for a paired device
type Claims struct {
	DeviceID uuid.UUID `json:"device_id"`
	Primary  bool      `json:"primary"`
	jwt.RegisteredClaims
}

// JWTService handles JWT token generation and validation
type JWTService struct {
	secret []byte
}

// NewJWTService creates a new JWT service
func NewJWTService(secret string) *JWTService {
	return &JWTService{
		secret: []byte(secret),
	}
}

// GenerateToken generates a new JWT token for a paired device
func (s *JWTService) GenerateToken(deviceID uuid.UUID, primary bool) (string, error) {
	expirationTime := time.Now().Add(24 * time.Hour)

	claims := &Claims{
		DeviceID: deviceID,
		Primary:  primary,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "payledger",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// ValidateToken validates a JWT token and returns the claims
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method (prevent algorithm confusion attacks)
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}

// RefreshToken generates a new token for an existing valid token
func (s *JWTService) RefreshToken(tokenString string) (string, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return "", fmt.Errorf("invalid token for refresh: %w", err)
	}

	return s.GenerateToken(claims.DeviceID, claims.Primary)
}

// JWTMiddleware creates a middleware that validates JWT tokens
func JWTMiddleware(jwtService *JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "invalid authorization header format", http.StatusUnauthorized)
				return
			}

			claims, err := jwtService.ValidateToken(parts[1])
			if err != nil {
				http.Error(w, "invalid or expired token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), DeviceIDKey, claims.DeviceID)
			ctx = context.WithValue(ctx, PrimaryDeviceKey, claims.Primary)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetDeviceIDFromContext extracts the device ID from the request context
func GetDeviceIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	deviceID, ok := ctx.Value(DeviceIDKey).(uuid.UUID)
	return deviceID, ok
}

// IsPrimaryDevice reports whether the request came from the primary device
func IsPrimaryDevice(ctx context.Context) bool {
	primary, ok := ctx.Value(PrimaryDeviceKey).(bool)
	return ok && primary
}
