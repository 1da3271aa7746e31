// Package auth issues and verifies device tokens (HS256 JWTs).
package auth

import (
	"errors"
	"time"

	"github.com/villagecompute/posoffline/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// DeviceClaims carries the identity an activated terminal presents on every
// authenticated call. TenantID scopes every query the token authorizes.
type DeviceClaims struct {
	jwt.RegisteredClaims
	TenantID string
	DeviceID string
}

// GenerateDeviceToken signs a token for a paired device.
func GenerateDeviceToken(tenantID, deviceID string, secretKey []byte, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, DeviceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
		},
		TenantID: tenantID,
		DeviceID: deviceID,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// ParseDeviceToken verifies a token and returns its claims. Expired tokens
// map to common.ErrTokenExpired, any other verification failure to
// common.ErrInvalidToken.
func ParseDeviceToken(tokenString string, secretKey []byte) (*DeviceClaims, error) {
	claims := &DeviceClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, common.ErrInvalidToken
	}

	if !token.Valid {
		return nil, common.ErrInvalidToken
	}

	return claims, nil
}
