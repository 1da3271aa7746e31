package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/villagecompute/posoffline/internal/common"
)

func TestGenerateAndParse_Success(t *testing.T) {
	t.Parallel()

	secret := []byte("super-secret")

	tok, err := GenerateDeviceToken("tenant-1", "device-1", secret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateDeviceToken error: %v", err)
	}

	claims, err := ParseDeviceToken(tok, secret)
	if err != nil {
		t.Fatalf("ParseDeviceToken error: %v", err)
	}
	if claims.TenantID != "tenant-1" || claims.DeviceID != "device-1" {
		t.Fatalf("claims mismatch: %+v", claims)
	}
}

func TestParseDeviceToken_Expired(t *testing.T) {
	t.Parallel()

	secret := []byte("secret")

	tok, err := GenerateDeviceToken("t1", "d1", secret, -1*time.Second)
	if err != nil {
		t.Fatalf("GenerateDeviceToken error: %v", err)
	}

	_, err = ParseDeviceToken(tok, secret)
	if !errors.Is(err, common.ErrTokenExpired) {
		t.Fatalf("expected common.ErrTokenExpired, got %v", err)
	}
}

func TestParseDeviceToken_WrongSecret(t *testing.T) {
	t.Parallel()

	tok, err := GenerateDeviceToken("t1", "d1", []byte("right-secret"), time.Hour)
	if err != nil {
		t.Fatalf("GenerateDeviceToken error: %v", err)
	}

	_, err = ParseDeviceToken(tok, []byte("wrong-secret"))
	if !errors.Is(err, common.ErrInvalidToken) {
		t.Fatalf("expected common.ErrInvalidToken, got %v", err)
	}
}

func TestParseDeviceToken_MalformedString(t *testing.T) {
	t.Parallel()

	_, err := ParseDeviceToken("not.a.jwt", []byte("k"))
	if err == nil {
		t.Fatalf("expected error for malformed token, got nil")
	}
}
