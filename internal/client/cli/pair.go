package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/villagecompute/posoffline/internal/common"
	"github.com/villagecompute/posoffline/internal/wire"
)

// getSimpleText and getPairingCode are indirections used to facilitate
// testing. They point to interactive input helpers and can be swapped in tests.
var getSimpleText = GetSimpleText
var getPairingCode = GetPairingCode

// Pair registers this terminal with the server and completes activation with
// a staff-entered pairing code.
//
// Flow:
//  1. Prompt for the device identifier and a display name, then initiate
//     pairing. The server issues a short-lived code to the merchant's back
//     office.
//  2. Prompt for the code (read without echo) and complete pairing. The
//     response carries the device encryption key and a device token.
//  3. Store the key as the current version and persist the token for
//     subsequent authenticated calls.
//
// The pairing code and key material are wiped before returning.
func (a *App) Pair(ctx context.Context) error {
	tenantID, err := getSimpleText(a.reader, "Enter merchant id", os.Stdout)
	if err != nil {
		return err
	}
	identifier, err := getSimpleText(a.reader, "Enter device identifier (serial)", os.Stdout)
	if err != nil {
		return err
	}
	name, err := getSimpleText(a.reader, "Enter device name", os.Stdout)
	if err != nil {
		return err
	}

	initResp, err := a.api.PairDevice(ctx, wire.PairDeviceRequest{
		TenantID:         tenantID,
		DeviceIdentifier: identifier,
		DeviceName:       name,
	})
	if err != nil {
		fmt.Printf("Pairing failed: %s\n", err.Error())
		return err
	}
	fmt.Printf("Device %s registered. A pairing code was issued (valid until %s).\n",
		initResp.DeviceID, initResp.PairingExpiresAt)

	code, err := getPairingCode(os.Stdout)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(code)

	resp, err := a.api.CompletePairing(ctx, wire.CompletePairingRequest{
		TenantID:         tenantID,
		DeviceIdentifier: identifier,
		PairingCode:      string(code),
	})
	if err != nil {
		fmt.Printf("Activation failed: %s\n", err.Error())
		return err
	}
	defer common.WipeByteArray(resp.EncryptionKey)

	if err := a.queue.StoreDeviceKey(ctx, resp.DeviceID, resp.EncryptionKey, resp.EncryptionKeyVersion); err != nil {
		return err
	}

	a.api.SetDeviceToken(resp.DeviceToken)
	if err := a.saveDeviceToken(resp.DeviceToken); err != nil {
		a.logger.Warn(ctx, "device token not persisted", "error", err.Error())
	}

	fmt.Printf("Paired as %s (key version %d)\n", resp.DeviceID, resp.EncryptionKeyVersion)
	return nil
}

// Rotate asks the server for a fresh encryption key and installs it as the
// current version. Entries sealed under the old version keep their version
// number and still reconcile.
func (a *App) Rotate(ctx context.Context) error {
	resp, err := a.api.RotateKey(ctx)
	if err != nil {
		fmt.Printf("Key rotation failed: %s\n", err.Error())
		return err
	}
	defer common.WipeByteArray(resp.EncryptionKey)

	if err := a.queue.StoreDeviceKey(ctx, resp.DeviceID, resp.EncryptionKey, resp.EncryptionKeyVersion); err != nil {
		return err
	}

	fmt.Printf("Key rotated (version %d)\n", resp.EncryptionKeyVersion)
	return nil
}
