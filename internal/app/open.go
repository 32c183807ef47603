package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/n3c4s/alohomora/internal/config"
	"github.com/n3c4s/alohomora/internal/device"
	"github.com/n3c4s/alohomora/internal/storage"
)

const localDeviceKey = "device"

type storedDevice struct {
	ID string `json:"id"`
}

// LocalDevice gives detected the device id kept in blobs, storing detected's
// id on first use so the device keeps its identity across restarts.
func LocalDevice(ctx context.Context, blobs storage.BlobStore, detected *device.Info) (*device.Info, error) {
	d := detected.Clone()
	raw, err := blobs.Get(ctx, localDeviceKey)
	switch {
	case err == nil:
		var s storedDevice
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("app: decode local device: %w", err)
		}
		if s.ID != "" {
			d.ID = s.ID
			return d, nil
		}
	case !errors.Is(err, storage.ErrNotFound):
		return nil, err
	}
	raw, err = json.Marshal(storedDevice{ID: d.ID})
	if err != nil {
		return nil, err
	}
	if err := blobs.Put(ctx, localDeviceKey, raw); err != nil {
		return nil, err
	}
	return d, nil
}

// Open builds an App from cfg. Storage and the local device are taken from d
// when set, otherwise opened from the vault section and detected.
func Open(ctx context.Context, cfg *config.Config, version string, d Deps) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sync, err := cfg.ManagerConfig()
	if err != nil {
		return nil, err
	}
	d.Sync = sync
	d.Cipher = cfg.Cipher()
	d.KDF = cfg.Vault.KDF

	if d.Blobs == nil {
		d.Blobs, err = storage.Open(ctx, cfg.Vault.Storage)
		if err != nil {
			return nil, fmt.Errorf("app: open storage: %w", err)
		}
	}
	if d.Local == nil {
		detected := device.DetectLocal(version).Device
		if cfg.Device.Name != "" {
			detected.Name = cfg.Device.Name
		}
		if cfg.Device.Type != "" {
			detected.Type = device.ParseType(cfg.Device.Type)
		}
		d.Local, err = LocalDevice(ctx, d.Blobs, detected)
		if err != nil {
			_ = d.Blobs.Close()
			return nil, err
		}
	}

	a, err := New(ctx, d)
	if err != nil {
		_ = d.Blobs.Close()
		return nil, err
	}
	return a, nil
}
