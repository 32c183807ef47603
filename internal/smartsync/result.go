package smartsync

import "time"

// SyncResult reports one sync run against one device.
type SyncResult struct {
	DeviceID       string        `json:"device_id"`
	Success        bool          `json:"success"`
	ElementsSynced int           `json:"elements_synced"`
	DataSize       int           `json:"data_size"`
	Duration       time.Duration `json:"duration"`
	ErrorMessage   string        `json:"error_message,omitempty"`
	Err            error         `json:"-"`
}

func successResult(deviceID string, n, size int, d time.Duration) SyncResult {
	return SyncResult{DeviceID: deviceID, Success: true, ElementsSynced: n, DataSize: size, Duration: d}
}

func failureResult(deviceID string, n, size int, d time.Duration, err error) SyncResult {
	return SyncResult{
		DeviceID:       deviceID,
		ElementsSynced: n,
		DataSize:       size,
		Duration:       d,
		ErrorMessage:   err.Error(),
		Err:            err,
	}
}

// State is a snapshot of the engine.
type State struct {
	IsActive         bool       `json:"is_active"`
	LastSync         *time.Time `json:"last_sync,omitempty"`
	NextSync         *time.Time `json:"next_sync,omitempty"`
	SyncingDevices   []string   `json:"syncing_devices"`
	PendingChanges   int        `json:"pending_changes"`
	PendingConflicts int        `json:"pending_conflicts"`
}

type Stats struct {
	TotalSyncs        uint64        `json:"total_syncs"`
	SuccessfulSyncs   uint64        `json:"successful_syncs"`
	FailedSyncs       uint64        `json:"failed_syncs"`
	TotalDataSynced   uint64        `json:"total_data_synced"`
	LastSyncDuration  time.Duration `json:"last_sync_duration"`
	DevicesSyncedWith []string      `json:"devices_synced_with"`
}
