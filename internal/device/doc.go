// Package device provides the device catalog consulted by the script engine.
//
// The catalog answers one question on the hot path: does device N still
// exist? Keep-alive loops bound to a device stop as soon as it is gone, and
// scripts ask through devices.exists. Devices arrive and leave through the
// MQTT bridge; the catalog persists them in SQLite so a restart keeps the
// known set.
//
// # Architecture
//
//	┌──────────────────┐    ┌──────────────────┐
//	│     Registry     │───▶│    Repository    │───▶ SQLite (devices table)
//	│ • in-memory cache│    │ • SQL queries    │
//	│ • Exists (O(1))  │    └──────────────────┘
//	└──────────────────┘
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.DB)
//	registry := device.NewRegistry(repo)
//	registry.SetLogger(log)
//
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	registry.AddDevice(ctx, &device.Device{ID: 42, Name: "Hall dimmer"})
//	registry.Exists(42) // true
//
// # Thread Safety
//
// The Registry is safe for concurrent use. The Repository implementation must
// also be thread-safe.
package device
