// Package config manages the engine's top-level configuration: the
// Endpoint Manager options, Executioner options, and default transfer-agent
// parameters named in spec.md §6. This config carries no secrets, so it is
// stored as plain indented JSON.
package config

import (
	"encoding/json"
	"time"
)

// ChainRole distinguishes the relay chain from an asset-hub-style parachain.
type ChainRole string

const (
	ChainRoleRelay    ChainRole = "relay"
	ChainRoleAssetHub ChainRole = "asset_hub"
)

// EndpointManagerConfig mirrors spec.md §6's endpoint manager option block.
type EndpointManagerConfig struct {
	Endpoints         map[ChainRole][]string `json:"endpoints"`
	FailoverCooldownMs int64                 `json:"failoverCooldownMs"`
	ConnectTimeoutMs   int64                 `json:"connectTimeoutMs"`
	InitTimeoutMs      int64                 `json:"initTimeoutMs"`
	HealthPollMs       int64                 `json:"healthPollMs"`
	EnablePoll         bool                  `json:"enablePoll"`
	StorageKey         string                `json:"storageKey,omitempty"`
	HealthMaxAgeMs     int64                 `json:"healthMaxAgeMs"`
}

// DefaultEndpointManagerConfig returns the spec.md §6 defaults.
func DefaultEndpointManagerConfig() EndpointManagerConfig {
	return EndpointManagerConfig{
		Endpoints:          map[ChainRole][]string{},
		FailoverCooldownMs: 300_000,
		ConnectTimeoutMs:   10_000,
		InitTimeoutMs:      12_000,
		HealthPollMs:       600_000,
		EnablePoll:         true,
		HealthMaxAgeMs:     86_400_000,
	}
}

// ExecutionerConfig mirrors spec.md §6's executioner option block.
type ExecutionerConfig struct {
	ContinueOnError  bool  `json:"continueOnError"`
	AllowBatching    bool  `json:"allowBatching"`
	Sequential       bool  `json:"sequential"`
	TimeoutMs        int64 `json:"timeoutMs"`
	AutoApprove      bool  `json:"autoApprove"`
	EnableSimulation bool  `json:"enableSimulation"`
}

// DefaultExecutionerConfig returns the spec.md §6 defaults.
func DefaultExecutionerConfig() ExecutionerConfig {
	return ExecutionerConfig{
		ContinueOnError:  false,
		AllowBatching:    true,
		Sequential:       true,
		TimeoutMs:        300_000,
		AutoApprove:      false,
		EnableSimulation: false,
	}
}

// TransferAgentDefaults mirrors spec.md §6's transfer-agent parameter block.
type TransferAgentDefaults struct {
	Chain            ChainRole `json:"chain"`
	KeepAlive        bool      `json:"keepAlive"`
	ValidateBalance  bool      `json:"validateBalance"`
	EnableSimulation bool      `json:"enableSimulation"`
}

// DefaultTransferAgentDefaults returns the spec.md §6 defaults.
func DefaultTransferAgentDefaults() TransferAgentDefaults {
	return TransferAgentDefaults{
		Chain:            ChainRoleAssetHub,
		KeepAlive:        false,
		ValidateBalance:  true,
		EnableSimulation: false,
	}
}

// EngineConfig is the top-level configuration object for the engine.
type EngineConfig struct {
	Version        string                `json:"version"`
	CreatedAt      time.Time             `json:"createdAt"`
	UpdatedAt      time.Time             `json:"updatedAt"`
	EndpointManager EndpointManagerConfig `json:"endpointManager"`
	Executioner     ExecutionerConfig     `json:"executioner"`
	TransferAgent   TransferAgentDefaults `json:"transferAgent"`
}

// New creates an EngineConfig populated with spec.md §6 defaults.
func New() *EngineConfig {
	now := time.Now()
	return &EngineConfig{
		Version:         "1.0.0",
		CreatedAt:       now,
		UpdatedAt:       now,
		EndpointManager: DefaultEndpointManagerConfig(),
		Executioner:     DefaultExecutionerConfig(),
		TransferAgent:   DefaultTransferAgentDefaults(),
	}
}

// WithEndpoints sets the endpoint list for a chain role and returns the
// receiver for chaining.
func (c *EngineConfig) WithEndpoints(role ChainRole, endpoints []string) *EngineConfig {
	if c.EndpointManager.Endpoints == nil {
		c.EndpointManager.Endpoints = map[ChainRole][]string{}
	}
	c.EndpointManager.Endpoints[role] = endpoints
	c.UpdatedAt = time.Now()
	return c
}

// ToJSON serializes the config to indented JSON.
func (c *EngineConfig) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// FromJSON deserializes an EngineConfig from JSON.
func FromJSON(data []byte) (*EngineConfig, error) {
	var cfg EngineConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
