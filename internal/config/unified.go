package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mediacore/pipelinecore/internal/limits"
)

// UnifiedConfig is the single configuration file format for mediacore.jsonc:
// server addresses, process-wide resource limits, auth, logging, and the
// set of node types this instance's registry should have available at
// startup.
type UnifiedConfig struct {
	Server  ServerSection  `json:"server"`
	Limits  LimitsSection  `json:"limits"`
	Logging LoggingSection `json:"logging"`
	Auth    AuthSection    `json:"auth"`
	Nodes   []NodeSection  `json:"nodes"`
}

// ServerSection configures the transport listeners.
type ServerSection struct {
	Address        string `json:"address"`
	MetricsAddress string `json:"metrics_address"`
	RateLimitRPS   int    `json:"rate_limit_rps"`
	RateLimitBurst int    `json:"rate_limit_burst"`
}

// LimitsSection mirrors limits.Config, expressed in the JSONC-friendly
// units (seconds, megabytes) an operator edits directly.
type LimitsSection struct {
	MaxConcurrentSessions        int `json:"max_concurrent_sessions"`
	MaxConnections                int `json:"max_connections"`
	MaxPendingRequests             int `json:"max_pending_requests"`
	DefaultSessionTimeoutSeconds   int `json:"default_session_timeout_seconds"`
	DefaultPerNodeTimeoutSeconds    int `json:"default_per_node_timeout_seconds"`
	MaxSessionMemoryMB              int `json:"max_session_memory_mb"`
	LoadSheddingCPUPercent          int `json:"load_shedding_cpu_percent"`
	LoadSheddingMemoryPercent       int `json:"load_shedding_memory_percent"`
	GraceShutdownSeconds            int `json:"grace_shutdown_seconds"`
}

// ToLimitsConfig converts the JSONC-friendly section into limits.Config.
func (l LimitsSection) ToLimitsConfig() limits.Config {
	return limits.Config{
		MaxConcurrentSessions:     l.MaxConcurrentSessions,
		MaxConnections:            l.MaxConnections,
		MaxPendingRequests:        l.MaxPendingRequests,
		DefaultSessionTimeout:     time.Duration(l.DefaultSessionTimeoutSeconds) * time.Second,
		DefaultPerNodeTimeout:     time.Duration(l.DefaultPerNodeTimeoutSeconds) * time.Second,
		MaxSessionMemoryBytes:     int64(l.MaxSessionMemoryMB) << 20,
		LoadSheddingCPUPercent:    l.LoadSheddingCPUPercent,
		LoadSheddingMemoryPercent: l.LoadSheddingMemoryPercent,
		GraceShutdown:             time.Duration(l.GraceShutdownSeconds) * time.Second,
	}
}

// LoggingSection configures both the plain dual-writer and the structured
// slog JSON writer (internal/logger carries both).
type LoggingSection struct {
	Dir  string `json:"dir"`
	JSON bool   `json:"json"`
}

// AuthSection configures the optional token store and rate limiter
// (internal/auth). Enabled false means the store is never opened and the
// server accepts every request unauthenticated.
type AuthSection struct {
	Enabled           bool    `json:"enabled"`
	DataDir           string  `json:"data_dir"`
	RateLimitRPS      float64 `json:"rate_limit_rps"`
	RateLimitBurst    int     `json:"rate_limit_burst"`
}

// NodeVariant names which executor variant hosts a declared node type.
type NodeVariant string

const (
	VariantSubprocess NodeVariant = "subprocess"
	VariantContainer  NodeVariant = "container"
	VariantRemote     NodeVariant = "remote"
)

// NodeSection declares one manifest node type and how the registry should
// host it. Exactly one of Subprocess/Container/Remote should be set,
// matching Variant.
type NodeSection struct {
	Type    string      `json:"type"`
	Variant NodeVariant `json:"variant"`

	Subprocess *SubprocessNodeSection `json:"subprocess,omitempty"`
	Container  *ContainerNodeSection  `json:"container,omitempty"`
	Remote     *RemoteNodeSection     `json:"remote,omitempty"`

	Capabilities CapabilitiesSection `json:"capabilities,omitempty"`

	ShutdownGraceSeconds int `json:"shutdown_grace_seconds,omitempty"`
}

// SubprocessNodeSection configures a subprocess.Spec for this node type.
type SubprocessNodeSection struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Env     []string `json:"env,omitempty"`
}

// ContainerNodeSection configures a container.Spec for this node type.
type ContainerNodeSection struct {
	Image       string   `json:"image"`
	Cmd         []string `json:"cmd,omitempty"`
	MemoryBytes int64    `json:"memory_bytes,omitempty"`
	CPUCores    int      `json:"cpu_cores,omitempty"`
	GPUDevices  []string `json:"gpu_devices,omitempty"`
}

// RemoteNodeSection names a transport already registered in the runtime's
// transport.Registry that forwards this node type to another runtime
// instance. The config layer never constructs network transports itself —
// it only names which already-registered one to use, per the transport
// abstraction's plugin boundary.
type RemoteNodeSection struct {
	TransportName string `json:"transport_name"`
}

// CapabilitiesSection mirrors registry.CapabilityDescriptor's declarable
// fields in JSONC form.
type CapabilitiesSection struct {
	RequiresThreads     bool   `json:"requires_threads,omitempty"`
	RequiresNativeLibs  bool   `json:"requires_native_libs,omitempty"`
	RequiresGPU         bool   `json:"requires_gpu,omitempty"`
	GPUKind             string `json:"gpu_kind,omitempty"`
	RequiresLargeMemory bool   `json:"requires_large_memory,omitempty"`
	EstimatedMemoryMB   int    `json:"estimated_memory_mb,omitempty"`
}

// FindConfigPath returns the path to mediacore.jsonc using precedence:
// 1. configDir + /mediacore.jsonc (if configDir specified)
// 2. ./config/mediacore.jsonc (project-local)
// 3. ~/.mediacore/config/mediacore.jsonc (user global)
func FindConfigPath(configDir string) (string, error) {
	var candidates []string

	if configDir != "" {
		candidates = append(candidates, filepath.Join(configDir, "mediacore.jsonc"))
	}
	candidates = append(candidates, filepath.Join("config", "mediacore.jsonc"))

	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".mediacore", "config", "mediacore.jsonc"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			if abs, err := filepath.Abs(path); err == nil {
				return abs, nil
			}
			return path, nil
		}
	}

	return "", fmt.Errorf("mediacore.jsonc not found; tried: %v", candidates)
}

// LoadUnifiedConfig loads configuration from a single mediacore.jsonc file.
func LoadUnifiedConfig(configPath string) (*UnifiedConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", configPath, err)
	}

	jsonData := StripJSONComments(data)

	var cfg UnifiedConfig
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", configPath, err)
	}

	applyUnifiedDefaults(&cfg)
	return &cfg, nil
}

func applyUnifiedDefaults(cfg *UnifiedConfig) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.MetricsAddress == "" {
		cfg.Server.MetricsAddress = ":9090"
	}

	def := limits.DefaultConfig()
	if cfg.Limits.MaxConcurrentSessions == 0 {
		cfg.Limits.MaxConcurrentSessions = def.MaxConcurrentSessions
	}
	if cfg.Limits.MaxConnections == 0 {
		cfg.Limits.MaxConnections = def.MaxConnections
	}
	if cfg.Limits.MaxPendingRequests == 0 {
		cfg.Limits.MaxPendingRequests = def.MaxPendingRequests
	}
	if cfg.Limits.DefaultSessionTimeoutSeconds == 0 {
		cfg.Limits.DefaultSessionTimeoutSeconds = int(def.DefaultSessionTimeout.Seconds())
	}
	if cfg.Limits.DefaultPerNodeTimeoutSeconds == 0 {
		cfg.Limits.DefaultPerNodeTimeoutSeconds = int(def.DefaultPerNodeTimeout.Seconds())
	}
	if cfg.Limits.MaxSessionMemoryMB == 0 {
		cfg.Limits.MaxSessionMemoryMB = int(def.MaxSessionMemoryBytes >> 20)
	}
	if cfg.Limits.LoadSheddingCPUPercent == 0 {
		cfg.Limits.LoadSheddingCPUPercent = def.LoadSheddingCPUPercent
	}
	if cfg.Limits.LoadSheddingMemoryPercent == 0 {
		cfg.Limits.LoadSheddingMemoryPercent = def.LoadSheddingMemoryPercent
	}
	if cfg.Limits.GraceShutdownSeconds == 0 {
		cfg.Limits.GraceShutdownSeconds = int(def.GraceShutdown.Seconds())
	}

	if cfg.Logging.Dir == "" {
		cfg.Logging.Dir = "logs"
	}
	if cfg.Auth.DataDir == "" {
		cfg.Auth.DataDir = "data"
	}
	if cfg.Auth.RateLimitRPS == 0 {
		cfg.Auth.RateLimitRPS = 10
	}
	if cfg.Auth.RateLimitBurst == 0 {
		cfg.Auth.RateLimitBurst = 20
	}
}

// Validate checks that the configuration is internally consistent enough
// to attempt startup; node-type-specific checks happen when the registry
// is actually built, since that's where the executor variant packages are
// in scope.
func (u *UnifiedConfig) Validate() error {
	if u.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	seen := make(map[string]bool, len(u.Nodes))
	for _, n := range u.Nodes {
		if n.Type == "" {
			return fmt.Errorf("nodes[]: type is required")
		}
		if seen[n.Type] {
			return fmt.Errorf("nodes[]: duplicate type %q", n.Type)
		}
		seen[n.Type] = true
		switch n.Variant {
		case VariantSubprocess:
			if n.Subprocess == nil || n.Subprocess.Command == "" {
				return fmt.Errorf("node %q: variant subprocess requires subprocess.command", n.Type)
			}
		case VariantContainer:
			if n.Container == nil || n.Container.Image == "" {
				return fmt.Errorf("node %q: variant container requires container.image", n.Type)
			}
		case VariantRemote:
			if n.Remote == nil || n.Remote.TransportName == "" {
				return fmt.Errorf("node %q: variant remote requires remote.transport_name", n.Type)
			}
		default:
			return fmt.Errorf("node %q: unknown variant %q", n.Type, n.Variant)
		}
	}
	return nil
}
