package config

import (
	"fmt"
	"time"

	"github.com/docker/docker/client"
	"github.com/mediacore/pipelinecore/internal/executor/container"
	"github.com/mediacore/pipelinecore/internal/executor/remote"
	"github.com/mediacore/pipelinecore/internal/executor/subprocess"
	"github.com/mediacore/pipelinecore/internal/registry"
	"github.com/mediacore/pipelinecore/internal/transport"
)

func (n NodeSection) capabilities() registry.CapabilityDescriptor {
	return registry.CapabilityDescriptor{
		RequiresThreads:     n.Capabilities.RequiresThreads,
		RequiresNativeLibs:  n.Capabilities.RequiresNativeLibs,
		RequiresGPU:         n.Capabilities.RequiresGPU,
		GPUKind:             registry.GPUKind(n.Capabilities.GPUKind),
		RequiresLargeMemory: n.Capabilities.RequiresLargeMemory,
		EstimatedMemoryMB:   n.Capabilities.EstimatedMemoryMB,
	}
}

// BuildFactories turns every declared node section into a registry.Factory,
// dialing the Docker daemon lazily (only when at least one container-variant
// node is declared) and looking remote-variant transports up by name in
// transports, which the caller must have already populated with whatever
// concrete transports it wants reachable.
func (u *UnifiedConfig) BuildFactories(transports *transport.Registry) ([]registry.Factory, error) {
	factories := make([]registry.Factory, 0, len(u.Nodes))

	var dockerCli *client.Client
	for _, n := range u.Nodes {
		grace := time.Duration(n.ShutdownGraceSeconds) * time.Second

		switch n.Variant {
		case VariantSubprocess:
			factories = append(factories, subprocess.Factory{
				Type: n.Type,
				Spec: subprocess.Spec{
					Command: n.Subprocess.Command,
					Args:    n.Subprocess.Args,
					Env:     n.Subprocess.Env,
				},
				ShutdownGrace: grace,
				Caps:          n.capabilities(),
			})

		case VariantContainer:
			if dockerCli == nil {
				cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
				if err != nil {
					return nil, fmt.Errorf("connecting to container runtime for node %q: %w", n.Type, err)
				}
				dockerCli = cli
			}
			factories = append(factories, container.Factory{
				Cli:  dockerCli,
				Type: n.Type,
				Spec: container.Spec{
					Image: n.Container.Image,
					Cmd:   n.Container.Cmd,
					Limits: container.ResourceLimits{
						MemoryBytes: n.Container.MemoryBytes,
						CPUCores:    n.Container.CPUCores,
						GPUDevices:  n.Container.GPUDevices,
					},
				},
				ShutdownGrace: grace,
				Caps:          n.capabilities(),
			})

		case VariantRemote:
			t, ok := transports.Get(n.Remote.TransportName)
			if !ok {
				return nil, fmt.Errorf("node %q: transport %q is not registered", n.Type, n.Remote.TransportName)
			}
			factories = append(factories, remote.Factory{
				Type:      n.Type,
				Transport: t,
				Caps:      n.capabilities(),
			})

		default:
			return nil, fmt.Errorf("node %q: unknown variant %q", n.Type, n.Variant)
		}
	}

	return factories, nil
}
