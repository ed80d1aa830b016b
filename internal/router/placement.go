package router

import (
	"github.com/mediacore/pipelinecore/internal/executor"
	"github.com/mediacore/pipelinecore/internal/manifest"
	"github.com/mediacore/pipelinecore/internal/registry"
)

// resolvePlacement decides which executor variant hosts a node. A
// runtime_hint of "native"/"subprocess"/"container" pins the in-process
// tier directly when the registered factory supports it; otherwise the
// node's placement field (auto/local/remote) drives executor.SelectVariant,
// which prefers the cheapest capable variant. The registered factory itself
// still owns actually constructing the right kind of handle — SelectVariant
// here validates feasibility and is recorded for observability, the same
// decision manifest validation already made when it called
// CapabilitiesSatisfiable.
func resolvePlacement(n manifest.Node, desc registry.CapabilityDescriptor) (executor.Variant, error) {
	switch n.RuntimeHint {
	case "native":
		if desc.SupportsInProcess {
			return executor.VariantNative, nil
		}
	case "subprocess":
		if desc.SupportsSubprocess {
			return executor.VariantSubprocess, nil
		}
	case "container":
		if desc.SupportsContainer {
			return executor.VariantContainer, nil
		}
	}
	return executor.SelectVariant(string(n.Placement), desc.SupportsInProcess, desc.SupportsSubprocess, desc.SupportsContainer)
}
