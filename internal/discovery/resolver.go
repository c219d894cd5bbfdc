package discovery

import (
	"github.com/toolprint/hypertool-mcp-go/internal/errkind"
	"github.com/toolprint/hypertool-mcp-go/internal/supervisor"
)

// ToolReference identifies a tool by namespaced name and/or content hash.
// At least one must be set.
type ToolReference struct {
	NamespacedName string
	ToolHash       string
}

// ResolveOptions controls resolution strictness.
type ResolveOptions struct {
	// AllowStaleRefs enables relaxed mode: a ref whose name and hash point
	// at different live tools is resolved by preferring the hash match
	// instead of being rejected outright.
	AllowStaleRefs bool
}

// ResolveResult is the outcome of resolving a ToolReference against the
// live catalog.
type ResolveResult struct {
	Exists              bool
	Tool                DiscoveredTool
	NamespacedNameMatch bool
	RefIDMatch          bool
	Warning             string
	Status              *supervisor.Status
}

// Resolver implements resolveToolReference (C6): the dual-identifier
// validation policy described in spec.md §4.5, consulted by the toolset
// manager (C7) on every reconciliation.
type Resolver struct {
	engine *Engine
}

// NewResolver constructs a Resolver bound to engine's live catalog.
func NewResolver(engine *Engine) *Resolver {
	return &Resolver{engine: engine}
}

// Resolve implements the six-case policy from spec.md §4.5.
func (r *Resolver) Resolve(ref ToolReference, opts ResolveOptions) (ResolveResult, error) {
	if ref.NamespacedName == "" && ref.ToolHash == "" {
		return ResolveResult{}, errkind.New(errkind.KindInvalidRef, "reference carries neither namespacedName nor toolHash")
	}

	var byName, byHash DiscoveredTool
	var haveName, haveHash bool
	if ref.NamespacedName != "" {
		byName, haveName = r.engine.LookupByNamespacedName(ref.NamespacedName)
	}
	if ref.ToolHash != "" {
		byHash, haveHash = r.engine.LookupByHash(ref.ToolHash)
	}

	switch {
	case haveName && haveHash:
		if byName.NamespacedName == byHash.NamespacedName && byName.ToolHash == byHash.ToolHash {
			return r.attach(byName, true, true, ""), nil
		}
		if !opts.AllowStaleRefs {
			return ResolveResult{}, errkind.New(errkind.KindStaleRef, "SECURITY: namespacedName and toolHash resolve to different tools")
		}
		return r.attach(byHash, false, true, "reference name and hash disagree; resolved by hash (possible rename)"), nil

	case haveHash && !haveName && ref.NamespacedName != "":
		if !opts.AllowStaleRefs {
			return ResolveResult{}, errkind.New(errkind.KindStaleRef, "SECURITY: namespacedName mismatch for hash-matched tool")
		}
		return r.attach(byHash, false, true, "tool renamed; resolved by hash"), nil

	case haveHash && ref.NamespacedName == "":
		return r.attach(byHash, false, true, ""), nil

	case haveName && !haveHash && ref.ToolHash != "":
		if !opts.AllowStaleRefs {
			return ResolveResult{}, errkind.New(errkind.KindStaleRef, "SECURITY: toolHash mismatch for name-matched tool")
		}
		return r.attach(byName, true, false, "tool schema changed; resolved by name"), nil

	case haveName && ref.ToolHash == "":
		return r.attach(byName, true, false, ""), nil

	default:
		return ResolveResult{Exists: false}, nil
	}
}

func (r *Resolver) attach(tool DiscoveredTool, nameMatch, hashMatch bool, warning string) ResolveResult {
	res := ResolveResult{
		Exists:              true,
		Tool:                tool,
		NamespacedNameMatch: nameMatch,
		RefIDMatch:          hashMatch,
		Warning:             warning,
	}
	if status, ok := r.engine.StatusOf(tool.ServerName); ok {
		res.Status = &status
	}
	return res
}
