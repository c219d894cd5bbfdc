package router

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/toolprint/hypertool-mcp-go/internal/errkind"
	"github.com/toolprint/hypertool-mcp-go/internal/toolset"
)

// managementTools builds the configuration-mode tool set: toolset CRUD
// plus the tool/toolset membership operations, per spec.md §4.8.
func managementTools(r *Router) []server.ServerTool {
	return []server.ServerTool{
		{
			Tool: mcp.Tool{
				Name:        "list-saved-toolsets",
				Description: "List the names of every saved toolset",
			},
			Handler: r.handleListSavedToolsets,
		},
		{
			Tool: mcp.Tool{
				Name:        "get-active-toolset",
				Description: "Return the name of the currently equipped toolset, if any",
			},
			Handler: r.handleGetActiveToolset,
		},
		{
			Tool: mcp.Tool{
				Name:        "build-toolset",
				Description: "Create or replace a saved toolset from a list of tool references",
				InputSchema: mcp.ToolInputSchema{
					Type: "object",
					Properties: map[string]any{
						"name":        map[string]any{"type": "string"},
						"description": map[string]any{"type": "string"},
						"tools": map[string]any{
							"type": "array",
							"items": map[string]any{
								"type": "object",
								"properties": map[string]any{
									"namespacedName": map[string]any{"type": "string"},
									"toolHash":       map[string]any{"type": "string"},
								},
							},
						},
						"autoEquip": map[string]any{"type": "boolean"},
					},
					Required: []string{"name", "tools"},
				},
			},
			Handler: r.handleBuildToolset,
		},
		{
			Tool: mcp.Tool{
				Name:        "equip-toolset",
				Description: "Activate a saved toolset by name",
				InputSchema: mcp.ToolInputSchema{
					Type:       "object",
					Properties: map[string]any{"name": map[string]any{"type": "string"}},
					Required:   []string{"name"},
				},
			},
			Handler: r.handleEquipToolset,
		},
		{
			Tool: mcp.Tool{
				Name:        "unequip-toolset",
				Description: "Deactivate the currently equipped toolset",
			},
			Handler: r.handleUnequipToolset,
		},
		{
			Tool: mcp.Tool{
				Name:        "delete-toolset",
				Description: "Delete a saved toolset",
				InputSchema: mcp.ToolInputSchema{
					Type:       "object",
					Properties: map[string]any{"name": map[string]any{"type": "string"}},
					Required:   []string{"name"},
				},
			},
			Handler: r.handleDeleteToolset,
		},
		{
			Tool: mcp.Tool{
				Name:        "add-tool-to-toolset",
				Description: "Add a tool reference to an existing saved toolset",
				InputSchema: mcp.ToolInputSchema{
					Type: "object",
					Properties: map[string]any{
						"name":           map[string]any{"type": "string"},
						"namespacedName": map[string]any{"type": "string"},
						"toolHash":       map[string]any{"type": "string"},
					},
					Required: []string{"name"},
				},
			},
			Handler: r.handleAddToolToToolset,
		},
		{
			Tool: mcp.Tool{
				Name:        "remove-tool-from-toolset",
				Description: "Remove a tool reference from an existing saved toolset",
				InputSchema: mcp.ToolInputSchema{
					Type: "object",
					Properties: map[string]any{
						"name":           map[string]any{"type": "string"},
						"namespacedName": map[string]any{"type": "string"},
					},
					Required: []string{"name", "namespacedName"},
				},
			},
			Handler: r.handleRemoveToolFromToolset,
		},
	}
}

func (r *Router) handleListSavedToolsets(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	names := r.toolsets.ListSaved()
	return mcp.NewToolResultText(joinOrNone(names)), nil
}

func (r *Router) handleGetActiveToolset(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	active := r.toolsets.ActiveToolset()
	if active == "" {
		return mcp.NewToolResultText("no toolset equipped"), nil
	}
	return mcp.NewToolResultText(active), nil
}

type buildToolsetArgs struct {
	Name        string                  `json:"name"`
	Description string                  `json:"description"`
	Tools       []toolset.ToolReference `json:"tools"`
	AutoEquip   bool                    `json:"autoEquip"`
}

func (r *Router) handleBuildToolset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := req.Params.Arguments.(map[string]any)
	var parsed buildToolsetArgs
	if err := marshalArgs(args, &parsed); err != nil {
		return errorResult(err), nil
	}

	cfg := toolset.Config{
		Name:        parsed.Name,
		Description: parsed.Description,
		Version:     1,
		CreatedAt:   time.Now(),
		Tools:       parsed.Tools,
	}
	warning, err := r.toolsets.SetCurrentToolset(cfg)
	if err != nil {
		return errorResult(err), nil
	}

	if parsed.AutoEquip {
		if err := r.toolsets.EquipToolset(parsed.Name); err != nil {
			return errorResult(err), nil
		}
		r.mode.Store(ModeNormal)
		r.refresh()
	}

	if warning != "" {
		return mcp.NewToolResultText("toolset saved with warning: " + warning), nil
	}
	return mcp.NewToolResultText("toolset saved: " + parsed.Name), nil
}

func (r *Router) handleEquipToolset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := req.Params.Arguments.(map[string]any)
	name, _ := args["name"].(string)
	if err := r.toolsets.EquipToolset(name); err != nil {
		return errorResult(err), nil
	}
	r.mode.Store(ModeNormal)
	r.refresh()
	return mcp.NewToolResultText("equipped toolset: " + name), nil
}

func (r *Router) handleUnequipToolset(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r.toolsets.UnequipToolset()
	r.refresh()
	return mcp.NewToolResultText("unequipped toolset"), nil
}

func (r *Router) handleDeleteToolset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := req.Params.Arguments.(map[string]any)
	name, _ := args["name"].(string)
	if err := r.toolsets.DeleteToolset(name); err != nil {
		return errorResult(err), nil
	}
	r.refresh()
	return mcp.NewToolResultText("deleted toolset: " + name), nil
}

func (r *Router) handleAddToolToToolset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := req.Params.Arguments.(map[string]any)
	name, _ := args["name"].(string)
	ns, _ := args["namespacedName"].(string)
	hash, _ := args["toolHash"].(string)

	cfg, ok := r.toolsets.FindSaved(name)
	if !ok {
		return errorResult(notFoundErr(name)), nil
	}
	cfg.Tools = append(cfg.Tools, toolset.ToolReference{NamespacedName: ns, ToolHash: hash})
	if _, err := r.toolsets.SetCurrentToolset(cfg); err != nil {
		return errorResult(err), nil
	}
	if r.toolsets.ActiveToolset() == name {
		r.toolsets.Reconcile()
		r.refresh()
	}
	return mcp.NewToolResultText("added tool to toolset: " + name), nil
}

func (r *Router) handleRemoveToolFromToolset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := req.Params.Arguments.(map[string]any)
	name, _ := args["name"].(string)
	ns, _ := args["namespacedName"].(string)

	cfg, ok := r.toolsets.FindSaved(name)
	if !ok {
		return errorResult(notFoundErr(name)), nil
	}
	filtered := cfg.Tools[:0]
	for _, t := range cfg.Tools {
		if t.NamespacedName != ns {
			filtered = append(filtered, t)
		}
	}
	cfg.Tools = filtered
	if len(cfg.Tools) == 0 {
		return errorResult(errkind.New(errkind.KindInvalidParams, "toolset "+name+" would become empty")), nil
	}
	if _, err := r.toolsets.SetCurrentToolset(cfg); err != nil {
		return errorResult(err), nil
	}
	if r.toolsets.ActiveToolset() == name {
		r.toolsets.Reconcile()
		r.refresh()
	}
	return mcp.NewToolResultText("removed tool from toolset: " + name), nil
}

func joinOrNone(names []string) string {
	if len(names) == 0 {
		return "no saved toolsets"
	}
	out := names[0]
	for _, n := range names[1:] {
		out += ", " + n
	}
	return out
}
