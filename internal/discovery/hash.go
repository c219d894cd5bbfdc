package discovery

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
)

// identityFields is the canonical, serializable projection of a tool used
// for content hashing: name, owning server, input schema, output schema,
// and annotations. Description and every other field are deliberately
// excluded — renaming a tool's description must not change its identity.
type identityFields struct {
	Name         string `json:"name"`
	ServerName   string `json:"serverName"`
	InputSchema  any    `json:"inputSchema,omitempty"`
	OutputSchema any    `json:"outputSchema,omitempty"`
	Annotations  any    `json:"annotations,omitempty"`
}

// HashTool computes toolHash: a sha256 digest over the canonical JSON
// encoding of a tool's identity-significant fields, grounded on the
// hashTools pattern of hashing a stable byte projection of each tool
// (name + serialized definition) rather than any timestamp-bearing field.
func HashTool(serverName string, t mcp.Tool) string {
	fields := identityFields{
		Name:        t.Name,
		ServerName:  serverName,
		InputSchema: t.InputSchema,
	}
	if len(t.RawOutputSchema) > 0 {
		fields.OutputSchema = json.RawMessage(t.RawOutputSchema)
	} else {
		fields.OutputSchema = t.OutputSchema
	}
	fields.Annotations = t.Annotations

	// encoding/json sorts map keys and JSON-marshals struct fields in
	// declaration order, so two identical inputs always produce identical
	// bytes — the determinism the namespacing scenario in spec.md requires.
	raw, err := json.Marshal(fields)
	if err != nil {
		// A tool whose schema cannot be marshaled cannot be hashed
		// meaningfully; fall back to hashing the name and server alone so
		// the system still makes forward progress rather than panicking.
		raw = []byte(serverName + "\x00" + t.Name)
	}

	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// HashServerTools hashes the sorted set of per-tool hashes for a server,
// giving ServerToolState.serverToolsHash: a cheap "did anything change on
// this server" probe independent of enumeration order.
func HashServerTools(toolHashes []string) string {
	hasher := sha256.New()
	sorted := append([]string(nil), toolHashes...)
	sort.Strings(sorted)
	for _, h := range sorted {
		hasher.Write([]byte(h))
		hasher.Write([]byte{0})
	}
	return hex.EncodeToString(hasher.Sum(nil))
}
