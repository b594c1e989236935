package hapi

// Agent kinds the remote service can drive.
const (
	AgentClaude   = "claude"
	AgentCodex    = "codex"
	AgentGemini   = "gemini"
	AgentOpenCode = "opencode"
)

var Agents = []string{AgentClaude, AgentCodex, AgentGemini, AgentOpenCode}

// PermissionModes lists the selectable permission modes per agent kind.
var PermissionModes = map[string][]string{
	AgentClaude:   {"default", "acceptEdits", "plan", "bypassPermissions"},
	AgentCodex:    {"default", "read-only", "safe-yolo", "yolo"},
	AgentGemini:   {"default", "acceptEdits", "yolo"},
	AgentOpenCode: {"default"},
}

// ModelModes lists the selectable model modes. Model switching is only
// supported for claude sessions.
var ModelModes = []string{"default", "adaptiveUsage", "sonnet", "opus"}

func IsKnownAgent(kind string) bool {
	for _, a := range Agents {
		if a == kind {
			return true
		}
	}
	return false
}

// PermissionModesFor returns the mode list for an agent kind, falling back
// to a bare default for unknown kinds.
func PermissionModesFor(kind string) []string {
	if modes, ok := PermissionModes[kind]; ok {
		return modes
	}
	return []string{"default"}
}
