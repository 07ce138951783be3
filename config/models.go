package config

import "strings"

const DefaultModelAlias = "sonnet"

// models maps the short names accepted in config.yaml and on the command
// line to backend model identifiers.
var models = map[string]string{
	"haiku":  "claude-3-5-haiku-latest",
	"sonnet": "claude-sonnet-4-5",
	"opus":   "claude-opus-4-1",
}

// ResolveModel returns the backend identifier for alias. Unknown values are
// passed through so full model ids work too.
func ResolveModel(alias string) string {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		alias = DefaultModelAlias
	}
	if id, ok := models[strings.ToLower(alias)]; ok {
		return id
	}
	return alias
}
