package policy

import (
	"fmt"
	"sort"
	"time"
)

// Builtin rule names.
const (
	BuiltinSkipMissingID     = "skip_missing_id"
	BuiltinSkipHarvestSource = "skip_harvest_source"
)

var builtins = map[string]struct {
	description string
	body        string
}{
	BuiltinSkipMissingID: {
		description: "Skips jobs without an entity id and resource jobs without an owning package",
		body: `skip contains "missing entity id" if {
	not input.entity_id
}

skip contains "missing entity id" if {
	input.entity_id == ""
}

skip contains msg if {
	input.kind != "package"
	not input.companion.id
	msg := sprintf("%s %s has no owning package", [input.kind, input.entity_id])
}
`,
	},
	BuiltinSkipHarvestSource: {
		description: "Skips harvest source datasets",
		body: `skip contains "harvest source" if {
	input.kind == "package"
	input.entity.type == "harvest"
}

skip contains "harvest source" if {
	input.kind != "package"
	input.companion.type == "harvest"
}
`,
	},
}

// BuiltinNames returns the names of the builtin rules, sorted.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuiltinRule renders a builtin rule into pkg.
func BuiltinRule(name, pkg string) (Rule, error) {
	b, ok := builtins[name]
	if !ok {
		return Rule{}, fmt.Errorf("unknown builtin rule %q (known: %v)", name, BuiltinNames())
	}
	src := fmt.Sprintf("# %s\npackage %s\n\nimport rego.v1\n\n%s", b.description, pkg, b.body)
	return Rule{
		Name:        name,
		Description: b.description,
		Rego:        src,
		Package:     pkg,
		Source:      SourceBuiltin,
		Enabled:     true,
		LoadedAt:    time.Now(),
	}, nil
}
