// Package catalog maps runtime tags to the image, entry filename, and
// default commands used to materialize and drive a sandbox (C1).
//
// Grounded on the teacher's sandbox/v2.LanguageTemplate / DefaultLanguageTemplates,
// narrowed from the teacher's multi-language execution matrix down to the
// three JavaScript-family runtimes this platform actually serves.
package catalog

import (
	"fmt"
	"strings"
)

// Runtime is a supported sandbox runtime tag.
type Runtime string

const (
	Node       Runtime = "node"
	Bun        Runtime = "bun"
	TypeScript Runtime = "typescript"
)

// Entry describes how to materialize and drive a sandbox for one runtime.
type Entry struct {
	Runtime        Runtime
	Image          string
	MainFile       string
	Extension      string
	ExecuteCommand []string // one-shot run command, {{file}} substituted
	DevCommand     []string // persistent dev-server command
	InstallCommand []string // dependency install command
}

var catalog = map[Runtime]Entry{
	Node: {
		Runtime:        Node,
		Image:          "node:20-slim",
		MainFile:       "index.js",
		Extension:      ".js",
		ExecuteCommand: []string{"node", "{{file}}"},
		DevCommand:     []string{"npm", "run", "dev"},
		InstallCommand: []string{"npm", "install"},
	},
	Bun: {
		Runtime:        Bun,
		Image:          "oven/bun:1",
		MainFile:       "index.ts",
		Extension:      ".ts",
		ExecuteCommand: []string{"bun", "run", "{{file}}"},
		DevCommand:     []string{"bun", "dev"},
		InstallCommand: []string{"bun", "install"},
	},
	TypeScript: {
		Runtime:        TypeScript,
		Image:          "node:20-slim",
		MainFile:       "index.ts",
		Extension:      ".ts",
		ExecuteCommand: []string{"npx", "tsx", "{{file}}"},
		DevCommand:     []string{"npm", "run", "dev"},
		InstallCommand: []string{"npm", "install"},
	},
}

// Normalize maps loose aliases onto a canonical Runtime tag, the way the
// teacher's normalizeLanguage does for its broader language set.
func Normalize(tag string) Runtime {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "node", "nodejs", "js", "javascript":
		return Node
	case "bun":
		return Bun
	case "ts", "typescript":
		return TypeScript
	default:
		return Runtime(strings.ToLower(strings.TrimSpace(tag)))
	}
}

// Lookup resolves a runtime tag to its catalog Entry. Unknown tags fail
// closed with ErrUnknownRuntime.
func Lookup(tag string) (Entry, error) {
	runtime := Normalize(tag)
	entry, ok := catalog[runtime]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrUnknownRuntime, tag)
	}
	return entry, nil
}

// ErrUnknownRuntime is wrapped by Lookup for unsupported runtime tags.
var ErrUnknownRuntime = fmt.Errorf("unknown runtime")

// IsMainFile reports whether a file path supplied by the caller already
// serves as the program's entry point (index.* or main.*), per §4.4 step 5.
func IsMainFile(path string) bool {
	base := path
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		base = path[idx+1:]
	}
	return strings.HasPrefix(base, "index.") || strings.HasPrefix(base, "main.")
}

// HasPackageJSON reports whether files include a package.json, per §4.4
// step 6.
func HasPackageJSON(files []string) bool {
	for _, f := range files {
		if f == "package.json" {
			return true
		}
	}
	return false
}

// SynthesizePackageJSON builds a minimal package.json for a runtime/main
// file pair when the submission did not supply one, per §4.4 step 6.
func SynthesizePackageJSON(entry Entry, mainFile string, devServer bool) string {
	var b strings.Builder
	b.WriteString("{\n")
	b.WriteString("  \"name\": \"sandbox-app\",\n")
	b.WriteString("  \"version\": \"1.0.0\",\n")
	if entry.Runtime == Bun {
		b.WriteString("  \"type\": \"module\",\n")
	}
	b.WriteString("  \"scripts\": {\n")
	startCmd := strings.Join(renderCommand(entry.ExecuteCommand, mainFile), " ")
	b.WriteString(fmt.Sprintf("    \"start\": %q", startCmd))
	if devServer {
		devCmd := strings.Join(entry.DevCommand, " ")
		b.WriteString(",\n")
		b.WriteString(fmt.Sprintf("    \"dev\": %q\n", devCmd))
	} else {
		b.WriteString("\n")
	}
	b.WriteString("  }\n")
	b.WriteString("}\n")
	return b.String()
}

func renderCommand(cmd []string, file string) []string {
	return RenderCommand(cmd, file)
}

// RenderCommand substitutes {{file}} in a catalog command template with
// the resolved main-source filename.
func RenderCommand(cmd []string, file string) []string {
	out := make([]string, 0, len(cmd))
	for _, part := range cmd {
		out = append(out, strings.ReplaceAll(part, "{{file}}", file))
	}
	return out
}
