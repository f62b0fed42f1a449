package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"
)

// ManifestFile is the project descriptor whose presence marks a package
// as buildable.
const ManifestFile = "package.json"

// Manifest is the subset of package.json the build runner reads.
type Manifest struct {
	Name    string            `json:"name"`
	Scripts map[string]string `json:"scripts"`
}

// lockfiles maps a build tool to the lockfiles that enable a frozen install.
var lockfiles = map[string][]string{
	"npm":  {"package-lock.json", "npm-shrinkwrap.json"},
	"yarn": {"yarn.lock"},
	"pnpm": {"pnpm-lock.yaml"},
}

// HasManifest reports whether dir contains a project descriptor at its root.
func HasManifest(dir string) (bool, error) {
	info, err := os.Stat(filepath.Join(dir, ManifestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// ReadManifest parses dir/package.json. Comments and trailing commas are
// tolerated.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(jsonc.ToJSON(data), &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", ManifestFile, err)
	}
	return &m, nil
}

// installArgs returns the dependency install arguments for tool.
func installArgs(tool, dir string) []string {
	name := filepath.Base(tool)
	frozen := false
	for _, lf := range lockfiles[name] {
		if _, err := os.Stat(filepath.Join(dir, lf)); err == nil {
			frozen = true
			break
		}
	}
	switch {
	case name == "npm" && frozen:
		return []string{"ci"}
	case (name == "yarn" || name == "pnpm") && frozen:
		return []string{"install", "--frozen-lockfile"}
	}
	return []string{"install"}
}

// buildArgs returns the arguments that run the manifest's build script.
func buildArgs() []string {
	return []string{"run", "build"}
}
