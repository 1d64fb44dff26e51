package patch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/package-url/packageurl-go"
	log "github.com/sirupsen/logrus"
)

const npmEcosystem = "npm"

// PackageID is the parsed form of a manifest key like "npm/lodash@4.17.21"
// or "npm/@babel/core@7.24.0".
type PackageID struct {
	Ecosystem string
	Name      string // includes the @scope/ prefix for scoped packages
	Version   string
}

func (p PackageID) String() string {
	return p.Ecosystem + "/" + p.Name + "@" + p.Version
}

// ParsePackageID splits a manifest key into ecosystem, name, and version.
// The version separator is the last "@" so scoped npm names parse cleanly.
func ParsePackageID(id string) (PackageID, error) {
	eco, rest, ok := strings.Cut(id, "/")
	if !ok || eco == "" || rest == "" {
		return PackageID{}, fmt.Errorf("malformed package id %q", id)
	}
	at := strings.LastIndex(rest, "@")
	if at <= 0 || at == len(rest)-1 {
		return PackageID{}, fmt.Errorf("package id %q has no version", id)
	}
	return PackageID{Ecosystem: eco, Name: rest[:at], Version: rest[at+1:]}, nil
}

// NormalizeSelector accepts either a purl ("pkg:npm/lodash@4.17.21",
// "pkg:npm/%40babel/core@7.24.0") or a bare manifest key and returns the
// manifest key form.
func NormalizeSelector(selector string) (string, error) {
	if !strings.HasPrefix(selector, "pkg:") {
		if _, err := ParsePackageID(selector); err != nil {
			return "", err
		}
		return selector, nil
	}
	purl, err := packageurl.FromString(selector)
	if err != nil {
		return "", fmt.Errorf("parsing selector %q: %w", selector, err)
	}
	if purl.Version == "" {
		return "", fmt.Errorf("selector %q has no version", selector)
	}
	name := purl.Name
	if purl.Namespace != "" {
		name = purl.Namespace + "/" + name
	}
	return purl.Type + "/" + name + "@" + purl.Version, nil
}

// installedVersion reads the version field from a package directory's
// package.json. Errors and absent fields collapse to "" since an unreadable
// install is simply not a match.
func installedVersion(pkgDir string) string {
	data, err := os.ReadFile(filepath.Join(pkgDir, "package.json"))
	if err != nil {
		return ""
	}
	var meta struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return ""
	}
	return meta.Version
}

// ResolveInstallPaths finds every installed copy of a package version under
// the project's node_modules, including copies nested inside other
// packages' node_modules. Paths are returned relative to projectRoot.
func ResolveInstallPaths(projectRoot string, id PackageID) ([]string, error) {
	if id.Ecosystem != npmEcosystem {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEcosystem, id.Ecosystem)
	}

	var found []string
	var walk func(nmDir string)
	walk = func(nmDir string) {
		candidate := filepath.Join(nmDir, filepath.FromSlash(id.Name))
		if v := installedVersion(candidate); v == id.Version {
			if rel, err := filepath.Rel(projectRoot, candidate); err == nil {
				found = append(found, rel)
			}
		} else if v != "" {
			log.Debugf("Skipping %s: installed version %s, patch targets %s", candidate, v, id.Version)
		}

		entries, err := os.ReadDir(nmDir)
		if err != nil {
			return
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			pkgDir := filepath.Join(nmDir, e.Name())
			if strings.HasPrefix(e.Name(), "@") {
				scoped, err := os.ReadDir(pkgDir)
				if err != nil {
					continue
				}
				for _, s := range scoped {
					if s.IsDir() {
						walk(filepath.Join(pkgDir, s.Name(), "node_modules"))
					}
				}
				continue
			}
			walk(filepath.Join(pkgDir, "node_modules"))
		}
	}
	walk(filepath.Join(projectRoot, "node_modules"))

	if len(found) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrPackageNotFound, id)
	}
	return found, nil
}
