// Package plugins loads plugin manifests and hands each one to the importer
// registered for its type.
package plugins

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Manifest describes one plugin. Spec is decoded by the importer matching Type.
type Manifest struct {
	Name    string          `json:"name"`
	Type    string          `json:"type"`
	Version string          `json:"version,omitempty"`
	Spec    json.RawMessage `json:"spec"`

	// Dir is the directory the manifest was read from.
	Dir string `json:"-"`
}

// manifestFiles lists the accepted file names in lookup order.
var manifestFiles = []string{"manifest.json", "manifest.yaml", "manifest.yml"}

// ReadManifest reads the manifest of one plugin directory on disk.
func ReadManifest(dir string) (Manifest, error) {
	return ReadManifestFS(afero.NewOsFs(), dir)
}

// ReadManifestFS reads the manifest of one plugin directory from fsys.
func ReadManifestFS(fsys afero.Fs, dir string) (Manifest, error) {
	for _, name := range manifestFiles {
		path := filepath.Join(dir, name)
		raw, err := afero.ReadFile(fsys, path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return Manifest{}, fmt.Errorf("plugins: read %s: %w", path, err)
		}
		m, err := decodeManifest(name, raw)
		if err != nil {
			return Manifest{}, fmt.Errorf("plugins: decode %s: %w", path, err)
		}
		m.Dir = dir
		if strings.TrimSpace(m.Name) == "" {
			m.Name = filepath.Base(dir)
		}
		return m, nil
	}
	return Manifest{}, fmt.Errorf("plugins: no manifest in %s", dir)
}

func decodeManifest(name string, raw []byte) (Manifest, error) {
	var m Manifest
	if strings.HasSuffix(name, ".json") {
		err := json.Unmarshal(raw, &m)
		return m, err
	}
	// YAML manifests are normalised through JSON so Spec stays raw.
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return m, err
	}
	asJSON, err := json.Marshal(doc)
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(asJSON, &m)
	return m, err
}
