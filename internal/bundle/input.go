package bundle

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/missionctl/internal/model"
)

// PackFile is the on-disk form of an imported content pack.
type PackFile struct {
	Pack     model.ContentPack     `yaml:"pack" json:"pack"`
	Controls []model.ControlRecord `yaml:"controls" json:"controls"`
}

// LoadPackFile reads a YAML (or JSON) content pack.
func LoadPackFile(path string) (*PackFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pack %s: %w", path, err)
	}
	var pf PackFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse pack %s: %w", path, err)
	}
	if pf.Pack.ID == "" {
		return nil, fmt.Errorf("pack %s: pack.id is required", path)
	}
	return &pf, nil
}

// LoadOverlayFile reads one YAML (or JSON) overlay and validates it.
func LoadOverlayFile(path string) (model.Overlay, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Overlay{}, fmt.Errorf("read overlay %s: %w", path, err)
	}
	var ov model.Overlay
	if err := yaml.Unmarshal(data, &ov); err != nil {
		return model.Overlay{}, fmt.Errorf("parse overlay %s: %w", path, err)
	}
	if err := ov.Validate(); err != nil {
		return model.Overlay{}, fmt.Errorf("overlay %s: %w", path, err)
	}
	return ov, nil
}

// LoadOverlayFiles reads overlays in the given order, which is their
// precedence order.
func LoadOverlayFiles(paths []string) ([]model.Overlay, error) {
	overlays := make([]model.Overlay, 0, len(paths))
	for _, p := range paths {
		ov, err := LoadOverlayFile(p)
		if err != nil {
			return nil, err
		}
		overlays = append(overlays, ov)
	}
	return overlays, nil
}
