// Package catalog loads character configurations and lists the assets a
// client can switch between.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfigName is returned for names that would escape the alts directory
var ErrInvalidConfigName = errors.New("invalid config file name")

// Character describes the persona a session talks to
type Character struct {
	ConfName        string `yaml:"conf_name" json:"conf_name"`
	ConfUID         string `yaml:"conf_uid" json:"conf_uid"`
	CharacterName   string `yaml:"character_name" json:"character_name"`
	HumanName       string `yaml:"human_name" json:"human_name"`
	Avatar          string `yaml:"avatar" json:"avatar"`
	PersonaPrompt   string `yaml:"persona_prompt" json:"persona_prompt"`
	Live2DModelName string `yaml:"live2d_model_name" json:"live2d_model_name"`
}

type characterFile struct {
	Character Character `yaml:"character_config"`
}

// ConfigFile is one entry of the alts directory listing
type ConfigFile struct {
	Filename string `json:"filename"`
	Name     string `json:"name"`
}

// LoadCharacter reads a YAML character file. Missing names fall back to the
// file name.
func LoadCharacter(path string) (Character, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Character{}, fmt.Errorf("read character config: %w", err)
	}

	var file characterFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Character{}, fmt.Errorf("parse character config %s: %w", filepath.Base(path), err)
	}

	c := file.Character
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if c.ConfName == "" {
		c.ConfName = stem
	}
	if c.ConfUID == "" {
		c.ConfUID = stem
	}
	return c, nil
}

// LoadAlt loads name from dir, rejecting anything that is not a plain YAML
// file name.
func LoadAlt(dir, name string) (Character, error) {
	if !validConfigName(name) {
		return Character{}, fmt.Errorf("%w: %q", ErrInvalidConfigName, name)
	}
	return LoadCharacter(filepath.Join(dir, name))
}

func validConfigName(name string) bool {
	if name == "" || strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return false
	}
	return isYAML(name)
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// ScanAlts lists the YAML character files in dir sorted by file name. A
// missing directory yields an empty list. Files that fail to parse are
// listed under their file name.
func ScanAlts(dir string) ([]ConfigFile, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return []ConfigFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan config alts: %w", err)
	}

	files := []ConfigFile{}
	for _, e := range entries {
		if e.IsDir() || !isYAML(e.Name()) {
			continue
		}
		name := e.Name()
		if c, err := LoadCharacter(filepath.Join(dir, e.Name())); err == nil {
			name = c.ConfName
		}
		files = append(files, ConfigFile{Filename: e.Name(), Name: name})
	}
	slices.SortFunc(files, func(a, b ConfigFile) int { return strings.Compare(a.Filename, b.Filename) })
	return files, nil
}

// ListBackgrounds returns the names of image files in dir, sorted. Content is
// sniffed, so extensions do not matter.
func ListBackgrounds(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan backgrounds: %w", err)
	}

	names := []string{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		mtype, err := mimetype.DetectFile(filepath.Join(dir, e.Name()))
		if err != nil || !strings.HasPrefix(mtype.String(), "image/") {
			continue
		}
		names = append(names, e.Name())
	}
	slices.Sort(names)
	return names, nil
}
