// Package settings implements the two-layer (global + per-user)
// SettingsDocument: a JSON-persisted mapping of category to key/value pairs,
// deep-merged against a hard-coded default document on load. It is the Go
// analogue of the original bot's SettingsManager, generalized to the
// layered read/write contract this spec names.
package settings

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/adittyamondal/vcompress/internal/ffmpeg"
	"github.com/adittyamondal/vcompress/internal/jobs"
	"github.com/adittyamondal/vcompress/internal/logger"
)

//go:embed defaults.yaml
var defaultsYAML []byte

var presetDescriptions = map[string]string{
	"ultra_fast":      "Ultra Fast - fastest compression, larger file size",
	"fast":            "Fast - quick compression, good quality",
	"balanced":        "Balanced - good balance of speed and quality",
	"quality":         "Quality - better quality, slower compression",
	"high_quality":    "High Quality - best quality, slowest compression",
	"nvidia_fast":     "NVIDIA Fast - hardware accelerated, fast",
	"nvidia_balanced": "NVIDIA Balanced - hardware accelerated, balanced",
	"nvidia_quality":  "NVIDIA Quality - hardware accelerated, high quality",
	"custom":          "Custom - user-defined settings",
}

// Store is the layered settings document: a global JSON file plus a
// per-user JSON file, both deep-merged against the embedded defaults.
type Store struct {
	mu         sync.RWMutex
	globalPath string
	userPath   string
	engine     ffmpeg.Engine

	global map[string]any
	users  map[string]map[string]any // user id (string) -> partial document
}

// Open loads (or initializes) the global and per-user settings documents
// from disk. A corrupt file resets to defaults rather than aborting startup.
func Open(globalPath, userPath string, engine ffmpeg.Engine) (*Store, error) {
	var defaults map[string]any
	if err := yaml.Unmarshal(defaultsYAML, &defaults); err != nil {
		return nil, fmt.Errorf("parse embedded settings defaults: %w", err)
	}

	s := &Store{
		globalPath: globalPath,
		userPath:   userPath,
		engine:     engine,
		users:      make(map[string]map[string]any),
	}

	loadedGlobal := loadJSONMap(globalPath)
	s.global = deepMerge(defaults, loadedGlobal)

	if users := loadJSONMap(userPath); users != nil {
		for id, v := range users {
			if m, ok := v.(map[string]any); ok {
				s.users[id] = m
			}
		}
	}

	if loadedGlobal == nil {
		if err := s.saveGlobalLocked(); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func loadJSONMap(path string) map[string]any {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		logger.Error("settings file corrupt, resetting to defaults", "path", path, "error", err)
		return nil
	}
	return m
}

// deepMerge recursively overlays loaded onto a copy of base; nested maps
// merge key-by-key, everything else (including scalars like active_preset)
// is replaced wholesale.
func deepMerge(base, loaded map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range loaded {
		if baseVal, ok := result[k]; ok {
			baseMap, baseIsMap := baseVal.(map[string]any)
			loadedMap, loadedIsMap := v.(map[string]any)
			if baseIsMap && loadedIsMap {
				result[k] = deepMerge(baseMap, loadedMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

func (s *Store) saveGlobalLocked() error {
	return atomicWriteJSON(s.globalPath, s.global)
}

func (s *Store) saveUsersLocked() error {
	return atomicWriteJSON(s.userPath, s.users)
}

func atomicWriteJSON(path string, v any) error {
	if path == "" {
		return nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Get resolves category.key through per-user-override-else-global
// precedence. The bool reports whether a value was found.
func (s *Store) Get(category, key string, userID int64) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if userID != 0 {
		if userDoc, ok := s.users[userIDKey(userID)]; ok {
			if cat, ok := userDoc[category].(map[string]any); ok {
				if v, ok := cat[key]; ok {
					return v, true
				}
			}
		}
	}
	if cat, ok := s.global[category].(map[string]any); ok {
		if v, ok := cat[key]; ok {
			return v, true
		}
	}
	return nil, false
}

// GetCategory returns the effective merged mapping for a category (per-user
// overrides layered on top of global), never failing on a missing category.
func (s *Store) GetCategory(category string, userID int64) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := map[string]any{}
	if global, ok := s.global[category].(map[string]any); ok {
		for k, v := range global {
			result[k] = v
		}
	}
	if userID != 0 {
		if userDoc, ok := s.users[userIDKey(userID)]; ok {
			if userCat, ok := userDoc[category].(map[string]any); ok {
				for k, v := range userCat {
					result[k] = v
				}
			}
		}
	}
	return result
}

// Set writes category.key = value to the per-user layer when userID is
// non-zero, otherwise to the global layer. Both layers persist on success.
// Out-of-range integer values for preview_settings.screenshot_count and
// custom_compression.v_qp / v_scale are rejected with an error.
func (s *Store) Set(category, key string, value any, userID int64) error {
	if n, isInt := value.(int); isInt {
		switch {
		case category == "preview_settings" && key == "screenshot_count" && (n < jobs.MinScreenshotCount || n > jobs.MaxScreenshotCount),
			category == "custom_compression" && key == "v_qp" && !jobs.IsValidQualityQP(n),
			category == "custom_compression" && key == "v_scale" && !jobs.IsValidScaleHeight(n):
			return fmt.Errorf("%s.%s: value %d is out of range", category, key, n)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if userID != 0 {
		id := userIDKey(userID)
		doc, ok := s.users[id]
		if !ok {
			doc = map[string]any{}
			s.users[id] = doc
		}
		cat, ok := doc[category].(map[string]any)
		if !ok {
			cat = map[string]any{}
			doc[category] = cat
		}
		cat[key] = value
		return s.saveUsersLocked()
	}

	cat, ok := s.global[category].(map[string]any)
	if !ok {
		cat = map[string]any{}
		s.global[category] = cat
	}
	cat[key] = value
	return s.saveGlobalLocked()
}

// ActivePreset returns the resolved active_preset name (per-user value, else
// global, else balanced), falling back to balanced when the name is unknown
// or names an nvidia_* preset while the detected engine is not EngineNVIDIA.
func (s *Store) ActivePreset(userID int64) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	name := "balanced"
	if v, ok := s.global["active_preset"].(string); ok && v != "" {
		name = v
	}
	if userID != 0 {
		if userDoc, ok := s.users[userIDKey(userID)]; ok {
			if v, ok := userDoc["active_preset"].(string); ok && v != "" {
				name = v
			}
		}
	}

	if name == "custom" {
		return name
	}
	presets, _ := s.global["compression_presets"].(map[string]any)
	if _, ok := presets[name]; !ok {
		return "balanced"
	}
	if len(name) >= 6 && name[:6] == "nvidia" && s.engine != ffmpeg.EngineNVIDIA {
		return "balanced"
	}
	return name
}

// SetActivePreset sets active_preset for userID (global if userID is 0).
// Returns false if presetName names neither an existing preset nor "custom".
func (s *Store) SetActivePreset(presetName string, userID int64) (bool, error) {
	s.mu.Lock()
	presets, _ := s.global["compression_presets"].(map[string]any)
	_, known := presets[presetName]
	s.mu.Unlock()
	if presetName != "custom" && !known {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if userID != 0 {
		id := userIDKey(userID)
		doc, ok := s.users[id]
		if !ok {
			doc = map[string]any{}
			s.users[id] = doc
		}
		doc["active_preset"] = presetName
		return true, s.saveUsersLocked()
	}
	s.global["active_preset"] = presetName
	return true, s.saveGlobalLocked()
}

// ActiveProfile resolves active_preset into an EncodeProfile: if "custom",
// custom_compression merged with any per-user overrides; otherwise the
// named preset with custom_compression overrides layered on top, matching
// the original bot's later (authoritative) definition of this resolution.
func (s *Store) ActiveProfile(userID int64) (ffmpeg.EncodeProfile, error) {
	active := s.ActivePreset(userID)

	s.mu.RLock()
	presets, _ := s.global["compression_presets"].(map[string]any)
	var presetSettings map[string]any
	if active != "custom" {
		presetSettings, _ = presets[active].(map[string]any)
	}
	s.mu.RUnlock()

	custom := s.GetCategory("custom_compression", userID)

	merged := map[string]any{}
	for k, v := range presetSettings {
		merged[k] = v
	}
	for k, v := range custom {
		merged[k] = v
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return ffmpeg.EncodeProfile{}, err
	}
	var profile ffmpeg.EncodeProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return ffmpeg.EncodeProfile{}, err
	}
	return profile, nil
}

// AvailablePresets returns preset name -> description, omitting
// hardware-coded presets (nvidia_*) when the detected engine is not
// EngineNVIDIA.
func (s *Store) AvailablePresets() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	presets, _ := s.global["compression_presets"].(map[string]any)
	out := make(map[string]string, len(presets)+1)
	for name := range presets {
		if len(name) >= 6 && name[:6] == "nvidia" && s.engine != ffmpeg.EngineNVIDIA {
			continue
		}
		desc, ok := presetDescriptions[name]
		if !ok {
			desc = name
		}
		out[name] = desc
	}
	out["custom"] = presetDescriptions["custom"]
	return out
}

func userIDKey(userID int64) string {
	return fmt.Sprintf("%d", userID)
}
