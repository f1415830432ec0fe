package settings

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
)

type AppSettings struct {
	StalenessThresholdDays     int    `json:"stalenessThresholdDays"`
	LastRepoID                 *int64 `json:"lastRepoId"`
	AutoRefreshOnFocus         bool   `json:"autoRefreshOnFocus"`
	RefreshCooldownSeconds     int    `json:"refreshCooldownSeconds"`
	ShowStaleWarnings          bool   `json:"showStaleWarnings"`
	ShowBranchPathInFull       bool   `json:"showBranchPathInFull"`
	ShowCommitCountBadges      bool   `json:"showCommitCountBadges"`
	BranchNameFontSize         string `json:"branchNameFontSize"`
	AutoRefreshEnabled         bool   `json:"autoRefreshEnabled"`
	AutoRefreshIntervalSeconds int    `json:"autoRefreshIntervalSeconds"`
}

func DefaultAppSettings() AppSettings {
	return AppSettings{
		StalenessThresholdDays:     30,
		AutoRefreshOnFocus:         true,
		RefreshCooldownSeconds:     60,
		ShowStaleWarnings:          true,
		ShowBranchPathInFull:       false,
		ShowCommitCountBadges:      true,
		BranchNameFontSize:         "md",
		AutoRefreshEnabled:         true,
		AutoRefreshIntervalSeconds: 30,
	}
}

// App returns the stored preferences layered over the defaults. A blob that
// no longer parses yields the defaults.
func (s *Settings) App(ctx context.Context) (AppSettings, error) {
	app := DefaultAppSettings()
	raw, ok, err := s.store.Setting(ctx, appSettingsKey)
	if err != nil {
		return AppSettings{}, err
	}
	if !ok || raw == "" {
		return app, nil
	}
	if err := json.Unmarshal([]byte(raw), &app); err != nil {
		return DefaultAppSettings(), nil
	}
	return app, nil
}

// SaveApp merges a partial JSON object over the current preferences and
// stores the result.
func (s *Settings) SaveApp(ctx context.Context, partial []byte) (AppSettings, error) {
	app, err := s.App(ctx)
	if err != nil {
		return AppSettings{}, err
	}
	if len(partial) > 0 {
		if err := json.Unmarshal(partial, &app); err != nil {
			return AppSettings{}, fmt.Errorf("invalid settings: %w", err)
		}
	}
	data, err := json.Marshal(app)
	if err != nil {
		return AppSettings{}, err
	}
	if err := s.store.PutSetting(ctx, appSettingsKey, string(data)); err != nil {
		return AppSettings{}, err
	}
	return app, nil
}
