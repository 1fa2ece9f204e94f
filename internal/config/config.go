// Package config handles LearnPulse configuration.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Config holds all configuration
type Config struct {
	// Paths
	DataDir string `json:"data_dir"`

	// Server
	Server ServerConfig `json:"server"`

	// Storage
	Storage StorageConfig `json:"storage"`

	// Insight collaborator
	Insight InsightConfig `json:"insight"`

	// Analysis tunables
	Tuning TuningConfig `json:"tuning"`

	// Scheduling
	Scheduler SchedulerConfig `json:"scheduler"`
}

// ServerConfig for HTTP server
type ServerConfig struct {
	Port int    `json:"port"`
	Host string `json:"host"`
}

// StorageConfig selects and configures the backing store
type StorageConfig struct {
	Backend string `json:"backend"` // "sqlite" or "redis"

	// SQLite
	Path string `json:"path,omitempty"`

	// Redis
	RedisAddr     string `json:"redis_addr,omitempty"`
	RedisPassword string `json:"redis_password,omitempty"`
	RedisDB       int    `json:"redis_db,omitempty"`

	// EventRetentionDays bounds the append-only event log
	EventRetentionDays int `json:"event_retention_days"`

	// FocusRetentionDays bounds focus run history kept for audit
	FocusRetentionDays int `json:"focus_retention_days"`
}

// InsightConfig for the external narrative-insight collaborator
type InsightConfig struct {
	URL     string        `json:"url"`
	APIKey  string        `json:"api_key,omitempty"`
	Timeout time.Duration `json:"timeout"`
	Enabled bool          `json:"enabled"`
}

// TuningConfig exposes the heuristic constants of the analysis pipeline.
// Defaults are the reference baseline; none of these are physical
// constants and deployments may tune them.
type TuningConfig struct {
	// Profile maintenance
	MasteryGainPerSuccess float64 `json:"mastery_gain_per_success"` // scaled by accuracy/100
	MasteryLossPerFailure float64 `json:"mastery_loss_per_failure"`
	LevelStepPct          float64 `json:"level_step_pct"`     // mastery needed per level
	ImprovementWindow     int     `json:"improvement_window"` // sessions per half-window

	// Pattern detection
	StrengthThresholdPct   float64 `json:"strength_threshold_pct"`
	ChallengeThresholdPct  float64 `json:"challenge_threshold_pct"`
	ConfidenceSessionScale int     `json:"confidence_session_scale"` // sessions for full confidence
	MinEventsPerSkill      int     `json:"min_events_per_skill"`
	WindowEvents           int     `json:"window_events"`
	WindowDays             int     `json:"window_days"`
	RegressionDropPct      float64 `json:"regression_drop_pct"`
	SpeedImprovementRatio  float64 `json:"speed_improvement_ratio"`
	FirstSuccessFailures   int     `json:"first_success_failures"` // prior failures required
	PriorAttemptsBonusAt   int     `json:"prior_attempts_bonus_at"`

	// Breakthrough base scores, out of 10
	BreakthroughBaseScores map[string]float64 `json:"breakthrough_base_scores"`

	// Focus synthesis
	MaxFocusAreas        int     `json:"max_focus_areas"`
	InactiveSkillDays    int     `json:"inactive_skill_days"`
	NearBreakthroughLow  float64 `json:"near_breakthrough_low"`
	NearBreakthroughHigh float64 `json:"near_breakthrough_high"`

	// Recommendation engine
	MaxActiveRecommendations int     `json:"max_active_recommendations"`
	RecommendationMaxAgeDays int     `json:"recommendation_max_age_days"`
	StyleMatchMax            float64 `json:"style_match_max"`

	// Bundle synergy
	SynergyBase          float64 `json:"synergy_base"`
	SynergyTypeDiversity float64 `json:"synergy_type_diversity"`
	SynergySkillOverlap  float64 `json:"synergy_skill_overlap"`
	SynergyDifficulty    float64 `json:"synergy_difficulty"`

	// Feedback loop
	MotivationGainOnSuccess float64 `json:"motivation_gain_on_success"`
	MotivationLossOnStall   float64 `json:"motivation_loss_on_stall"`
}

// SchedulerConfig for the per-user synthesis work queue
type SchedulerConfig struct {
	Workers        int           `json:"workers"`
	SynthesisEvery time.Duration `json:"synthesis_every"`
	CleanupEvery   time.Duration `json:"cleanup_every"`
	JobTimeout     time.Duration `json:"job_timeout"`
}

// Default returns default configuration
func Default() *Config {
	home, _ := os.UserHomeDir()

	return &Config{
		DataDir: filepath.Join(home, ".learnpulse"),
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Backend:            "sqlite",
			EventRetentionDays: 90,
			FocusRetentionDays: 30,
		},
		Insight: InsightConfig{
			URL:     "http://localhost:9090",
			APIKey:  os.Getenv("LEARNPULSE_INSIGHT_KEY"),
			Timeout: 8 * time.Second,
			Enabled: true,
		},
		Tuning: DefaultTuning(),
		Scheduler: SchedulerConfig{
			Workers:        4,
			SynthesisEvery: 12 * time.Hour,
			CleanupEvery:   24 * time.Hour,
			JobTimeout:     2 * time.Minute,
		},
	}
}

// DefaultTuning returns the reference baseline for every tunable.
func DefaultTuning() TuningConfig {
	return TuningConfig{
		MasteryGainPerSuccess: 2.0,
		MasteryLossPerFailure: 1.0,
		LevelStepPct:          20,
		ImprovementWindow:     5,

		StrengthThresholdPct:   80,
		ChallengeThresholdPct:  40,
		ConfidenceSessionScale: 25,
		MinEventsPerSkill:      5,
		WindowEvents:           20,
		WindowDays:             30,
		RegressionDropPct:      10,
		SpeedImprovementRatio:  0.7,
		FirstSuccessFailures:   3,
		PriorAttemptsBonusAt:   10,

		BreakthroughBaseScores: map[string]float64{
			"first_success":        8,
			"consistency_achieved": 7,
			"level_up":             9,
			"speed_improvement":    6,
			"independence_gained":  10,
			"trend_reversal":       7,
		},

		MaxFocusAreas:        5,
		InactiveSkillDays:    7,
		NearBreakthroughLow:  60,
		NearBreakthroughHigh: 80,

		MaxActiveRecommendations: 10,
		RecommendationMaxAgeDays: 30,
		StyleMatchMax:            1.2,

		SynergyBase:          25,
		SynergyTypeDiversity: 20,
		SynergySkillOverlap:  30,
		SynergyDifficulty:    25,

		MotivationGainOnSuccess: 2,
		MotivationLossOnStall:   1,
	}
}

// Load loads config from file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = filepath.Join(cfg.DataDir, "config.json")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Use defaults
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Override insight key from env if set
	if apiKey := os.Getenv("LEARNPULSE_INSIGHT_KEY"); apiKey != "" {
		cfg.Insight.APIKey = apiKey
	}

	return cfg, nil
}

// Save saves config to file
func (c *Config) Save(path string) error {
	if path == "" {
		path = filepath.Join(c.DataDir, "config.json")
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	// Don't save API key to file
	safeCfg := *c
	safeCfg.Insight.APIKey = ""

	data, err := json.MarshalIndent(safeCfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}
