// Package config loads and validates the forgecore TOML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like "60s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the root of the forgecore TOML configuration tree.
type Config struct {
	General     General                   `toml:"general"`
	Resource    Resource                  `toml:"resource"`
	Window      MaintenanceWindow         `toml:"maintenance_window"`
	Opportunity Opportunity               `toml:"opportunity"`
	Budget      BudgetConfig              `toml:"budget"`
	Outcome     OutcomeConfig             `toml:"outcome"`
	Feedback    FeedbackConfig            `toml:"feedback"`
	TaskKinds   map[string]TaskKindConfig `toml:"task_kinds"`
	Retry       RetryDefaults             `toml:"retry_defaults"`
	Pools       map[string]PoolConfig     `toml:"pools"`
	API         API                       `toml:"api"`
	Audit       AuditConfig               `toml:"audit"`
	Capabilities Capabilities             `toml:"capabilities"`
}

// Capabilities configures the concrete adapters behind
// internal/capability's interfaces (spec.md §8's external interfaces).
type Capabilities struct {
	Qdrant      QdrantConfig      `toml:"qdrant"`
	Knowledge   KnowledgeConfig   `toml:"knowledge"`
	VCS         VCSConfig         `toml:"vcs"`
	Fetch       FetchConfig       `toml:"fetch"`
	Synthesizer SynthesizerConfig `toml:"synthesizer"`
}

// QdrantConfig points the Search capability at a Qdrant collection.
type QdrantConfig struct {
	Host       string `toml:"host"`
	GRPCPort   int    `toml:"grpc_port"`
	APIKey     string `toml:"api_key"`
	Collection string `toml:"collection"`
}

// KnowledgeConfig is the base directory the KnowledgeStore writes
// markdown articles under.
type KnowledgeConfig struct {
	BaseDir string `toml:"base_dir"`
}

// VCSConfig is the working tree the VCS capability commits into.
type VCSConfig struct {
	Workspace string `toml:"workspace"`
}

// FetchConfig bounds capability.ContentFetcher's timeout and response
// size. No task handler calls the fetcher; the search task kind queries
// only the Search capability.
type FetchConfig struct {
	TimeoutS int   `toml:"timeout_s"`
	MaxBytes int64 `toml:"max_bytes"`
}

// SynthesizerConfig names the netpool entry and model the Synthesizer
// capability calls through.
type SynthesizerConfig struct {
	Pool  string `toml:"pool"`
	Model string `toml:"model"`
}

// General carries process-wide knobs: state storage location, logging,
// and the scheduler's tick resolution.
type General struct {
	TickInterval Duration `toml:"tick_interval"`
	StateDB      string   `toml:"state_db"`
	LogLevel     string   `toml:"log_level"`
	FullTimeMode bool     `toml:"full_time_mode"`
}

// MaintenanceWindow gates project_generation and task_execution unless
// FullTimeMode is set (spec.md §4.6).
type MaintenanceWindow struct {
	StartHour int    `toml:"start_hour"`
	EndHour   int    `toml:"end_hour"`
	Zone      string `toml:"zone"`
}

// Resource configures the admission controller (spec.md §4.5).
type Resource struct {
	DailyBudgetUSD   float64  `toml:"daily_budget_usd"`
	IdleThresholdMin int      `toml:"idle_threshold_min"`
	CPUCeilingPct    float64  `toml:"cpu_ceiling_pct"`
	MemCeilingPct    float64  `toml:"mem_ceiling_pct"`
	MetricsCacheTTL  Duration `toml:"metrics_cache_ttl"`
}

// Opportunity configures the detector's strategies (spec.md §4.7).
type Opportunity struct {
	LookbackDays       int                `toml:"lookback_days"`
	MinPatternCount    int                `toml:"min_pattern_count"`
	MinImpactScore     float64            `toml:"min_impact_score"`
	Weights            StrategyWeights    `toml:"strategy_weights"`
	ExpectedKnowledge  []string           `toml:"expected_knowledge"`
	FrontierShareMin   float64            `toml:"frontier_share_min"`
	FrontierCostMinUSD float64            `toml:"frontier_cost_min_usd"`
	CostPerFailureUSD  map[string]float64 `toml:"cost_per_failure_usd"`
	SeverityTable      map[string]float64 `toml:"severity_table"`
	FrequencyCeiling   float64            `toml:"frequency_ceiling"`
	FailureCostCeilingUSD float64         `toml:"failure_cost_ceiling_usd"`
	FrontierShareCeiling  float64         `toml:"frontier_share_ceiling"`
	FrontierCostCeiling   float64         `toml:"frontier_cost_ceiling_usd"`
	AutoApproveAgeH    map[string]float64 `toml:"auto_approve_age_h"` // goal kind -> hours; absent/0 = never
}

// StrategyWeights must sum to 1.0 within floating tolerance (spec.md §4.7).
type StrategyWeights struct {
	Frequency      float64 `toml:"frequency"`
	Severity       float64 `toml:"severity"`
	CostSavings    float64 `toml:"cost_savings"`
	KnowledgeGap   float64 `toml:"knowledge_gap"`
	StrategicValue float64 `toml:"strategic_value"`
}

// BudgetConfig configures project overspend tolerance per goal kind.
type BudgetConfig struct {
	OverspendTolerance       float64              `toml:"overspend_tolerance"`
	OverspendToleranceByKind map[string]float64   `toml:"overspend_tolerance_by_kind"`
	TaskSplitWeights         map[string][]float64 `toml:"task_split_weights"` // goal kind -> per-task weight
}

// OutcomeConfig configures the outcome tracker (spec.md §4.12).
type OutcomeConfig struct {
	MeasurementWindowDays int     `toml:"measurement_window_days"`
	AdoptionCeiling       float64 `toml:"adoption_ceiling"`
	DefaultQuality        float64 `toml:"default_quality"`
}

// FeedbackConfig configures the rolling-mean adjustment (spec.md §4.13).
type FeedbackConfig struct {
	WindowSamples int     `toml:"window_samples"`
	MinSamples    int     `toml:"min_samples"`
	Pivot         float64 `toml:"pivot"`
	MinAdjustment float64 `toml:"min_adjustment"`
	MaxAdjustment float64 `toml:"max_adjustment"`
}

// TaskKindConfig bounds per-kind concurrency and execution deadline in
// the executor (spec.md §4.10).
type TaskKindConfig struct {
	Permits int      `toml:"permits"`
	Timeout Duration `toml:"timeout"`
}

// RetryDefaults is the fallback retry policy for task kinds without an
// override (spec.md §6 configuration keys).
type RetryDefaults struct {
	MaxAttempts   int      `toml:"max_attempts"`
	MaxBackoff    Duration `toml:"max_backoff"`
	InitialDelay  Duration `toml:"initial_delay"`
	BackoffFactor float64  `toml:"backoff_factor"`
}

// PoolConfig configures one named outbound connection pool (spec.md §4.4).
type PoolConfig struct {
	MaxConn          int      `toml:"max_conn"`
	KeepAlive        Duration `toml:"keepalive"`
	FailureThreshold int      `toml:"failure_threshold"`
	RecoveryTimeout  Duration `toml:"recovery_timeout"`
	HealthInterval   Duration `toml:"health_interval"`
	BaseURL          string   `toml:"base_url"`
}

// API configures the thin HTTP surface (spec.md §6).
type API struct {
	Bind     string      `toml:"bind"`
	Security APISecurity `toml:"security"`
}

// APISecurity gates the mutating endpoints behind bearer tokens.
type APISecurity struct {
	Enabled       bool   `toml:"enabled"`
	JWTSigningKey string `toml:"jwt_signing_key"`
	AuditLog      string `toml:"audit_log"`
}

// AuditConfig configures the audit event sink (spec.md §4.2).
type AuditConfig struct {
	QueueSize   int    `toml:"queue_size"`
	NATSURL     string `toml:"nats_url"` // empty disables the pub/sub fan-out
	NATSSubject string `toml:"nats_subject"`
}

// Clone returns a deep copy of cfg so callers can safely mutate the result
// without racing a concurrent reader (ConfigManager contract).
func (cfg *Config) Clone() *Config {
	if cfg == nil {
		return nil
	}
	cloned := *cfg
	cloned.TaskKinds = cloneTaskKindMap(cfg.TaskKinds)
	cloned.Pools = clonePoolMap(cfg.Pools)
	cloned.Opportunity.ExpectedKnowledge = cloneStringSlice(cfg.Opportunity.ExpectedKnowledge)
	cloned.Opportunity.CostPerFailureUSD = cloneFloatMap(cfg.Opportunity.CostPerFailureUSD)
	cloned.Opportunity.SeverityTable = cloneFloatMap(cfg.Opportunity.SeverityTable)
	cloned.Opportunity.AutoApproveAgeH = cloneFloatMap(cfg.Opportunity.AutoApproveAgeH)
	cloned.Budget.OverspendToleranceByKind = cloneFloatMap(cfg.Budget.OverspendToleranceByKind)
	cloned.Budget.TaskSplitWeights = cloneFloatSliceMap(cfg.Budget.TaskSplitWeights)
	return &cloned
}

func cloneTaskKindMap(in map[string]TaskKindConfig) map[string]TaskKindConfig {
	if in == nil {
		return nil
	}
	out := make(map[string]TaskKindConfig, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func clonePoolMap(in map[string]PoolConfig) map[string]PoolConfig {
	if in == nil {
		return nil
	}
	out := make(map[string]PoolConfig, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneFloatMap(in map[string]float64) map[string]float64 {
	if in == nil {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneFloatSliceMap(in map[string][]float64) map[string][]float64 {
	if in == nil {
		return nil
	}
	out := make(map[string][]float64, len(in))
	for k, v := range in {
		cp := make([]float64, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

func cloneStringSlice(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// Load reads and validates a forgecore TOML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(&cfg)
	normalizePaths(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// LoadManager reads config from path and returns an RWMutex-backed thread-safe manager.
func LoadManager(path string) (ConfigManager, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return NewRWMutexManager(cfg), nil
}

func applyDefaults(cfg *Config) {
	if cfg.General.TickInterval.Duration == 0 {
		cfg.General.TickInterval.Duration = 15 * time.Second
	}
	if cfg.General.StateDB == "" {
		cfg.General.StateDB = "forgecore.db"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}

	if cfg.Window.StartHour == 0 && cfg.Window.EndHour == 0 {
		cfg.Window.StartHour = 4
		cfg.Window.EndHour = 6
	}
	if cfg.Window.Zone == "" {
		cfg.Window.Zone = "UTC"
	}

	if cfg.Resource.DailyBudgetUSD == 0 {
		cfg.Resource.DailyBudgetUSD = 25.0
	}
	if cfg.Resource.IdleThresholdMin == 0 {
		cfg.Resource.IdleThresholdMin = 5
	}
	if cfg.Resource.CPUCeilingPct == 0 {
		cfg.Resource.CPUCeilingPct = 70
	}
	if cfg.Resource.MemCeilingPct == 0 {
		cfg.Resource.MemCeilingPct = 80
	}
	if cfg.Resource.MetricsCacheTTL.Duration == 0 {
		cfg.Resource.MetricsCacheTTL.Duration = 10 * time.Second
	}

	if cfg.Opportunity.LookbackDays == 0 {
		cfg.Opportunity.LookbackDays = 30
	}
	if cfg.Opportunity.MinPatternCount == 0 {
		cfg.Opportunity.MinPatternCount = 3
	}
	if cfg.Opportunity.MinImpactScore == 0 {
		cfg.Opportunity.MinImpactScore = 40
	}
	if zeroWeights(cfg.Opportunity.Weights) {
		cfg.Opportunity.Weights = StrategyWeights{
			Frequency: 0.20, Severity: 0.25, CostSavings: 0.20,
			KnowledgeGap: 0.20, StrategicValue: 0.15,
		}
	}
	if cfg.Opportunity.FrontierShareMin == 0 {
		cfg.Opportunity.FrontierShareMin = 0.30
	}
	if cfg.Opportunity.FrontierCostMinUSD == 0 {
		cfg.Opportunity.FrontierCostMinUSD = 5.00
	}
	if cfg.Opportunity.FrequencyCeiling == 0 {
		cfg.Opportunity.FrequencyCeiling = 0.3
	}
	if cfg.Opportunity.FailureCostCeilingUSD == 0 {
		cfg.Opportunity.FailureCostCeilingUSD = 25.0
	}
	if cfg.Opportunity.FrontierShareCeiling == 0 {
		cfg.Opportunity.FrontierShareCeiling = 0.45
	}
	if cfg.Opportunity.FrontierCostCeiling == 0 {
		cfg.Opportunity.FrontierCostCeiling = 13.0
	}
	if cfg.Opportunity.AutoApproveAgeH == nil {
		cfg.Opportunity.AutoApproveAgeH = map[string]float64{}
	}

	if cfg.Budget.OverspendTolerance == 0 {
		cfg.Budget.OverspendTolerance = 1.0
	}
	if cfg.Budget.OverspendToleranceByKind == nil {
		cfg.Budget.OverspendToleranceByKind = map[string]float64{}
	}
	if cfg.Budget.TaskSplitWeights == nil {
		cfg.Budget.TaskSplitWeights = map[string][]float64{
			"research": {0.40, 0.20, 0.20, 0.20},
		}
	}

	if cfg.Outcome.MeasurementWindowDays == 0 {
		cfg.Outcome.MeasurementWindowDays = 30
	}
	if cfg.Outcome.AdoptionCeiling == 0 {
		cfg.Outcome.AdoptionCeiling = 50
	}
	if cfg.Outcome.DefaultQuality == 0 {
		cfg.Outcome.DefaultQuality = 80
	}

	if cfg.Feedback.WindowSamples == 0 {
		cfg.Feedback.WindowSamples = 20
	}
	if cfg.Feedback.MinSamples == 0 {
		cfg.Feedback.MinSamples = 10
	}
	if cfg.Feedback.Pivot == 0 {
		cfg.Feedback.Pivot = 70
	}
	if cfg.Feedback.MinAdjustment == 0 {
		cfg.Feedback.MinAdjustment = 0.5
	}
	if cfg.Feedback.MaxAdjustment == 0 {
		cfg.Feedback.MaxAdjustment = 1.5
	}

	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.MaxBackoff.Duration == 0 {
		cfg.Retry.MaxBackoff.Duration = 30 * time.Minute
	}
	if cfg.Retry.InitialDelay.Duration == 0 {
		cfg.Retry.InitialDelay.Duration = 1 * time.Minute
	}
	if cfg.Retry.BackoffFactor == 0 {
		cfg.Retry.BackoffFactor = 2.0
	}

	if cfg.Audit.QueueSize == 0 {
		cfg.Audit.QueueSize = 1024
	}
	if cfg.Audit.NATSSubject == "" {
		cfg.Audit.NATSSubject = "forgecore.audit"
	}

	if cfg.API.Bind == "" {
		cfg.API.Bind = "127.0.0.1:8080"
	}

	if cfg.Capabilities.Qdrant.GRPCPort == 0 {
		cfg.Capabilities.Qdrant.GRPCPort = 6334
	}
	if cfg.Capabilities.Qdrant.Collection == "" {
		cfg.Capabilities.Qdrant.Collection = "research_notes"
	}
	if cfg.Capabilities.Knowledge.BaseDir == "" {
		cfg.Capabilities.Knowledge.BaseDir = "./knowledge"
	}
	if cfg.Capabilities.VCS.Workspace == "" {
		cfg.Capabilities.VCS.Workspace = "."
	}
	if cfg.Capabilities.Fetch.TimeoutS == 0 {
		cfg.Capabilities.Fetch.TimeoutS = 10
	}
	if cfg.Capabilities.Fetch.MaxBytes == 0 {
		cfg.Capabilities.Fetch.MaxBytes = 2 << 20
	}
	if cfg.Capabilities.Synthesizer.Pool == "" {
		cfg.Capabilities.Synthesizer.Pool = "synthesizer"
	}
}

func zeroWeights(w StrategyWeights) bool {
	return w.Frequency == 0 && w.Severity == 0 && w.CostSavings == 0 &&
		w.KnowledgeGap == 0 && w.StrategicValue == 0
}

func normalizePaths(cfg *Config) {
	cfg.General.StateDB = ExpandHome(cfg.General.StateDB)
	cfg.API.Security.AuditLog = ExpandHome(cfg.API.Security.AuditLog)
	cfg.Capabilities.Knowledge.BaseDir = ExpandHome(cfg.Capabilities.Knowledge.BaseDir)
	cfg.Capabilities.VCS.Workspace = ExpandHome(cfg.Capabilities.VCS.Workspace)
}

func validate(cfg *Config) error {
	sum := cfg.Opportunity.Weights.Frequency + cfg.Opportunity.Weights.Severity +
		cfg.Opportunity.Weights.CostSavings + cfg.Opportunity.Weights.KnowledgeGap +
		cfg.Opportunity.Weights.StrategicValue
	if sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("strategy_weights must sum to 1.0 within tolerance, got %.4f", sum)
	}
	if cfg.Window.StartHour < 0 || cfg.Window.StartHour > 23 {
		return fmt.Errorf("maintenance_window.start_hour out of range: %d", cfg.Window.StartHour)
	}
	if cfg.Window.EndHour < 0 || cfg.Window.EndHour > 23 {
		return fmt.Errorf("maintenance_window.end_hour out of range: %d", cfg.Window.EndHour)
	}
	if cfg.Feedback.MinAdjustment >= cfg.Feedback.MaxAdjustment {
		return fmt.Errorf("feedback.min_adjustment must be < max_adjustment")
	}
	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if len(path) == 0 {
		return path
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
