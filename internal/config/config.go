package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Trading struct {
	InitialCapital float64 `yaml:"initial_capital"`
	Commission     float64 `yaml:"commission"` // fraction of notional, e.g. 0.001
	Slippage       float64 `yaml:"slippage"`   // fraction of notional, e.g. 0.0005
}

type Risk struct {
	MaxDailyTrades       int     `yaml:"max_daily_trades"`
	MaxDailyLossFraction float64 `yaml:"max_daily_loss_fraction"`
	MaxPositionFraction  float64 `yaml:"max_position_fraction"`
	MinConfidence        float64 `yaml:"min_confidence"`
	StopLossFraction     float64 `yaml:"stop_loss_fraction"`   // 0 disables
	TakeProfitFraction   float64 `yaml:"take_profit_fraction"` // 0 disables
}

type Weights struct {
	Technical float64 `yaml:"technical"`
	RL        float64 `yaml:"rl"`
	Sentiment float64 `yaml:"sentiment"`
}

type Ensemble struct {
	Weights               Weights `yaml:"weights"`
	ActionThreshold       float64 `yaml:"action_threshold"`
	PriceFreshnessSeconds int     `yaml:"price_freshness_seconds"`
	NewsFreshnessSeconds  int     `yaml:"news_freshness_seconds"`
	HistoryLength         int     `yaml:"history_length"`
}

type Cadence struct {
	PriceSeconds     int `yaml:"price_seconds"`
	NewsSeconds      int `yaml:"news_seconds"`
	NewsFloorSeconds int `yaml:"news_floor_seconds"`
	DecisionSeconds  int `yaml:"decision_seconds"`
}

type Persistence struct {
	Path               string `yaml:"path"` // .json or .msgpack; empty disables
	CheckpointSchedule string `yaml:"checkpoint_schedule"`
	JournalPath        string `yaml:"journal_path"` // order journal (JSON lines); empty disables
}

type Session struct {
	Timezone      string `yaml:"timezone"`
	ResetSchedule string `yaml:"reset_schedule"` // cron expression, minute resolution
}

type Logging struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type HTTP struct {
	Addr string `yaml:"addr"` // empty disables the status server
}

type Root struct {
	Symbols     []string    `yaml:"symbols"`
	Trading     Trading     `yaml:"trading"`
	Risk        Risk        `yaml:"risk"`
	Ensemble    Ensemble    `yaml:"ensemble"`
	Cadence     Cadence     `yaml:"cadence"`
	Persistence Persistence `yaml:"persistence"`
	Session     Session     `yaml:"session"`
	Logging     Logging     `yaml:"logging"`
	HTTP        HTTP        `yaml:"http"`
}

func Load(path string) (Root, error) {
	c := presets()
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	c.ApplyDefaults()
	return c, nil
}

// LoadWithEnv reads an optional .env file, then the YAML config. Environment
// values override the file for log level and HTTP address.
func LoadWithEnv(path string) (Root, error) {
	_ = godotenv.Load()
	if path == "" {
		path = os.Getenv("TRADER_CONFIG")
	}
	if path == "" {
		path = "config/trader.yaml"
	}
	c, err := Load(path)
	if err != nil {
		return c, fmt.Errorf("load config %s: %w", path, err)
	}
	if lvl := os.Getenv("TRADER_LOG_LEVEL"); lvl != "" {
		c.Logging.Level = lvl
	}
	if addr := os.Getenv("TRADER_HTTP_ADDR"); addr != "" {
		c.HTTP.Addr = addr
	}
	return c, nil
}

// Default returns a fully defaulted config with no symbols.
func Default() Root {
	c := presets()
	c.ApplyDefaults()
	return c
}

// presets are defaults for fields where zero is a legitimate setting. They
// are filled in before the file is decoded so an explicit zero survives.
func presets() Root {
	var c Root
	c.Risk.MinConfidence = 0.5
	c.Ensemble.ActionThreshold = 0.3
	return c
}

func (c *Root) ApplyDefaults() {
	if c.Trading.InitialCapital == 0 {
		c.Trading.InitialCapital = 10000
	}

	if c.Risk.MaxDailyTrades == 0 {
		c.Risk.MaxDailyTrades = 10
	}
	if c.Risk.MaxDailyLossFraction == 0 {
		c.Risk.MaxDailyLossFraction = 0.05
	}
	if c.Risk.MaxPositionFraction == 0 {
		c.Risk.MaxPositionFraction = 0.2
	}

	w := c.Ensemble.Weights
	if w.Technical == 0 && w.RL == 0 && w.Sentiment == 0 {
		c.Ensemble.Weights = Weights{Technical: 0.6, RL: 0.2, Sentiment: 0.2}
	}
	if c.Ensemble.HistoryLength == 0 {
		c.Ensemble.HistoryLength = 60
	}

	if c.Cadence.PriceSeconds == 0 {
		c.Cadence.PriceSeconds = 10
	}
	if c.Cadence.NewsFloorSeconds == 0 {
		c.Cadence.NewsFloorSeconds = 300
	}
	if c.Cadence.NewsSeconds == 0 {
		c.Cadence.NewsSeconds = 600
	}
	if c.Cadence.DecisionSeconds == 0 {
		c.Cadence.DecisionSeconds = 30
	}

	// freshness windows derive from the producer cadence
	if c.Ensemble.PriceFreshnessSeconds == 0 {
		c.Ensemble.PriceFreshnessSeconds = 6 * c.Cadence.PriceSeconds
	}
	if c.Ensemble.NewsFreshnessSeconds == 0 {
		c.Ensemble.NewsFreshnessSeconds = 3 * c.Cadence.NewsSeconds
	}

	if c.Persistence.CheckpointSchedule == "" {
		c.Persistence.CheckpointSchedule = "@every 1m"
	}
	if c.Session.Timezone == "" {
		c.Session.Timezone = "America/New_York"
	}
	if c.Session.ResetSchedule == "" {
		c.Session.ResetSchedule = "0 0 * * *"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate rejects configurations the trading core cannot run with.
func (c Root) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("no symbols configured")
	}
	if c.Trading.InitialCapital <= 0 {
		return fmt.Errorf("initial_capital must be positive, got %.2f", c.Trading.InitialCapital)
	}
	if c.Trading.Commission < 0 || c.Trading.Slippage < 0 {
		return fmt.Errorf("commission and slippage must be non-negative")
	}
	if err := checkFraction("max_daily_loss_fraction", c.Risk.MaxDailyLossFraction); err != nil {
		return err
	}
	if err := checkFraction("max_position_fraction", c.Risk.MaxPositionFraction); err != nil {
		return err
	}
	if c.Risk.MinConfidence < 0 || c.Risk.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be within [0,1], got %.3f", c.Risk.MinConfidence)
	}
	if c.Ensemble.ActionThreshold < 0 || c.Ensemble.ActionThreshold >= 1 {
		return fmt.Errorf("action_threshold must be within [0,1), got %.3f", c.Ensemble.ActionThreshold)
	}
	if c.Risk.MaxDailyTrades < 1 {
		return fmt.Errorf("max_daily_trades must be at least 1")
	}
	w := c.Ensemble.Weights
	if w.Technical < 0 || w.RL < 0 || w.Sentiment < 0 {
		return fmt.Errorf("ensemble weights must be non-negative")
	}
	if sum := w.Technical + w.RL + w.Sentiment; math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("ensemble weights must sum to 1, got %.6f", sum)
	}
	if c.Cadence.PriceSeconds < 1 || c.Cadence.DecisionSeconds < 1 {
		return fmt.Errorf("price and decision cadence must be at least one second")
	}
	if _, err := time.LoadLocation(c.Session.Timezone); err != nil {
		return fmt.Errorf("session timezone: %w", err)
	}
	return nil
}

func checkFraction(name string, v float64) error {
	if v <= 0 || v > 1 {
		return fmt.Errorf("%s must be within (0,1], got %.4f", name, v)
	}
	return nil
}

// Location resolves the session timezone, falling back to UTC.
func (c Root) Location() *time.Location {
	loc, err := time.LoadLocation(c.Session.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
