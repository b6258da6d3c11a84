package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/wrenb/earnwatch/shared"
)

// Config is the configuration struct for the service.
type Config struct {
	// Universe represents the tracked tickers.
	Universe []string
	// FinnhubAPIKey is the finnhub API key.
	FinnhubAPIKey string
	// XAIAPIKey is the xAI API key.
	XAIAPIKey string
	// TradierAPIKey is the tradier API key.
	TradierAPIKey string
	// TradierAccountID is the tradier account id.
	TradierAccountID string
	// PaperTrading routes execution to the tradier sandbox.
	PaperTrading bool
	// DatabaseEndpoint represents the history database endpoint.
	DatabaseEndpoint string
	// DatabaseUser is the history database user.
	DatabaseUser string
	// DatabasePass is the history database user pass.
	DatabasePass string
	// RiskPerTrade is the fraction of equity committed to a single entry.
	RiskPerTrade float64
	// MaxExposure is the ceiling on total committed equity fraction.
	MaxExposure float64
	// StopLossPct is the loss fraction from entry that forces an exit.
	StopLossPct float64
	// TrailingTriggerPct is the gain fraction that arms the trailing stop.
	TrailingTriggerPct float64
	// TrailingPct is the high water mark drop fraction that triggers an exit.
	TrailingPct float64
	// EarningsLookaheadDays is the calendar window for upcoming earnings.
	EarningsLookaheadDays int
	// CheckIntervalMinutes is the spacing between decision ticks in minutes.
	CheckIntervalMinutes int

	registeredFlags map[string]bool
}

// RiskConfig forms the engine risk parameters from the loaded configuration.
func (cfg *Config) RiskConfig() *shared.RiskConfig {
	risk := shared.DefaultRiskConfig()

	if cfg.RiskPerTrade > 0 {
		risk.RiskPerTrade = cfg.RiskPerTrade
	}
	if cfg.MaxExposure > 0 {
		risk.MaxExposure = cfg.MaxExposure
	}
	if cfg.StopLossPct > 0 {
		risk.StopLossPct = cfg.StopLossPct
	}
	if cfg.TrailingTriggerPct > 0 {
		risk.TrailingTriggerPct = cfg.TrailingTriggerPct
	}
	if cfg.TrailingPct > 0 {
		risk.TrailingPct = cfg.TrailingPct
	}
	if cfg.EarningsLookaheadDays > 0 {
		risk.EarningsLookaheadDays = cfg.EarningsLookaheadDays
	}
	if cfg.CheckIntervalMinutes > 0 {
		risk.CheckInterval = time.Duration(cfg.CheckIntervalMinutes) * time.Minute
	}

	return risk
}

// Validate asserts the config has sane inputs.
func (cfg *Config) Validate() error {
	var errs error

	if len(cfg.Universe) == 0 {
		errs = errors.Join(errs, fmt.Errorf("no tickers provided for watch service"))
	}
	if cfg.FinnhubAPIKey == "" {
		errs = errors.Join(errs, fmt.Errorf("finnhub api key cannot be an empty string"))
	}
	if cfg.XAIAPIKey == "" {
		errs = errors.Join(errs, fmt.Errorf("xai api key cannot be an empty string"))
	}
	if cfg.TradierAPIKey == "" {
		errs = errors.Join(errs, fmt.Errorf("tradier api key cannot be an empty string"))
	}
	if cfg.TradierAccountID == "" {
		errs = errors.Join(errs, fmt.Errorf("tradier account id cannot be an empty string"))
	}
	if cfg.DatabaseEndpoint == "" {
		errs = errors.Join(errs, fmt.Errorf("database endpoint cannot be an empty string"))
	}
	if err := cfg.RiskConfig().Validate(); err != nil {
		errs = errors.Join(errs, err)
	}

	return errs
}

// registerFlag registers command line arguments of any type and tracks them to avoid reregistration.
func (cfg *Config) registerFlag(name string, value interface{}, usage string) error {
	if cfg.registeredFlags == nil {
		cfg.registeredFlags = make(map[string]bool)
	}

	if cfg.registeredFlags[name] {
		return nil
	}

	cfg.registeredFlags[name] = true

	defValue := os.Getenv(strings.ToUpper(name))
	val := reflect.ValueOf(value)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("%s: value must be a non-nil pointer", name)
	}

	switch val.Elem().Kind() {
	case reflect.String:
		flag.StringVar(value.(*string), name, defValue, usage)
	case reflect.Bool:
		var def bool
		if defValue != "" {
			def, _ = strconv.ParseBool(defValue)
		}
		flag.BoolVar(value.(*bool), name, def, usage)
	case reflect.Int:
		var def int
		if defValue != "" {
			def, _ = strconv.Atoi(defValue)
		}
		flag.IntVar(value.(*int), name, def, usage)
	case reflect.Float64:
		var def float64
		if defValue != "" {
			def, _ = strconv.ParseFloat(defValue, 64)
		}
		flag.Float64Var(value.(*float64), name, def, usage)
	case reflect.Slice:
		// Only handle []string
		if val.Elem().Type().Elem().Kind() == reflect.String {
			var def []string
			if defValue != "" {
				def = strings.Split(defValue, ",")
			}
			flag.Func(name, usage, func(s string) error {
				*value.(*[]string) = strings.Split(s, ",")
				return nil
			})
			// Set default if not provided via flag
			if len(def) > 0 {
				*value.(*[]string) = def
			}
		} else {
			return fmt.Errorf("%s: unsupported slice type", name)
		}
	default:
		return fmt.Errorf("%s: unsupported type", name)
	}

	return nil
}

// loadConfig loads the configuration from environment variables and command line flags.
func loadConfig(cfg *Config, path string) error {
	if path == "" {
		path = ".env"
	}

	// Check if the expected .env file exists before loading it.
	_, err := os.Stat(path)
	if err == nil {
		err := godotenv.Load(path)
		if err != nil {
			return fmt.Errorf("loading .env file: %w", err)
		}
	}

	// Register command line arguments using loaded environment variables as defaults.
	flags := []struct {
		name  string
		value interface{}
		usage string
	}{
		{"universe", &cfg.Universe, "the tracked tickers"},
		{"finnhubapikey", &cfg.FinnhubAPIKey, "the finnhub api key"},
		{"xaiapikey", &cfg.XAIAPIKey, "the xai api key"},
		{"tradierapikey", &cfg.TradierAPIKey, "the tradier api key"},
		{"tradieraccountid", &cfg.TradierAccountID, "the tradier account id"},
		{"papertrading", &cfg.PaperTrading, "the paper trading flag"},
		{"dbendpoint", &cfg.DatabaseEndpoint, "the history database endpoint"},
		{"dbuser", &cfg.DatabaseUser, "the history database user"},
		{"dbpass", &cfg.DatabasePass, "the history database pass"},
		{"riskpertrade", &cfg.RiskPerTrade, "the per trade risk fraction"},
		{"maxexposure", &cfg.MaxExposure, "the max exposure fraction"},
		{"stoplosspct", &cfg.StopLossPct, "the stop loss fraction"},
		{"trailingtriggerpct", &cfg.TrailingTriggerPct, "the trailing stop trigger fraction"},
		{"trailingpct", &cfg.TrailingPct, "the trailing stop fraction"},
		{"earningslookaheaddays", &cfg.EarningsLookaheadDays, "the earnings lookahead window in days"},
		{"checkintervalminutes", &cfg.CheckIntervalMinutes, "the decision tick interval in minutes"},
	}

	for _, f := range flags {
		err = cfg.registerFlag(f.name, f.value, f.usage)
		if err != nil {
			return err
		}
	}

	// Parse command-line flags.
	flag.Parse()

	return cfg.Validate()
}
