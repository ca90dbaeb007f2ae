// Package config loads ubl-core's runtime configuration from a YAML file,
// environment variables, and a .env file, in that precedence order.
package config

import (
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"ubl-core/pkg/utils"
)

// Config is the unified configuration for an ubl-core process.
type Config struct {
	Database struct {
		DSN string `mapstructure:"dsn" json:"dsn"`
	} `mapstructure:"database" json:"database"`

	Server struct {
		Port int `mapstructure:"port" json:"port"`
	} `mapstructure:"server" json:"server"`

	Realm struct {
		ID string `mapstructure:"id" json:"id"`
	} `mapstructure:"realm" json:"realm"`

	CircuitBreaker struct {
		MaxInflation      float64 `mapstructure:"max_inflation" json:"max_inflation"`
		MaxSupplyChange   float64 `mapstructure:"max_supply_change" json:"max_supply_change"`
		MaxDefaultRate    float64 `mapstructure:"max_default_rate" json:"max_default_rate"`
		MaxGini           float64 `mapstructure:"max_gini" json:"max_gini"`
		AnomalyThreshold  int     `mapstructure:"anomaly_threshold" json:"anomaly_threshold"`
		HalfOpenMaxProbes int     `mapstructure:"half_open_max_probes" json:"half_open_max_probes"`
	} `mapstructure:"circuit_breaker" json:"circuit_breaker"`

	Monetary struct {
		BaseInterestRate  float64 `mapstructure:"base_interest_rate" json:"base_interest_rate"`
		TransactionFeeBps int64   `mapstructure:"transaction_fee_bps" json:"transaction_fee_bps"`
		StarterLoanAmount int64   `mapstructure:"starter_loan_amount_mubl" json:"starter_loan_amount_mubl"`
	} `mapstructure:"monetary" json:"monetary"`

	GuaranteeFund struct {
		CoveragePercentage   float64 `mapstructure:"coverage_percentage" json:"coverage_percentage"`
		MaxCoveragePerEntity int64   `mapstructure:"max_coverage_per_entity_mubl" json:"max_coverage_per_entity_mubl"`
		MinFundBalance       int64   `mapstructure:"min_fund_balance_mubl" json:"min_fund_balance_mubl"`
	} `mapstructure:"guarantee_fund" json:"guarantee_fund"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load.
var AppConfig Config

// Load reads config/<env>.yaml (falling back to config/default.yaml),
// merges a .env file if present, then layers environment variable
// overrides on top. The resulting Config is stored in AppConfig and
// returned.
func Load(env string) (*Config, error) {
	_ = godotenv.Load() // optional; missing .env is not an error

	viper.SetConfigName("default")
	viper.AddConfigPath("config")
	viper.AddConfigPath(".")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, utils.Wrap(err, "load default config")
		}
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, utils.Wrap(err, "merge "+env+" config")
			}
		}
	}

	viper.SetEnvPrefix("UBL")
	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the UBL_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(viper.GetString("UBL_ENV"))
}
