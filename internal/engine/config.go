package engine

import (
	"encoding/json"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"github.com/meridianlab/gobacktest/internal/engine/commission"
	"github.com/meridianlab/gobacktest/internal/engine/slippage"
	"github.com/meridianlab/gobacktest/internal/strategy"
	"github.com/meridianlab/gobacktest/internal/types"
	"github.com/meridianlab/gobacktest/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultPeriodsPerYear annualizes daily-bar metrics.
	DefaultPeriodsPerYear = 252
	// DefaultMaxParticipation caps one bar's fill at this share of bar
	// volume; the remainder stays pending as a partial fill.
	DefaultMaxParticipation = 0.25
)

// Config is the complete configuration for one backtest run.
type Config struct {
	InitialCapital float64           `yaml:"initial_capital" json:"initial_capital" validate:"required,gt=0" jsonschema:"title=Initial Capital,description=Starting cash for the run,minimum=0"`
	Symbol         string            `yaml:"symbol" json:"symbol" validate:"required" jsonschema:"title=Symbol"`
	Strategy       strategy.Config   `yaml:"strategy" json:"strategy" validate:"required" jsonschema:"title=Strategy"`
	Risk           types.RiskProfile `yaml:"risk" json:"risk" jsonschema:"title=Risk Profile"`
	Commission     commission.Config `yaml:"commission" json:"commission" jsonschema:"title=Commission"`
	Slippage       slippage.Config   `yaml:"slippage" json:"slippage" jsonschema:"title=Slippage"`
	// PeriodsPerYear annualizes Sharpe and Sortino. Defaults to 252, the
	// trading-day convention for daily bars.
	PeriodsPerYear int `yaml:"periods_per_year" json:"periods_per_year" validate:"gte=0" jsonschema:"title=Periods Per Year"`
	// AllowShort permits sell signals to open short positions. Off by
	// default: flat sells are dropped as no-position failures.
	AllowShort bool `yaml:"allow_short" json:"allow_short" jsonschema:"title=Allow Short"`
	// MaxParticipation caps a single bar's fill at this fraction of bar
	// volume. Zero keeps the default; a negative value disables the cap.
	MaxParticipation float64 `yaml:"max_participation" json:"max_participation" validate:"lte=1" jsonschema:"title=Max Volume Participation"`
}

// LoadConfig reads and validates a run configuration from a YAML file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "cannot read config %s", path)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(errors.ErrCodeInvalidConfiguration, "cannot parse config YAML", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.PeriodsPerYear == 0 {
		c.PeriodsPerYear = DefaultPeriodsPerYear
	}

	if c.MaxParticipation == 0 {
		c.MaxParticipation = DefaultMaxParticipation
	}
}

// Validate checks the configuration including the nested risk profile.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid run configuration", err)
	}

	if err := c.Risk.Validate(); err != nil {
		return err
	}

	if _, err := commission.NewSchedule(c.Commission); err != nil {
		return err
	}

	if _, err := slippage.NewModel(c.Slippage); err != nil {
		return err
	}

	return nil
}

// GenerateSchema generates a JSON schema for the run configuration.
func (c *Config) GenerateSchema() (*jsonschema.Schema, error) {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		AllowAdditionalProperties:  false,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if strings.Contains(t.String(), "commission.Model") {
				return &jsonschema.Schema{Type: "string", Enum: anySlice(commission.AllModels)}
			}
			if strings.Contains(t.String(), "slippage.Kind") {
				return &jsonschema.Schema{Type: "string", Enum: anySlice(slippage.AllKinds)}
			}
			if strings.Contains(t.String(), "strategy.Kind") {
				return &jsonschema.Schema{Type: "string", Enum: anySlice(strategy.AllKinds)}
			}
			return nil
		},
	}

	schema := reflector.Reflect(c)

	schema.Title = "backtest-run-config"
	schema.Description = "Configuration schema for a backtest run"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	return schema, nil
}

// GenerateSchemaJSON generates the JSON schema as an indented string.
func (c *Config) GenerateSchemaJSON() (string, error) {
	schema, err := c.GenerateSchema()
	if err != nil {
		return "", err
	}

	schemaBytes, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", err
	}

	return string(schemaBytes), nil
}

func anySlice[T any](values []T) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}

	return out
}
