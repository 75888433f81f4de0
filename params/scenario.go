package params

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var ErrInvalidScenario = errors.New("invalid scenario")

var validate = validator.New()

type SymbolSpec struct {
	Symbol     string  `yaml:"symbol" validate:"required,uppercase"`
	Price      float64 `yaml:"price" validate:"gt=0"`
	Volatility float64 `yaml:"volatility" validate:"gte=0"`
}

// StrategySpec selects a strategy by name. Zero-valued tuning fields fall
// back to that strategy's defaults.
type StrategySpec struct {
	Name       string   `yaml:"name" validate:"required,oneof=momentum mean_reversion trend_follow"`
	Symbols    []string `yaml:"symbols" validate:"dive,required"`
	Quantity   float64  `yaml:"quantity" validate:"gte=0"`
	Threshold  float64  `yaml:"threshold" validate:"gte=0"` // momentum, percent
	Period     int      `yaml:"period" validate:"gte=0"`    // mean_reversion RSI
	Oversold   float64  `yaml:"oversold" validate:"gte=0,lte=100"`
	Overbought float64  `yaml:"overbought" validate:"gte=0,lte=100"`
	FastPeriod int      `yaml:"fast-period" validate:"gte=0"`
	SlowPeriod int      `yaml:"slow-period" validate:"gte=0"`
}

// Scenario is the market universe and trading setup a node starts with.
type Scenario struct {
	Name        string         `yaml:"name"`
	InitialCash float64        `yaml:"initial-cash" validate:"gt=0"`
	Seed        int64          `yaml:"seed"`
	Symbols     []SymbolSpec   `yaml:"symbols" validate:"required,min=1,dive"`
	Strategies  []StrategySpec `yaml:"strategies" validate:"dive"`
}

// DefaultScenario is the four-stock universe used by the basic demo.
func DefaultScenario() Scenario {
	return Scenario{
		Name:        "basic",
		InitialCash: 100000,
		Symbols: []SymbolSpec{
			{Symbol: "AAPL", Price: 150, Volatility: 0.02},
			{Symbol: "GOOGL", Price: 2800, Volatility: 0.025},
			{Symbol: "MSFT", Price: 300, Volatility: 0.018},
			{Symbol: "TSLA", Price: 800, Volatility: 0.04},
		},
	}
}

func (s Scenario) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}
	seen := make(map[string]struct{}, len(s.Symbols))
	for _, sym := range s.Symbols {
		if _, dup := seen[sym.Symbol]; dup {
			return fmt.Errorf("%w: duplicate symbol %s", ErrInvalidScenario, sym.Symbol)
		}
		seen[sym.Symbol] = struct{}{}
	}
	for _, st := range s.Strategies {
		for _, sym := range st.Symbols {
			if _, ok := seen[sym]; !ok {
				return fmt.Errorf("%w: strategy %s watches unlisted symbol %s", ErrInvalidScenario, st.Name, sym)
			}
		}
	}
	return nil
}

// LoadScenario reads and validates a YAML scenario file.
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

func ParseScenario(data []byte) (Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Scenario{}, fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}
	if err := s.Validate(); err != nil {
		return Scenario{}, err
	}
	return s, nil
}
