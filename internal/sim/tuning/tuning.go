package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Tuning holds the rule constants that are not part of a world template.
type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	ToastCap       int `yaml:"toast_cap"`
	FinalStage     int `yaml:"final_stage"`
	StartDiscount  int `yaml:"start_discount"`
	MinStartCost   int `yaml:"min_start_cost"`
	XPPerStage     int `yaml:"xp_per_stage"`
	XPPerLevel     int `yaml:"xp_per_level"`
	MissionBonus   int `yaml:"mission_bonus"`
	RewardMultiple int `yaml:"reward_multiplier"`

	Drops Drops `yaml:"drops"`

	StreamBuffer int `yaml:"stream_buffer"`
}

// Drops are probabilities in [0,1].
type Drops struct {
	RewardItemChance float64 `yaml:"reward_item_chance"`
	PromotionChance  float64 `yaml:"promotion_chance"`
	CommonBelow      float64 `yaml:"common_below"`
	RareBelow        float64 `yaml:"rare_below"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		ToastCap:        12,
		FinalStage:      7,
		StartDiscount:   2,
		MinStartCost:    1,
		XPPerStage:      10,
		XPPerLevel:      100,
		MissionBonus:    25,
		RewardMultiple:  2,
		Drops: Drops{
			RewardItemChance: 0.5,
			PromotionChance:  0.3,
			CommonBelow:      0.6,
			RareBelow:        0.9,
		},
		StreamBuffer: 64,
	}
}

// Load reads a tuning file. Keys missing from the file keep their defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	switch {
	case t.ToastCap <= 0:
		return fmt.Errorf("toast_cap must be positive")
	case t.FinalStage <= 0:
		return fmt.Errorf("final_stage must be positive")
	case t.MinStartCost < 0 || t.StartDiscount < 0:
		return fmt.Errorf("start discount values must not be negative")
	case t.XPPerLevel <= 0:
		return fmt.Errorf("xp_per_level must be positive")
	case t.RewardMultiple < 1:
		return fmt.Errorf("reward_multiplier must be at least 1")
	case t.StreamBuffer <= 0:
		return fmt.Errorf("stream_buffer must be positive")
	}
	for name, p := range map[string]float64{
		"reward_item_chance": t.Drops.RewardItemChance,
		"promotion_chance":   t.Drops.PromotionChance,
		"common_below":       t.Drops.CommonBelow,
		"rare_below":         t.Drops.RareBelow,
	} {
		if p < 0 || p > 1 {
			return fmt.Errorf("drops.%s must be within [0,1]", name)
		}
	}
	if t.Drops.CommonBelow > t.Drops.RareBelow {
		return fmt.Errorf("drops.common_below must not exceed drops.rare_below")
	}
	return nil
}
