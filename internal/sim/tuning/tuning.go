package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	SnapTolerance    float64 `yaml:"snap_tolerance"`
	OverlapTolerance float64 `yaml:"overlap_tolerance"`

	BatchSize  int     `yaml:"batch_size"`
	PieceCost  int     `yaml:"piece_cost"`
	SiteRadius float64 `yaml:"site_radius"`
	NearRadius float64 `yaml:"near_radius"`

	PlanTTLMinutes    int `yaml:"plan_ttl_minutes"`
	SweepEveryMinutes int `yaml:"sweep_every_minutes"`

	StartingCredits int `yaml:"starting_credits"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:   "1.0",
		SnapTolerance:     0.15,
		OverlapTolerance:  0.01,
		BatchSize:         5,
		PieceCost:         1,
		SiteRadius:        30,
		NearRadius:        64,
		PlanTTLMinutes:    240,
		SweepEveryMinutes: 10,
		StartingCredits:   100,
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}
