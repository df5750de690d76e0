package cmd

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/egfr-microsim/egfr-microsim/model"
	"github.com/egfr-microsim/egfr-microsim/model/egfr"
)

// Config is the full parameter-file structure. All top-level sections
// must be listed to satisfy KnownFields(true) strict parsing, so typos
// in parameter files cause errors instead of silent defaults.
type Config struct {
	Version string       `yaml:"version"`
	Cohort  CohortConfig `yaml:"cohort"`
	Model   ModelConfig  `yaml:"model"`
}

// CohortConfig describes the synthetic cohort section.
type CohortConfig struct {
	N         int            `yaml:"n"`
	EntryAge  int            `yaml:"entry_age"`
	Horizon   float64        `yaml:"horizon"`
	MaleFrac  float64        `yaml:"male_frac"`
	BlackFrac float64        `yaml:"black_frac"`
	InitEGFR  InitEGFRConfig `yaml:"init_egfr"`
}

// InitEGFRConfig is the Normal distribution of initial eGFR values.
type InitEGFRConfig struct {
	Mu    float64 `yaml:"mu"`
	Sigma float64 `yaml:"sigma"`
}

// ModelConfig carries the trajectory-model parameter tables.
type ModelConfig struct {
	EligibilityFormula string                        `yaml:"eligibility_formula"`
	Slopes             []SlopeEntry                  `yaml:"slopes"`
	Interventions      map[string]InterventionConfig `yaml:"interventions"`
	MortalityHRs       []MortalityHREntry            `yaml:"mortality_hrs"`
	BaselineHazard     map[string][]float64          `yaml:"baseline_hazard"`
	Incidence          map[string]IncidenceConfig    `yaml:"incidence"`
}

// SlopeEntry is one row of the decline-slope table, keyed by the
// comorbidity/stage covariate combination.
type SlopeEntry struct {
	DM    int     `yaml:"dm"`
	HT    int     `yaml:"ht"`
	G3    int     `yaml:"g3"`
	Slope float64 `yaml:"slope"`
}

// InterventionConfig is one intervention type: slope-reduction effect
// size and target cumulative probability by stage label.
type InterventionConfig struct {
	Effect float64            `yaml:"effect"`
	Freq   map[string]float64 `yaml:"freq"`
}

// MortalityHREntry is one row of the mortality hazard-ratio table.
type MortalityHREntry struct {
	EGFRRange int     `yaml:"egfr_range"`
	DM        int     `yaml:"dm"`
	HR        float64 `yaml:"hr"`
}

// IncidenceConfig holds one comorbidity's incidence bands, either under
// "all" (no sex stratification) or under "M"/"F".
type IncidenceConfig struct {
	All []IncidenceBandEntry `yaml:"all"`
	M   []IncidenceBandEntry `yaml:"M"`
	F   []IncidenceBandEntry `yaml:"F"`
}

// IncidenceBandEntry is one incidence band: annual incidence per 1,000
// over an inclusive age range.
type IncidenceBandEntry struct {
	AgeMin      int     `yaml:"age_min"`
	AgeMax      int     `yaml:"age_max"`
	PerThousand float64 `yaml:"inc_per_1k"`
}

// LoadConfig parses a parameter file with strict field checking.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading parameter file: %w", err)
	}
	return parseConfig(data)
}

func parseConfig(data []byte) (*Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing parameter YAML: %w", err)
	}
	return &cfg, nil
}

// ModelParams converts the parsed tables into the engine's immutable
// parameter set and validates it.
func (c *Config) ModelParams() (*model.Params, error) {
	p := &model.Params{
		Slopes:             make(map[model.SlopeKey]float64, len(c.Model.Slopes)),
		Interventions:      make(map[string]model.InterventionParams, len(c.Model.Interventions)),
		MortalityHR:        make(map[model.HRKey]float64, len(c.Model.MortalityHRs)),
		BaselineHazard:     make(map[egfr.Sex][]float64, len(c.Model.BaselineHazard)),
		EntryAge:           c.Cohort.EntryAge,
		Horizon:            c.Cohort.Horizon,
		EligibilityFormula: egfr.Formula(c.Model.EligibilityFormula),
	}
	for _, s := range c.Model.Slopes {
		p.Slopes[model.SlopeKey{DM: s.DM, HT: s.HT, G3: s.G3}] = s.Slope
	}
	for name, ic := range c.Model.Interventions {
		freq := make(map[egfr.Stage]float64, len(ic.Freq))
		for label, f := range ic.Freq {
			stage, err := egfr.ParseStage(label)
			if err != nil {
				return nil, fmt.Errorf("interventions.%s.freq: %w", name, err)
			}
			freq[stage] = f
		}
		p.Interventions[name] = model.InterventionParams{Effect: ic.Effect, Freq: freq}
	}
	for _, hr := range c.Model.MortalityHRs {
		p.MortalityHR[model.HRKey{Bucket: hr.EGFRRange, DM: hr.DM}] = hr.HR
	}
	for label, hazards := range c.Model.BaselineHazard {
		p.BaselineHazard[egfr.Sex(label)] = hazards
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// CohortParams converts the cohort section.
func (c *Config) CohortParams() (model.CohortConfig, error) {
	cfg := model.CohortConfig{
		N:              c.Cohort.N,
		EntryAge:       c.Cohort.EntryAge,
		Horizon:        c.Cohort.Horizon,
		MaleFrac:       c.Cohort.MaleFrac,
		BlackFrac:      c.Cohort.BlackFrac,
		InitEGFRMean:   c.Cohort.InitEGFR.Mu,
		InitEGFRStdDev: c.Cohort.InitEGFR.Sigma,
	}
	return cfg, cfg.Validate()
}

// OnsetModel builds the frailty model for the named comorbidity.
func (c *Config) OnsetModel(comorb string) (*model.OnsetModel, error) {
	ic, ok := c.Model.Incidence[comorb]
	if !ok {
		return nil, fmt.Errorf("incidence table missing for %q", comorb)
	}
	bands := make(map[egfr.Sex][]model.IncidenceBand, 2)
	if len(ic.All) > 0 {
		expanded := convertBands(ic.All)
		bands[egfr.Male] = expanded
		bands[egfr.Female] = expanded
	} else {
		bands[egfr.Male] = convertBands(ic.M)
		bands[egfr.Female] = convertBands(ic.F)
	}
	om, err := model.NewOnsetModel(bands)
	if err != nil {
		return nil, fmt.Errorf("incidence table for %q: %w", comorb, err)
	}
	return om, nil
}

func convertBands(entries []IncidenceBandEntry) []model.IncidenceBand {
	out := make([]model.IncidenceBand, len(entries))
	for i, e := range entries {
		out[i] = model.IncidenceBand{AgeMin: e.AgeMin, AgeMax: e.AgeMax, PerThousand: e.PerThousand}
	}
	return out
}
