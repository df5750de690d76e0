package cmd

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/egfr-microsim/egfr-microsim/model"
	"github.com/egfr-microsim/egfr-microsim/model/egfr"
)

var (
	// CLI flags for the simulation run
	seed         int64  // Master seed; per-concern streams are derived from it
	logLevel     string // Log verbosity level
	paramsPath   string // Parameter-file path (YAML)
	outPath      string // Output CSV path for the (reference) trajectory table
	cfOutPath    string // Output CSV path for the counterfactual trajectory table
	twoScenarios bool   // Run paired reference/counterfactual scenarios
	crnDeath     bool   // Share death-sampling draws between paired scenarios
	crnInterv    bool   // Share intervention-sampling draws between paired scenarios
	retries      int    // Attempt budget for a whole trajectory generation
	cohortSize   int    // Cohort-size override (0 = take from parameter file)
	equation     string // Eligibility-equation override ("09" or "21", empty = from file)
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "egfr-microsim",
	Short: "Individual-level CKD progression microsimulation",
}

// runCmd samples a cohort and generates trajectories using the
// parameter file and CLI flags
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Sample a cohort and generate eGFR trajectories",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		cfg, err := LoadConfig(paramsPath)
		if err != nil {
			logrus.Fatalf("Unable to load parameter file: %v", err)
		}
		if cohortSize > 0 {
			cfg.Cohort.N = cohortSize
		}
		if equation != "" {
			cfg.Model.EligibilityFormula = equation
		}

		params, err := cfg.ModelParams()
		if err != nil {
			logrus.Fatalf("Invalid model parameters: %v", err)
		}
		cohortCfg, err := cfg.CohortParams()
		if err != nil {
			logrus.Fatalf("Invalid cohort parameters: %v", err)
		}
		diabetes, err := cfg.OnsetModel("diabetes")
		if err != nil {
			logrus.Fatalf("Invalid incidence table: %v", err)
		}
		hypertension, err := cfg.OnsetModel("hypertension")
		if err != nil {
			logrus.Fatalf("Invalid incidence table: %v", err)
		}

		streams := model.NewStreams(seed)
		cohort, err := model.SampleCohort(cohortCfg, diabetes, hypertension, streams)
		if err != nil {
			logrus.Fatalf("Cohort sampling failed: %v", err)
		}
		logrus.Infof("Sampled cohort of %d individuals (entry age %d, eligibility under %q)",
			cohortCfg.N, cohortCfg.EntryAge, params.EligibilityFormula)

		startTime := time.Now()
		if twoScenarios {
			err = runWithRetry(retries, func() error {
				reference, counterfactual, err := model.GenerateTwoScenarios(cohort, params, streams, crnDeath, crnInterv)
				if err != nil {
					return err
				}
				if err := WriteTrajectoryCSV(outPath, reference); err != nil {
					return err
				}
				return WriteTrajectoryCSV(cfOutPath, counterfactual)
			})
		} else {
			err = runWithRetry(retries, func() error {
				final, err := model.GenerateTrajectories(cohort, params, streams)
				if err != nil {
					return err
				}
				return WriteTrajectoryCSV(outPath, final)
			})
		}
		if err != nil {
			logrus.Fatalf("Trajectory generation failed: %v", err)
		}
		logrus.Infof("Trajectory generation complete in %.2fs", time.Since(startTime).Seconds())
	},
}

// runWithRetry re-attempts a whole trajectory generation up to the
// attempt budget. The core itself never retries; it fails loudly and
// this wrapper owns the policy.
func runWithRetry(attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i < attempts {
			logrus.Warnf("Attempt %d/%d failed: %v", i, attempts, err)
		}
	}
	return err
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	runCmd.Flags().Int64Var(&seed, "seed", 42, "Master seed for all sampling streams")
	runCmd.Flags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	runCmd.Flags().StringVar(&paramsPath, "params", "parameters.yaml", "Parameter file (YAML)")
	runCmd.Flags().StringVar(&outPath, "out", "trajectories.csv", "Output CSV for the reference trajectory table")
	runCmd.Flags().StringVar(&cfOutPath, "out-counterfactual", "trajectories_cf.csv", "Output CSV for the counterfactual trajectory table")
	runCmd.Flags().BoolVar(&twoScenarios, "two-scenarios", false, "Run paired reference and counterfactual scenarios")
	runCmd.Flags().BoolVar(&crnDeath, "crn-death", true, "Share death-sampling draws between paired scenarios")
	runCmd.Flags().BoolVar(&crnInterv, "crn-interventions", false, "Share intervention-sampling draws between paired scenarios")
	runCmd.Flags().IntVar(&retries, "retries", 1, "Attempt budget for a whole trajectory generation")
	runCmd.Flags().IntVar(&cohortSize, "cohort-size", 0, "Override the parameter file's cohort size")
	runCmd.Flags().StringVar(&equation, "equation", "", "Override the eligibility equation ("+string(egfr.Formula2009)+" or "+string(egfr.Formula2021)+")")

	rootCmd.AddCommand(runCmd)
}
