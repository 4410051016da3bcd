package cmd

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/racecontrol/racecontrol/control"
	"github.com/racecontrol/racecontrol/control/radio"
	"github.com/racecontrol/racecontrol/internal/archive"
	"github.com/racecontrol/racecontrol/internal/dashboard"
	"github.com/racecontrol/racecontrol/internal/driver"
	"github.com/racecontrol/racecontrol/internal/motion"
)

// archiveFlushEvery is the number of ticks between archive writes.
const archiveFlushEvery = 20

var (
	// CLI flags for the run command
	configPath  string  // YAML race configuration (defaults when empty)
	seed        int64   // Seed for incidents, tyres, radio and motion
	competitors int     // Number of demo cars on the grid
	laps        int     // Race distance in laps (0 = open-ended)
	tickLength  float64 // Simulated seconds per tick
	duration    float64 // Simulated seconds to run (0 = until the chequered flag)
	realtime    bool    // Tick on the wall clock instead of as fast as possible
	speed       float64 // Simulated seconds per real second in realtime mode
	logLevel    string  // Log verbosity level
	archivePath string  // SQLite file to archive events into
	port        int     // Dashboard port (0 = no dashboard)
	withRadio   bool    // Generate team-radio chatter
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "racecontrol",
	Short: "Race-control engine for a simulated motor race",
}

// runCmd runs a race with a demo field of cars
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a race session",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		cfg, err := loadConfig(configPath)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		if cmd.Flags().Changed("seed") {
			cfg.Seed = seed
		}
		if cmd.Flags().Changed("laps") {
			cfg.Session.TotalLaps = laps
		}
		if err := cfg.Validate(); err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}
		if competitors <= 0 {
			logrus.Fatalf("--competitors must be > 0, got %d", competitors)
		}
		horizon := duration
		if horizon <= 0 {
			if cfg.Session.TotalLaps == 0 && !realtime {
				logrus.Fatalf("An open-ended session needs --duration or --realtime")
			}
			horizon = math.Inf(1)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		e, err := control.NewEngine(cfg)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		if withRadio {
			defer radio.New(e).Close()
		}
		field := motion.NewField(motion.DefaultConfig(), cfg.Track,
			e.RNG().ForSubsystem(control.SubsystemMotion), competitorIDs(competitors))
		drv, err := driver.New(e, field, tickLength)
		if err != nil {
			logrus.Fatalf("%v", err)
		}

		if archivePath != "" {
			rec, err := openArchive(ctx, archivePath, e)
			if err != nil {
				logrus.Fatalf("%v", err)
			}
			ticks := 0
			drv.AfterTick(func() {
				ticks++
				if ticks%archiveFlushEvery != 0 {
					return
				}
				if _, err := rec.Flush(ctx); err != nil {
					logrus.Warnf("%v", err)
				}
			})
			defer func() {
				if err := rec.Close(context.Background()); err != nil {
					logrus.Warnf("%v", err)
				}
			}()
		}

		if port > 0 {
			go func() {
				if err := dashboard.Start(ctx, dashboard.StartOpts{Driver: drv, Port: port, Out: os.Stdout}); err != nil {
					logrus.Errorf("%v", err)
				}
			}()
		}

		logrus.Infof("Session %s: %d cars, %d laps of %s (seed %d)",
			e.Session().ID, competitors, cfg.Session.TotalLaps, cfg.Track.Name, cfg.Seed)
		for _, kind := range control.AllKinds() {
			logrus.Debugf("%-17s %d handlers", kind, e.Bus().Count(kind))
		}
		if err := drv.Do(func(e *control.Engine) error {
			return e.HandleSessionCommand(control.CommandStart)
		}); err != nil {
			logrus.Fatalf("%v", err)
		}

		if realtime {
			if !math.IsInf(horizon, 1) {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, wallTime(horizon, speed))
				defer cancel()
			}
			if err := drv.Run(ctx, speed); err != nil && ctx.Err() == nil {
				logrus.Fatalf("%v", err)
			}
		} else {
			drv.RunFor(horizon)
			if port > 0 {
				fmt.Println("Race over; dashboard still serving. Press Ctrl-C to exit.")
				<-ctx.Done()
			}
		}

		_ = drv.Do(func(e *control.Engine) error {
			printClassification(os.Stdout, e.Session(), e.Standings())
			logrus.Debugf("Random streams used: %v", e.RNG().Subsystems())
			return nil
		})
		logrus.Info("Session complete.")
	},
}

// configCmd prints the effective configuration as YAML
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the race configuration (defaults, or --config after validation)",
	Run: func(cmd *cobra.Command, args []string) {
		if err := writeConfig(os.Stdout, configPath); err != nil {
			logrus.Fatalf("%v", err)
		}
	},
}

func loadConfig(path string) (control.Config, error) {
	if path == "" {
		return control.DefaultConfig(), nil
	}
	return control.LoadConfig(path)
}

func writeConfig(w io.Writer, path string) error {
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return enc.Close()
}

func openArchive(ctx context.Context, path string, e *control.Engine) (*archive.Recorder, error) {
	db, err := archive.Open(path)
	if err != nil {
		return nil, err
	}
	rec, err := archive.NewRecorder(ctx, db, e, archive.RecorderOpts{})
	if err != nil {
		return nil, err
	}
	logrus.Infof("Archiving session %s to %s", rec.SessionID(), path)
	return rec, nil
}

// wallTime converts simulated seconds to real time at the given speed.
func wallTime(simSeconds, speed float64) time.Duration {
	return time.Duration(simSeconds / speed * float64(time.Second))
}

// competitorIDs names n cars car-01, car-02, ...
func competitorIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("car-%02d", i+1)
	}
	return ids
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	runCmd.Flags().StringVar(&configPath, "config", "", "YAML race configuration file")
	runCmd.Flags().Int64Var(&seed, "seed", 42, "Seed for incidents, tyre allocation, radio and motion")
	runCmd.Flags().IntVar(&competitors, "competitors", 10, "Number of cars on the grid")
	runCmd.Flags().IntVar(&laps, "laps", 0, "Race distance in laps, overriding the config (0 = open-ended)")
	runCmd.Flags().Float64Var(&tickLength, "dt", 0.1, "Simulated seconds per tick")
	runCmd.Flags().Float64Var(&duration, "duration", 0, "Simulated seconds to run (0 = until the chequered flag)")
	runCmd.Flags().BoolVar(&realtime, "realtime", false, "Tick on the wall clock")
	runCmd.Flags().Float64Var(&speed, "speed", 1, "Simulated seconds per real second with --realtime")
	runCmd.Flags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	runCmd.Flags().StringVar(&archivePath, "archive", "", "SQLite file to archive broadcast events into")
	runCmd.Flags().IntVar(&port, "port", 0, "Serve the dashboard on this port (0 = off)")
	runCmd.Flags().BoolVar(&withRadio, "radio", true, "Generate team-radio chatter")

	configCmd.Flags().StringVar(&configPath, "config", "", "YAML race configuration file")

	historyCmd.Flags().StringVar(&archivePath, "archive", "", "SQLite archive written by run --archive")
	historyCmd.Flags().StringVar(&historySession, "session", "", "Session to inspect (omit to list sessions)")
	historyCmd.Flags().StringVar(&historyKind, "kind", "", "Only events of this kind (e.g. penaltyIssued)")
	historyCmd.Flags().BoolVar(&historyDecisions, "decisions", false, "Show race-control decisions instead of events")
	historyCmd.Flags().StringVar(&historyCompetitor, "competitor", "", "Only decisions about this competitor")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(historyCmd)
}
