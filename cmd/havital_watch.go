package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
	"tinygo.org/x/bluetooth"

	"github.com/centerseed/havital-watch/internal/plan"
	"github.com/centerseed/havital-watch/internal/replicate"
	"github.com/centerseed/havital-watch/internal/sensor"
	"github.com/centerseed/havital-watch/internal/session"
	"github.com/centerseed/havital-watch/internal/store"
)

// planDocument is the shape of a --plan file: the primary's plan and profile
// before the publisher stamps them.
type planDocument struct {
	Plan    plan.WeeklyPlan  `json:"plan"`
	Profile plan.UserProfile `json:"profile"`
}

// storeLifecycle persists finished sessions into the local store.
type storeLifecycle struct {
	store *store.Store
}

func (l *storeLifecycle) Begin(ctx context.Context) error { return nil }

func (l *storeLifecycle) Finish(ctx context.Context, activity *session.Activity) error {
	return l.store.SaveActivity(activity)
}

func main() {
	pflag.String("config", "", "config file path")
	pflag.String("data-dir", store.DataDir(), "data directory")
	pflag.String("log-file", "", "log file path (default <data-dir>/havital.log)")
	pflag.String("plan", "", "JSON file with this week's plan and profile")
	pflag.Bool("mock", false, "use the simulated sensor feed instead of BLE")
	pflag.Int("mock-port", 0, "HTTP control port for the mock feed (0 disables)")
	pflag.Duration("scan-timeout", 30*time.Second, "BLE scan timeout")
	pflag.Parse()

	if err := viper.BindPFlags(pflag.CommandLine); err != nil {
		fatalf("bind flags: %v", err)
	}
	viper.SetEnvPrefix("HAVITAL")
	viper.AutomaticEnv()
	if cfg := viper.GetString("config"); cfg != "" {
		viper.SetConfigFile(cfg)
		if err := viper.ReadInConfig(); err != nil {
			fatalf("read config %s: %v", cfg, err)
		}
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(viper.GetString("data-dir"))
		if err := viper.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				fatalf("read config: %v", err)
			}
		}
	}

	dataDir := viper.GetString("data-dir")
	logFile := viper.GetString("log-file")
	if logFile == "" {
		logFile = filepath.Join(dataDir, "havital.log")
	}

	logger := log.New(&lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    5, // megabytes
		MaxBackups: 3,
	}, "", log.LstdFlags)
	logger.Printf("havital-watch starting, data dir %s", dataDir)

	db, err := store.Open(filepath.Join(dataDir, "havital.db"))
	if err != nil {
		fatalf("open store: %v", err)
	}
	defer db.Close()

	// In production the background channel is the phone link; here both ends
	// live in one process over a loopback pair.
	primarySide, companionSide := replicate.NewLoopbackPair()
	publisher := replicate.NewPublisher(primarySide, logger)
	replicator, err := replicate.NewReplicator(companionSide, db, logger)
	if err != nil {
		fatalf("start replicator: %v", err)
	}

	if planFile := viper.GetString("plan"); planFile != "" {
		doc, err := readPlanDocument(planFile)
		if err != nil {
			fatalf("read plan file: %v", err)
		}
		if err := publisher.PublishUpdate(doc.Plan, doc.Profile); err != nil {
			fatalf("publish plan: %v", err)
		}
	} else if replicator.LastSync().IsZero() {
		if err := publisher.PublishUpdate(demoPlan(), plan.UserProfile{Name: "runner"}); err != nil {
			fatalf("publish demo plan: %v", err)
		}
		fmt.Println("no plan file and empty cache, using built-in demo plan")
	}

	day, ok := replicator.TodaysTraining()
	if !ok {
		fmt.Println("no training prescribed for today, recording a free run")
	} else {
		fmt.Printf("today: %s\n", day.Type)
	}

	var tracker *session.SegmentTracker
	if ok && day.Details != nil && plan.WorkoutModeForDayType(day.Type) != plan.ModeFree {
		tracker, err = session.NewSegmentTracker(*day.Details)
		if err != nil {
			fatalf("build tracker: %v", err)
		}
	}

	var feed sensor.Feed
	if viper.GetBool("mock") {
		feed = sensor.NewMockFeed(logger, sensor.MockFeedConfig{
			ServerPort:     viper.GetInt("mock-port"),
			StartSpeedMPS:  3.0,
			StartHeartRate: 135,
			StartLat:       25.033,
			StartLon:       121.565,
		})
	} else {
		feed = sensor.NewBLEFeed(bluetooth.DefaultAdapter, logger, viper.GetDuration("scan-timeout"))
	}

	controller := session.NewController(feed, &storeLifecycle{store: db}, tracker, logger)
	defer controller.Shutdown()

	printEvents(controller)

	ctx := context.Background()
	if err := controller.Start(ctx); err != nil {
		fatalf("start session: %v", err)
	}
	fmt.Println("session started, Ctrl+C to finish")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	endCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := controller.End(endCtx); err != nil {
		// the session is over either way, but the activity may be lost
		fatalf("end session: %v", err)
	}

	m := controller.Metrics()
	fmt.Printf("session saved: %.0f m in %v\n", m.DistanceMeters, m.Elapsed)
	logger.Printf("havital-watch exiting")
}

// printEvents mirrors state changes, cues, and a periodic metrics line to
// stdout.
func printEvents(controller *session.Controller) {
	controller.StateEvent().Listen(func(state session.State) {
		fmt.Printf("session %s\n", state)
	})

	cues := make(chan session.Cue, 16)
	controller.CueEvent().Listen(cues)
	go func() {
		for cue := range cues {
			switch cue.Kind {
			case session.CueApproaching:
				fmt.Printf("[%v] coming up: %s\n", cue.Elapsed, cue.Message)
			case session.CueSegmentDone:
				fmt.Printf("[%v] segment done, %s\n", cue.Elapsed, cue.Message)
			case session.CueWorkoutDone:
				fmt.Printf("[%v] %s\n", cue.Elapsed, cue.Message)
			}
		}
	}()

	metrics := make(chan session.LiveMetrics, 16)
	controller.MetricsEvent().Listen(metrics)
	go func() {
		var lastPrint time.Duration
		for m := range metrics {
			if m.State != session.StateActive || m.Elapsed == lastPrint || m.Elapsed%(5*time.Second) != 0 {
				continue
			}
			lastPrint = m.Elapsed
			fmt.Printf("[%v] %.0f m  %.1f m/s  pace %s/km  hr %d\n",
				m.Elapsed, m.DistanceMeters, m.SpeedMPS, plan.FormatPace(int(m.PaceSecPerKm)), m.HeartRate)
		}
	}()
}

// demoPlan is a small interval workout for running without a plan file.
func demoPlan() plan.WeeklyPlan {
	details, err := plan.NewIntervalDetails(plan.IntervalPlan{
		Work:     plan.WorkBlock{DistanceMeters: 400, TargetPaceSecPerKm: 300},
		Recovery: &plan.RecoveryBlock{RestDuration: 60 * time.Second},
		Repeats:  4,
	})
	if err != nil {
		panic(err)
	}
	return plan.WeeklyPlan{Days: []plan.TrainingDay{{
		Date:    plan.DateKeyFor(time.Now()),
		Type:    plan.DayTypeInterval,
		Details: &details,
	}}}
}

func readPlanDocument(path string) (planDocument, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return planDocument{}, err
	}
	var doc planDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return planDocument{}, err
	}
	return doc, nil
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "havital-watch: "+format+"\n", args...)
	os.Exit(1)
}
