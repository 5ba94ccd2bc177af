package run

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/alienJion/flextrike-drill-manager-go/log"
	"github.com/alienJion/flextrike-drill-manager-go/pkg/config"
	"github.com/alienJion/flextrike-drill-manager-go/pkg/db/postgres"
	"github.com/alienJion/flextrike-drill-manager-go/pkg/drill"
	"github.com/alienJion/flextrike-drill-manager-go/pkg/model"
	"github.com/alienJion/flextrike-drill-manager-go/pkg/repository/result"
	"github.com/alienJion/flextrike-drill-manager-go/pkg/transport/natslink"
	"github.com/alienJion/flextrike-drill-manager-go/pkg/utils"
	"github.com/alienJion/flextrike-drill-manager-go/pkg/utils/broadcast"
)

var ErrDrillFailed = errors.New("drill failed")

func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "executes a drill against the connected targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDrill()
		},
	}
	cmd.Flags().StringVarP(&config.DrillFile,
		"drill",
		"d",
		"drill.yml",
		"path to the drill definition file")
	cmd.Flags().BoolVar(&config.StoreResults,
		"store-results",
		false,
		"persist repeat summaries to the database")
	cmd.Flags().BoolVar(&config.EnableTelemetry,
		"enable-telemetry",
		false,
		"enables telemetry")
	cmd.Flags().StringVar(&config.LogLevel,
		"log-level",
		"info",
		"controls the log level (debug, info, warn, error, fatal)")
	cmd.Flags().StringVar(&config.LogFormat,
		"log-format",
		"json",
		"controls the log output format")
	cmd.Flags().StringVar(&config.LogConfig,
		"log-config",
		"",
		"path to a file with zapfilter rules")
	return cmd
}

func parseLogLevel(l string, defaultVal log.Level) log.Level {
	level, err := log.ParseLevel(l)
	if err != nil {
		return defaultVal
	}
	return level
}

func setupLogger() *log.Logger {
	var logger *log.Logger
	switch config.LogFormat {
	case "json":
		logger = log.New(
			os.Stderr,
			parseLogLevel(config.LogLevel, log.InfoLevel),
			log.WithCaller(true),
			log.AddCallerSkip(1))
	default:
		logger = log.DevLogger(
			os.Stderr,
			parseLogLevel(config.LogLevel, log.DebugLevel),
			log.WithCaller(true),
			log.AddCallerSkip(1))
	}
	if config.LogConfig != "" {
		rules, err := os.ReadFile(config.LogConfig)
		if err != nil {
			log.Warn("could not read log config", log.ErrorField(err))
			return logger
		}
		filtered, err := log.NewWithFilters(logger, string(rules))
		if err != nil {
			log.Warn("could not apply log filters", log.ErrorField(err))
			return logger
		}
		logger = filtered
	}
	return logger
}

func loadDrillConfig(path string) (*model.DrillConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read drill file: %w", err)
	}
	var cfg model.DrillConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("could not parse drill file: %w", err)
	}
	if len(cfg.Targets) == 0 {
		return nil, fmt.Errorf("drill file %s defines no targets", path)
	}
	if cfg.Repeats < 1 {
		cfg.Repeats = 1
	}
	return &cfg, nil
}

//nolint:funlen,cyclop // by design
func runDrill() error {
	logger := setupLogger()
	log.ResetDefault(logger)
	defer log.Sync() //nolint:errcheck // by design

	drillCfg, err := loadDrillConfig(config.DrillFile)
	if err != nil {
		return err
	}

	// the metric provider has to be in place before the broadcast server
	// registers its gauges
	if config.EnableTelemetry {
		log.Info("Enabling telemetry")
		if telemetry, telErr := config.SetupTelemetry(context.Background()); telErr == nil {
			defer telemetry.Shutdown()
		} else {
			log.Warn("Could not setup telemetry", log.ErrorField(telErr))
		}
	}

	timeout, err := time.ParseDuration(config.WaitForServices)
	if err != nil {
		timeout = 15 * time.Second
	}
	natsAddr := utils.ExtractFromNATSURL(config.NatsURL)
	if err := utils.WaitForTCP(natsAddr, timeout); err != nil {
		return fmt.Errorf("nats not ready: %w", err)
	}
	conn, err := nats.Connect(config.NatsURL)
	if err != nil {
		return fmt.Errorf("could not connect nats: %w", err)
	}
	defer conn.Close()
	link, err := natslink.New(conn, natslink.WithLogger(logger.Named("natslink")))
	if err != nil {
		return err
	}
	defer link.Close()

	drillID := uuid.New().String()
	var pool *pgxpool.Pool
	if config.StoreResults {
		pool, err = postgres.InitWithURL(config.DB,
			postgres.WithTracer(logger.Named("sql")))
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := result.CreateDrill(
			context.Background(), pool, drillID, drillCfg.Name); err != nil {
			return fmt.Errorf("could not register drill: %w", err)
		}
	}

	summaryChan := make(chan *model.RepeatSummary)
	bcst := broadcast.NewBroadcastServer(drillID, "summaries", summaryChan)
	var wg sync.WaitGroup
	reporterChan := bcst.Subscribe()
	wg.Add(1)
	go func() {
		defer wg.Done()
		for sum := range reporterChan {
			logger.Info("repeat result",
				log.Int("repeat", sum.RepeatIndex),
				log.Int("shots", sum.ShotCount),
				log.Int("score", sum.Score),
				log.Float64("totalTime", sum.TotalTimeSeconds),
				log.Float64("firstShot", sum.FirstShotSeconds),
				log.Float64("fastestInterval", sum.FastestIntervalSeconds))
		}
	}()
	if pool != nil {
		persistChan := bcst.Subscribe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sum := range persistChan {
				if err := result.UpsertSummary(
					context.Background(), pool, drillID, sum); err != nil {
					logger.Error("could not store summary",
						log.Int("repeat", sum.RepeatIndex),
						log.ErrorField(err))
				}
			}
		}()
	}

	failed := make(chan struct{}, 1)
	sess := drill.NewSession(link, drillCfg,
		drill.WithLogger(logger.Named("drill")),
		drill.WithCallbacks(drill.Callbacks{
			OnReadinessProgress: func(acked, expected int) {
				logger.Debug("readiness progress",
					log.Int("acked", acked),
					log.Int("expected", expected))
			},
			OnReadinessTimeout: func(nonResponsive []string) {
				logger.Warn("targets not responding",
					log.Any("targets", nonResponsive))
			},
			OnRepeatFinalized: func(repeatIndex int) {
				logger.Debug("repeat finalized", log.Int("repeat", repeatIndex))
			},
			OnComplete: func(summaries []*model.RepeatSummary) {
				logger.Info("drill complete",
					log.String("drill", drillCfg.Name),
					log.Int("summaries", len(summaries)))
			},
			OnFailure: func() {
				select {
				case failed <- struct{}{}:
				default:
				}
			},
		}))

	lookup := utils.NewSessionLookup()
	sessionKey := lookup.AddSession(drillCfg, sess)
	defer lookup.RemoveSession(sessionKey)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	expected := lo.FilterMap(drillCfg.Targets,
		func(t model.TargetConfig, _ int) (string, bool) {
			return t.TargetName, t.TargetName != ""
		})

	interrupted := false
	for i := 1; i <= drillCfg.Repeats && !interrupted; i++ {
		logger.Info("starting repeat",
			log.Int("repeat", i),
			log.Int("of", drillCfg.Repeats))
		if err := sess.PerformReadinessCheck(i, expected); err != nil {
			return err
		}
		interrupted, err = awaitRepeat(sess, sigChan, failed)
		if err != nil {
			return err
		}
		for _, sum := range sess.Summaries() {
			if sum.RepeatIndex == i {
				summaryChan <- sum
			}
		}
	}

	sess.Complete()
	bcst.Close()
	wg.Wait()
	return nil
}

// awaitRepeat waits until the session returns to idle. An interrupt
// triggers the operator stop for the active repeat; the grace period
// still runs before the repeat is finalized.
func awaitRepeat(
	sess *drill.Session,
	sigChan <-chan os.Signal,
	failed <-chan struct{},
) (interrupted bool, err error) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	guard := time.After(90 * time.Second)
	for {
		select {
		case <-failed:
			return false, ErrDrillFailed
		case <-sigChan:
			interrupted = true
			if stopErr := sess.ManualStopRepeat(); stopErr != nil {
				log.Warn("manual stop not possible", log.ErrorField(stopErr))
				sess.StopExecution()
				return true, nil
			}
		case <-guard:
			return interrupted, errors.New("repeat did not settle within guard window")
		case <-ticker.C:
			if sess.State() != drill.StateIdle {
				continue
			}
			// the failure callback fires after the state flips to idle,
			// give it a beat before declaring the repeat done
			time.Sleep(20 * time.Millisecond)
			select {
			case <-failed:
				return interrupted, ErrDrillFailed
			default:
			}
			return interrupted, nil
		}
	}
}
