package simulate

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/alienJion/flextrike-drill-manager-go/log"
	"github.com/alienJion/flextrike-drill-manager-go/pkg/config"
	"github.com/alienJion/flextrike-drill-manager-go/pkg/model"
	"github.com/alienJion/flextrike-drill-manager-go/pkg/utils"
)

var (
	shotsPerTarget int
	shotIntervalMs int
	startDelay     string
	ackDelayMs     int
)

func NewSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "simulates the smart targets of a drill over the message bus",
		Long: `Plays the device side of a drill: for every target in the
drill definition it answers ready commands, emits shot reports after the
start command and sends the end acknowledgment from the last target.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return simulateTargets()
		},
	}
	cmd.Flags().StringVarP(&config.DrillFile,
		"drill",
		"d",
		"drill.yml",
		"path to the drill definition file")
	cmd.Flags().IntVar(&shotsPerTarget,
		"shots",
		3,
		"number of shots each target reports per repeat")
	cmd.Flags().IntVar(&shotIntervalMs,
		"shot-interval",
		600,
		"mean time between shots in milliseconds")
	cmd.Flags().StringVar(&startDelay,
		"start-delay",
		"1.5",
		"delay reported by the first target with its ready ack")
	cmd.Flags().IntVar(&ackDelayMs,
		"ack-delay",
		50,
		"time before a ready command is acknowledged in milliseconds")
	cmd.Flags().StringVar(&config.LogLevel,
		"log-level",
		"info",
		"controls the log level (debug, info, warn, error, fatal)")
	return cmd
}

// forwardEnvelope mirrors the outbound message as seen by a device.
type forwardEnvelope struct {
	Action  string          `json:"action"`
	Dest    string          `json:"dest"`
	Content json.RawMessage `json:"content"`
}

type commandContent struct {
	Command   string `json:"command"`
	Repeat    int    `json:"repeat"`
	DelayTime string `json:"delay_time"`
	IsLast    bool   `json:"isLast"`
}

type simTarget struct {
	cfg   model.TargetConfig
	conn  *nats.Conn
	l     *log.Logger
	delay string

	mutex   sync.Mutex
	repeat  int
	isLast  bool
	stopRun chan struct{}
}

func simulateTargets() error {
	level, err := log.ParseLevel(config.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	logger := log.DevLogger(os.Stderr, level)
	log.ResetDefault(logger)

	drillCfg, err := loadDrillConfig(config.DrillFile)
	if err != nil {
		return err
	}
	timeout, err := time.ParseDuration(config.WaitForServices)
	if err != nil {
		timeout = 15 * time.Second
	}
	if err := utils.WaitForTCP(
		utils.ExtractFromNATSURL(config.NatsURL), timeout); err != nil {
		return fmt.Errorf("nats not ready: %w", err)
	}
	conn, err := nats.Connect(config.NatsURL)
	if err != nil {
		return fmt.Errorf("could not connect nats: %w", err)
	}
	defer conn.Close()

	targets := lo.Map(drillCfg.Targets,
		func(t model.TargetConfig, i int) *simTarget {
			delay := "0"
			if i == 0 {
				delay = startDelay
			}
			return &simTarget{
				cfg:   t,
				conn:  conn,
				l:     logger.Named(t.TargetName),
				delay: delay,
			}
		})
	byName := lo.KeyBy(targets, func(t *simTarget) string {
		return t.cfg.TargetName
	})

	sub, err := conn.Subscribe("netlink.forward.>", func(msg *nats.Msg) {
		var env forwardEnvelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			logger.Warn("dropping undecodable command", log.ErrorField(err))
			return
		}
		var content commandContent
		if err := json.Unmarshal(env.Content, &content); err != nil {
			logger.Warn("dropping undecodable content", log.ErrorField(err))
			return
		}
		if env.Dest == "all" {
			for _, t := range targets {
				t.onCommand(content)
			}
			return
		}
		if t, found := byName[env.Dest]; found {
			t.onCommand(content)
		}
	})
	if err != nil {
		return fmt.Errorf("could not subscribe: %w", err)
	}
	defer sub.Unsubscribe() //nolint:errcheck // by design

	logger.Info("simulating targets",
		log.String("drill", drillCfg.Name),
		log.Int("targets", len(targets)))
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutting down")
	for _, t := range targets {
		t.stop()
	}
	return nil
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
	return &cfg, nil
}

func (t *simTarget) onCommand(content commandContent) {
	switch content.Command {
	case "ready":
		t.onReady(content)
	case "start":
		t.onStart(content)
	case "end":
		t.stop()
	default:
		t.l.Debug("ignoring command", log.String("command", content.Command))
	}
}

func (t *simTarget) onReady(content commandContent) {
	t.mutex.Lock()
	t.repeat = content.Repeat
	t.isLast = content.IsLast
	t.mutex.Unlock()
	t.stop()
	time.Sleep(time.Duration(ackDelayMs) * time.Millisecond)
	t.publish(map[string]any{
		"ack":        "ready",
		"delay_time": t.delay,
	})
	t.l.Debug("acked ready", log.Int("repeat", content.Repeat))
}

func (t *simTarget) onStart(content commandContent) {
	t.mutex.Lock()
	if t.stopRun != nil {
		t.mutex.Unlock()
		return
	}
	stopRun := make(chan struct{})
	t.stopRun = stopRun
	repeat := t.repeat
	isLast := t.isLast
	t.mutex.Unlock()

	delay, _ := strconv.ParseFloat(content.DelayTime, 64)
	go t.emitShots(stopRun, repeat, isLast, delay)
}

func (t *simTarget) stop() {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.stopRun != nil {
		close(t.stopRun)
		t.stopRun = nil
	}
}

//nolint:gosec // simulated spread does not need crypto randomness
func (t *simTarget) emitShots(
	stopRun chan struct{}, repeat int, isLast bool, delay float64,
) {
	began := time.Now()
	if !t.sleepOrStop(stopRun, time.Duration(delay*float64(time.Second))) {
		return
	}
	for i := 0; i < shotsPerTarget; i++ {
		jitter := time.Duration(
			float64(shotIntervalMs)*(0.5+rand.Float64())) * time.Millisecond
		if !t.sleepOrStop(stopRun, jitter) {
			return
		}
		t.publish(map[string]any{
			"cmd": "shot",
			"ha":  t.hitArea(),
			"tt":  t.cfg.TargetType,
			"rpt": repeat,
			"px":  rand.Float64() * 100,
			"py":  rand.Float64() * 100,
			"rot": rand.Float64() * 360,
			"st":  time.Since(began).Seconds(),
		})
	}
	if isLast {
		if !t.sleepOrStop(stopRun, 300*time.Millisecond) {
			return
		}
		t.publish(map[string]any{
			"ack":            "end",
			"drill_duration": time.Since(began).Seconds(),
		})
		t.l.Debug("sent end ack", log.Int("repeat", repeat))
	}
}

func (t *simTarget) sleepOrStop(stopRun chan struct{}, d time.Duration) bool {
	select {
	case <-stopRun:
		return false
	case <-time.After(d):
		return true
	}
}

//nolint:gosec // see above
func (t *simTarget) hitArea() string {
	switch t.cfg.TargetType {
	case "popper":
		return "Popper Circle"
	case "paddle":
		return "Paddle Circle"
	default:
		zones := []string{"A Zone", "A Zone", "C Zone", "D Zone"}
		return zones[rand.Intn(len(zones))]
	}
}

func (t *simTarget) publish(content map[string]any) {
	payload, err := json.Marshal(map[string]any{
		"device":  t.cfg.TargetName,
		"content": content,
	})
	if err != nil {
		t.l.Error("could not marshal report", log.ErrorField(err))
		return
	}
	subject := fmt.Sprintf("netlink.report.%s", t.cfg.TargetName)
	if err := t.conn.Publish(subject, payload); err != nil {
		t.l.Error("could not publish report", log.ErrorField(err))
	}
}
