package config

import (
	"log"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	DataPath      string `envconfig:"DATA_PATH" default:"/app/data"`
	DatabasePath  string `envconfig:"DATABASE_PATH" default:""`
	LogPath       string `envconfig:"LOG_PATH" default:""`
	ListenAddr    string `envconfig:"LISTEN_ADDR" default:":8000"`
	ProvidersFile string `envconfig:"PROVIDERS_FILE" default:""`

	// Queue worker settings
	QueueWorkers   int    `envconfig:"QUEUE_WORKERS" default:"2"`
	QueueBatchSize int    `envconfig:"QUEUE_BATCH_SIZE" default:"10"`
	QueueInterval  string `envconfig:"QUEUE_INTERVAL" default:"5s"`

	// Background sweep intervals, parsed as Go durations
	EscalationSweepInterval string `envconfig:"ESCALATION_SWEEP_INTERVAL" default:"1m"`
	AutoPauseSweepInterval  string `envconfig:"AUTO_PAUSE_SWEEP_INTERVAL" default:"1m"`
	AutoResumeSweepInterval string `envconfig:"AUTO_RESUME_SWEEP_INTERVAL" default:"2m"`

	// Alert channel toggles for this process. Dashboard notifications go
	// through the event hub; desktop/audio require a desktop environment
	// and are opt-in.
	DesktopAlerts bool `envconfig:"DESKTOP_ALERTS" default:"false"`
	AudioAlerts   bool `envconfig:"AUDIO_ALERTS" default:"false"`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("QUOTAGATE", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if Cfg.DatabasePath == "" {
		Cfg.DatabasePath = filepath.Join(Cfg.DataPath, "quotagate.db")
	}
	if Cfg.LogPath == "" {
		Cfg.LogPath = filepath.Join(Cfg.DataPath, "quotagate.log")
	}
}
