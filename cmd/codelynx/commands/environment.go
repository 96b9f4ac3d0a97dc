package commands

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/bl4ck0w1/codelynx/internal/bridge"
	"github.com/bl4ck0w1/codelynx/internal/orchestration"
	"github.com/bl4ck0w1/codelynx/internal/progress"
	"github.com/bl4ck0w1/codelynx/internal/storage"
	"github.com/bl4ck0w1/codelynx/internal/target"
	"github.com/bl4ck0w1/codelynx/pkg/models"
	"github.com/bl4ck0w1/codelynx/pkg/utils"
)

// SetDefaults seeds viper with every key of the default configuration, so
// that CODELYNX_* environment variables can override any of them.
func SetDefaults() {
	raw, err := yaml.Marshal(models.DefaultConfig())
	if err != nil {
		return
	}
	var m map[string]interface{}
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return
	}
	for k, v := range m {
		viper.SetDefault(k, v)
	}
	viper.SetDefault("quiet", false)
}

// BindEnv maps CODELYNX_SECTION_KEY variables onto section.key settings.
func BindEnv() {
	viper.SetEnvPrefix("CODELYNX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

// LoadConfig turns the merged viper settings into a validated Config.
// Environment values arrive as strings and are weakly typed into place.
func LoadConfig() (*models.Config, error) {
	cfg := models.DefaultConfig()
	err := viper.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
		dc.WeaklyTypedInput = true
		dc.ZeroFields = true
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// environment is the wired engine stack shared by the commands.
type environment struct {
	config     *models.Config
	logger     *logrus.Logger
	metrics    *utils.MetricsCollector
	resolver   *target.Resolver
	translator *bridge.PathTranslator
	registry   *bridge.Registry
	hub        *progress.Hub
	results    *storage.ResultsRepository
	engine     *orchestration.Engine
}

func newEnvironment(cfg *models.Config) (*environment, error) {
	logger := logrus.StandardLogger()
	metrics := utils.NewEngineMetrics(cfg.Metrics.Runtime)

	resolver, err := target.NewResolver(cfg.Resolver, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize target resolver: %w", err)
	}

	runner := bridge.NewExecRunner(cfg.Engine.SpawnRate, logger)
	translator := bridge.NewPathTranslator(cfg.Namespace, runner, logger, metrics)
	registry := bridge.NewDefaultRegistry(cfg, runner, translator, logger)

	buffer := cfg.API.EventBuffer
	if buffer <= 0 {
		buffer = progress.DefaultBuffer
	}
	hub := progress.NewHub(buffer, logger, metrics)
	results := storage.NewResultsRepository(cfg.Storage.SessionTTL, logger)
	engine := orchestration.NewEngine(cfg.Engine, resolver, registry, hub, results, logger, metrics)

	logger.WithFields(logrus.Fields{
		"tools":       registry.Names(),
		"simulated":   registry.Simulated(),
		"parallelism": cfg.Engine.Parallelism,
		"namespace":   translator.Mode(),
	}).Debug("Engine initialized")

	return &environment{
		config:     cfg,
		logger:     logger,
		metrics:    metrics,
		resolver:   resolver,
		translator: translator,
		registry:   registry,
		hub:        hub,
		results:    results,
		engine:     engine,
	}, nil
}

func (env *environment) localStorage() (*storage.LocalStorage, error) {
	return openLocalStorage(env.config)
}

func openLocalStorage(cfg *models.Config) (*storage.LocalStorage, error) {
	return storage.NewLocalStorage(cfg.Storage.Path, cfg.Storage.Compression, cfg.Storage.Retention, logrus.StandardLogger())
}
