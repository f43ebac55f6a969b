package cfg

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	DataFile       string
	ModelFile      string
	DBPath         string
	MetricsFile    string
	UnseenPolicy   string
	HiddenLayers   []int
	NumEpochs      int
	BatchSize      int
	LearningRate   float64
	TrainFraction  float64
	RndSeed        int64
	ReportInterval int
}

type ConfigFile struct {
	Data struct {
		File         string `yaml:"file"`
		UnseenPolicy string `yaml:"unseenPolicy"`
	} `yaml:"data"`

	Training struct {
		HiddenLayers   []int   `yaml:"hiddenLayers"`
		Epochs         int     `yaml:"epochs"`
		BatchSize      int     `yaml:"batchSize"`
		LearningRate   float64 `yaml:"learningRate"`
		TrainFraction  float64 `yaml:"trainFraction"`
		Seed           *int64  `yaml:"seed"`
		ReportInterval int     `yaml:"reportInterval"`
	} `yaml:"training"`

	Output struct {
		ModelFile   string `yaml:"modelFile"`
		DBPath      string `yaml:"dbPath"`
		MetricsFile string `yaml:"metricsFile"`
	} `yaml:"output"`
}

func Defaults() Settings {
	return Settings{
		UnseenPolicy:   "reject",
		HiddenLayers:   []int{32, 16},
		NumEpochs:      50,
		BatchSize:      32,
		LearningRate:   0.001,
		TrainFraction:  0.8,
		RndSeed:        42,
		ReportInterval: 10,
	}
}

// Load reads the YAML file at path (if any) and overlays ATTRITION_* environment variables.
// A .env file in the working directory is loaded first when present.
func Load(path string) (Settings, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Settings{}, fmt.Errorf("failed to load .env file: %w", err)
	}

	settings := Defaults()
	if path != "" {
		if err := loadFromYAML(path, &settings); err != nil {
			return Settings{}, err
		}
	}
	if err := loadFromEnv(&settings); err != nil {
		return Settings{}, err
	}
	if err := settings.Validate(); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

func loadFromYAML(path string, settings *Settings) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	settings.DataFile = stringOr(config.Data.File, settings.DataFile)
	settings.UnseenPolicy = stringOr(config.Data.UnseenPolicy, settings.UnseenPolicy)
	if len(config.Training.HiddenLayers) > 0 {
		settings.HiddenLayers = config.Training.HiddenLayers
	}
	if config.Training.Epochs != 0 {
		settings.NumEpochs = config.Training.Epochs
	}
	if config.Training.BatchSize != 0 {
		settings.BatchSize = config.Training.BatchSize
	}
	if config.Training.LearningRate != 0 {
		settings.LearningRate = config.Training.LearningRate
	}
	if config.Training.TrainFraction != 0 {
		settings.TrainFraction = config.Training.TrainFraction
	}
	if config.Training.Seed != nil {
		settings.RndSeed = *config.Training.Seed
	}
	if config.Training.ReportInterval != 0 {
		settings.ReportInterval = config.Training.ReportInterval
	}
	settings.ModelFile = stringOr(config.Output.ModelFile, settings.ModelFile)
	settings.DBPath = stringOr(config.Output.DBPath, settings.DBPath)
	settings.MetricsFile = stringOr(config.Output.MetricsFile, settings.MetricsFile)
	return nil
}

func loadFromEnv(settings *Settings) error {
	settings.DataFile = getEnvOrDefault("ATTRITION_DATA_FILE", settings.DataFile)
	settings.UnseenPolicy = getEnvOrDefault("ATTRITION_UNSEEN_POLICY", settings.UnseenPolicy)
	settings.ModelFile = getEnvOrDefault("ATTRITION_MODEL_FILE", settings.ModelFile)
	settings.DBPath = getEnvOrDefault("ATTRITION_DB_PATH", settings.DBPath)
	settings.MetricsFile = getEnvOrDefault("ATTRITION_METRICS_FILE", settings.MetricsFile)

	if v := os.Getenv("ATTRITION_HIDDEN_LAYERS"); v != "" {
		layers, err := ParseLayers(v)
		if err != nil {
			return fmt.Errorf("ATTRITION_HIDDEN_LAYERS: %w", err)
		}
		settings.HiddenLayers = layers
	}

	var err error
	if settings.NumEpochs, err = getIntOrDefault("ATTRITION_EPOCHS", settings.NumEpochs); err != nil {
		return err
	}
	if settings.BatchSize, err = getIntOrDefault("ATTRITION_BATCH_SIZE", settings.BatchSize); err != nil {
		return err
	}
	if settings.LearningRate, err = getFloatOrDefault("ATTRITION_LEARNING_RATE", settings.LearningRate); err != nil {
		return err
	}
	if settings.TrainFraction, err = getFloatOrDefault("ATTRITION_TRAIN_FRACTION", settings.TrainFraction); err != nil {
		return err
	}
	if settings.ReportInterval, err = getIntOrDefault("ATTRITION_REPORT_INTERVAL", settings.ReportInterval); err != nil {
		return err
	}
	seed, err := getIntOrDefault("ATTRITION_SEED", int(settings.RndSeed))
	if err != nil {
		return err
	}
	settings.RndSeed = int64(seed)
	return nil
}

func (s Settings) Validate() error {
	if s.NumEpochs <= 0 {
		return fmt.Errorf("epochs must be positive, got %d", s.NumEpochs)
	}
	if s.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", s.BatchSize)
	}
	if s.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be positive, got %v", s.LearningRate)
	}
	if s.TrainFraction <= 0 || s.TrainFraction >= 1 {
		return fmt.Errorf("train fraction must be in (0, 1), got %v", s.TrainFraction)
	}
	if s.ReportInterval <= 0 {
		return fmt.Errorf("report interval must be positive, got %d", s.ReportInterval)
	}
	for _, width := range s.HiddenLayers {
		if width <= 0 {
			return fmt.Errorf("hidden layer widths must be positive, got %v", s.HiddenLayers)
		}
	}
	if s.UnseenPolicy != "reject" && s.UnseenPolicy != "unknown" {
		return fmt.Errorf("unseen policy must be reject or unknown, got %q", s.UnseenPolicy)
	}
	return nil
}

// ParseLayers parses a comma separated list of layer widths such as "32,16".
func ParseLayers(v string) ([]int, error) {
	var layers []int
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		width, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid layer width %q: %w", part, err)
		}
		layers = append(layers, width)
	}
	return layers, nil
}

func stringOr(v, defaultValue string) string {
	if v != "" {
		return v
	}
	return defaultValue
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return i, nil
}

func getFloatOrDefault(key string, defaultValue float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q", key, v)
	}
	return f, nil
}
