package main

import (
	"context"
	"encoding/json"
	"fmt"
	gio "io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"attrition/pkg"
	"attrition/pkg/cfg"
	"attrition/pkg/io"
	"attrition/pkg/metrics"
	"attrition/pkg/model"
	"attrition/pkg/storage"
)

func TrainCommand() *cobra.Command {

	var hiddenLayers string

	var cmd = &cobra.Command{
		Use:   "train [-i dataFile] [-o outputFile] [--db runs.db]",
		Short: "Trains a new model on the employee corpus, reports its performance and feature importance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("hidden") {
				layers, err := cfg.ParseLayers(hiddenLayers)
				if err != nil {
					return err
				}
				settings.HiddenLayers = layers
			}
			if err := settings.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return train(ctx, cmd, settings)
		},
	}

	cmd.Flags().StringVarP(&settings.DataFile, "input", "i", settings.DataFile, "name of data file (optional, uses the bundled sample if not present)")
	cmd.Flags().StringVarP(&settings.ModelFile, "output-file", "o", settings.ModelFile, "name of the file to save model to (optional)")
	cmd.Flags().StringVarP(&settings.DBPath, "db", "", settings.DBPath, "run database to store the trained model in (optional)")
	cmd.Flags().StringVarP(&settings.MetricsFile, "metrics-file", "", settings.MetricsFile, "file to write Prometheus metrics to (optional)")
	cmd.Flags().IntVarP(&settings.BatchSize, "batch-size", "b", settings.BatchSize, "batch size")
	cmd.Flags().Float64VarP(&settings.LearningRate, "learning-rate", "l", settings.LearningRate, "learning rate")
	cmd.Flags().IntVarP(&settings.NumEpochs, "num-epochs", "n", settings.NumEpochs, "number of epochs to train")
	cmd.Flags().Int64VarP(&settings.RndSeed, "random-seed", "x", settings.RndSeed, "random seed")
	cmd.Flags().Float64VarP(&settings.TrainFraction, "train-fraction", "", settings.TrainFraction, "fraction of the corpus used for training")
	cmd.Flags().IntVarP(&settings.ReportInterval, "report-interval", "r", settings.ReportInterval, "number of epochs between training progress reports")
	cmd.Flags().StringVarP(&settings.UnseenPolicy, "unseen", "", settings.UnseenPolicy, "unseen category policy: reject or unknown")
	cmd.Flags().StringVarP(&hiddenLayers, "hidden", "", "32,16", "comma separated hidden layer widths")

	return cmd
}

func train(ctx context.Context, cmd *cobra.Command, settings cfg.Settings) error {
	schema := model.AttritionSchema()
	policy, err := model.ParseUnseenPolicy(settings.UnseenPolicy)
	if err != nil {
		return err
	}
	records, dataErrors, err := io.LoadFile(settings.DataFile, schema)
	if err != nil {
		return fmt.Errorf("error reading training data: %w", err)
	}
	pkg.PrintDataErrors(dataErrors)

	var store *storage.Store
	if settings.DBPath != "" {
		store, err = storage.Open(settings.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	registry := prometheus.NewRegistry()
	service := pkg.NewService(pkg.ServiceConfig{
		Schema:       schema,
		UnseenPolicy: policy,
		Params:       trainingParameters(settings),
		Store:        store,
		Metrics:      metrics.NewWithRegistry(registry),
	})
	if err := service.Ingest(records); err != nil {
		return fmt.Errorf("error ingesting training data: %w", err)
	}

	snapshot, err := service.Retrain(ctx, nil)
	if err != nil {
		return err
	}
	snapshot.Stats.LogMetrics()

	if settings.ModelFile != "" {
		if err := io.SaveModelFile(snapshot.Model, settings.ModelFile); err != nil {
			return err
		}
	}
	if settings.MetricsFile != "" {
		if err := metrics.WriteTextfile(settings.MetricsFile, registry); err != nil {
			return fmt.Errorf("error writing metrics to %s: %w", settings.MetricsFile, err)
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s\n", snapshot.RunID)
	writeStats(out, snapshot.Stats)
	writeImportance(out, snapshot.Importance)
	return nil
}

func PredictCommand() *cobra.Command {
	var modelFile string
	var dbPath string
	var fields []string

	var cmd = &cobra.Command{
		Use:   "predict (-m modelFile | --db runs.db) --field Name=Value ...",
		Short: "Predicts the attrition probability of one employee",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadModel(modelFile, stringOr(dbPath, settings.DBPath))
			if err != nil {
				return err
			}
			input, err := parseFields(fields)
			if err != nil {
				return err
			}
			prediction, err := pkg.Predict(m, input)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Attrition probability: %.1f%%\nWill leave: %t\n", prediction.Probability*100, prediction.WillLeave)
			return nil
		},
	}

	cmd.Flags().StringVarP(&modelFile, "model", "m", "", "name of model file")
	cmd.Flags().StringVarP(&dbPath, "db", "", "", "run database holding the active model")
	cmd.Flags().StringArrayVarP(&fields, "field", "f", nil, "attribute value as Name=Value (repeatable)")

	return cmd
}

func ImportanceCommand() *cobra.Command {
	var modelFile string
	var dbPath string
	var inputFile string
	var seed int64

	var cmd = &cobra.Command{
		Use:   "importance (-m modelFile | --db runs.db) [-i dataFile]",
		Short: "Computes permutation feature importance of a model over a corpus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadModel(modelFile, stringOr(dbPath, settings.DBPath))
			if err != nil {
				return err
			}
			records, dataErrors, err := io.LoadFile(stringOr(inputFile, settings.DataFile), m.MetaData.Schema)
			if err != nil {
				return fmt.Errorf("error loading data: %w", err)
			}
			pkg.PrintDataErrors(dataErrors)

			examples := make([]*io.Example, 0, len(records))
			for i, r := range records {
				features, err := m.MetaData.Encode(r)
				if err != nil {
					return fmt.Errorf("error encoding record %d: %w", i, err)
				}
				examples = append(examples, &io.Example{Features: features})
			}
			importance, err := pkg.ComputeImportance(m, io.NewDataSet(examples, 1, seed), seed)
			if err != nil {
				return err
			}
			writeImportance(cmd.OutOrStdout(), importance)
			return nil
		},
	}

	cmd.Flags().StringVarP(&modelFile, "model", "m", "", "name of model file")
	cmd.Flags().StringVarP(&dbPath, "db", "", "", "run database holding the active model")
	cmd.Flags().StringVarP(&inputFile, "input", "i", "", "name of data file (optional, uses the bundled sample if not present)")
	cmd.Flags().Int64VarP(&seed, "random-seed", "x", settings.RndSeed, "random seed")

	return cmd
}

func SummaryCommand() *cobra.Command {
	var inputFile string
	var groupBy string

	var cmd = &cobra.Command{
		Use:   "summary [-i dataFile] [--group-by attribute]",
		Short: "Prints corpus statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			schema := model.AttritionSchema()
			records, dataErrors, err := io.LoadFile(stringOr(inputFile, settings.DataFile), schema)
			if err != nil {
				return fmt.Errorf("error loading data: %w", err)
			}
			pkg.PrintDataErrors(dataErrors)

			summary, err := pkg.Summarize(records, schema)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Employees: %d\nAttrition: %d (%.1f%%)\n", summary.TotalEmployees, summary.AttritionCount, summary.AttritionRate*100)
			fmt.Fprintf(out, "Average age: %.1f\nAverage years at company: %.1f\nAverage monthly income: %.0f\n",
				summary.AvgAge, summary.AvgYearsAtCompany, summary.AvgMonthlyIncome)
			for _, d := range summary.TopDepartments {
				fmt.Fprintf(out, "Department %s: %d\n", d.Name, d.Count)
			}
			for _, b := range summary.AgeDistribution {
				fmt.Fprintf(out, "Age %s: %d\n", b.Label, b.Count)
			}
			for _, b := range summary.SalaryBuckets {
				fmt.Fprintf(out, "Income %s: %d\n", b.Label, b.Count)
			}

			if groupBy != "" {
				groups, err := pkg.AttritionBy(records, schema, groupBy)
				if err != nil {
					return err
				}
				for _, g := range groups {
					fmt.Fprintf(out, "%s %s: %d/%d (%.1f%%)\n", groupBy, g.Name, g.Attrition, g.Total, g.Rate*100)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputFile, "input", "i", "", "name of data file (optional, uses the bundled sample if not present)")
	cmd.Flags().StringVarP(&groupBy, "group-by", "g", "", "attribute to break attrition down by")

	return cmd
}

func RunsCommand() *cobra.Command {
	var dbPath string

	var cmd = &cobra.Command{
		Use:   "runs --db runs.db",
		Short: "Lists the stored training runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath = stringOr(dbPath, settings.DBPath)
			if dbPath == "" {
				return fmt.Errorf("--db is required")
			}
			store, err := storage.Open(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns()
			if err != nil {
				return err
			}
			active, err := store.ActiveID()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, run := range runs {
				var stats pkg.ModelStats
				if err := json.Unmarshal(run.Stats, &stats); err != nil {
					return fmt.Errorf("error reading run %s: %w", run.ID, err)
				}
				marker := " "
				if run.ID == active {
					marker = "*"
				}
				fmt.Fprintf(out, "%s %s %s records=%d accuracy=%.3f f1=%.3f\n",
					marker, run.ID, run.CreatedAt.Format("2006-01-02 15:04:05"), run.Records, stats.Accuracy, stats.F1Score)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&dbPath, "db", "", "", "run database")

	return cmd
}

func loadModel(modelFile, dbPath string) (*model.Model, error) {
	switch {
	case modelFile != "":
		return io.LoadModelFile(modelFile)
	case dbPath != "":
		store, err := storage.Open(dbPath)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		_, m, err := store.LoadActive()
		return m, err
	default:
		return nil, fmt.Errorf("%w: either --model or --db is required", pkg.ErrModelUnavailable)
	}
}

func stringOr(v, defaultValue string) string {
	if v != "" {
		return v
	}
	return defaultValue
}

func parseFields(fields []string) (map[string]string, error) {
	input := make(map[string]string, len(fields))
	for _, f := range fields {
		name, value, ok := strings.Cut(f, "=")
		if !ok {
			return nil, fmt.Errorf("invalid field %q, expected Name=Value", f)
		}
		input[strings.TrimSpace(name)] = value
	}
	return input, nil
}

func trainingParameters(settings cfg.Settings) pkg.TrainingParameters {
	params := pkg.DefaultTrainingParameters()
	params.HiddenLayers = settings.HiddenLayers
	params.BatchSize = settings.BatchSize
	params.NumEpochs = settings.NumEpochs
	params.LearningRate = settings.LearningRate
	params.RndSeed = settings.RndSeed
	params.TrainFraction = settings.TrainFraction
	params.ReportInterval = settings.ReportInterval
	return params
}

func writeStats(out gio.Writer, s pkg.ModelStats) {
	c := s.ConfusionMatrix
	fmt.Fprintf(out, "Accuracy %.3f Precision %.3f Recall %.3f F1 %.3f Specificity %.3f Loss %.3f\n",
		s.Accuracy, s.Precision, s.Recall, s.F1Score, s.Specificity, s.Loss)
	fmt.Fprintf(out, "TP %d FP %d TN %d FN %d\n", c.TruePos, c.FalsePos, c.TrueNeg, c.FalseNeg)
}

func writeImportance(out gio.Writer, importance []pkg.FeatureImportance) {
	for _, f := range importance {
		fmt.Fprintf(out, "%-26s %.5f\n", f.Feature, f.Importance)
	}
}

var logLevel string
var logFormat string
var configFile string
var settings = cfg.Defaults()

func NewRootCommand() *cobra.Command {
	settings = cfg.Defaults()
	Main := &cobra.Command{
		Use:               "attrition",
		Short:             "Employee attrition prediction",
		PersistentPreRunE: setup,
		SilenceUsage:      true,
	}

	Main.PersistentFlags().StringVarP(&logLevel, "log-level", "", "info", "Logging level: info error or debug")
	Main.PersistentFlags().StringVarP(&logFormat, "log-format", "", "pretty", "Logging format: pretty or json")
	Main.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML configuration file")

	Main.AddCommand(TrainCommand())
	Main.AddCommand(PredictCommand())
	Main.AddCommand(ImportanceCommand())
	Main.AddCommand(SummaryCommand())
	Main.AddCommand(RunsCommand())
	return Main
}

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, args []string) error {
	if err := setupLogging(); err != nil {
		return err
	}
	return loadSettings(cmd)
}

// loadSettings applies the configuration file and environment, then re-applies the flags
// given explicitly on the command line so that they take precedence.
func loadSettings(cmd *cobra.Command) error {
	loaded, err := cfg.Load(configFile)
	if err != nil {
		return err
	}
	explicit := settings
	settings = loaded
	cmd.Flags().Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "input":
			settings.DataFile = explicit.DataFile
		case "output-file":
			settings.ModelFile = explicit.ModelFile
		case "db":
			settings.DBPath = explicit.DBPath
		case "metrics-file":
			settings.MetricsFile = explicit.MetricsFile
		case "batch-size":
			settings.BatchSize = explicit.BatchSize
		case "learning-rate":
			settings.LearningRate = explicit.LearningRate
		case "num-epochs":
			settings.NumEpochs = explicit.NumEpochs
		case "random-seed":
			settings.RndSeed = explicit.RndSeed
		case "train-fraction":
			settings.TrainFraction = explicit.TrainFraction
		case "report-interval":
			settings.ReportInterval = explicit.ReportInterval
		case "unseen":
			settings.UnseenPolicy = explicit.UnseenPolicy
		}
	})
	return nil
}

func setupLogging() error {

	switch logLevel {
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	default:
		return fmt.Errorf("invalid logging level %q", logLevel)
	}

	switch logFormat {
	case "pretty":
		setupPrettyLogging()
	case "json":
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	default:
		return fmt.Errorf("invalid log format %q", logFormat)
	}
	return nil
}

func setupPrettyLogging() {
	writer := zerolog.ConsoleWriter{Out: os.Stderr}
	writer.FormatFieldValue = func(i interface{}) string {
		switch v := i.(type) {
		case json.Number:
			val, _ := v.Float64()
			return fmt.Sprintf("%.3f", val)
		default:
			return fmt.Sprintf("%s", i)
		}

	}
	log.Logger = log.Output(writer)

}
