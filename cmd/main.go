package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/spf13/viper"

	"github.com/poselab/interhand3d/pkg/annot"
	"github.com/poselab/interhand3d/pkg/model"
	"github.com/poselab/interhand3d/pkg/usecase"
)

var logLevel string
var configPath string
var outputsDir string
var resFolder string

func init() {
	flag.StringVar(&logLevel, "logLevel", "INFO", "set log level")
	flag.StringVar(&configPath, "config", ".", "set config file directory")
	flag.StringVar(&outputsDir, "outputsDir", "", "set model output batch directory")
	flag.StringVar(&resFolder, "resFolder", "", "set results output directory")
	flag.Parse()
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if logLevel != "INFO" {
		level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h)
}

func main() {
	log := newLogger()

	if outputsDir == "" || resFolder == "" {
		log.Error("outputsDir and resFolder must be provided")
		os.Exit(1)
	}

	viper.AddConfigPath(configPath)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		log.Error("could not read config file", "error", err)
		os.Exit(1)
	}

	cfg := usecase.Config{
		ImgPrefix:      viper.GetString("dataset.img_prefix"),
		ImageWidth:     viper.GetFloat64("dataset.image_width"),
		ImageHeight:    viper.GetFloat64("dataset.image_height"),
		UseGTRootDepth: viper.GetBool("dataset.use_gt_root_depth"),
	}
	if cfg.ImageWidth <= 0 || cfg.ImageHeight <= 0 {
		log.Error("dataset.image_width and dataset.image_height must be positive")
		os.Exit(1)
	}

	log.Info("load annotation index ================")
	index, err := annot.Load(viper.GetString("dataset.ann_file"))
	if err != nil {
		log.Error("failed to load annotation index", "error", err)
		os.Exit(1)
	}

	log.Info("unpack calibration tables ================")
	cameras, err := usecase.UnpackCameras(viper.GetString("dataset.camera_file"))
	if err != nil {
		log.Error("failed to unpack cameras", "error", err)
		os.Exit(1)
	}
	joints, err := usecase.UnpackJoints(viper.GetString("dataset.joint_file"))
	if err != nil {
		log.Error("failed to unpack joints", "error", err)
		os.Exit(1)
	}
	var rootnet map[int]model.RootnetEntry
	if !cfg.UseGTRootDepth {
		rootnet, err = usecase.UnpackRootnet(viper.GetString("dataset.rootnet_file"))
		if err != nil {
			log.Error("failed to unpack rootnet results", "error", err)
			os.Exit(1)
		}
	}
	builder := usecase.NewBuilder(cfg, index, cameras, joints, rootnet, log)

	log.Info("build database ================")
	db, err := builder.Build()
	if err != nil {
		log.Error("failed to build database", "error", err)
		os.Exit(1)
	}

	log.Info("unpack model outputs ================")
	outputs, err := usecase.UnpackOutputs(outputsDir)
	if err != nil {
		log.Error("failed to unpack outputs", "error", err)
		os.Exit(1)
	}

	log.Info("evaluate ================")
	evaluator := usecase.NewEvaluator(cfg, db, index, log)
	results, err := evaluator.Evaluate(outputs, resFolder, viper.GetStringSlice("eval.metrics")...)
	if err != nil {
		log.Error("evaluation failed", "error", err)
		os.Exit(1)
	}

	for _, r := range results {
		log.Info("result", "metric", r.Name, "value", r.Value)
	}

	log.Info("Done!")
}
