// Command finetune fine-tunes a pretrained image classifier on a
// class-per-subdirectory image dataset, running an augmented and a
// non-augmented training regime back to back and persisting the best
// weights from each.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"finetune/checkpoints"
	"finetune/experiment"
	"finetune/training"
	"finetune/vision/dataset"
	"finetune/vision/transform"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "finetune",
		Short: "Fine-tune an image classifier with and without data augmentation",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configFile := viper.GetString("config"); configFile != "" {
				viper.SetConfigFile(configFile)
				if err := viper.ReadInConfig(); err != nil {
					return fmt.Errorf("reading config file: %w", err)
				}
			}
			return run(cmd)
		},
		SilenceUsage: true,
	}

	flags := cmd.Flags()
	flags.String("config", "", "optional config file (yaml)")
	flags.String("data", "", "dataset root: one subdirectory per class")
	flags.String("out", "checkpoints-out", "directory for best-model checkpoints")
	flags.String("pretrained", "", "optional pretrained backbone checkpoint to load")
	flags.Int("epochs", 10, "epochs per variant")
	flags.Int("batch-size", 32, "batch size")
	flags.Float64("lr", 0.001, "learning rate")
	flags.Float64("momentum", 0.9, "SGD momentum")
	flags.Float64("weight-decay", 0.0, "weight decay")
	flags.Int("image-size", 64, "square image size fed to the model")
	flags.Int("workers", 4, "concurrent sample loaders")
	flags.Float64("train-ratio", 0.8, "fraction of the dataset used for training")
	flags.Int64("seed", 42, "seed for splits, shuffling, and augmentation")

	if err := viper.BindPFlags(flags); err != nil {
		panic(err)
	}

	return cmd
}

func run(cmd *cobra.Command) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync()

	dataRoot := viper.GetString("data")
	if dataRoot == "" {
		return fmt.Errorf("--data is required")
	}

	imageSize := viper.GetInt("image-size")
	seed := viper.GetInt64("seed")
	trainRatio := viper.GetFloat64("train-ratio")

	plain := transform.Plain(imageSize)
	full, err := dataset.NewImageFolderDataset(dataRoot, nil, plain)
	if err != nil {
		return err
	}
	logger.Info("dataset loaded",
		zap.Int("examples", full.Len()),
		zap.Int("classes", full.NumClasses()),
		zap.Any("distribution", full.ClassDistribution()),
	)

	trainSet, evalSet := full.Split(trainRatio, seed)

	datasets := func(augment bool) (training.Dataset, training.Dataset, error) {
		if augment {
			return trainSet.WithPipeline(transform.Augmented(imageSize, seed)), evalSet, nil
		}
		return trainSet, evalSet, nil
	}

	pretrained := viper.GetString("pretrained")
	model := func(numClasses int) (training.TrainableModel, error) {
		net, err := training.BuildModel(training.ModelConfig{
			InputDim:   3 * imageSize * imageSize,
			HiddenDims: []int{256, 128},
			NumClasses: numClasses,
			Seed:       seed,
		})
		if err != nil {
			return nil, err
		}
		if pretrained != "" {
			ckpt, err := checkpoints.NewSaver().Load(pretrained)
			if err != nil {
				return nil, fmt.Errorf("loading pretrained backbone: %w", err)
			}
			if err := net.LoadStateDict(checkpoints.ToSnapshot(ckpt.Weights)); err != nil {
				return nil, fmt.Errorf("restoring pretrained backbone: %w", err)
			}
		}
		return net, nil
	}

	base := experiment.Variant{
		Epochs:       viper.GetInt("epochs"),
		BatchSize:    viper.GetInt("batch-size"),
		LearningRate: viper.GetFloat64("lr"),
		Momentum:     viper.GetFloat64("momentum"),
		WeightDecay:  viper.GetFloat64("weight-decay"),
		NumWorkers:   viper.GetInt("workers"),
		Seed:         seed,
	}

	augmented := base
	augmented.Name = "augmented"
	augmented.Augment = true

	nonAugmented := base
	nonAugmented.Name = "non-augmented"
	nonAugmented.Augment = false

	runner := experiment.NewRunner(datasets, model, viper.GetString("out"), logger)
	results, err := runner.Run(cmd.Context(), []experiment.Variant{augmented, nonAugmented})

	for _, result := range results {
		if result.Err != nil {
			continue
		}
		fmt.Printf("%s: best validation accuracy %.4f (saved to %s)\n",
			result.Variant, result.BestAccuracy, result.CheckpointPath)
	}

	return err
}
