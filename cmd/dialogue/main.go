// Command dialogue prepares conversational JSON datasets and trains the
// hierarchical dialogue models over them.
package main

import (
	"fmt"
	"os"

	"github.com/alexflint/go-arg"
	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/simplego"
	"go.uber.org/zap"

	"github.com/convforge/dialogue"
	"github.com/convforge/dialogue/data"
	"github.com/convforge/dialogue/models"
	"github.com/convforge/dialogue/params"
)

type dataArgs struct {
	Train      string `arg:"--train,required" help:"training JSON file (array or newline-delimited objects)"`
	Validation string `arg:"--val" help:"validation JSON file"`
	Test       string `arg:"--test" help:"test JSON file (optional)"`
	CacheDir   string `arg:"--cache-dir" help:"directory for the example cache; empty disables caching"`
	Force      bool   `arg:"--force" help:"rebuild the example cache even if one exists"`

	TextKey  string `arg:"--text-key" default:"text" help:"JSON key holding the utterance text"`
	GroupKey string `arg:"--group-key" default:"conversation_id" help:"JSON key grouping utterances into conversations"`
	RoleKey  string `arg:"--role-key" default:"role" help:"JSON key naming the speaker"`
	SortKey  string `arg:"--sort-key" default:"timestamp" help:"JSON key ordering utterances within a conversation"`

	MaxSL     int    `arg:"--max-sl" help:"drop dialogues whose longest utterance exceeds this many tokens"`
	Tokenizer string `arg:"--tokenizer" help:"path to a trained tokenizer.json for BPE; empty uses word tokenization"`
	Vocab     string `arg:"--vocab" help:"path to persist/reuse the vocabulary as JSON"`
}

type prepareCmd struct {
	dataArgs
	MinFreq int `arg:"--min-freq" default:"1" help:"minimum token frequency for the vocabulary"`
	MaxSize int `arg:"--max-size" help:"vocabulary size cap (0 = unlimited)"`
}

type trainCmd struct {
	dataArgs
	Variant     string   `arg:"--variant" default:"hred" help:"hred, hred-attention or cvae"`
	Epochs      int      `arg:"--epochs" default:"1"`
	BatchSize   int      `arg:"--bs" help:"batch size"`
	Shuffle     bool     `arg:"--shuffle" help:"reshuffle training examples every epoch"`
	Seed        int64    `arg:"--seed"`
	SortBy      string   `arg:"--sort-by" help:"bucket examples by 'sl' (utterance length) or 'cl' (turn count)"`
	TargetRoles []string `arg:"--target-role,separate" help:"roles eligible to supply the target turn"`

	EmbeddingSize int `arg:"--emb-sz"`
	HiddenSize    int `arg:"--nhid"`
	NumLayers     int `arg:"--nlayers"`
	LatentDim     int `arg:"--latent-dim"`
}

type cliArgs struct {
	Prepare *prepareCmd `arg:"subcommand:prepare" help:"parse and cache examples, build the vocabulary, print stats"`
	Train   *trainCmd   `arg:"subcommand:train" help:"build a model over the dataset and run the training loop"`
	Verbose bool        `arg:"-v,--verbose" help:"debug logging"`
}

func (cliArgs) Description() string {
	return "data preparation and training for hierarchical dialogue models"
}

func main() {
	var args cliArgs
	p := arg.MustParse(&args)

	logger, err := newLogger(args.Verbose)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	switch {
	case args.Prepare != nil:
		err = runPrepare(args.Prepare, logger)
	case args.Train != nil:
		err = runTrain(args.Train, logger)
	default:
		p.WriteHelp(os.Stderr)
		os.Exit(2)
	}
	if err != nil {
		logger.Fatal("command failed", zap.Error(err))
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	return cfg.Build()
}

// baseConfig translates the shared dataset flags into a container config.
func baseConfig(a dataArgs, logger *zap.Logger) (dialogue.Config, error) {
	cfg := dialogue.Config{
		Path:           a.CacheDir,
		TrainPath:      a.Train,
		ValidationPath: a.Validation,
		TestPath:       a.Test,
		Keys: data.RecordKeys{
			Text:  a.TextKey,
			Group: a.GroupKey,
			Role:  a.RoleKey,
			Sort:  a.SortKey,
		},
		MaxSL:     a.MaxSL,
		Reset:     a.Force,
		VocabPath: a.Vocab,
		Logger:    logger,
	}
	if a.Tokenizer != "" {
		tok, err := data.BPETokenizer(a.Tokenizer)
		if err != nil {
			return dialogue.Config{}, err
		}
		cfg.Tokenizer = tok
	}
	return cfg, nil
}

func runPrepare(cmd *prepareCmd, logger *zap.Logger) error {
	cfg, err := baseConfig(cmd.dataArgs, logger)
	if err != nil {
		return err
	}
	cfg.Vocab = data.VocabOptions{MinFreq: cmd.MinFreq, MaxSize: cmd.MaxSize}

	md, err := dialogue.FromJSONFiles(cfg)
	if err != nil {
		return err
	}

	fmt.Printf("vocabulary: %d tokens\n", md.NumTokens())
	fmt.Printf("train: %d batches of %d\n", md.TrainIterator().Len(), md.Size())
	if it := md.ValidationIterator(); it != nil {
		fmt.Printf("validation: %d batches\n", it.Len())
	}
	if it := md.TestIterator(); it != nil {
		fmt.Printf("test: %d batches\n", it.Len())
	}
	if n := md.DroppedBatches(); n > 0 {
		fmt.Printf("dropped %d oversized batches\n", n)
	}
	return nil
}

func runTrain(cmd *trainCmd, logger *zap.Logger) error {
	cfg, err := baseConfig(cmd.dataArgs, logger)
	if err != nil {
		return err
	}
	cfg.BatchSize = cmd.BatchSize
	cfg.Shuffle = cmd.Shuffle
	cfg.Seed = cmd.Seed
	cfg.SortExamplesBy = data.SortExamplesBy(cmd.SortBy)
	cfg.TargetRoles = cmd.TargetRoles

	var variant models.Variant
	switch cmd.Variant {
	case "hred":
		variant = models.Base()
	case "hred-attention":
		variant = models.Attention(params.DefaultAttentionHidden)
	case "cvae":
		variant = models.ConditionalVariational(cmd.LatentDim, params.DefaultBOWHidden)
	default:
		return fmt.Errorf("unknown variant %q", cmd.Variant)
	}
	cfg.Variant = variant

	md, err := dialogue.FromJSONFiles(cfg)
	if err != nil {
		return err
	}
	learner, err := md.GetModel(dialogue.ModelOptions{
		HParams: models.HParams{
			EmbeddingSize: cmd.EmbeddingSize,
			HiddenSize:    cmd.HiddenSize,
			NumLayers:     cmd.NumLayers,
			LatentDim:     cmd.LatentDim,
		},
	})
	if err != nil {
		return err
	}

	backend, err := backends.NewWithConfig("go")
	if err != nil {
		return err
	}
	return learner.Fit(backend, cmd.Epochs)
}
