package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tsawler/go-emom/curation"
	"github.com/tsawler/go-emom/detector"
	"github.com/tsawler/go-emom/emotion"
	"github.com/tsawler/go-emom/logging"
	"github.com/tsawler/go-emom/training"
	"github.com/tsawler/go-emom/vision/dataloader"
	"github.com/tsawler/go-emom/vision/dataset"
)

func (a *app) extract(ctx context.Context, args []string) error {
	fs := a.newFlags("extract", "<archive> [dataset]")
	foldCase := fs.Bool("fold-case", a.cfg.Extensions.FoldCase, "also accept uppercase image extensions")
	flagUsage := fs.Usage
	fs.Usage = func() {
		flagUsage()
		fmt.Fprintf(a.errOut, "Image extensions: %s\n", strings.Join(curation.Extensions(), " "))
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 || fs.NArg() > 2 {
		fs.Usage()
		return errors.New("extract: expected <archive> [dataset]")
	}

	datasetDir := curation.DefaultDatasetDir
	if fs.NArg() == 2 {
		datasetDir = fs.Arg(1)
	}

	result, err := a.parser.ParseArchive(ctx, fs.Arg(0), datasetDir, curation.ExtensionFilter{FoldCase: *foldCase})
	if err != nil {
		return err
	}

	if _, err := a.parser.RecordManifest(datasetDir, func(m *curation.Manifest) {
		m.Archives = append(m.Archives, result.Archive)
		m.Record(result.Placed)
	}); err != nil {
		return err
	}

	fmt.Fprintf(a.out, "extracted %d images from %s into %s\n", len(result.Placed), result.Archive, a.parser.Path(datasetDir))
	for _, label := range emotion.Labels() {
		if n := result.Counts[label]; n > 0 {
			fmt.Fprintf(a.out, "  %-8s %d\n", label, n)
		}
	}
	return nil
}

func (a *app) filter(ctx context.Context, args []string) error {
	fs := a.newFlags("filter", "<dataset> <save> <quarantine>")
	threshold := fs.Float64("threshold", a.cfg.Quarantine.Threshold, "detection confidence an image must exceed")
	topOnly := fs.Bool("top-only", a.cfg.Quarantine.TopOnly, "only consider the most confident detection")
	copyFiles := fs.Bool("copy", a.cfg.Quarantine.Copy, "copy instead of move")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 3 {
		fs.Usage()
		return errors.New("filter: expected <dataset> <save> <quarantine>")
	}

	client := detector.NewSidecarClient(a.cfg.SidecarConfig(), logging.Component("detector"))
	if err := client.Health(ctx); err != nil {
		return fmt.Errorf("detector unavailable at %s: %w", a.cfg.Detector.BaseURL, err)
	}

	f := &curation.EmotionFilter{
		Detector:  client,
		Threshold: *threshold,
		Folders:   a.parser.Folders,
		TopOnly:   *topOnly,
	}

	datasetDir, saveDir, quarantineDir := fs.Arg(0), fs.Arg(1), fs.Arg(2)
	result, err := a.parser.PrepareDataset(ctx, datasetDir, saveDir, quarantineDir, f, curation.MoveOptions{Copy: *copyFiles})
	if err != nil {
		return err
	}

	if _, err := a.parser.RecordManifest(saveDir, func(m *curation.Manifest) {
		m.Record(result.Confirmed)
		m.Quarantined = append(m.Quarantined, result.Quarantined...)
	}); err != nil {
		return err
	}

	fmt.Fprintf(a.out, "confirmed %d, quarantined %d\n", len(result.Confirmed), len(result.Quarantined))
	return nil
}

func (a *app) split(ctx context.Context, args []string) error {
	fs := a.newFlags("split", "<dataset>")
	opts := a.cfg.SplitOptions()
	fs.Float64Var(&opts.TestSize, "test-size", opts.TestSize, "fraction of images for the test split")
	fs.Uint64Var(&opts.Seed, "seed", opts.Seed, "shuffle seed")
	fs.BoolVar(&opts.Stratify, "stratify", opts.Stratify, "keep label proportions in both splits")
	fs.BoolVar(&opts.Shuffle, "shuffle", opts.Shuffle, "shuffle before splitting")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("split: expected <dataset>")
	}

	result, err := a.parser.SplitAndMove(ctx, fs.Arg(0), opts)
	if err != nil {
		return err
	}

	if _, err := a.parser.RecordManifest(fs.Arg(0), func(m *curation.Manifest) {
		m.Train = result.Train
		m.Test = result.Test
	}); err != nil {
		return err
	}

	fmt.Fprintf(a.out, "train %d, test %d\n", len(result.Train), len(result.Test))
	return nil
}

func (a *app) train(ctx context.Context, args []string) error {
	fs := a.newFlags("train", "<dataset>")
	epochs := fs.Int("epochs", 5, "training epochs")
	lr := fs.Float32("lr", 0.05, "learning rate")
	modelKind := fs.String("model", "conv", "classifier to fit: conv or linear")
	progress := fs.Bool("progress", true, "show a progress bar")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("train: expected <dataset>")
	}
	if *modelKind != "conv" && *modelKind != "linear" {
		return fmt.Errorf("train: unknown model %q, expected conv or linear", *modelKind)
	}

	root := a.parser.Path(fs.Arg(0))
	lc := a.cfg.Loader
	geometry := dataset.WithGeometry(lc.ImageSize, lc.Channels)

	trainSet, err := dataset.NewEmotionFolderDataset(filepath.Join(root, "train"), geometry)
	if err != nil {
		return err
	}
	testSet, err := dataset.NewEmotionFolderDataset(filepath.Join(root, "test"), geometry)
	if err != nil {
		return err
	}
	fmt.Fprint(a.out, trainSet.String())

	trainLoader, testLoader, err := dataloader.CreateSharedDataLoaders(trainSet, testSet, dataloader.Config{
		BatchSize:    lc.BatchSize,
		Shuffle:      true,
		Seed:         a.cfg.Split.Seed,
		MaxCacheSize: lc.CacheSize,
		ImageSize:    lc.ImageSize,
		Channels:     lc.Channels,
		NumWorkers:   lc.Workers,
		Logger:       logging.Component("dataloader"),
	})
	if err != nil {
		return err
	}
	defer trainLoader.Close()
	defer testLoader.Close()

	if warmed, err := trainLoader.WarmCache(ctx); err != nil {
		a.log.Warn().Err(err).Msg("cache warm-up failed, images will load lazily")
	} else {
		a.log.Debug().Int("images", warmed).Msg("cache warmed")
	}

	var model training.Trainable
	if *modelKind == "linear" {
		model = training.NewLinearModel(trainLoader.ItemLen(), emotion.NumClasses, *lr, a.cfg.Split.Seed)
	} else {
		model, err = training.NewConvModel(training.BaselineConvConfig(lc.ImageSize, lc.Channels, emotion.NumClasses, *lr, a.cfg.Split.Seed))
		if err != nil {
			return fmt.Errorf("train: %w", err)
		}
	}
	cfg := training.TrainConfig{Epochs: *epochs, Logger: logging.Component("training")}
	if *progress {
		cfg.Progress = a.errOut
	}
	if _, err := training.Train(ctx, model, trainLoader, cfg); err != nil {
		return err
	}

	result, err := training.Evaluate(ctx, model, testLoader, logging.Component("training"))
	if err != nil {
		return err
	}

	names := make([]string, emotion.NumClasses)
	for i, l := range emotion.Labels() {
		names[i] = string(l)
	}
	fmt.Fprintf(a.out, "test: average loss %.4f, accuracy %.2f%% (%d images)\n",
		result.Loss, result.Accuracy*100, result.Samples)
	fmt.Fprint(a.out, result.Confusion.Format(names))
	fmt.Fprintln(a.out, trainLoader.Stats())
	return nil
}

func (a *app) inspect(args []string) error {
	fs := a.newFlags("inspect", "<dataset>")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("inspect: expected <dataset>")
	}

	root := a.parser.Path(fs.Arg(0))
	ds, err := dataset.NewEmotionFolderDataset(root)
	if err != nil {
		return err
	}
	fmt.Fprint(a.out, ds.String())

	m, err := curation.ReadManifest(a.parser.Fs, curation.ManifestPath(root))
	if err != nil {
		a.log.Debug().Err(err).Msg("no manifest")
		return nil
	}
	fmt.Fprintf(a.out, "Manifest %s (%s): %d archive(s), %d train, %d test, %d quarantined\n",
		m.RunID, m.CreatedAt.Format("2006-01-02 15:04:05"), len(m.Archives), len(m.Train), len(m.Test), len(m.Quarantined))
	for _, label := range m.Labels() {
		fmt.Fprintf(a.out, "  %s: %d recorded\n", label, m.Counts[label])
	}
	return nil
}
