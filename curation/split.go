package curation

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"path/filepath"
	"sort"
)

// DefaultSeed matches the random state the dataset was originally split with
const DefaultSeed = 42

// SplitOptions controls SplitDataset
type SplitOptions struct {
	TestSize float64 // fraction of paths to put in the test split, in (0, 1)
	Stratify bool    // keep each label's proportion independently
	Shuffle  bool
	Seed     uint64
}

// DefaultSplitOptions returns a stratified, shuffled 80/20 split
func DefaultSplitOptions() SplitOptions {
	return SplitOptions{
		TestSize: 0.2,
		Stratify: true,
		Shuffle:  true,
		Seed:     DefaultSeed,
	}
}

// SplitDataset partitions paths into train and test subsets.
// The label of a path is its parent folder name. The same seed always yields
// the same partition.
func SplitDataset(paths []string, opts SplitOptions) (train, test []string, err error) {
	if !(opts.TestSize > 0 && opts.TestSize < 1) {
		return nil, nil, &ValueError{Param: "test_size", Reason: fmt.Sprintf("%v is outside (0, 1)", opts.TestSize)}
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))

	if !opts.Stratify {
		if len(paths) < 2 {
			return nil, nil, &ValueError{Param: "paths", Reason: fmt.Sprintf("need at least 2 paths to split, got %d", len(paths))}
		}
		nTest := clamp(int(math.Ceil(opts.TestSize*float64(len(paths))-1e-9)), 1, len(paths)-1)
		train, test = splitStratum(paths, nTest, opts.Shuffle, rng)
		return train, test, nil
	}

	groups := make(map[string][]string)
	for _, p := range paths {
		label := labelOf(p)
		groups[label] = append(groups[label], p)
	}

	labels := make([]string, 0, len(groups))
	for label, members := range groups {
		if len(members) < 2 {
			return nil, nil, &ValueError{
				Param:  "stratify",
				Reason: fmt.Sprintf("label %q has %d member(s), need at least 2", label, len(members)),
			}
		}
		labels = append(labels, label)
	}
	sort.Strings(labels)

	for _, label := range labels {
		members := groups[label]
		nTest := clamp(int(math.Round(opts.TestSize*float64(len(members)))), 1, len(members)-1)
		tr, te := splitStratum(members, nTest, opts.Shuffle, rng)
		train = append(train, tr...)
		test = append(test, te...)
	}

	if opts.Shuffle {
		rng.Shuffle(len(train), func(i, j int) { train[i], train[j] = train[j], train[i] })
		rng.Shuffle(len(test), func(i, j int) { test[i], test[j] = test[j], test[i] })
	}

	return train, test, nil
}

// splitStratum takes nTest items for test: a random sample when shuffling,
// otherwise the tail in input order.
func splitStratum(items []string, nTest int, shuffle bool, rng *rand.Rand) (train, test []string) {
	order := make([]string, len(items))
	copy(order, items)
	if shuffle {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		return order[nTest:], order[:nTest]
	}
	cut := len(order) - nTest
	return order[:cut], order[cut:]
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SplitResult is the outcome of SplitAndMove
type SplitResult struct {
	Train []string // final paths under <dataset>/train
	Test  []string // final paths under <dataset>/test
}

// SplitAndMove splits the labeled images directly under datasetDir and moves
// them into datasetDir/train/<label> and datasetDir/test/<label>.
func (p *Parser) SplitAndMove(ctx context.Context, datasetDir string, opts SplitOptions) (*SplitResult, error) {
	root := p.resolve(datasetDir)
	paths, err := p.GetFilePaths(root)
	if err != nil {
		return nil, err
	}

	var entries []string
	for _, path := range paths {
		if filepath.Dir(filepath.Dir(path)) == filepath.Clean(root) && IsImage(filepath.Base(path)) {
			entries = append(entries, path)
		}
	}

	train, test, err := SplitDataset(entries, opts)
	if err != nil {
		return nil, err
	}

	result := &SplitResult{}
	report, err := p.MoveDataset(ctx, root, filepath.Join(root, "train"), train, MoveOptions{})
	if report != nil {
		result.Train = report.Placed
	}
	if err != nil {
		return result, fmt.Errorf("failed to move train split: %w", err)
	}

	report, err = p.MoveDataset(ctx, root, filepath.Join(root, "test"), test, MoveOptions{})
	if report != nil {
		result.Test = report.Placed
	}
	if err != nil {
		return result, fmt.Errorf("failed to move test split: %w", err)
	}

	p.Logger.Info().
		Str("dataset", root).
		Int("train", len(result.Train)).
		Int("test", len(result.Test)).
		Msg("dataset split")

	return result, nil
}
