package dataloader

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"

	"github.com/tsawler/go-emom/vision/preprocessing"
)

// Dataset is the indexed view a DataLoader batches over
type Dataset interface {
	Len() int
	GetItem(index int) (imagePath string, label int, err error)
	Get(index int) (*preprocessing.ProcessedImage, int, error)
}

// Preloader is implemented by datasets that can preprocess many items in one call
type Preloader interface {
	Preload(ctx context.Context, indices []int, workers int) ([]*preprocessing.ProcessedImage, error)
}

// Config holds configuration for DataLoader
type Config struct {
	BatchSize    int
	Shuffle      bool
	Seed         uint64
	MaxCacheSize int // maximum number of images to cache
	ImageSize    int
	Channels     int
	NumWorkers   int           // parallel image loads per batch
	CacheManager *CacheManager // optional cache shared with other loaders
	Logger       zerolog.Logger
}

// DataLoader yields fixed-size batches of preprocessed images and labels.
// Images in a batch are loaded concurrently on a worker pool and cached by path.
type DataLoader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	indices   []int
	position  int
	itemLen   int
	mu        sync.Mutex

	imageDataBuffer []float32
	labelDataBuffer []int32

	cacheManager *CacheManager
	ownedCache   bool

	pool       *ants.Pool
	numWorkers int
	logger     zerolog.Logger
}

// NewDataLoader creates a data loader over dataset. Close releases its worker pool.
func NewDataLoader(dataset Dataset, config Config) (*DataLoader, error) {
	if config.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", config.BatchSize)
	}
	if config.NumWorkers <= 0 {
		config.NumWorkers = 1
	}

	pool, err := ants.NewPool(config.NumWorkers)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	cacheManager := config.CacheManager
	ownedCache := false
	if cacheManager == nil {
		cacheManager = NewCacheManager(config.MaxCacheSize)
		ownedCache = true
	}

	indices := make([]int, dataset.Len())
	for i := range indices {
		indices[i] = i
	}

	dl := &DataLoader{
		dataset:      dataset,
		batchSize:    config.BatchSize,
		shuffle:      config.Shuffle,
		rng:          rand.New(rand.NewPCG(config.Seed, config.Seed^0x5851f42d4c957f2d)),
		indices:      indices,
		itemLen:      preprocessing.NewImageProcessor(config.ImageSize, config.Channels).Len(),
		cacheManager: cacheManager,
		ownedCache:   ownedCache,
		pool:         pool,
		numWorkers:   config.NumWorkers,
		logger:       config.Logger,
	}
	if dl.shuffle {
		dl.shuffleIndices()
	}
	return dl, nil
}

func (dl *DataLoader) shuffleIndices() {
	dl.rng.Shuffle(len(dl.indices), func(i, j int) {
		dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
	})
}

// Reset rewinds the loader to the beginning of the dataset, reshuffling if enabled
func (dl *DataLoader) Reset() {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	dl.position = 0
	if dl.shuffle {
		dl.shuffleIndices()
	}
}

// ItemLen returns the number of float32 values per image in a batch
func (dl *DataLoader) ItemLen() int {
	return dl.itemLen
}

type loaded struct {
	path  string
	data  []float32
	label int
	err   error
}

// NextBatch loads the next batch. Items that fail to load are logged and
// skipped, so actualBatchSize may be smaller than the configured batch size;
// when a whole batch fails the loader moves on to the next one. A zero
// actualBatchSize with a nil error means the epoch is exhausted. An item whose
// length does not match the loader geometry is an error.
//
// The returned slices are reused by the next call.
func (dl *DataLoader) NextBatch() (imageData []float32, labelData []int32, actualBatchSize int, err error) {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	for {
		remaining := len(dl.indices) - dl.position
		if remaining <= 0 {
			return nil, nil, 0, nil
		}
		batchSize := min(dl.batchSize, remaining)
		batch := dl.indices[dl.position : dl.position+batchSize]
		dl.position += batchSize

		results, err := dl.loadBatch(batch)
		if err != nil {
			return nil, nil, 0, err
		}

		requiredImageSize := batchSize * dl.itemLen
		if len(dl.imageDataBuffer) < requiredImageSize {
			dl.imageDataBuffer = make([]float32, requiredImageSize)
		}
		if len(dl.labelDataBuffer) < batchSize {
			dl.labelDataBuffer = make([]int32, batchSize)
		}
		imageData = dl.imageDataBuffer[:requiredImageSize]
		labelData = dl.labelDataBuffer[:batchSize]

		actualBatchSize = 0
		for _, r := range results {
			if r.err != nil {
				dl.logger.Warn().Err(r.err).Str("path", r.path).Msg("skipping image that failed to load")
				continue
			}
			if len(r.data) != dl.itemLen {
				return nil, nil, 0, fmt.Errorf("image %s has %d values, loader expects %d: dataset and loader geometry differ",
					r.path, len(r.data), dl.itemLen)
			}
			copy(imageData[actualBatchSize*dl.itemLen:(actualBatchSize+1)*dl.itemLen], r.data)
			labelData[actualBatchSize] = int32(r.label)
			actualBatchSize++
		}

		if actualBatchSize > 0 {
			return imageData[:actualBatchSize*dl.itemLen], labelData[:actualBatchSize], actualBatchSize, nil
		}
	}
}

// loadBatch loads the items at batch concurrently on the worker pool
func (dl *DataLoader) loadBatch(batch []int) ([]loaded, error) {
	results := make([]loaded, len(batch))
	var wg sync.WaitGroup
	for i, idx := range batch {
		wg.Add(1)
		submitErr := dl.pool.Submit(func() {
			defer wg.Done()
			results[i] = dl.load(idx)
		})
		if submitErr != nil {
			wg.Done()
			wg.Wait()
			return nil, fmt.Errorf("failed to schedule image load: %w", submitErr)
		}
	}
	wg.Wait()
	return results, nil
}

func (dl *DataLoader) load(idx int) loaded {
	path, label, err := dl.dataset.GetItem(idx)
	if err != nil {
		return loaded{err: err}
	}
	if data, ok := dl.cacheManager.Get(path); ok {
		return loaded{path: path, data: data, label: label}
	}

	img, label, err := dl.dataset.Get(idx)
	if err != nil {
		return loaded{path: path, err: err}
	}
	dl.cacheManager.Put(path, img.Data)
	return loaded{path: path, data: img.Data, label: label}
}

// WarmCache preprocesses the first items of the dataset into the cache ahead
// of the first epoch, stopping at the cache capacity. Datasets that do not
// implement Preloader are left to load lazily. It returns the number of
// images added.
func (dl *DataLoader) WarmCache(ctx context.Context) (int, error) {
	pre, ok := dl.dataset.(Preloader)
	if !ok {
		return 0, nil
	}

	capacity := dl.cacheManager.Stats().MaxSize - dl.cacheManager.Len()
	var indices []int
	var paths []string
	for idx := 0; idx < dl.dataset.Len() && len(indices) < capacity; idx++ {
		path, _, err := dl.dataset.GetItem(idx)
		if err != nil {
			return 0, err
		}
		if dl.cacheManager.Contains(path) {
			continue
		}
		indices = append(indices, idx)
		paths = append(paths, path)
	}
	if len(indices) == 0 {
		return 0, nil
	}

	images, err := pre.Preload(ctx, indices, dl.numWorkers)
	if err != nil {
		return 0, fmt.Errorf("failed to warm cache: %w", err)
	}
	for i, img := range images {
		if len(img.Data) != dl.itemLen {
			return i, fmt.Errorf("image %s has %d values, loader expects %d: dataset and loader geometry differ",
				paths[i], len(img.Data), dl.itemLen)
		}
		dl.cacheManager.Put(paths[i], img.Data)
	}

	dl.logger.Debug().Int("images", len(images)).Msg("cache warmed")
	return len(images), nil
}

// Stats returns cache statistics
func (dl *DataLoader) Stats() string {
	return dl.cacheManager.Stats().String()
}

// Progress returns the current position and total number of items
func (dl *DataLoader) Progress() (current, total int) {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	return dl.position, len(dl.indices)
}

// ClearCache clears the image cache if this loader owns it
func (dl *DataLoader) ClearCache() {
	if dl.ownedCache {
		dl.cacheManager.Clear()
	}
}

// GetCacheManager returns the cache manager for sharing between DataLoaders
func (dl *DataLoader) GetCacheManager() *CacheManager {
	return dl.cacheManager
}

// Close releases the worker pool
func (dl *DataLoader) Close() {
	dl.pool.Release()
}

// CreateSharedDataLoaders creates train and test loaders sharing one image cache.
// The test loader never shuffles.
func CreateSharedDataLoaders(trainSet, testSet Dataset, config Config) (train, test *DataLoader, err error) {
	if config.CacheManager == nil {
		config.CacheManager = NewCacheManager(config.MaxCacheSize)
	}

	train, err = NewDataLoader(trainSet, config)
	if err != nil {
		return nil, nil, err
	}

	testConfig := config
	testConfig.Shuffle = false
	test, err = NewDataLoader(testSet, testConfig)
	if err != nil {
		train.Close()
		return nil, nil, err
	}
	return train, test, nil
}
