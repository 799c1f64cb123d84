package ingest

import "runtime"

// Strategy defines how a run writes chunks into the index.
type Strategy string

const (
	// StrategyUpsert replaces the chunks of each ingested document and leaves others alone.
	StrategyUpsert Strategy = "upsert"
	// StrategyReplace empties the index before inserting.
	StrategyReplace Strategy = "replace"
)

const (
	defaultBatchSize = 32
	maxWorkers       = 64
)

// Options controls ingestion execution details provided by callers.
type Options struct {
	Name      string
	Strategy  Strategy
	BatchSize int
	Workers   int
}

func (o *Options) normalizedStrategy() Strategy {
	if o == nil || o.Strategy == "" {
		return StrategyUpsert
	}
	return o.Strategy
}

func (o *Options) batchSize() int {
	if o == nil || o.BatchSize <= 0 {
		return defaultBatchSize
	}
	return o.BatchSize
}

func (o *Options) workers() int {
	if o == nil || o.Workers <= 0 {
		return min(runtime.GOMAXPROCS(0), 4)
	}
	return min(o.Workers, maxWorkers)
}

func (o *Options) name() string {
	if o == nil || o.Name == "" {
		return "default"
	}
	return o.Name
}
