package metrics

// QueryLatencyBuckets covers a single retrieval or end-to-end query, which is dominated by provider round trips.
var QueryLatencyBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

// BuildDurationBuckets covers a full index build over a local corpus.
var BuildDurationBuckets = []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120}

// SearchLatencyBuckets covers an in-memory linear scan.
var SearchLatencyBuckets = []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25}
