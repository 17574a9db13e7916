package models

import "time"

const (
	DefaultDocumentType = "_doc"
	DateLayout          = "2006-01-02"
)

// Reader defaults.
const (
	DefaultPageSize        = 5000
	DefaultChannelCapacity = 5000
	DefaultIdleSleep       = 2 * time.Second
	DefaultErrorBackoff    = 5 * time.Second
	DefaultRewindInterval  = 60 * time.Second
	DefaultRewindWindow    = 10000
)

// Writer defaults.
const (
	DefaultBatchSize      = 1000
	DefaultFlushInterval  = time.Second
	DefaultReceiveTimeout = 100 * time.Millisecond
	DefaultMaxAttempts    = 3
	DefaultRetryDelay     = time.Second
	DefaultIndexTimeout   = 30 * time.Second
)

// Failure reason prefixes used to label dead-lettered batches.
const (
	ReasonLogicPrefix     = "Logic_"
	ReasonHTTPPrefix      = "HTTP_"
	ReasonExceptionPrefix = "Exception_"
)
