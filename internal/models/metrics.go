package models

import "time"

// SystemMetrics is a lightweight in-process summary exposed next to the Prometheus endpoint.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cacheHitRatio"`
	CacheHits                uint64    `json:"cacheHits"`
	CacheMisses              uint64    `json:"cacheMisses"`
	RequestsTotal            uint64    `json:"requestsTotal"`
	AverageRequestDurationMs float64   `json:"averageRequestDurationMs"`
	FileOperations           uint64    `json:"fileOperations"`
	AssembliesTotal          uint64    `json:"assembliesTotal"`
	ConversionFailures       uint64    `json:"conversionFailures"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generatedAt"`
}
