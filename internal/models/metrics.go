package models

import "time"

// SystemMetrics is a lightweight snapshot of in-process instrumentation.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	Submissions              uint64    `json:"submissions"`
	Decisions                uint64    `json:"decisions"`
	WindowExpiries           uint64    `json:"window_expiries"`
	CertificatesRendered     uint64    `json:"certificates_rendered"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
