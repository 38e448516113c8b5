package cache

// Stats is a point-in-time view of the manager's counters.
type Stats struct {
	Hits            int64   `json:"hits"`
	Misses          int64   `json:"misses"`
	HitRate         float64 `json:"hit_rate"`
	Tier1Size       int     `json:"tier1_size"`
	Tier1Limit      int     `json:"tier1_limit"`
	Tier2Hits       int64   `json:"tier2_hits"`
	Tier2Misses     int64   `json:"tier2_misses"`
	Tier2Errors     int64   `json:"tier2_errors"`
	Evictions       int64   `json:"evictions"`
	CompressedCount int64   `json:"compressed_count"`
}

type counters struct {
	hits        int64
	misses      int64
	tier2Hits   int64
	tier2Misses int64
	tier2Errors int64
	evictions   int64
	compressed  int64
}

func hitRate(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
