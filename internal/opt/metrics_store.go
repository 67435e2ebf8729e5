package opt

import "sync"

// metricsRetention bounds how many runs RecordMetrics keeps.
const metricsRetention = 64

var (
	mu      sync.Mutex
	order   []string
	metrics = map[string][]Metrics{}
)

// RecordMetrics keeps the trial metrics of a run in process memory; the oldest run is
// evicted once metricsRetention runs are held.
func RecordMetrics(runID string, trials []Metrics) {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := metrics[runID]; !ok {
		order = append(order, runID)
	}
	metrics[runID] = trials
	for len(order) > metricsRetention {
		delete(metrics, order[0])
		order = order[1:]
	}
}

func GetMetrics(runID string) ([]Metrics, bool) {
	mu.Lock()
	defer mu.Unlock()
	m, ok := metrics[runID]
	return m, ok
}
