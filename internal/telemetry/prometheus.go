package telemetry

import (
	"fmt"
	"sort"
	"strings"
)

// PrometheusText renders a snapshot in the text exposition format. Keys
// ending in _total are counters; everything else is a gauge.
func PrometheusText(snapshot map[string]uint64) string {
	keys := make([]string, 0, len(snapshot))
	for key := range snapshot {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, key := range keys {
		metric := "backupcron_" + key
		kind := "gauge"
		if strings.HasSuffix(key, "_total") {
			kind = "counter"
		}
		b.WriteString(fmt.Sprintf("# TYPE %s %s\n", metric, kind))
		b.WriteString(fmt.Sprintf("%s %d\n", metric, snapshot[key]))
	}
	return b.String()
}
