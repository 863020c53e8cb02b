// Package exposition converts peer-connection stats samples into the
// Prometheus text exposition format accepted by a Pushgateway.
package exposition

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/peerwatch/peerwatch/internal/model"
)

const (
	peerConnectionType = "peer-connection"

	// googTimingFrameInfo is vendor-specific verbose timing detail with
	// unbounded structure; emitting it would explode series cardinality.
	droppedField = "googTimingFrameInfo"

	qualityLimitationField = "qualityLimitationReason"
)

// DefaultQualityLimitationReasons maps the standard qualityLimitationReason
// values to numeric gauge values.
var DefaultQualityLimitationReasons = map[string]float64{
	"none":      0,
	"bandwidth": 1,
	"cpu":       2,
	"other":     3,
}

// Options control label injection and value mapping. The zero value is usable.
type Options struct {
	// AgentID, when non-empty, is added as an agent_id label on every line.
	AgentID string

	// QualityLimitationReasons overrides the reason-to-value mapping.
	// Nil means DefaultQualityLimitationReasons.
	QualityLimitationReasons map[string]float64
}

// Format renders one sample as a text exposition block. Output is
// deterministic: the same sample always yields byte-identical text. Malformed
// or empty input yields an empty string, never an error; this sits on the
// per-tick hot path.
func Format(s model.Sample, opts Options) string {
	if len(s.Values) == 0 {
		return ""
	}

	reasons := opts.QualityLimitationReasons
	if reasons == nil {
		reasons = DefaultQualityLimitationReasons
	}

	var b strings.Builder
	declared := map[string]bool{}

	for _, entry := range s.Values {
		if entry.Type == "" {
			continue
		}
		family := sanitizeName(entry.Type)

		labels := []string{`pageUrl="` + escapeLabel(s.PageURL) + `"`}
		if opts.AgentID != "" {
			labels = append(labels, `agent_id="`+escapeLabel(opts.AgentID)+`"`)
		}
		if entry.Type == peerConnectionType {
			labels = append(labels, `state="`+escapeLabel(string(s.State))+`"`)
		}

		type metric struct {
			name  string
			value float64
		}
		var metrics []metric

		for _, key := range sortedKeys(entry.Fields) {
			if key == droppedField {
				continue
			}
			value := entry.Fields[key]

			if key == qualityLimitationField {
				reason, ok := value.(string)
				if !ok {
					continue
				}
				if mapped, ok := reasons[reason]; ok {
					metrics = append(metrics, metric{family + "_" + sanitizeName(key), mapped})
				}
				continue
			}

			switch v := value.(type) {
			case string:
				labels = append(labels, sanitizeName(key)+`="`+escapeLabel(v)+`"`)
			case bool:
				labels = append(labels, sanitizeName(key)+`="`+strconv.FormatBool(v)+`"`)
			case map[string]any:
				prefix := family + "_" + sanitizeName(key)
				for _, sub := range sortedKeys(v) {
					if num, ok := toFloat(v[sub]); ok {
						metrics = append(metrics, metric{prefix + "_" + sanitizeName(sub), num})
					}
				}
			default:
				if num, ok := toFloat(value); ok {
					metrics = append(metrics, metric{family + "_" + sanitizeName(key), num})
				}
			}
		}

		labelStr := strings.Join(labels, ",")
		for _, m := range metrics {
			if !declared[family] {
				declared[family] = true
				b.WriteString("# TYPE " + family + " gauge\n")
			}
			b.WriteString(m.name + "{" + labelStr + "} " + formatValue(m.value) + "\n")
		}
	}

	return b.String()
}

func sanitizeName(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}

func escapeLabel(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return strings.ReplaceAll(v, "\n", `\n`)
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
