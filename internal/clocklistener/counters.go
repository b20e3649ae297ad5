package clocklistener

import (
	"fmt"
	"slices"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// CounterLines renders the non-zero counters gathered from g, one
// `name{label="value"} count` line each, in Gather order. The machine_id
// label and the metrics named in skip are left out.
func CounterLines(g prometheus.Gatherer, skip ...string) ([]string, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, fmt.Errorf("gathering metrics: %w", err)
	}

	var lines []string
	for _, mf := range families {
		if slices.Contains(skip, mf.GetName()) {
			continue
		}
		for _, m := range mf.GetMetric() {
			v := m.GetCounter().GetValue()
			if v == 0 {
				continue
			}
			var labels []string
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "machine_id" {
					continue
				}
				labels = append(labels, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
			}
			name := mf.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}
			lines = append(lines, fmt.Sprintf("%s %g", name, v))
		}
	}
	return lines, nil
}
