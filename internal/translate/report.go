package translate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/danielpatrickdp/agent-governance/go-controller/internal/governance"
	"github.com/danielpatrickdp/agent-governance/go-controller/internal/protocol"
)

const (
	maxListed   = 10
	decodedNote = "Decoded using protocol lookup tables"
)

// ReportBuilder returns a governance.ReportBuilder that decodes every buffered
// message with codec. Coverage is the fraction of messages that decoded.
func ReportBuilder(codec Codec) governance.ReportBuilder {
	return func(w governance.Window) (protocol.Report, error) {
		r := w.Report()

		lines := make([]string, 0, len(w.Messages))
		decoded := 0
		for i, m := range w.Messages {
			fields, err := codec.Decode(m.RawText)
			if err != nil {
				lines = append(lines, fmt.Sprintf("Message %d: undecodable", i+1))
				continue
			}
			decoded++
			lines = append(lines, describe(i, fields))
		}

		var b strings.Builder
		fmt.Fprintf(&b, "Coordination report for %s v%s (%d messages). ",
			w.Descriptor.Name, w.Descriptor.Version, len(w.Messages))
		listed := lines
		if len(listed) > maxListed {
			listed = listed[:maxListed]
		}
		b.WriteString(strings.Join(listed, "; "))
		if extra := len(lines) - maxListed; extra > 0 {
			fmt.Fprintf(&b, " ... and %d more.", extra)
		}

		r.EnglishSummary = b.String()
		r.Coverage = 1.0
		if n := len(w.Messages); n > 0 {
			r.Coverage = float64(decoded) / float64(n)
		}
		r.SelfConfidence = 0.9
		r.Notes = decodedNote
		return r, nil
	}
}

// describe renders one decoded message as an English phrase.
func describe(i int, f map[string]string) string {
	switch {
	case f["task"] != "":
		if p := f["pri"]; p != "" {
			return fmt.Sprintf("Task assignment: %s (priority %s)", f["task"], p)
		}
		return "Task assignment: " + f["task"]
	case f["cmd"] == "ack" || f["ack"] != "":
		ref := f["ref"]
		if ref == "" {
			ref = f["ack"]
		}
		return "Acknowledged message " + ref
	case f["state"] != "":
		return "State update: " + f["state"]
	}

	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, len(keys))
	for j, k := range keys {
		pairs[j] = k + "=" + f[k]
	}
	return fmt.Sprintf("Message %d: %s", i+1, strings.Join(pairs, ", "))
}
