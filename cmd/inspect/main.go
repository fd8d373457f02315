package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/danielpatrickdp/agent-governance/go-controller/internal/ledger"
)

// #region main

func main() {
	dbPath := pflag.String("db", "", "path to the gateway ledger")
	table := pflag.StringP("table", "t", "reports", "what to list: reports, messages, decisions or counts")
	agent := pflag.StringP("agent", "a", "", "only rows for this agent")
	last := pflag.IntP("last", "n", 20, "show N most recent rows")
	jsonOut := pflag.Bool("json", false, "output as JSON instead of table")
	pflag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/ledger.db [--table reports|messages|decisions|counts] [--agent id] [--last N] [--json]")
		os.Exit(2)
	}

	store, err := openExisting(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	switch *table {
	case "reports":
		err = runReports(ctx, store, *agent, *last, *jsonOut)
	case "messages":
		err = runMessages(ctx, store, *agent, *last, *jsonOut)
	case "decisions":
		err = runDecisions(ctx, store, *agent, *last, *jsonOut)
	case "counts":
		err = runCounts(ctx, store, *jsonOut)
	default:
		err = fmt.Errorf("unknown table %q", *table)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// openExisting opens a ledger file without creating one.
func openExisting(path string) (*ledger.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("ledger %s: %w", path, err)
	}
	return ledger.Open(path)
}

// #endregion main

// #region reports

type reportRow struct {
	ID         string  `json:"id"`
	AgentID    string  `json:"agent_id"`
	Protocol   string  `json:"protocol"`
	Messages   int     `json:"messages"`
	Coverage   float64 `json:"coverage"`
	Confidence float64 `json:"self_confidence"`
	Summary    string  `json:"english_summary"`
	AcceptedAt string  `json:"accepted_at"`
}

func runReports(ctx context.Context, store *ledger.Store, agent string, last int, jsonOut bool) error {
	entries, err := store.ListReports(ctx, agent, last)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(os.Stderr, "no reports found")
		return nil
	}

	// Store returns newest first; reverse for chronological.
	rows := make([]reportRow, len(entries))
	for i, e := range entries {
		rows[len(entries)-1-i] = reportRow{
			ID:         e.ID,
			AgentID:    e.Report.AgentID,
			Protocol:   e.Report.Key().String(),
			Messages:   len(e.Report.MessageIDs),
			Coverage:   e.Report.Coverage,
			Confidence: e.Report.SelfConfidence,
			Summary:    e.Report.EnglishSummary,
			AcceptedAt: e.AcceptedAt.Format("2006-01-02T15:04:05Z"),
		}
	}
	if jsonOut {
		return printJSON(rows)
	}

	fmt.Printf("%-10s  %-14s  %-16s  %4s  %5s  %5s  %-20s  %s\n",
		"ID", "Agent", "Protocol", "Msgs", "Cov", "Conf", "Accepted", "Summary")
	for _, r := range rows {
		fmt.Printf("%-10s  %-14s  %-16s  %4d  %5.2f  %5.2f  %-20s  %s\n",
			shortID(r.ID), r.AgentID, r.Protocol, r.Messages, r.Coverage, r.Confidence, r.AcceptedAt, truncate(r.Summary, 60))
	}
	return nil
}

// #endregion reports

// #region messages

type messageRow struct {
	ID         string `json:"id"`
	From       string `json:"from"`
	To         string `json:"to"`
	Kind       string `json:"kind"`
	Protocol   string `json:"protocol,omitempty"`
	Content    string `json:"content"`
	AcceptedAt string `json:"accepted_at"`
}

func runMessages(ctx context.Context, store *ledger.Store, agent string, last int, jsonOut bool) error {
	entries, err := store.ListMessages(ctx, agent, last)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(os.Stderr, "no messages found")
		return nil
	}

	rows := make([]messageRow, len(entries))
	for i, e := range entries {
		rows[len(entries)-1-i] = messageRow{
			ID:         e.ID,
			From:       e.From,
			To:         e.To,
			Kind:       e.Kind,
			Protocol:   e.Protocol,
			Content:    e.Content,
			AcceptedAt: e.AcceptedAt.Format("2006-01-02T15:04:05Z"),
		}
	}
	if jsonOut {
		return printJSON(rows)
	}

	fmt.Printf("%-10s  %-14s  %-14s  %-8s  %-16s  %-20s  %s\n",
		"ID", "From", "To", "Kind", "Protocol", "Accepted", "Content")
	for _, r := range rows {
		proto := r.Protocol
		if proto == "" {
			proto = "-"
		}
		fmt.Printf("%-10s  %-14s  %-14s  %-8s  %-16s  %-20s  %s\n",
			shortID(r.ID), r.From, r.To, r.Kind, proto, r.AcceptedAt, truncate(r.Content, 50))
	}
	return nil
}

// #endregion messages

// #region decisions

type decisionRow struct {
	Op        string `json:"op"`
	AgentID   string `json:"agent_id"`
	Protocol  string `json:"protocol,omitempty"`
	OK        bool   `json:"ok"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"created_at"`
}

func runDecisions(ctx context.Context, store *ledger.Store, agent string, last int, jsonOut bool) error {
	entries, err := store.ListDecisions(ctx, agent, last)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(os.Stderr, "no decisions found")
		return nil
	}

	rows := make([]decisionRow, len(entries))
	for i, e := range entries {
		rows[len(entries)-1-i] = decisionRow{
			Op:        e.Op,
			AgentID:   e.AgentID,
			Protocol:  e.Protocol,
			OK:        e.OK,
			Reason:    e.Reason,
			Error:     e.Error,
			CreatedAt: e.CreatedAt.Format("2006-01-02T15:04:05Z"),
		}
	}
	if jsonOut {
		return printJSON(rows)
	}

	fmt.Printf("%-9s  %-14s  %-16s  %-8s  %-24s  %s\n", "Op", "Agent", "Protocol", "Verdict", "Reason", "Time")
	for _, r := range rows {
		verdict := "accept"
		if !r.OK {
			verdict = "reject"
		}
		reason := r.Reason
		if reason == "" {
			reason = "-"
		}
		fmt.Printf("%-9s  %-14s  %-16s  %-8s  %-24s  %s\n", r.Op, r.AgentID, r.Protocol, verdict, reason, r.CreatedAt)
	}
	return nil
}

// #endregion decisions

// #region counts

func runCounts(ctx context.Context, store *ledger.Store, jsonOut bool) error {
	c, err := store.Counts(ctx)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(map[string]int{
			"reports":            c.Reports,
			"messages":           c.Messages,
			"decisions":          c.Decisions,
			"rejected_decisions": c.Rejected,
		})
	}
	fmt.Printf("Reports:    %d\n", c.Reports)
	fmt.Printf("Messages:   %d\n", c.Messages)
	fmt.Printf("Decisions:  %d (%d rejected)\n", c.Decisions, c.Rejected)
	return nil
}

// #endregion counts

// #region output

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// #endregion output
