package ctl

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/offlinegate/internal/api"
	"github.com/dmitrijs2005/offlinegate/internal/queue"
	"golang.org/x/term"
)

// printer writes either human tables or JSON.
type printer struct {
	out  io.Writer
	json bool
}

func newPrinter(out io.Writer, forceJSON bool) *printer {
	return &printer{out: out, json: forceJSON || !isTerminal(out)}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (p *printer) printJSON(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *printer) status(s api.StatusResponse) error {
	if p.json {
		return p.printJSON(s)
	}
	tw := tabwriter.NewWriter(p.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Mode:\t%s\n", s.Mode)
	fmt.Fprintf(tw, "Worker:\t%s\n", s.Worker.State)
	fmt.Fprintf(tw, "Version:\t%s\n", s.Worker.Version)
	fmt.Fprintf(tw, "Bucket:\t%s\n", s.Worker.Bucket)
	fmt.Fprintf(tw, "Pending:\t%d\n", s.Pending)
	if s.StoreDegraded {
		fmt.Fprintf(tw, "Store:\tin-memory (degraded)\n")
	}
	return tw.Flush()
}

func (p *printer) actions(actions []queue.Action) error {
	if p.json {
		if actions == nil {
			actions = []queue.Action{}
		}
		return p.printJSON(actions)
	}
	if len(actions) == 0 {
		_, err := fmt.Fprintln(p.out, "No queued actions.")
		return err
	}
	tw := tabwriter.NewWriter(p.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tMETHOD\tURL\tQUEUED\tRETRIES")
	for _, a := range actions {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\n",
			a.ID, a.Type, a.Method, a.URL,
			time.UnixMilli(a.Timestamp).Format(time.DateTime), a.RetryCount)
	}
	return tw.Flush()
}

func (p *printer) drain(r queue.DrainResult) error {
	if p.json {
		return p.printJSON(r)
	}
	_, err := fmt.Fprintf(p.out, "attempted %d, succeeded %d, failed %d, dropped %d, remaining %d\n",
		r.Attempted, r.Succeeded, r.Failed, r.Dropped, r.Remaining)
	return err
}

// raw prints an arbitrary JSON document; tables make no sense for it.
func (p *printer) raw(b json.RawMessage) error {
	if len(b) == 0 {
		b = json.RawMessage("null")
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	return p.printJSON(v)
}

func (p *printer) records(rows []json.RawMessage) error {
	if p.json {
		if rows == nil {
			rows = []json.RawMessage{}
		}
		return p.printJSON(rows)
	}
	if len(rows) == 0 {
		_, err := fmt.Fprintln(p.out, "No records.")
		return err
	}
	for _, r := range rows {
		var m map[string]any
		if err := json.Unmarshal(r, &m); err != nil {
			fmt.Fprintln(p.out, string(r))
			continue
		}
		fmt.Fprintln(p.out, summarize(m))
	}
	return nil
}

// summarize renders a record as "id=... key=value ..." with the key field
// first and the remaining scalar fields sorted.
func summarize(m map[string]any) string {
	var parts []string
	for _, k := range []string{"id", "key"} {
		if v, ok := m[k]; ok {
			parts = append(parts, fmt.Sprintf("%s=%v", k, v))
			delete(m, k)
		}
	}
	keys := make([]string, 0, len(m))
	for k, v := range m {
		switch v.(type) {
		case map[string]any, []any:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, m[k]))
	}
	return strings.Join(parts, " ")
}
