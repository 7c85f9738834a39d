package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/netice/goice/internal/ice"
	"github.com/netice/goice/internal/transport"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// candidateRow is the flattened, JSON/table-friendly view of one
// *ice.HostCandidate.
type candidateRow struct {
	Local     string `json:"local"`
	Transport string `json:"transport"`
	Component uint16 `json:"component"`
	Virtual   bool   `json:"virtual"`
}

func candidateRows(candidates []*ice.HostCandidate) []candidateRow {
	rows := make([]candidateRow, 0, len(candidates))
	for _, c := range candidates {
		rows = append(rows, candidateRow{
			Local:     c.LocalAddr().String(),
			Transport: c.Transport.String(),
			Component: uint16(c.Component),
			Virtual:   c.Virtual,
		})
	}
	return rows
}

func formatCandidates(candidates []*ice.HostCandidate, format string) (string, error) {
	rows := candidateRows(candidates)
	switch format {
	case formatJSON:
		b, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal candidates: %w", err)
		}
		return string(b), nil
	case formatTable:
		var buf strings.Builder
		w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "LOCAL\tTRANSPORT\tCOMPONENT\tVIRTUAL")
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%s\t%d\t%t\n", r.Local, r.Transport, r.Component, r.Virtual)
		}
		if err := w.Flush(); err != nil {
			return "", fmt.Errorf("flush tabwriter: %w", err)
		}
		return buf.String(), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// harvestStatRow is the flattened view of one ice.HarvestStatistics,
// keyed by the transport it describes.
type harvestStatRow struct {
	Transport      string  `json:"transport"`
	CandidateCount int     `json:"candidate_count"`
	BindAttempts   int     `json:"bind_attempts"`
	BindFailures   int     `json:"bind_failures"`
	DurationMS     float64 `json:"duration_ms"`
	Error          string  `json:"error,omitempty"`
}

func formatHarvestStats(stats map[transport.Transport]*ice.HarvestStatistics, format string) (string, error) {
	rows := make([]harvestStatRow, 0, len(stats))
	for tr, st := range stats {
		snap := st.Snapshot()
		row := harvestStatRow{
			Transport:      tr.String(),
			CandidateCount: snap.CandidateCount,
			BindAttempts:   snap.BindAttempts,
			BindFailures:   snap.BindFailures,
			DurationMS:     float64(st.Duration().Microseconds()) / 1000,
		}
		if snap.Err != nil {
			row.Error = snap.Err.Error()
		}
		rows = append(rows, row)
	}

	switch format {
	case formatJSON:
		b, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal harvest stats: %w", err)
		}
		return string(b), nil
	case formatTable:
		var buf strings.Builder
		w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TRANSPORT\tCANDIDATES\tBIND-ATTEMPTS\tBIND-FAILURES\tDURATION-MS\tERROR")
		for _, r := range rows {
			errStr := r.Error
			if errStr == "" {
				errStr = "-"
			}
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.2f\t%s\n",
				r.Transport, r.CandidateCount, r.BindAttempts, r.BindFailures, r.DurationMS, errStr)
		}
		if err := w.Flush(); err != nil {
			return "", fmt.Errorf("flush tabwriter: %w", err)
		}
		return buf.String(), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// sessionRow is the flattened view of one active or stale *transport.Session.
type sessionRow struct {
	Socket     string `json:"socket"`
	Remote     string `json:"remote"`
	State      string `json:"state"`
	PacketsIn  uint64 `json:"packets_in"`
	PacketsOut uint64 `json:"packets_out"`
	BytesIn    uint64 `json:"bytes_in"`
	BytesOut   uint64 `json:"bytes_out"`
}

func sessionRows(sockets []*transport.SocketWrapper) []sessionRow {
	var rows []sessionRow
	for _, sock := range sockets {
		if sess := sock.ActiveSession(); sess != nil {
			rows = append(rows, sessionRowFor(sock, sess))
		}
		for _, sess := range sock.StaleSessions() {
			rows = append(rows, sessionRowFor(sock, sess))
		}
	}
	return rows
}

func sessionRowFor(sock *transport.SocketWrapper, sess *transport.Session) sessionRow {
	stats := sess.Stats()
	return sessionRow{
		Socket:     sock.LocalAddr().String(),
		Remote:     sess.Remote.String(),
		State:      sess.State().String(),
		PacketsIn:  stats.PacketsIn,
		PacketsOut: stats.PacketsOut,
		BytesIn:    stats.BytesIn,
		BytesOut:   stats.BytesOut,
	}
}

func formatSessions(sockets []*transport.SocketWrapper, format string) (string, error) {
	rows := sessionRows(sockets)
	switch format {
	case formatJSON:
		b, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal sessions: %w", err)
		}
		return string(b), nil
	case formatTable:
		var buf strings.Builder
		w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SOCKET\tREMOTE\tSTATE\tPKTS-IN\tPKTS-OUT\tBYTES-IN\tBYTES-OUT")
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
				r.Socket, r.Remote, r.State, r.PacketsIn, r.PacketsOut, r.BytesIn, r.BytesOut)
		}
		if err := w.Flush(); err != nil {
			return "", fmt.Errorf("flush tabwriter: %w", err)
		}
		return buf.String(), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// dispatcherNodeRow is the flattened view of one DispatcherSnapshot level.
type dispatcherNodeRow struct {
	Addr      string                 `json:"addr"`
	Listeners map[string]int         `json:"listeners"`
	Children  []dispatcherNodeRow    `json:"children,omitempty"`
}

func dispatcherRow(addr string, snap transport.DispatcherSnapshot) dispatcherNodeRow {
	row := dispatcherNodeRow{Addr: addr, Listeners: snap.ListenerCounts}
	for childAddr, child := range snap.Children {
		row.Children = append(row.Children, dispatcherRow(childAddr.String(), child))
	}
	return row
}

func formatDispatcherTree(snap transport.DispatcherSnapshot, format string) (string, error) {
	root := dispatcherRow("(generic)", snap)
	switch format {
	case formatJSON:
		b, err := json.MarshalIndent(root, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal dispatcher tree: %w", err)
		}
		return string(b), nil
	case formatTable:
		var buf strings.Builder
		writeDispatcherRow(&buf, root, 0)
		return buf.String(), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func writeDispatcherRow(buf *strings.Builder, row dispatcherNodeRow, depth int) {
	fmt.Fprintf(buf, "%s%s  request=%d indication=%d old_indication=%d\n",
		strings.Repeat("  ", depth), row.Addr,
		row.Listeners["request"], row.Listeners["indication"], row.Listeners["old_indication"])
	for _, child := range row.Children {
		writeDispatcherRow(buf, child, depth+1)
	}
}
