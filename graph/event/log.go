package event

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// LogSink writes structured event output to a writer.
//
// Two output modes:
//   - Text mode (default): human-readable key=value lines
//   - JSON mode: one JSON object per line, machine-readable
//
// Example text output:
//
//	[node.started] run=run-001 node=extract
//	[node.completed] run=run-001 node=extract payload={"progress":1}
//
// Example JSON output:
//
//	{"run_id":"run-001","node_id":"extract","type":"node.started","timestamp":"..."}
//
// Writes are serialized internally, so a LogSink is safe to share across
// concurrent runs.
type LogSink struct {
	mu       sync.Mutex
	writer   io.Writer
	jsonMode bool
}

// NewLogSink creates a LogSink writing to the given writer (os.Stdout when
// nil). Set jsonMode for line-delimited JSON output.
func NewLogSink(writer io.Writer, jsonMode bool) *LogSink {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogSink{writer: writer, jsonMode: jsonMode}
}

// Write implements Sink.
func (l *LogSink) Write(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.jsonMode {
		l.writeJSON(ev)
		return
	}
	l.writeText(ev)
}

func (l *LogSink) writeJSON(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		fmt.Fprintf(l.writer, `{"type":"sink.error","error":%q}`+"\n", err.Error())
		return
	}
	fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogSink) writeText(ev Event) {
	fmt.Fprintf(l.writer, "[%s] run=%s", ev.Type, ev.RunID)
	if ev.NodeID != "" {
		fmt.Fprintf(l.writer, " node=%s", ev.NodeID)
	}
	if len(ev.Payload) > 0 {
		if data, err := json.Marshal(ev.Payload); err == nil {
			fmt.Fprintf(l.writer, " payload=%s", data)
		}
	}
	fmt.Fprintln(l.writer)
}
