package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/chzyer/readline"

	"github.com/ryansname/chargectl/src/controller"
)

// ANSI color codes for highlighting changes
const (
	ansiReset  = "\033[0m"
	ansiYellow = "\033[33m" // Yellow for changed values
)

// readlineWriter wraps log output to work with readline
type readlineWriter struct {
	rl *readline.Instance
}

func (w *readlineWriter) Write(p []byte) (n int, err error) {
	if w.rl != nil {
		w.rl.Clean()
	}
	n, err = os.Stderr.Write(p)
	if w.rl != nil {
		w.rl.Refresh()
	}
	return n, err
}

// Global readline writer for log output
var rlWriter = &readlineWriter{}

// DebugState manages the watched keys. A key is either a controller sensor
// key (e.g. target_power_w) or a Home Assistant entity ID.
type DebugState struct {
	board         *SensorBoard
	states        *StateCache
	watches       []string
	headerPrinted bool
	columnWidths  []int
	prevValues    map[string]string
	out           func(format string, args ...any)
}

// NewDebugState creates a new debug state
func NewDebugState(board *SensorBoard, states *StateCache) *DebugState {
	s := &DebugState{
		board:      board,
		states:     states,
		prevValues: make(map[string]string),
	}
	s.out = func(format string, args ...any) { fmt.Printf(format+"\n", args...) }
	return s
}

// Value returns the display value of a watched key
func (s *DebugState) Value(key string) string {
	if v, ok := s.board.Get(key); ok {
		if !v.Available {
			return "-"
		}
		if v.Unit != "" {
			return fmt.Sprintf("%v %s", v.Value, v.Unit)
		}
		return fmt.Sprint(v.Value)
	}
	if v, ok := s.states.Read(key); ok {
		return v
	}
	return "-"
}

// AddWatch adds a watch and re-sorts the list
func (s *DebugState) AddWatch(key string) {
	if slices.Contains(s.watches, key) {
		s.out("Already watching: %s", key)
		return
	}
	s.watches = append(s.watches, key)
	sort.Strings(s.watches)
	s.headerPrinted = false
	s.out("Watching: %s", key)
}

// RemoveWatch removes a watch by key
func (s *DebugState) RemoveWatch(key string) bool {
	i := slices.Index(s.watches, key)
	if i < 0 {
		s.out("No watch found for: %s", key)
		return false
	}
	s.watches = slices.Delete(s.watches, i, i+1)
	s.headerPrinted = false
	s.out("Unwatched: %s", key)
	return true
}

// RemoveAll removes all watches
func (s *DebugState) RemoveAll() {
	s.watches = s.watches[:0]
	s.headerPrinted = false
	s.out("All watches removed")
}

// ListKeys prints every watchable key with its current value
func (s *DebugState) ListKeys() {
	s.out("Controller sensors:")
	for _, v := range s.board.All() {
		s.out("  %-20s %s", v.Key, s.Value(v.Key))
	}
	entities := s.states.Entities()
	s.out("Entities (%d):", len(entities))
	for _, id := range entities {
		s.out("  %s = %s", id, s.Value(id))
	}
}

// PrintHeader prints the column headers
func (s *DebugState) PrintHeader() {
	if len(s.watches) == 0 {
		return
	}

	s.columnWidths = make([]int, len(s.watches))
	parts := make([]string, 0, len(s.watches))
	for i, w := range s.watches {
		s.columnWidths[i] = len(w)
		parts = append(parts, w)
	}
	s.out("%s", strings.Join(parts, " | "))
	s.headerPrinted = true
	s.prevValues = make(map[string]string)
}

// PrintRow prints the current values for all watches (only if changed)
func (s *DebugState) PrintRow() {
	if len(s.watches) == 0 {
		return
	}
	if !s.headerPrinted {
		s.PrintHeader()
	}

	parts := make([]string, 0, len(s.watches))
	anyChanged := false
	newValues := make(map[string]string, len(s.watches))

	for i, key := range s.watches {
		value := s.Value(key)
		newValues[key] = value

		width := max(s.columnWidths[i], len(value))
		s.columnWidths[i] = width

		if prev, ok := s.prevValues[key]; !ok || prev != value {
			anyChanged = true
			parts = append(parts, fmt.Sprintf("%s%*s%s", ansiYellow, width, value, ansiReset))
		} else {
			parts = append(parts, fmt.Sprintf("%*s", width, value))
		}
	}

	if anyChanged {
		s.out("%s", strings.Join(parts, " | "))
		s.prevValues = newValues
	}
}

// handleDebugCommand processes a debug command
func handleDebugCommand(cmd string, state *DebugState) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return
	}

	switch parts[0] {
	case "watch":
		if len(parts) < 2 {
			state.out("Usage: watch <key|entity_id>...")
			return
		}
		for _, key := range parts[1:] {
			state.AddWatch(key)
		}
		state.PrintRow()

	case "unwatch":
		if len(parts) < 2 {
			state.out("Usage: unwatch <key|entity_id> | unwatch --all")
			return
		}
		if parts[1] == "--all" {
			state.RemoveAll()
			return
		}
		for _, key := range parts[1:] {
			state.RemoveWatch(key)
		}

	case "list":
		state.ListKeys()

	case "help":
		state.out("Commands:")
		state.out("  list                     - List controller sensors and known entities")
		state.out("  watch <key|entity_id>    - Print the value whenever it changes")
		state.out("  unwatch <key|entity_id>  - Remove watch")
		state.out("  unwatch --all            - Remove all watches")
		state.out("  help                     - Show this help")

	default:
		state.out("Unknown command: %s (try 'help')", parts[0])
	}
}

// readlineLoop runs the readline loop, sending commands to the channel
func readlineLoop(
	ctx context.Context,
	cancel context.CancelFunc,
	rl *readline.Instance,
	commandChan chan<- string,
) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			cancel() // Ctrl+C pressed, shutdown the app
			return
		}
		if err != nil {
			return // EOF or other error
		}
		line = strings.TrimSpace(line)
		if line != "" {
			commandChan <- line
		}
	}
}

// getHistoryFilePath returns the path for debug history file
func getHistoryFilePath() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		cacheDir = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(cacheDir, "chargectl")
	_ = os.MkdirAll(dir, 0750)
	return filepath.Join(dir, "debug_history")
}

// debugWorker provides interactive introspection of controller outputs and entity states.
// Watched values are reprinted after every controller snapshot.
func debugWorker(
	ctx context.Context,
	cancel context.CancelFunc,
	snapshotChan <-chan controller.Snapshot,
	board *SensorBoard,
	states *StateCache,
) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "> ",
		HistoryFile: getHistoryFilePath(),
	})
	if err != nil {
		logger.Errorf("Debug worker: readline init failed: %v", err)
		return
	}
	defer func() {
		_ = rl.Close()
		rlWriter.rl = nil
		logger.SetOutput(os.Stderr)
	}()

	// Redirect log output through readline-aware writer
	rlWriter.rl = rl
	logger.SetOutput(rlWriter)

	logger.Info("Debug worker started (type 'help' for commands)")

	commandChan := make(chan string, 10)
	state := NewDebugState(board, states)
	state.out = func(format string, args ...any) {
		rl.Clean()
		fmt.Printf(format+"\n", args...)
		rl.Refresh()
	}

	go readlineLoop(ctx, cancel, rl, commandChan)

	for {
		select {
		case cmd := <-commandChan:
			handleDebugCommand(cmd, state)
		case <-snapshotChan:
			state.PrintRow()
		case <-ctx.Done():
			logger.Info("Debug worker stopped")
			return
		}
	}
}
