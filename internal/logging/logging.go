package logging

import (
	"sync"
	"time"
)

// Level is the severity of a log entry.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the level as its string name.
func (l Level) MarshalJSON() ([]byte, error) {
	return []byte(`"` + l.String() + `"`), nil
}

// Category groups log entries by subsystem.
type Category string

const (
	CatSystem    Category = "system"
	CatDevice    Category = "device"
	CatSession   Category = "session"
	CatHTTP      Category = "http"
	CatWebSocket Category = "websocket"
)

// Entry is one log record held in the in-memory ring buffer.
type Entry struct {
	Time     time.Time      `json:"time"`
	Level    Level          `json:"level"`
	Category Category       `json:"category"`
	Message  string         `json:"message"`
	Fields   map[string]any `json:"fields,omitempty"`
}

// Stats summarizes the buffer contents.
type Stats struct {
	Total    int            `json:"total"`
	Dropped  uint64         `json:"dropped"`
	ByLevel  map[string]int `json:"byLevel"`
	Capacity int            `json:"capacity"`
}

// Logger is a fixed-capacity in-memory ring buffer. The agent keeps recent
// entries queryable over the API instead of writing log files.
type Logger struct {
	mu       sync.Mutex
	entries  []Entry
	start    int
	count    int
	dropped  uint64
	minLevel Level
}

var (
	defaultLogger *Logger
	loggerOnce    sync.Once
)

// Init sets up the default logger. Safe to call once at startup; later
// callers get the already-initialized instance.
func Init(capacity int, minLevel Level) {
	loggerOnce.Do(func() {
		defaultLogger = NewLogger(capacity, minLevel)
	})
}

// Get returns the default logger, initializing it lazily with defaults.
func Get() *Logger {
	Init(1000, LevelDebug)
	return defaultLogger
}

// NewLogger creates a standalone ring-buffer logger.
func NewLogger(capacity int, minLevel Level) *Logger {
	if capacity < 1 {
		capacity = 1
	}
	return &Logger{
		entries:  make([]Entry, capacity),
		minLevel: minLevel,
	}
}

// Log appends an entry, evicting the oldest when the buffer is full.
func (l *Logger) Log(level Level, cat Category, msg string, fields map[string]any) {
	if level < l.minLevel {
		return
	}

	entry := Entry{
		Time:     time.Now(),
		Level:    level,
		Category: cat,
		Message:  msg,
		Fields:   fields,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count < len(l.entries) {
		l.entries[(l.start+l.count)%len(l.entries)] = entry
		l.count++
		return
	}
	l.entries[l.start] = entry
	l.start = (l.start + 1) % len(l.entries)
	l.dropped++
}

// GetEntries returns up to limit entries, newest first, optionally filtered
// by minimum level and category.
func (l *Logger) GetEntries(limit int, minLevel *Level, category *Category) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, 0, limit)
	for i := l.count - 1; i >= 0 && len(out) < limit; i-- {
		e := l.entries[(l.start+i)%len(l.entries)]
		if minLevel != nil && e.Level < *minLevel {
			continue
		}
		if category != nil && e.Category != *category {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Stats returns counts for the current buffer contents.
func (l *Logger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	byLevel := make(map[string]int)
	for i := 0; i < l.count; i++ {
		e := l.entries[(l.start+i)%len(l.entries)]
		byLevel[e.Level.String()]++
	}
	return Stats{
		Total:    l.count,
		Dropped:  l.dropped,
		ByLevel:  byLevel,
		Capacity: len(l.entries),
	}
}

// Clear discards all buffered entries.
func (l *Logger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.start = 0
	l.count = 0
	l.dropped = 0
}

// Debug logs at debug level to the default logger.
func Debug(cat Category, msg string, fields map[string]any) {
	Get().Log(LevelDebug, cat, msg, fields)
}

// Info logs at info level to the default logger.
func Info(cat Category, msg string, fields map[string]any) {
	Get().Log(LevelInfo, cat, msg, fields)
}

// Warn logs at warn level to the default logger.
func Warn(cat Category, msg string, fields map[string]any) {
	Get().Log(LevelWarn, cat, msg, fields)
}

// Error logs at error level to the default logger.
func Error(cat Category, msg string, fields map[string]any) {
	Get().Log(LevelError, cat, msg, fields)
}
