package logger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Category represents a log category
type Category string

const (
	CategoryIntake      Category = "intake"
	CategoryWorker      Category = "worker"
	CategoryFace        Category = "face"
	CategoryRouter      Category = "router"
	CategoryCloud       Category = "cloud"
	CategoryAPI         Category = "api"
	CategoryDB          Category = "db"
	CategoryMaintenance Category = "maintenance"
	CategoryScheduler   Category = "scheduler"
	CategoryStartup     Category = "startup"
)

// AllCategories is the read order used by ReadLogs.
var AllCategories = []Category{
	CategoryIntake, CategoryWorker, CategoryFace, CategoryRouter, CategoryCloud,
	CategoryAPI, CategoryDB, CategoryMaintenance, CategoryScheduler, CategoryStartup,
}

// Level represents log level
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var levelRank = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// SetLevel drops entries below level.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := levelRank[level]; ok {
		l.minLevel = level
	}
}

// LogEntry represents a structured log entry
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     Level                  `json:"level"`
	Category  Category               `json:"category"`
	Action    string                 `json:"action"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	PhotoID   uint                   `json:"photo_id,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	Duration  string                 `json:"duration,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// Logger writes one JSON file per category and day, and optionally mirrors
// entries to a console writer.
type Logger struct {
	mu       sync.Mutex
	logDir   string
	files    map[Category]*dayFile
	console  io.Writer // nil disables the mirror
	minLevel Level
}

type dayFile struct {
	day  string
	file *os.File
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Init initializes the default logger. Only the first call has an effect.
// The console mirror goes to stderr so command output on stdout stays clean.
func Init(logDir string, console bool) error {
	var err error
	once.Do(func() {
		defaultLogger, err = NewLogger(logDir, console)
	})
	return err
}

func NewLogger(logDir string, console bool) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	l := &Logger{
		logDir:   logDir,
		files:    make(map[Category]*dayFile),
		minLevel: LevelDebug,
	}
	if console {
		l.console = os.Stderr
	}
	return l, nil
}

// fileFor returns the category's file for day, rotating when the day changed.
// Must be called with mu held.
func (l *Logger) fileFor(category Category, day string) (*os.File, error) {
	if df, ok := l.files[category]; ok {
		if df.day == day {
			return df.file, nil
		}
		df.file.Close()
		delete(l.files, category)
	}

	path := filepath.Join(l.logDir, fmt.Sprintf("%s_%s.log", category, day))
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	l.files[category] = &dayFile{day: day, file: file}
	return file, nil
}

func (l *Logger) Log(entry LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if levelRank[entry.Level] < levelRank[l.minLevel] {
		return
	}
	entry.Timestamp = time.Now()

	line, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: marshal entry: %v\n", err)
		return
	}

	file, err := l.fileFor(entry.Category, entry.Timestamp.Format("2006-01-02"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: open %s log: %v\n", entry.Category, err)
	} else {
		file.Write(append(line, '\n'))
	}

	if l.console != nil {
		io.WriteString(l.console, formatConsole(entry))
	}
}

var levelColors = map[Level]string{
	LevelDebug: "\033[36m",
	LevelInfo:  "\033[32m",
	LevelWarn:  "\033[33m",
	LevelError: "\033[31m",
}

const colorReset = "\033[0m"

// formatConsole renders one colored line, plus an indented data block.
func formatConsole(entry LogEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%s]%s [%s] [%s] %s: %s",
		levelColors[entry.Level], entry.Level, colorReset,
		entry.Timestamp.Format("15:04:05.000"),
		entry.Category, entry.Action, entry.Message)

	if entry.PhotoID != 0 {
		fmt.Fprintf(&b, " (photo: %d)", entry.PhotoID)
	}
	if entry.Duration != "" {
		fmt.Fprintf(&b, " (duration: %s)", entry.Duration)
	}
	if entry.Error != "" {
		fmt.Fprintf(&b, " ERROR: %s", entry.Error)
	}
	b.WriteByte('\n')

	if len(entry.Data) > 0 {
		data, _ := json.MarshalIndent(entry.Data, "    ", "  ")
		fmt.Fprintf(&b, "    Data: %s\n", data)
	}
	return b.String()
}

func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, df := range l.files {
		df.file.Close()
	}
	l.files = make(map[Category]*dayFile)
}

// Default returns the default logger. Without Init it writes quietly under the temp dir.
func Default() *Logger {
	once.Do(func() {
		defaultLogger, _ = NewLogger(filepath.Join(os.TempDir(), "faceforward-logs"), false)
	})
	return defaultLogger
}

// Helper functions for common log operations

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Intake logs watcher events
func Intake(action, message string, data map[string]interface{}) {
	Default().Log(LogEntry{Level: LevelInfo, Category: CategoryIntake, Action: action, Message: message, Data: data})
}

// IntakeError logs watcher errors
func IntakeError(action, message string, err error, data map[string]interface{}) {
	Default().Log(LogEntry{Level: LevelError, Category: CategoryIntake, Action: action, Message: message, Error: errString(err), Data: data})
}

// Worker logs worker pool events
func Worker(action, message string, data map[string]interface{}) {
	Default().Log(LogEntry{Level: LevelInfo, Category: CategoryWorker, Action: action, Message: message, Data: data})
}

// WorkerWarn logs recoverable worker problems
func WorkerWarn(action, message string, data map[string]interface{}) {
	Default().Log(LogEntry{Level: LevelWarn, Category: CategoryWorker, Action: action, Message: message, Data: data})
}

// WorkerError logs worker errors
func WorkerError(action, message string, err error, data map[string]interface{}) {
	Default().Log(LogEntry{Level: LevelError, Category: CategoryWorker, Action: action, Message: message, Error: errString(err), Data: data})
}

// Face logs face recognition operations
func Face(action, message string, data map[string]interface{}) {
	Default().Log(LogEntry{Level: LevelInfo, Category: CategoryFace, Action: action, Message: message, Data: data})
}

// FaceError logs face recognition errors
func FaceError(action, message string, err error, data map[string]interface{}) {
	Default().Log(LogEntry{Level: LevelError, Category: CategoryFace, Action: action, Message: message, Error: errString(err), Data: data})
}

// Router logs routing fan-out
func Router(action, message string, data map[string]interface{}) {
	Default().Log(LogEntry{Level: LevelInfo, Category: CategoryRouter, Action: action, Message: message, Data: data})
}

// Cloud logs remote mirror operations
func Cloud(action, message string, data map[string]interface{}) {
	Default().Log(LogEntry{Level: LevelInfo, Category: CategoryCloud, Action: action, Message: message, Data: data})
}

// CloudWarn logs degraded remote operations
func CloudWarn(action, message string, data map[string]interface{}) {
	Default().Log(LogEntry{Level: LevelWarn, Category: CategoryCloud, Action: action, Message: message, Data: data})
}

// CloudError logs remote mirror errors
func CloudError(action, message string, err error, data map[string]interface{}) {
	Default().Log(LogEntry{Level: LevelError, Category: CategoryCloud, Action: action, Message: message, Error: errString(err), Data: data})
}

// API logs API request/response events
func API(action, message string, data map[string]interface{}) {
	Default().Log(LogEntry{Level: LevelInfo, Category: CategoryAPI, Action: action, Message: message, Data: data})
}

// DB logs database operations
func DB(action, message string, data map[string]interface{}) {
	Default().Log(LogEntry{Level: LevelDebug, Category: CategoryDB, Action: action, Message: message, Data: data})
}

// Maintenance logs operator actions
func Maintenance(action, message string, data map[string]interface{}) {
	Default().Log(LogEntry{Level: LevelInfo, Category: CategoryMaintenance, Action: action, Message: message, Data: data})
}

// Scheduler logs scheduled job events
func Scheduler(action, message string, data map[string]interface{}) {
	Default().Log(LogEntry{Level: LevelInfo, Category: CategoryScheduler, Action: action, Message: message, Data: data})
}

// SchedulerWarn logs scheduler warnings
func SchedulerWarn(action, message string, data map[string]interface{}) {
	Default().Log(LogEntry{Level: LevelWarn, Category: CategoryScheduler, Action: action, Message: message, Data: data})
}

// SchedulerError logs scheduler errors
func SchedulerError(action, message string, err error, data map[string]interface{}) {
	Default().Log(LogEntry{Level: LevelError, Category: CategoryScheduler, Action: action, Message: message, Error: errString(err), Data: data})
}

// Startup logs startup/initialization events
func Startup(action, message string, data map[string]interface{}) {
	Default().Log(LogEntry{Level: LevelInfo, Category: CategoryStartup, Action: action, Message: message, Data: data})
}

// StartupError logs startup errors
func StartupError(action, message string, err error, data map[string]interface{}) {
	Default().Log(LogEntry{Level: LevelError, Category: CategoryStartup, Action: action, Message: message, Error: errString(err), Data: data})
}

// StartupWarn logs startup warnings
func StartupWarn(action, message string, data map[string]interface{}) {
	Default().Log(LogEntry{Level: LevelWarn, Category: CategoryStartup, Action: action, Message: message, Data: data})
}

// Info logs info level message
func Info(category Category, action, message string, data map[string]interface{}) {
	Default().Log(LogEntry{
		Level:    LevelInfo,
		Category: category,
		Action:   action,
		Message:  message,
		Data:     data,
	})
}

// Error logs error level message
func Error(category Category, action, message string, err error, data map[string]interface{}) {
	Default().Log(LogEntry{
		Level:    LevelError,
		Category: category,
		Action:   action,
		Message:  message,
		Error:    errString(err),
		Data:     data,
	})
}

// Debug logs debug level message
func Debug(category Category, action, message string, data map[string]interface{}) {
	Default().Log(LogEntry{
		Level:    LevelDebug,
		Category: category,
		Action:   action,
		Message:  message,
		Data:     data,
	})
}

// Warn logs warning level message
func Warn(category Category, action, message string, data map[string]interface{}) {
	Default().Log(LogEntry{
		Level:    LevelWarn,
		Category: category,
		Action:   action,
		Message:  message,
		Data:     data,
	})
}

// ReadLogsOptions selects entries from one day of log files.
type ReadLogsOptions struct {
	Category Category  // empty reads every category
	MinLevel Level     // entries below this level are dropped; empty keeps all
	Date     time.Time // zero means today
	Lines    int       // newest N entries, 100 by default, 1000 at most
	Search   string    // case-insensitive match on message, action or error
}

// ReadLogs reads log entries from the default logger's directory.
func ReadLogs(opts ReadLogsOptions) ([]LogEntry, error) {
	return Default().ReadLogs(opts)
}

func (l *Logger) ReadLogs(opts ReadLogsOptions) ([]LogEntry, error) {
	if opts.Lines <= 0 {
		opts.Lines = 100
	}
	if opts.Lines > 1000 {
		opts.Lines = 1000
	}
	if opts.Date.IsZero() {
		opts.Date = time.Now()
	}
	minRank := levelRank[opts.MinLevel]

	categories := AllCategories
	if opts.Category != "" {
		categories = []Category{opts.Category}
	}

	var entries []LogEntry
	for _, cat := range categories {
		err := l.scanFile(cat, opts.Date, func(entry LogEntry) {
			if levelRank[entry.Level] < minRank {
				return
			}
			if opts.Search != "" &&
				!containsIgnoreCase(entry.Message, opts.Search) &&
				!containsIgnoreCase(entry.Action, opts.Search) &&
				!containsIgnoreCase(entry.Error, opts.Search) {
				return
			}
			entries = append(entries, entry)
		})
		if err != nil {
			return nil, err
		}
	}

	sortEntriesByTime(entries)
	if len(entries) > opts.Lines {
		entries = entries[:opts.Lines]
	}
	return entries, nil
}

// scanFile calls fn for every parseable line of one category file. A missing
// file is not an error.
func (l *Logger) scanFile(cat Category, day time.Time, fn func(LogEntry)) error {
	path := filepath.Join(l.logDir, fmt.Sprintf("%s_%s.log", cat, day.Format("2006-01-02")))
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var entry LogEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		fn(entry)
	}
	return scanner.Err()
}

// LogStats summarizes one day of logs and the whole log directory.
type LogStats struct {
	Date           string           `json:"date"`
	TotalEntries   int              `json:"total_entries"`
	ByLevel        map[Level]int    `json:"by_level"`
	ByCategory     map[Category]int `json:"by_category"`
	TotalFiles     int              `json:"total_files"`
	TotalSizeBytes int64            `json:"total_size_bytes"`
}

func Stats(day time.Time) (*LogStats, error) {
	return Default().Stats(day)
}

func (l *Logger) Stats(day time.Time) (*LogStats, error) {
	if day.IsZero() {
		day = time.Now()
	}
	stats := &LogStats{
		Date:       day.Format("2006-01-02"),
		ByLevel:    map[Level]int{LevelDebug: 0, LevelInfo: 0, LevelWarn: 0, LevelError: 0},
		ByCategory: make(map[Category]int),
	}

	for _, cat := range AllCategories {
		err := l.scanFile(cat, day, func(entry LogEntry) {
			stats.TotalEntries++
			stats.ByLevel[entry.Level]++
			stats.ByCategory[entry.Category]++
		})
		if err != nil {
			return nil, err
		}
	}

	files, err := l.ListLogFiles()
	if err != nil {
		return nil, err
	}
	stats.TotalFiles = len(files)
	for _, name := range files {
		if info, err := os.Stat(filepath.Join(l.logDir, name)); err == nil {
			stats.TotalSizeBytes += info.Size()
		}
	}
	return stats, nil
}

// GetLogDir returns the log directory path
func GetLogDir() string {
	return Default().logDir
}

func ListLogFiles() ([]string, error) {
	return Default().ListLogFiles()
}

// ListLogFiles returns the .log file names, oldest first.
func (l *Logger) ListLogFiles() ([]string, error) {
	entries, err := os.ReadDir(l.logDir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".log" {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// ParseLevel accepts a level name in any case.
func ParseLevel(s string) (Level, bool) {
	level := Level(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := levelRank[level]
	return level, ok
}

// ParseCategory accepts a known category name.
func ParseCategory(s string) (Category, bool) {
	for _, c := range AllCategories {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func sortEntriesByTime(entries []LogEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
}
