package log

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	diagLog   zerolog.Logger
	diagFile  *os.File
	convFile  *os.File
	crashFile *os.File
	logMu     sync.Mutex
	logReady  bool
	pid       int
	dir       string
)

const (
	DiagnosticsFile  = "diagnostics_log.txt"
	ConversationFile = "conversation_log.txt"
	CrashFile        = "crash_log.txt"
)

// Exchange is one request cycle as recorded in the diagnostics log.
type Exchange struct {
	Kind         string // voice, text or edit
	Conversation string
	Outcome      string // ok or failed
	Format       string
	AudioLengthS float64
	ClipKB       float64
	EncodeTimeMs float64
	DNSTimeMs    float64
	TLSTimeMs    float64
	TTFBMs       float64
	TotalTimeMs  float64
	ConnReused   bool
	HistoryLen   int
}

func ResolveDir(flagPath string) (string, error) {
	if flagPath == "" {
		flagPath = os.Getenv("MURMUR_LOG_PATH")
	}
	if flagPath == "" {
		return getDefaultDir()
	}
	if filepath.IsAbs(flagPath) {
		return flagPath, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, flagPath), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func openAppend(name string) (*os.File, error) {
	return os.OpenFile(filepath.Join(dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}
	pid = os.Getpid()

	var err error
	diagFile, err = openAppend(DiagnosticsFile)
	if err != nil {
		return err
	}
	convFile, err = openAppend(ConversationFile)
	if err != nil {
		diagFile.Close()
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

// InitCrash routes fatal runtime output to crash_log.txt. Must run after SetDir.
func InitCrash() {
	if err := EnsureDir(); err != nil {
		return
	}
	f, err := openAppend(CrashFile)
	if err != nil {
		return
	}
	fmt.Fprintf(f, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
	if err := debug.SetCrashOutput(f, debug.CrashOptions{}); err != nil {
		f.Close()
		return
	}
	crashFile = f
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if convFile != nil {
		convFile.Close()
		convFile = nil
	}
	logReady = false
}

// Logger returns the diagnostics logger, or a disabled one before Init.
func Logger() *zerolog.Logger {
	if !logReady {
		l := zerolog.Nop()
		return &l
	}
	return &diagLog
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func ExchangeMetrics(e Exchange) {
	if !logReady {
		return
	}
	conn := "new"
	if e.ConnReused {
		conn = "reused"
	}
	ev := diagLog.Info().
		Str("kind", e.Kind).
		Str("conversation", e.Conversation).
		Str("outcome", e.Outcome).
		Int("history", e.HistoryLen).
		Str("conn", conn)
	if e.Kind == "voice" {
		ev = ev.Str("format", e.Format).
			Float64("audio_s", e.AudioLengthS).
			Float64("clip_kb", e.ClipKB).
			Float64("encode_ms", e.EncodeTimeMs)
	}
	ev.Float64("dns_ms", e.DNSTimeMs).
		Float64("tls_ms", e.TLSTimeMs).
		Float64("ttfb_ms", e.TTFBMs).
		Float64("total_ms", e.TotalTimeMs).
		Msg("exchange")
}

// ExchangeText appends one line to the conversation log.
func ExchangeText(conversation, role, text string) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	if convFile == nil {
		return
	}
	line := fmt.Sprintf("%s\t[%d]\t%s\t%s\t%s\n", time.Now().Format("2006-01-02 15:04:05"), pid, conversation, role, text)
	convFile.WriteString(line)
}

func SessionStart(apiURL, format string, conversations int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("api", apiURL).
		Str("format", format).
		Int("conversations", conversations).
		Msg("session_start")
}

func SessionEnd(exchanges int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("exchanges", exchanges).
		Msg("session_end")
}
