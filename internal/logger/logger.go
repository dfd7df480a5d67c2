package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。レベルはINFO。
func Setup(w io.Writer) *slog.Logger {
	return New(w, slog.LevelInfo)
}

// New は指定レベル以上を出力するJSON構造化ロガーを生成する。
func New(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler)
}

// ParseLevel はLOG_LEVELの値をslog.Levelに変換する。未知の値はINFOとして扱う。
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Options はOpenの設定。
type Options struct {
	Level   slog.Level
	File    string    // 空でなければ標準出力に加えてこのファイルにも追記する
	Console io.Writer // nilの場合はos.Stdout
}

// Open はOptionsに従ってロガーを生成する。
// 返されたio.Closerはログファイルを閉じる。ファイル出力がない場合も非nilを返す。
func Open(opts Options) (*slog.Logger, io.Closer, error) {
	console := opts.Console
	if console == nil {
		console = os.Stdout
	}
	if opts.File == "" {
		return New(console, opts.Level), nopCloser{}, nil
	}

	f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return New(io.MultiWriter(console, f), opts.Level), f, nil
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定する。
// 本番ではos.Stdoutを渡すことを想定している。
func SetupDefault(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	slog.SetDefault(Setup(w))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
