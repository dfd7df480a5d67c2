package app

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandSync はKOReader取り込み（KOREADER_BACKUP設定時）とHardcover補完を順に実行する。
	CommandSync Command = "sync"
	// CommandETL はKOReaderの統計DBのみを取り込む。
	CommandETL Command = "etl"
	// CommandEnrich はHardcoverのライブラリによる補完のみを実行する。
	CommandEnrich Command = "enrich"
	// CommandWorker はスケジューラと状態確認サーバーを常駐させる。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// Options はコマンドライン引数の解析結果。
type Options struct {
	Command Command
	DryRun  bool
	Verbose bool
	EnvFile string
}

// ParseArgs はコマンドライン引数からサブコマンドとフラグを解析する。
// サブコマンドはフラグの前後どちらにも置ける。省略時はCommandSync。
func ParseArgs(args []string) (*Options, error) {
	opts := &Options{Command: CommandSync}

	explicit := false
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, err := parseCommand(args[0])
		if err != nil {
			return nil, err
		}
		opts.Command = cmd
		explicit = true
		args = args[1:]
	}

	fs := flag.NewFlagSet("bookhelper", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.BoolVar(&opts.DryRun, "dry-run", false, "書き込みを行わずに予定の操作をログに出力する")
	fs.BoolVar(&opts.Verbose, "verbose", false, "DEBUGレベルのログを出力する")
	fs.StringVar(&opts.EnvFile, "env-file", ".env", "読み込む.envファイルのパス")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return opts, nil
	}
	if explicit {
		return nil, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	cmd, err := parseCommand(rest[0])
	if err != nil {
		return nil, err
	}
	opts.Command = cmd

	// サブコマンドの後ろに続くフラグ
	if err := fs.Parse(rest[1:]); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}
	return opts, nil
}

func parseCommand(s string) (Command, error) {
	switch Command(s) {
	case CommandSync, CommandETL, CommandEnrich, CommandWorker, CommandMigrate, CommandHealthcheck:
		return Command(s), nil
	default:
		return "", fmt.Errorf("unknown command: %s", s)
	}
}
