// =============================================================================
// InstructFlow 命令行入口
// =============================================================================
// 从任意 OpenAI 兼容 Provider 提取符合 JSON Schema 的结构化数据
//
// 使用方法:
//
//	instructflow extract --schema person.yaml --prompt "Jason is 25"
//	instructflow extract --schema person.json --stream < prompt.txt
//	instructflow extract --schema person.yaml --jsonl < prompts.jsonl
//	instructflow modes                       # 查看 Provider × Mode 支持矩阵
//	instructflow version                     # 显示版本信息
// =============================================================================

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/instructflow/config"
	"github.com/BaSui01/instructflow/internal/telemetry"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "extract":
		err = runExtract(ctx, os.Args[2:], os.Stdin, os.Stdout)
	case "modes":
		err = runModes(os.Args[2:], os.Stdout)
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	v := Version
	if v == "dev" {
		v = telemetry.Version()
	}
	fmt.Printf("InstructFlow %s\n", v)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`InstructFlow - Structured completions for LLMs

Usage:
  instructflow <command> [options]

Commands:
  extract   Extract a structured value from a prompt
  modes     Show which modes each provider supports
  version   Show version information
  help      Show this help message

Options for 'extract':
  --config <path>       Path to configuration file (YAML)
  --schema <path>       JSON Schema of the response model (YAML or JSON), required
  --name <name>         Response model name (defaults to schema title or file name)
  --mode <mode>         TOOLS, FUNCTIONS, JSON, MD_JSON, JSON_SCHEMA, THINKING_MD_JSON
  --provider <name>     Configured provider to use (defaults to llm.default_provider)
  --model <model>       Model override
  --prompt <text>       User prompt (read from stdin when empty)
  --system <text>       Optional system message
  --max-retries <n>     Corrective round trips (defaults to instructor.max_retries)
  --stream              Print partial objects as JSON lines
  --jsonl               Treat every stdin line as one prompt
  --concurrency <n>     Parallel calls in --jsonl mode
  --pretty              Indent the final JSON

Options for 'modes':
  --model <model>       Check support for a specific model

Examples:
  instructflow extract --schema person.yaml --prompt "Jason is 25 years old"
  INSTRUCTFLOW_LLM_DEFAULT_PROVIDER=groq instructflow extract --schema person.json --mode JSON < in.txt
  instructflow modes --model gpt-3.5-turbo
  instructflow version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	// 解析日志级别
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	// 配置编码器
	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Format == "console",
		Encoding:          "json",
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}
