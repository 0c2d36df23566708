package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/instructflow/config"
	"github.com/BaSui01/instructflow/instructor"
	"github.com/BaSui01/instructflow/internal/metrics"
	"github.com/BaSui01/instructflow/internal/server"
	"github.com/BaSui01/instructflow/internal/telemetry"
	"github.com/BaSui01/instructflow/llm"
	"github.com/BaSui01/instructflow/llm/factory"
	"github.com/BaSui01/instructflow/llm/retry"
	"github.com/BaSui01/instructflow/structured"
)

type extractOptions struct {
	configPath  string
	schemaPath  string
	name        string
	mode        string
	provider    string
	model       string
	prompt      string
	system      string
	maxRetries  int
	stream      bool
	jsonl       bool
	concurrency int
	pretty      bool
}

func parseExtractFlags(args []string) (*extractOptions, error) {
	o := &extractOptions{}
	fs := flag.NewFlagSet("extract", flag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", "", "Path to config file")
	fs.StringVar(&o.schemaPath, "schema", "", "Path to the response model JSON Schema (YAML or JSON)")
	fs.StringVar(&o.name, "name", "", "Response model name")
	fs.StringVar(&o.mode, "mode", "", "Extraction mode")
	fs.StringVar(&o.provider, "provider", "", "Configured provider name")
	fs.StringVar(&o.model, "model", "", "Model override")
	fs.StringVar(&o.prompt, "prompt", "", "User prompt; stdin when empty")
	fs.StringVar(&o.system, "system", "", "System message")
	fs.IntVar(&o.maxRetries, "max-retries", -1, "Corrective round trips")
	fs.BoolVar(&o.stream, "stream", false, "Print partial objects as JSON lines")
	fs.BoolVar(&o.jsonl, "jsonl", false, "One prompt per stdin line")
	fs.IntVar(&o.concurrency, "concurrency", 4, "Parallel calls in --jsonl mode")
	fs.BoolVar(&o.pretty, "pretty", false, "Indent output")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if o.schemaPath == "" {
		return nil, errors.New("--schema is required")
	}
	if o.stream && o.jsonl {
		return nil, errors.New("--stream and --jsonl are mutually exclusive")
	}
	if o.concurrency < 1 {
		return nil, fmt.Errorf("--concurrency must be positive, got %d", o.concurrency)
	}
	return o, nil
}

// =============================================================================
// 🧩 extract 命令
// =============================================================================

func runExtract(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	opts, err := parseExtractFlags(args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	desc, err := loadDescriptor(opts.schemaPath, opts.name)
	if err != nil {
		return err
	}

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger,
		telemetry.AttrDefaultMode.String(cfg.Instructor.Mode),
		telemetry.AttrDefaultProvider.String(cfg.LLM.DefaultProvider),
	)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelProviders.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	registry, err := factory.NewRegistryFromConfig(cfg.LLM.RegistryConfig(), logger)
	if err != nil {
		return err
	}
	provider, err := registry.Resolve(opts.provider)
	if err != nil {
		return err
	}

	var recorder instructor.Recorder
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		recorder = metrics.NewCollector(cfg.Metrics.Namespace, reg, logger)
		stopMetrics, err := startMetricsServer(cfg.Metrics.Addr, reg, logger)
		if err != nil {
			return err
		}
		defer stopMetrics()
	}

	client, err := newClient(cfg, provider, logger, otelProviders, recorder)
	if err != nil {
		return err
	}

	logger.Debug("extract started",
		zap.String("provider", provider.Name()),
		zap.String("mode", string(client.Mode())),
		zap.String("response_model", desc.Name()),
	)

	base := instructor.Request{
		Model:      opts.model,
		Response:   desc,
		MaxRetries: cfg.Instructor.MaxRetries,
	}

	switch {
	case opts.jsonl:
		return extractBatch(ctx, client, base, opts, stdin, stdout)
	case opts.stream:
		prompt, err := readPrompt(opts.prompt, stdin)
		if err != nil {
			return err
		}
		return extractStream(ctx, client, withPrompt(base, opts.system, prompt), stdout)
	default:
		prompt, err := readPrompt(opts.prompt, stdin)
		if err != nil {
			return err
		}
		res, err := client.Create(ctx, withPrompt(base, opts.system, prompt))
		if err != nil {
			return err
		}
		return writeJSON(stdout, res.Data, opts.pretty)
	}
}

// loadConfig 加载配置并应用命令行覆盖
func loadConfig(opts *extractOptions) (*config.Config, error) {
	loader := config.NewLoader()
	if opts.configPath != "" {
		loader = loader.WithConfigPath(opts.configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if opts.mode != "" {
		cfg.Instructor.Mode = strings.ToUpper(opts.mode)
	}
	if opts.maxRetries >= 0 {
		cfg.Instructor.MaxRetries = opts.maxRetries
	}
	if opts.provider != "" {
		cfg.LLM.DefaultProvider = opts.provider
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newClient(
	cfg *config.Config,
	provider llm.Provider,
	logger *zap.Logger,
	otelProviders *telemetry.Providers,
	recorder instructor.Recorder,
) (*instructor.Client, error) {
	mode, err := instructor.ParseMode(cfg.Instructor.Mode)
	if err != nil {
		return nil, err
	}

	opts := []instructor.Option{
		instructor.WithMode(mode),
		instructor.WithLogger(logger),
		instructor.WithDebug(cfg.Instructor.Debug),
		instructor.WithRetryAllErrors(cfg.Instructor.RetryAllErrors),
		instructor.WithTimeout(cfg.Instructor.Timeout),
		instructor.WithTracerProvider(otelProviders.TracerProvider()),
	}
	if recorder != nil {
		opts = append(opts, instructor.WithRecorder(recorder))
	}
	if cfg.Instructor.CorrectionDelay > 0 {
		policy := retry.DefaultRetryPolicy()
		policy.InitialDelay = cfg.Instructor.CorrectionDelay
		if cfg.Instructor.CorrectionMaxDelay > 0 {
			policy.MaxDelay = cfg.Instructor.CorrectionMaxDelay
		}
		opts = append(opts, instructor.WithCorrectionBackoff(policy))
	}
	return instructor.New(provider, opts...)
}

// startMetricsServer 在独立端口暴露 /metrics，返回关闭函数
func startMetricsServer(addr string, reg *prometheus.Registry, logger *zap.Logger) (func(), error) {
	m := server.NewMetricsManager(addr, reg, logger)
	if err := m.Start(); err != nil {
		return nil, err
	}
	return func() {
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Warn("metrics server shutdown failed", zap.Error(err))
		}
	}, nil
}

// =============================================================================
// 📄 响应模型与输入
// =============================================================================

// loadDescriptor 读取 YAML 或 JSON 格式的 JSON Schema 文件。
// 名称优先级：--name、schema title、文件名。
func loadDescriptor(path, name string) (*structured.Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}

	// YAML 是 JSON 的超集，统一经 yaml.v3 解码后转成 JSON
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode schema %s: %w", path, err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode schema %s: %w", path, err)
	}
	schema, err := structured.ParseSchema(raw)
	if err != nil {
		return nil, err
	}

	if name == "" {
		name = schema.Title
	}
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return structured.NewDescriptor(name, schema)
}

func readPrompt(prompt string, stdin io.Reader) (string, error) {
	if prompt != "" {
		return prompt, nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	prompt = strings.TrimSpace(string(data))
	if prompt == "" {
		return "", errors.New("empty prompt: pass --prompt or pipe text on stdin")
	}
	return prompt, nil
}

func withPrompt(base instructor.Request, system, prompt string) instructor.Request {
	req := base
	req.Messages = nil
	if system != "" {
		req.Messages = append(req.Messages, llm.Message{Role: llm.RoleSystem, Content: system})
	}
	req.Messages = append(req.Messages, llm.Message{Role: llm.RoleUser, Content: prompt})
	return req
}

// =============================================================================
// 📤 输出
// =============================================================================

func writeJSON(w io.Writer, v any, pretty bool) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

// streamLine 是 --stream 模式下每行输出的结构
type streamLine struct {
	Data           map[string]any `json:"data"`
	ActivePath     string         `json:"active_path,omitempty"`
	CompletedPaths []string       `json:"completed_paths,omitempty"`
	Valid          bool           `json:"valid"`
	Final          bool           `json:"final,omitempty"`
}

func extractStream(ctx context.Context, client *instructor.Client, req instructor.Request, stdout io.Writer) error {
	results, err := client.CreateStream(ctx, req)
	if err != nil {
		return err
	}
	for r := range results {
		if r.Err != nil {
			return r.Err
		}
		line := streamLine{
			Data:           r.Data,
			ActivePath:     r.ActivePath,
			CompletedPaths: r.CompletedPaths,
			Valid:          r.IsValid,
			Final:          r.Final,
		}
		if err := writeJSON(stdout, line, false); err != nil {
			return err
		}
	}
	return nil
}

// batchLine 是 --jsonl 模式下每行输出的结构，顺序与输入一致
type batchLine struct {
	Line  int            `json:"line"`
	Data  map[string]any `json:"data,omitempty"`
	Error string         `json:"error,omitempty"`
}

// extractBatch 并发处理 stdin 中每一行 prompt。单行失败只记录在输出中，
// 上下文取消则中止整个批次。
func extractBatch(
	ctx context.Context,
	client *instructor.Client,
	base instructor.Request,
	opts *extractOptions,
	stdin io.Reader,
	stdout io.Writer,
) error {
	var prompts []string
	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		prompts = append(prompts, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read prompts: %w", err)
	}

	out := make([]batchLine, len(prompts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.concurrency)
	for i, prompt := range prompts {
		out[i].Line = i + 1
		prompt = strings.TrimSpace(prompt)
		if prompt == "" {
			out[i].Error = "empty prompt"
			continue
		}
		g.Go(func() error {
			res, err := client.Create(gctx, withPrompt(base, opts.system, prompt))
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				out[i].Error = err.Error()
				return nil
			}
			out[i].Data = res.Data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	failed := 0
	for _, line := range out {
		if line.Error != "" {
			failed++
		}
		if err := writeJSON(stdout, line, opts.pretty); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d prompts failed", failed, len(out))
	}
	return nil
}
