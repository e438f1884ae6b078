// Package main is the Kioku CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/cli"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/mcp"
	"github.com/hyperjump/kioku/internal/memory"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/project"
	"github.com/hyperjump/kioku/internal/server"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/internal/vector"
	"github.com/hyperjump/kioku/pkg/utils"
)

var version = "dev"

var defaultConfigPath = config.DefaultPath()

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists
// it is used. A missing default config falls back to built-in defaults.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := cwd + "/config.yaml"
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		cfg, err := config.LoadOrDefault(path)
		if err != nil {
			return nil, "", err
		}
		return cfg, path, nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "mcp":
		runMCP()
	case "search":
		runSearch()
	case "add":
		runAdd()
	case "get":
		runGet()
	case "list":
		runList()
	case "delete":
		runDelete()
	case "projects":
		runProjects()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("kioku version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (dedup decisions, index repairs, etc.)")
	projectName := fs.String("project", "", "current project name (default: detected from the git checkout)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger, *projectName)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	srv := server.NewServer(components.Service, components.Store, cfg, logger)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runMCP() {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	projectName := fs.String("project", "", "current project name (default: detected from the git checkout)")
	_ = fs.Parse(os.Args[2:])

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	// Logs go to stderr; stdout carries the MCP protocol.
	logger, err := utils.NewLogger(cfg.Debug || *debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger, *projectName)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	mcpCfg := mcp.DefaultConfig()
	mcpCfg.Version = version
	mcpCfg.Logger = logger
	srv, err := mcp.NewServer(mcpCfg, components.Service, components.Registry)
	if err != nil {
		logger.Fatal("Failed to create MCP server", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatal("MCP server failed", zap.Error(err))
	}
}

// buildQuery joins all positional args with spaces so multi-word queries work
// the same with or without shell quoting.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// argsReorder moves any flags (and their values) that appear after the query
// to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument, so "kioku search \"query\" -limit 5"
// would otherwise leave -limit unparsed.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func parseOutputFormat(s string) cli.OutputFormat {
	switch s {
	case "json":
		return cli.OutputJSON
	case "text":
		return cli.OutputText
	default:
		fmt.Printf("Unknown output format %q; use text or json\n", s)
		os.Exit(1)
		return cli.OutputText
	}
}

func runSearch() {
	searchArgs := argsReorder(os.Args[2:])
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = direct storage access)")
	limit := fs.Int("limit", 0, "number of results (default 5)")
	kind := fs.String("kind", "", "restrict to one kind: issue, spec, arch, update, or all")
	projectSel := fs.String("project", "", "project scope: empty/current, '*' for all, or a project name")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(searchArgs)

	queryStr := buildQuery(fs.Args())
	if queryStr == "" {
		fmt.Println("Usage: kioku search [flags] <query>")
		os.Exit(1)
	}
	format := parseOutputFormat(*outputFormat)

	query := &models.SearchQuery{
		Query:   queryStr,
		Kind:    *kind,
		Project: *projectSel,
		Limit:   *limit,
	}

	if *serverURL != "" {
		results, err := searchViaHTTP(*serverURL, query)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
		if err := cli.WriteSearchResults(os.Stdout, results, format); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	components := mustInitialize(*configPath, "")
	defer components.Close()

	results, err := components.Service.Search(context.Background(), query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteSearchResults(os.Stdout, results, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func searchViaHTTP(serverURL string, query *models.SearchQuery) ([]*models.SearchResult, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/v1/search", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var response struct {
		Results []*models.SearchResult `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return response.Results, nil
}

func runAdd() {
	addArgs := argsReorder(os.Args[2:])
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	id := fs.Int64("id", 0, "record id for an explicit update (skips dedup)")
	kind := fs.String("kind", "update", "record kind: issue, spec, arch or update")
	body := fs.String("body", "", "record body")
	status := fs.String("status", "", "record status: open (default), resolved or archived")
	projectName := fs.String("project", "", "owning project name (default: detected from the git checkout)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(addArgs)

	title := buildQuery(fs.Args())
	if title == "" {
		fmt.Println("Usage: kioku add [flags] <title>")
		os.Exit(1)
	}
	format := parseOutputFormat(*outputFormat)

	components := mustInitialize(*configPath, *projectName)
	defer components.Close()

	detail, merged, err := components.Service.Upsert(context.Background(), &models.RecordInput{
		ID:     *id,
		Kind:   *kind,
		Title:  title,
		Body:   *body,
		Status: *status,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Add failed: %v\n", err)
		os.Exit(1)
	}
	if merged {
		fmt.Printf("Merged into existing record %d\n", detail.ID)
	}
	if err := cli.WriteRecordDetail(os.Stdout, detail, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runGet() {
	getArgs := argsReorder(os.Args[2:])
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(getArgs)

	if fs.NArg() < 1 {
		fmt.Println("Usage: kioku get [flags] <record-id>")
		os.Exit(1)
	}
	id, err := strconv.ParseInt(fs.Arg(0), 10, 64)
	if err != nil {
		fmt.Printf("Invalid record id %q\n", fs.Arg(0))
		os.Exit(1)
	}
	format := parseOutputFormat(*outputFormat)

	components := mustInitialize(*configPath, "")
	defer components.Close()

	detail, err := components.Service.Get(context.Background(), id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Get failed: %v\n", err)
		os.Exit(1)
	}
	if detail == nil {
		fmt.Printf("Record %d not found\n", id)
		os.Exit(1)
	}
	if err := cli.WriteRecordDetail(os.Stdout, detail, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runList() {
	listArgs := argsReorder(os.Args[2:])
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	kind := fs.String("kind", "", "restrict to one kind, or 'all'")
	status := fs.String("status", "", "restrict to one status, or 'all'")
	projectSel := fs.String("project", "", "project scope: empty/current, '*' for all, or a project name")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(listArgs)
	format := parseOutputFormat(*outputFormat)

	components := mustInitialize(*configPath, "")
	defer components.Close()

	records, err := components.Service.List(context.Background(), &models.ListFilter{
		Kind:    *kind,
		Status:  *status,
		Project: *projectSel,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteRecordList(os.Stdout, records, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kioku delete [flags] <record-id>")
		os.Exit(1)
	}
	id, err := strconv.ParseInt(fs.Arg(0), 10, 64)
	if err != nil {
		fmt.Printf("Invalid record id %q\n", fs.Arg(0))
		os.Exit(1)
	}

	components := mustInitialize(*configPath, "")
	defer components.Close()

	existed, err := components.Service.Delete(context.Background(), id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Deletion failed: %v\n", err)
		os.Exit(1)
	}
	if !existed {
		fmt.Printf("Record %d not found\n", id)
		os.Exit(1)
	}
	fmt.Printf("Record deleted: %d\n", id)
}

func runProjects() {
	fs := flag.NewFlagSet("projects", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := parseOutputFormat(*outputFormat)

	components := mustInitialize(*configPath, "")
	defer components.Close()

	projects, err := components.Registry.List(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "List projects failed: %v\n", err)
		os.Exit(1)
	}
	current := ""
	if p := components.Registry.Current(); p != nil {
		current = p.Name
	}
	if err := cli.WriteProjects(os.Stdout, projects, current, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// statusResponse is the shape of GET /status.
type statusResponse struct {
	Projects        int64  `json:"projects"`
	Records         int64  `json:"records"`
	VectorIndexSize int    `json:"vector_index_size"`
	DiskUsageBytes  *int64 `json:"disk_usage_bytes,omitempty"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = direct storage access)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var status statusResponse
	if *serverURL != "" {
		res, err := statusViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		status = *res
	} else {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		components := mustInitialize(*configPath, "")
		defer components.Close()

		ctx := context.Background()
		projectCount, err := components.Store.CountProjects(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Count projects failed: %v\n", err)
			os.Exit(1)
		}
		recordCount, err := components.Store.CountRecords(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Count records failed: %v\n", err)
			os.Exit(1)
		}
		status = statusResponse{
			Projects:        projectCount,
			Records:         recordCount,
			VectorIndexSize: components.Service.IndexSize(),
		}
		diskBytes, err := storage.DiskUsageBytes(cfg.Storage.DatabasePath, cfg.Storage.IndexPath)
		if err == nil {
			status.DiskUsageBytes = &diskBytes
		}
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		fmt.Printf("projects:           %d\n", status.Projects)
		fmt.Printf("records:            %d\n", status.Records)
		fmt.Printf("vector_index_size:  %d\n", status.VectorIndexSize)
		if status.DiskUsageBytes != nil {
			fmt.Printf("disk_usage_bytes:   %d\n", *status.DiskUsageBytes)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func statusViaHTTP(serverURL string) (*statusResponse, error) {
	resp, err := http.Get(serverURL + "/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var s statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &s, nil
}

// Components holds initialized services.
type Components struct {
	Store     storage.Store
	Embedder  embedding.Embedder
	Index     vector.Index
	Registry  *project.Registry
	Service   *memory.Service
	indexPath string
	logger    *zap.Logger
}

// Close persists the vector index and releases every component.
func (c *Components) Close() {
	if c.Index != nil && c.indexPath != "" {
		if err := c.Index.Save(c.indexPath); err != nil && c.logger != nil {
			c.logger.Warn("vector index save failed", zap.String("path", c.indexPath), zap.Error(err))
		}
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Index != nil {
		_ = c.Index.Close()
	}
}

// mustInitialize is the CLI-command path: quiet logger, config from path,
// exit on failure.
func mustInitialize(configPath, projectName string) *Components {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	components, err := initializeComponents(cfg, logger, projectName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	return components
}

func initializeComponents(cfg *config.Config, logger *zap.Logger, projectName string) (*Components, error) {
	store, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	var embedder embedding.Embedder
	onnxEmbedder, err := embedding.NewONNXEmbedder(
		cfg.Embedding.ModelPath,
		cfg.Embedding.Dimensions,
		cfg.Embedding.MaxTokens,
		cfg.Embedding.CacheSize,
	)
	if err != nil {
		logger.Warn("ONNX embedder unavailable, using mock embedder",
			zap.String("model_path", cfg.Embedding.ModelPath),
			zap.Error(err))
		embedder = embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
	} else {
		embedder = onnxEmbedder
	}

	index, err := vector.NewIndex(cfg.Storage.IndexType, cfg.Embedding.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	if loadErr := index.Load(cfg.Storage.IndexPath); loadErr != nil {
		logger.Warn("vector index load skipped, rebuilding from records",
			zap.String("path", cfg.Storage.IndexPath), zap.Error(loadErr))
	}

	registry := project.NewRegistry(store)
	if projectName == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to determine working directory: %w", err)
		}
		projectName = project.DetectName(cwd)
	}
	current, err := registry.ResolveCurrent(context.Background(), projectName)
	if err != nil {
		return nil, err
	}
	logger.Info("current project resolved", zap.String("project", current.Name))

	service := memory.NewService(store, index, embedder, registry, logger)
	if repaired, err := service.Reindex(context.Background()); err != nil {
		logger.Warn("startup reindex incomplete", zap.Int("repaired", repaired), zap.Error(err))
	}

	return &Components{
		Store:     store,
		Embedder:  embedder,
		Index:     index,
		Registry:  registry,
		Service:   service,
		indexPath: cfg.Storage.IndexPath,
		logger:    logger,
	}, nil
}

func printUsage() {
	fmt.Println(`kioku - per-user memory store for coding agents

Usage:
  kioku server [flags]            Start the HTTP server
  kioku mcp [flags]               Serve the Model Context Protocol on stdio
  kioku search [flags] <query>    Search records by meaning
  kioku add [flags] <title>       Store a record (near-duplicates merge)
  kioku get [flags] <id>          Show one record
  kioku list [flags]              List records, newest first
  kioku delete [flags] <id>       Delete a record
  kioku projects [flags]          List projects
  kioku status [flags]            Show store and index status
  kioku version                   Show version
  kioku help                      Show this help

Common Flags:
  --config string    Config file path (default: ~/.kioku/config.yaml)
  --project string   Current project name (default: detected from the git checkout)
  --output string    Output format: text or json (default: text)

Search Flags:
  --server string    Server URL; empty uses direct storage access
  --limit int        Number of results (default: 5)
  --kind string      Restrict to one kind: issue, spec, arch, update, or all
  --project string   Scope: empty/current, '*' for all projects, or a project name

Add Flags:
  --id int           Record id for an explicit update (skips dedup)
  --kind string      Record kind: issue, spec, arch or update (default: update)
  --body string      Record body
  --status string    open (default), resolved or archived

Examples:
  kioku server
  kioku mcp
  kioku add --kind issue "login crashes on empty password"
  kioku add --kind arch --body "tokens rotate hourly" auth flow design
  kioku search --project '*' "login crash"
  kioku list --kind issue --status open
  kioku get 7
  kioku delete 7
  kioku status --output json`)
}
