// CLAUDE:SUMMARY CLI entry point for the VisionBridge agent: apply remote rules to an HTML file or a live page, or serve the MCP tools on stdio.
// Command visionbridge applies the configured page rules to one page load.
//
// Usage:
//
//	visionbridge -endpoint http://cfg:8080/api/configuration/all -in page.html -page-url https://shop.com/cart
//	visionbridge -config visionbridge.yaml -live https://shop.com/ -format markdown
//	visionbridge -config visionbridge.yaml -mcp        # serve MCP tools on stdio
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/visionbridge/bridge"
	"github.com/hazyhaar/visionbridge/browser"
	"github.com/hazyhaar/visionbridge/dom"
	"github.com/hazyhaar/visionbridge/env"
	"github.com/hazyhaar/visionbridge/kv"
	"github.com/hazyhaar/visionbridge/source"
)

// storageFlag collects repeatable -storage key=value pairs.
type storageFlag map[string]string

func (s storageFlag) String() string {
	pairs := make([]string, 0, len(s))
	for k, v := range s {
		pairs = append(pairs, k+"="+v)
	}
	return strings.Join(pairs, ",")
}

func (s storageFlag) Set(v string) error {
	k, val, ok := strings.Cut(v, "=")
	if !ok || k == "" {
		return fmt.Errorf("expected key=value, got %q", v)
	}
	s[k] = val
	return nil
}

type options struct {
	configPath string
	endpoint   string
	cacheDB    string
	in         string
	live       string
	pageURL    string
	userAgent  string
	cookie     string
	storage    storageFlag
	format     string
	out        string
	analytics  string
	serveMCP   bool
	chromeURL  string
	chromeBin  string
}

func main() {
	opts := options{storage: storageFlag{}}
	flag.StringVar(&opts.configPath, "config", "", "path to visionbridge.yaml config file")
	flag.StringVar(&opts.endpoint, "endpoint", "", "configuration endpoint URL (overrides config)")
	flag.StringVar(&opts.cacheDB, "cache-db", "", "SQLite cache path (overrides config)")
	flag.StringVar(&opts.in, "in", "", "HTML file to rewrite ('-' for stdin)")
	flag.StringVar(&opts.live, "live", "", "URL to open in headless Chrome and rewrite")
	flag.StringVar(&opts.pageURL, "page-url", "", "page URL used for selection and conditions with -in")
	flag.StringVar(&opts.userAgent, "user-agent", "Mozilla/5.0", "user agent used for conditions with -in")
	flag.StringVar(&opts.cookie, "cookie", "", "cookie string used for conditions with -in (a=1; b=2)")
	flag.Var(opts.storage, "storage", "storage entry key=value used for conditions with -in (repeatable)")
	flag.StringVar(&opts.format, "format", "html", "output format: html, markdown")
	flag.StringVar(&opts.out, "out", "", "output file (default stdout)")
	flag.StringVar(&opts.analytics, "analytics", "", "write the analytics snapshot to this JSON file")
	flag.BoolVar(&opts.serveMCP, "mcp", false, "serve MCP tools on stdio")
	flag.StringVar(&opts.chromeURL, "chrome-url", "", "WebSocket URL of a remote Chrome for -live")
	flag.StringVar(&opts.chromeBin, "chrome-bin", "", "Chrome binary for -live")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, opts); err != nil {
		logger.Error("visionbridge: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, opts options) error {
	if opts.format != "html" && opts.format != "markdown" {
		return fmt.Errorf("unsupported format %q", opts.format)
	}
	cfg, err := resolveConfig(opts)
	if err != nil {
		return err
	}

	b, err := bridge.New(*cfg, logger)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer b.Close()
	b.OnFetchFailed(func(ev source.FetchFailed) {
		fmt.Fprintf(os.Stderr, "%s: %d attempts: %v\n", ev.Name, ev.Attempts, ev.Err)
	})

	switch {
	case opts.serveMCP:
		srv := mcp.NewServer(&mcp.Implementation{Name: "visionbridge", Version: "1.0.0"}, nil)
		b.RegisterMCP(srv)
		logger.Info("visionbridge: serving MCP on stdio")
		if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("mcp: %w", err)
		}
		return nil
	case opts.live != "":
		err = runLive(ctx, logger, b, opts)
	default:
		err = runFile(ctx, b, opts)
	}
	if err != nil {
		return err
	}
	return writeAnalytics(opts.analytics, b)
}

// runFile rewrites a static HTML document.
func runFile(ctx context.Context, b *bridge.Bridge, opts options) error {
	if opts.pageURL == "" {
		return errors.New("-page-url is required with -in")
	}
	var r io.Reader = os.Stdin
	if opts.in != "" && opts.in != "-" {
		f, err := os.Open(opts.in)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		r = f
	}
	doc, err := dom.Parse(r)
	if err != nil {
		return err
	}
	pc, err := env.New(opts.pageURL, opts.userAgent, opts.cookie, kv.NewMemory(opts.storage))
	if err != nil {
		return err
	}
	if _, err := b.Run(ctx, doc, pc); err != nil {
		return err
	}
	return writeDocument(opts, doc)
}

// runLive opens the page in Chrome and rewrites it in place.
func runLive(ctx context.Context, logger *slog.Logger, b *bridge.Bridge, opts options) error {
	mgr := browser.NewManager(browser.Config{
		RemoteURL:        opts.chromeURL,
		Bin:              opts.chromeBin,
		ResourceBlocking: []string{"images", "fonts", "media"},
		Logger:           logger,
	})
	if err := mgr.Start(ctx); err != nil {
		return err
	}
	defer mgr.Close()

	tab, err := browser.OpenTab(ctx, mgr, opts.live)
	if err != nil {
		return err
	}
	defer tab.Close()

	pc, err := tab.Context(ctx)
	if err != nil {
		return err
	}
	if _, err := b.Run(ctx, tab, pc); err != nil {
		return err
	}
	html, err := tab.HTML(ctx)
	if err != nil {
		return err
	}
	doc, err := dom.ParseString(html)
	if err != nil {
		return err
	}
	opts.pageURL = opts.live
	return writeDocument(opts, doc)
}

func writeDocument(opts options, doc *dom.HTML) error {
	var w io.Writer = os.Stdout
	if opts.out != "" {
		f, err := os.Create(opts.out)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		w = f
	}
	if opts.format == "markdown" {
		md, err := doc.Markdown(origin(opts.pageURL))
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, md)
		return err
	}
	return doc.Render(w)
}

// origin returns scheme://host of a page URL, used to resolve relative links.
func origin(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func writeAnalytics(path string, b *bridge.Bridge) error {
	if path == "" {
		return nil
	}
	data, err := json.MarshalIndent(b.Analytics(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func resolveConfig(opts options) (*bridge.Config, error) {
	cfg := &bridge.Config{}
	if opts.configPath != "" {
		var err error
		if cfg, err = bridge.LoadConfigFile(opts.configPath); err != nil {
			return nil, err
		}
	}
	if opts.endpoint != "" {
		cfg.Endpoint = opts.endpoint
	}
	if opts.cacheDB != "" {
		cfg.CacheDB = opts.cacheDB
	}
	if cfg.Endpoint == "" {
		fmt.Fprintln(os.Stderr, "usage: visionbridge -config <file> | -endpoint <url> [-in <file> -page-url <url> | -live <url> | -mcp]")
		os.Exit(2)
	}
	return cfg, nil
}
