package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hanpama/blockgraph/internal/config"
	"github.com/hanpama/blockgraph/internal/eventbus"
	"github.com/hanpama/blockgraph/internal/metrics"
	"github.com/hanpama/blockgraph/internal/otel"
	"github.com/hanpama/blockgraph/internal/runner"
	"github.com/hanpama/blockgraph/internal/schema"
	"github.com/hanpama/blockgraph/internal/server"
	"github.com/hanpama/blockgraph/internal/store"
)

const rootUsage = `blockgraph — block-versioned GraphQL query server

USAGE:
  blockgraph <command> [flags]

COMMANDS:
  serve            Run the GraphQL HTTP/websocket server over an entity store
  check-schema     Validate a GraphQL SDL schema file
  help             Show help for any command
`

const serveUsage = `serve FLAGS:
  -schema.file <path>      GraphQL SDL schema file (required)
  -schema.id <id>          Schema identity (default: schema file basename)
  -store.dir <dir>         Entity store directory (required)
  -server.addr <addr>      HTTP listen address (default: :8080)
  -server.pretty           Pretty-print JSON responses
  -server.timeout <dur>    Per-request timeout, e.g. 10s (default: 30s)
  -otel.endpoint <addr>    OTLP collector endpoint
  -otel.service <name>     OpenTelemetry service name (default: blockgraph)

ENVIRONMENT:
  BLOCKGRAPH_QUERY_TIMEOUT   Default query timeout in whole seconds
  BLOCKGRAPH_MAX_COMPLEXITY  Default complexity ceiling
  BLOCKGRAPH_MAX_DEPTH       Default depth ceiling
  BLOCKGRAPH_MAX_FIRST       Default page-size ceiling
`

const checkSchemaUsage = `check-schema FLAGS:
  -schema.file <path>      GraphQL SDL schema file (required)
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("blockgraph", flag.ContinueOnError)
	global.SetOutput(new(bytes.Buffer)) // silence automatic output
	if err := global.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, rootUsage)
		return err
	}
	remaining := global.Args()
	if len(remaining) == 0 {
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	cmd := remaining[0]
	cmdArgs := remaining[1:]
	switch cmd {
	case "serve":
		return cmdServe(cmdArgs)
	case "check-schema":
		return cmdCheckSchema(cmdArgs)
	case "help":
		return cmdHelp(cmdArgs)
	default:
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		fmt.Print(rootUsage)
		return nil
	}
	switch args[0] {
	case "serve":
		fmt.Print(serveUsage)
	case "check-schema":
		fmt.Print(checkSchemaUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

func cmdServe(args []string) error {
	schemaFile := ""
	schemaID := ""
	storeDir := ""
	addr := ":8080"
	pretty := false
	timeout := 30 * time.Second
	otelEndpoint := ""
	otelService := "blockgraph"

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&schemaFile, "schema.file", schemaFile, "GraphQL SDL schema file")
	fs.StringVar(&schemaID, "schema.id", schemaID, "Schema identity")
	fs.StringVar(&storeDir, "store.dir", storeDir, "Entity store directory")
	fs.StringVar(&addr, "server.addr", addr, "HTTP listen address")
	fs.BoolVar(&pretty, "server.pretty", pretty, "Pretty-print JSON responses")
	fs.DurationVar(&timeout, "server.timeout", timeout, "Per-request timeout")
	fs.StringVar(&otelEndpoint, "otel.endpoint", otelEndpoint, "OTLP collector endpoint")
	fs.StringVar(&otelService, "otel.service", otelService, "OpenTelemetry service name")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, serveUsage)
		return err
	}
	if schemaFile == "" {
		fmt.Fprint(os.Stderr, serveUsage)
		return fmt.Errorf("-schema.file is required")
	}
	if storeDir == "" {
		fmt.Fprint(os.Stderr, serveUsage)
		return fmt.Errorf("-store.dir is required")
	}
	if schemaID == "" {
		schemaID = strings.TrimSuffix(filepath.Base(schemaFile), filepath.Ext(schemaFile))
	}

	// Malformed environment fails startup, before anything binds or opens.
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	sch, err := loadSchema(schemaFile, schemaID)
	if err != nil {
		return err
	}

	st, err := store.Open(storeDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	eventbus.Use(eventbus.New())
	shutdown, err := otel.Setup(otelEndpoint, otelService)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()
	m := metrics.New()
	m.Register()

	rn := runner.New(st, cfg)

	var sopts []server.Option
	if pretty {
		sopts = append(sopts, server.WithPretty())
	}
	if timeout > 0 {
		sopts = append(sopts, server.WithTimeout(timeout))
	}
	h := server.New(rn, sch, sopts...)

	mux := http.NewServeMux()
	mux.Handle("/graphql", h)
	mux.Handle("/metrics", m.Handler())

	log.Printf("GraphQL server for schema %q listening on %s", sch.ID, addr)
	return http.ListenAndServe(addr, mux)
}

func cmdCheckSchema(args []string) error {
	schemaFile := ""
	fs := flag.NewFlagSet("check-schema", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&schemaFile, "schema.file", schemaFile, "GraphQL SDL schema file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, checkSchemaUsage)
		return err
	}
	if schemaFile == "" {
		fmt.Fprint(os.Stderr, checkSchemaUsage)
		return fmt.Errorf("-schema.file is required")
	}
	sch, err := loadSchema(schemaFile, "check")
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d entity types\n", schemaFile, len(sch.EntityTypes()))
	return nil
}

func loadSchema(path, id string) (*schema.Schema, error) {
	sdl, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	sch, err := schema.BuildFromSDL(id, filepath.Base(path), string(sdl))
	if err != nil {
		return nil, fmt.Errorf("build schema: %w", err)
	}
	return sch, nil
}
