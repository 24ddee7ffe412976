// Command kiln-ls is the Language Server Protocol front end for the
// kiln query engine.
package main

import (
	"context"
	"flag"
	"io"
	"os"

	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kilnlsp/kiln"
	"github.com/kilnlsp/kiln/engine"
	"github.com/kilnlsp/kiln/lsp"
)

var (
	configFlag = flag.String("config", "", "Path to a kiln config file")
	debugFlag  = flag.Bool("debug", false, "Enable debug logging")
	clientLog  = flag.Bool("client-log", false, "Mirror logs to the editor via window/logMessage")
)

func main() {
	flag.Parse()

	// stdout carries the LSP stream; logs go to stderr.
	config := zap.NewDevelopmentConfig()
	config.OutputPaths = []string{"stderr"}
	config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)

	if *debugFlag {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}

	defer func() {
		_ = logger.Sync()
	}()

	cfg, err := loadConfig(*configFlag)
	if err != nil {
		logger.Fatal("Config error", zap.Error(err))
	}

	logger.Info("Starting kiln-ls")

	ctx := context.Background()

	err = run(ctx, logger, cfg, os.Stdin, os.Stdout)
	if err != nil {
		logger.Fatal("Server error", zap.Error(err))
	}
}

func loadConfig(path string) (*kiln.Config, error) {
	if path == "" {
		return &kiln.Config{}, nil
	}

	return kiln.LoadConfigFile(path)
}

func run(ctx context.Context, logger *zap.Logger, cfg *kiln.Config, in io.Reader, out io.Writer) error {
	stream := jsonrpc2.NewStream(&readWriteCloser{in, out})
	conn := jsonrpc2.NewConn(stream)

	client := protocol.ClientDispatcher(conn, logger)

	if *clientLog {
		clientLogger, stop := lsp.NewClientLogger(client, logger.Core(), zapcore.InfoLevel)
		defer stop()
		logger = clientLogger
	}

	eng, err := engine.New(cfg, logger.Named("engine"))
	if err != nil {
		return err
	}
	defer eng.Close()

	server := lsp.NewServer(client, eng, logger.Named("lsp"))

	conn.Go(ctx, protocol.ServerHandler(server, nil))

	<-conn.Done()

	return conn.Err()
}

// readWriteCloser joins stdin and stdout into one stream endpoint.
type readWriteCloser struct {
	io.Reader
	io.Writer
}

func (rwc *readWriteCloser) Close() error {
	if c, ok := rwc.Writer.(io.Closer); ok {
		return c.Close()
	}

	return nil
}
