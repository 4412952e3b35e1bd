// Command webpen drives a managed browser session over stdio. Each
// input line is one JSON call {"id", "op", "args"}; each output line is
// the matching {"id", "ok", "result"|"error"} reply. Calls run
// concurrently so a blocking wait never stalls the loop.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sync"

	"webpen/internal/config"
	ilog "webpen/internal/log"
	"webpen/internal/storage"
	"webpen/internal/tools"
	"webpen/pkg/api"
	"webpen/pkg/domain"
)

type call struct {
	ID   json.RawMessage `json:"id"`
	Op   string          `json:"op"`
	Args json.RawMessage `json:"args"`
}

type reply struct {
	ID     json.RawMessage `json:"id,omitempty"`
	OK     bool            `json:"ok"`
	Result any             `json:"result,omitempty"`
	Error  *callError      `json:"error,omitempty"`
}

type callError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func main() {
	configPath := flag.String("config", "", "path to YAML config")
	flag.Parse()

	cfg := config.NewConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cfg = loaded
	}

	ilog.Setup(ilog.Options{
		Level:   cfg.Log.Level,
		Writers: cfg.Log.Writer,
		File:    cfg.Log.File,
	})

	var archive *storage.Archive
	if cfg.Sqlite.Dsn != "" {
		var err error
		archive, err = storage.Open(cfg.Sqlite.Dsn, *ilog.L())
		if err != nil {
			ilog.L().Fatal().Err(err).Msg("open exchange archive")
		}
		defer archive.Close()
	}

	svc := api.NewService(archive)
	dispatcher := tools.New(svc, domain.SessionConfig{
		BinaryPath:        cfg.Browser.Binary,
		DevToolsPort:      cfg.Browser.DevToolsPort,
		PageLoadTimeoutMS: cfg.Browser.PageLoadTimeoutMS,
	})

	run(svc, dispatcher)
}

func run(svc api.Service, dispatcher *tools.Dispatcher) {
	var (
		writeMu sync.Mutex
		wg      sync.WaitGroup
		out     = json.NewEncoder(os.Stdout)
	)
	emit := func(r reply) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := out.Encode(r); err != nil {
			ilog.L().Err(err).Msg("write reply")
		}
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var c call
		if err := json.Unmarshal(line, &c); err != nil {
			emit(reply{OK: false, Error: &callError{Kind: "BadRequest", Message: err.Error()}})
			continue
		}

		wg.Add(1)
		go func(c call) {
			defer wg.Done()
			result, err := dispatcher.Dispatch(context.Background(), c.Op, c.Args)
			if err != nil {
				emit(reply{ID: c.ID, OK: false, Error: &callError{
					Kind:    domain.ErrorKind(err),
					Message: err.Error(),
				}})
				return
			}
			emit(reply{ID: c.ID, OK: true, Result: result})
		}(c)
	}
	if err := scanner.Err(); err != nil {
		ilog.L().Err(err).Msg("read stdin")
	}

	wg.Wait()
	if state, _ := svc.State(); state == domain.StateRunning {
		if err := svc.Close(context.Background()); err != nil {
			ilog.L().Err(err).Msg("close session on shutdown")
		}
	}
}
