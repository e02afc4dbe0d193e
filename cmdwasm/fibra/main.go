//go:build js && wasm

// Command fibra is the browser build. Loaded in a page it spawns a pool of
// Web Workers running the same binary and exposes fibraStatistics(endpoint,
// graph) to JavaScript. Loaded in a worker it serves the SPARQL services.
package main

import (
	"context"
	"encoding/json"
	"runtime"
	"syscall/js"

	"go.uber.org/zap"

	"github.com/mgnsk/fibra-workers/internal/observability"
	"github.com/mgnsk/fibra-workers/pkg/codec"
	"github.com/mgnsk/fibra-workers/pkg/sparql"
	"github.com/mgnsk/fibra-workers/pkg/wrpc"
	"github.com/mgnsk/fibra-workers/pkg/wrpcjs"
)

const registryVersion = "1.0.0"

func main() {
	log := observability.NewLogger(observability.LogConfig{Level: "info"})
	defer log.Sync()

	reg, err := sparql.NewRegistry(registryVersion)
	if err != nil {
		panic(err)
	}

	if wrpcjs.IsWorker() {
		worker(log, reg)
	} else {
		browser(log, reg)
	}
}

func worker(log *zap.Logger, reg *codec.Registry) {
	srv := wrpc.NewServer(reg, wrpcjs.SelfPort(), wrpc.WithLogger(log))

	stats := sparql.NewStatisticsService(sparql.NewClient(sparql.WithLogger(log)))
	stats.LoginRequired = func(endpoint string) {
		if err := srv.Broadcast(context.Background(), sparql.LoginRequiredEvent, endpoint); err != nil {
			log.Warn("login request not delivered", zap.Error(err))
		}
	}
	srv.Handle(sparql.StatisticsServiceName, stats)
	srv.Handle(sparql.UpdateServiceName, sparql.NewUpdateService(sparql.NewClient(sparql.WithLogger(log))))
	srv.Handle(wrpc.StateService, wrpc.NewStateMirror(nil))

	if err := srv.Serve(context.Background()); err != nil {
		log.Error("worker stopped", zap.Error(err))
	}
}

func browser(log *zap.Logger, reg *codec.Registry) {
	ctx := context.Background()

	ports := wrpcjs.SpawnWorkers("index.js", max(runtime.NumCPU(), 2))
	d, err := wrpc.NewDispatcher(reg, ports, wrpc.WithLogger(log))
	if err != nil {
		panic(err)
	}
	if err := d.Start(ctx); err != nil {
		panic(err)
	}
	d.On(sparql.LoginRequiredEvent, func(args []any) {
		js.Global().Get("console").Call("warn", "login required", js.ValueOf(args[0]))
	})

	client := sparql.NewStatisticsClient(d)
	js.Global().Set("fibraStatistics", js.FuncOf(func(_ js.Value, args []js.Value) any {
		cfg := &sparql.RemoteEndpointConfiguration{
			Endpoint: args[0].String(),
		}
		if len(args) > 1 {
			cfg.Graph = args[1].String()
		}
		return promise(func() (any, error) {
			stats, err := client.GetClassStatistics(ctx, cfg)
			if err != nil {
				return nil, err
			}
			b, err := json.Marshal(stats)
			if err != nil {
				return nil, err
			}
			return js.Global().Get("JSON").Call("parse", string(b)), nil
		})
	}))

	log.Info("workers started", zap.Int("workers", len(ports)))
	if err := d.Wait(); err != nil {
		log.Error("dispatcher stopped", zap.Error(err))
	}
}

// promise runs fn on a goroutine and settles a JavaScript Promise with its result.
func promise(fn func() (any, error)) js.Value {
	var handler js.Func
	handler = js.FuncOf(func(_ js.Value, args []js.Value) any {
		resolve, reject := args[0], args[1]
		go func() {
			defer handler.Release()
			v, err := fn()
			if err != nil {
				reject.Invoke(js.Global().Get("Error").New(err.Error()))
				return
			}
			resolve.Invoke(v)
		}()
		return nil
	})
	return js.Global().Get("Promise").New(handler)
}
