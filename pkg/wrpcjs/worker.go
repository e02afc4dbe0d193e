//go:build js && wasm

package wrpcjs

import (
	"syscall/js"

	"github.com/mgnsk/fibra-workers/pkg/wrpc"
)

// IsWorker returns whether the program is running in a Web Worker.
func IsWorker() bool {
	return js.Global().Get("WorkerGlobalScope").Type() != js.TypeUndefined
}

// CreateURLObject creates an object URL for data.
func CreateURLObject(data any, mime string) js.Value {
	blob := js.Global().Get("Blob").New([]any{data}, map[string]any{"type": mime})
	return js.Global().Get("URL").Call("createObjectURL", blob)
}

// Worker is a Web Worker running a wrpc server.
type Worker struct {
	worker js.Value
	*MessagePort
}

// NewWorker spawns a Web Worker from the script at url.
func NewWorker(url any) *Worker {
	w := js.Global().Get("Worker").New(url)
	return &Worker{worker: w, MessagePort: NewMessagePort(w)}
}

// Close the port and terminate the worker.
func (w *Worker) Close() error {
	err := w.MessagePort.Close()
	w.worker.Call("terminate")
	return err
}

// SpawnWorkers spawns n workers from url and returns their ports for a
// wrpc.Dispatcher.
func SpawnWorkers(url any, n int) []wrpc.Port {
	ports := make([]wrpc.Port, n)
	for i := range ports {
		ports[i] = NewWorker(url)
	}
	return ports
}
