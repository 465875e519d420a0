// Package pilot drives rounds from a sandboxed JavaScript steering script.
package pilot

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/MJE43/forage-arena-go/internal/model"
	"github.com/MJE43/forage-arena-go/internal/sim"
)

// ErrNoSteerFunc is returned when the script does not define steer().
var ErrNoSteerFunc = errors.New("pilot: script must define a steer(state) function")

const (
	scriptInitTimeout = 2 * time.Second
	scriptCallTimeout = 250 * time.Millisecond
	maxLogs           = 200
)

// SpiralScript is the built-in pilot: it alternates straight runs with
// turning arcs so the agent sweeps outward across the arena.
const SpiralScript = `
function steer(s) {
  var phase = Math.floor(s.elapsedMs / 800) % 3;
  if (phase === 0) return "right";
  return "straight";
}
`

// State is what the script sees each tick.
type State struct {
	X         float64
	Y         float64
	Heading   float64
	ElapsedMs int64
	Collected int
	Total     int
}

// Decision is the script's answer for one tick. Pointer is set only when
// the script returned {x, y}, which drives cursor rounds.
type Decision struct {
	Input   sim.Input
	Pointer *model.Position
}

// VM wraps a goja runtime with the sandbox restrictions applied.
type VM struct {
	mu      sync.Mutex
	runtime *goja.Runtime
	steer   goja.Callable

	logsMu sync.Mutex
	logs   []string
}

// NewVM runs source once and resolves its steer function.
func NewVM(source string) (*VM, error) {
	vm := &VM{runtime: goja.New()}
	vm.injectGlobals()

	err := vm.runWithTimeout(scriptInitTimeout, func() error {
		if _, err := vm.runtime.RunString(source); err != nil {
			return fmt.Errorf("pilot: script execution error: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	fn := vm.runtime.Get("steer")
	if fn == nil || goja.IsUndefined(fn) || goja.IsNull(fn) {
		return nil, ErrNoSteerFunc
	}
	callable, ok := goja.AssertFunction(fn)
	if !ok {
		return nil, ErrNoSteerFunc
	}
	vm.steer = callable
	return vm, nil
}

func (vm *VM) injectGlobals() {
	vm.runtime.Set("log", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		vm.logsMu.Lock()
		if len(vm.logs) >= maxLogs {
			vm.logs = vm.logs[1:]
		}
		vm.logs = append(vm.logs, strings.Join(parts, " "))
		vm.logsMu.Unlock()
		return goja.Undefined()
	})
	console := vm.runtime.NewObject()
	console.Set("log", vm.runtime.Get("log"))
	vm.runtime.Set("console", console)

	vm.runtime.Set("require", goja.Undefined())
	vm.runtime.Set("fetch", goja.Undefined())
	vm.runtime.Set("eval", goja.Undefined())
	vm.runtime.Set("Function", goja.Undefined())
}

// Steer calls steer(state) and decodes its result. Accepted results are
// "left", "right", "straight", a number (<0 left, >0 right), {left, right}
// or {x, y}.
func (vm *VM) Steer(s State) (Decision, error) {
	var out Decision
	err := vm.runWithTimeout(scriptCallTimeout, func() error {
		arg := vm.runtime.NewObject()
		arg.Set("x", s.X)
		arg.Set("y", s.Y)
		arg.Set("heading", s.Heading)
		arg.Set("elapsedMs", s.ElapsedMs)
		arg.Set("collected", s.Collected)
		arg.Set("total", s.Total)

		res, err := vm.steer(goja.Undefined(), arg)
		if err != nil {
			return fmt.Errorf("pilot: steer() error: %w", err)
		}
		out, err = decode(res)
		return err
	})
	return out, err
}

func decode(v goja.Value) (Decision, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return Decision{}, nil
	}
	switch x := v.Export().(type) {
	case string:
		switch strings.ToLower(x) {
		case "left":
			return Decision{Input: sim.Input{Left: true}}, nil
		case "right":
			return Decision{Input: sim.Input{Right: true}}, nil
		case "straight", "":
			return Decision{}, nil
		}
		return Decision{}, fmt.Errorf("pilot: unknown steer result %q", x)
	case int64:
		return Decision{Input: sim.Input{Left: x < 0, Right: x > 0}}, nil
	case float64:
		return Decision{Input: sim.Input{Left: x < 0, Right: x > 0}}, nil
	case bool:
		return Decision{}, fmt.Errorf("pilot: steer returned a boolean")
	case map[string]any:
		if px, ok := x["x"]; ok {
			py, ok := x["y"]
			if !ok {
				return Decision{}, fmt.Errorf("pilot: pointer result needs both x and y")
			}
			return Decision{Pointer: &model.Position{X: toFloat(px), Y: toFloat(py)}}, nil
		}
		return Decision{Input: sim.Input{Left: truthy(x["left"]), Right: truthy(x["right"])}}, nil
	}
	return Decision{}, fmt.Errorf("pilot: unsupported steer result %v", v)
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	}
	return 0
}

func truthy(v any) bool {
	b, _ := v.(bool)
	return b
}

// Logs returns the lines the script wrote with log().
func (vm *VM) Logs() []string {
	vm.logsMu.Lock()
	defer vm.logsMu.Unlock()
	out := make([]string, len(vm.logs))
	copy(out, vm.logs)
	return out
}

func (vm *VM) runWithTimeout(timeout time.Duration, fn func() error) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		vm.runtime.Interrupt("script execution timeout")
		err := <-done
		vm.runtime.ClearInterrupt()
		if err != nil {
			return fmt.Errorf("pilot: script timed out: %w", err)
		}
		return fmt.Errorf("pilot: script timed out")
	}
}
