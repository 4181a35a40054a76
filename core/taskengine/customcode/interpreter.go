package customcode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"
	"github.com/dop251/goja"

	"github.com/AvaProtocol/chainflow/core/taskengine/macros"
	"github.com/AvaProtocol/chainflow/core/taskengine/modules"
	"github.com/AvaProtocol/chainflow/pkg/logger"
)

const DefaultTimeout = 5 * time.Second

// Result of one logic block. Outputs is empty whenever Success is false.
type Result struct {
	Success bool           `json:"success"`
	Outputs map[string]any `json:"outputs"`
	Error   string         `json:"error,omitempty"`
	Logs    []string       `json:"logs"`

	Err error `json:"-"`
}

// Interpreter runs logic blocks. Scripts get a fresh goja runtime per call
// holding only inputs, outputs, log/console.log and require for the builtin
// modules; nothing from the host process is reachable.
type Interpreter struct {
	modules *modules.Registry
	timeout time.Duration
	logger  sdklogging.Logger
}

func NewInterpreter(reg *modules.Registry, timeout time.Duration, log sdklogging.Logger) *Interpreter {
	if reg == nil {
		reg = modules.NewDefaultRegistry()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Interpreter{modules: reg, timeout: timeout, logger: logger.EnsureLogger(log)}
}

// Execute never returns an error: failures are reported in the result.
func (i *Interpreter) Execute(ctx context.Context, def *Definition, inputs map[string]any) *Result {
	res := &Result{Outputs: map[string]any{}, Logs: []string{}}

	fail := func(err error) *Result {
		res.Success = false
		res.Err = err
		res.Error = err.Error()
		res.Outputs = map[string]any{}
		return res
	}

	if err := def.Validate(); err != nil {
		return fail(err)
	}
	if inputs == nil {
		inputs = map[string]any{}
	}

	var (
		produced map[string]any
		err      error
	)
	switch def.Kind {
	case KindScript:
		produced, err = i.runScript(ctx, def.Code, inputs, &res.Logs)
	case KindJSONTransform:
		v := macros.ApplyJSONTemplate(def.Template, inputs)
		if m, ok := v.(map[string]any); ok {
			produced = m
		} else {
			produced = map[string]any{"result": v}
		}
	case KindTemplate:
		produced = map[string]any{"result": macros.ApplyStringTemplate(def.Template.(string), inputs)}
	case KindCondition:
		var ok bool
		ok, err = macros.EvalCondition(def.Code, inputs)
		produced = map[string]any{"result": ok}
	}
	if err != nil {
		return fail(err)
	}

	outputs, err := ApplyOutputContract(def.Outputs, produced)
	if err != nil {
		return fail(err)
	}

	res.Success = true
	res.Outputs = outputs
	return res
}

// ApplyOutputContract keeps declared outputs only. A declared output the
// script set, even to null, passes through. A missing required output is an
// error and defaults only fill in missing optional ones. Without
// declarations everything passes through.
func ApplyOutputContract(decls []OutputDecl, produced map[string]any) (map[string]any, error) {
	if len(decls) == 0 {
		if produced == nil {
			return map[string]any{}, nil
		}
		return produced, nil
	}

	out := make(map[string]any, len(decls))
	for _, d := range decls {
		if v, ok := produced[d.Name]; ok {
			out[d.Name] = v
			continue
		}
		if d.Required {
			return nil, &MissingRequiredOutputError{Output: d.Name}
		}
		if d.Default != nil {
			out[d.Name] = d.Default
		}
	}
	return out, nil
}

// cloneInputs gives the script its own copy so writes never reach the
// caller's maps
func cloneInputs(inputs map[string]any) map[string]any {
	b, err := json.Marshal(inputs)
	if err != nil {
		return map[string]any{}
	}
	out := map[string]any{}
	if err := json.Unmarshal(b, &out); err != nil {
		return map[string]any{}
	}
	return out
}

func formatLogArgs(args []goja.Value) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		exported := a.Export()
		if s, ok := exported.(string); ok {
			parts = append(parts, s)
			continue
		}
		parts = append(parts, macros.Stringify(exported))
	}
	return strings.Join(parts, " ")
}

func (i *Interpreter) runScript(ctx context.Context, code string, inputs map[string]any, logs *[]string) (map[string]any, error) {
	vm := goja.New()
	macros.ConfigureGojaRuntime(vm)

	var logMu sync.Mutex
	logFn := func(call goja.FunctionCall) goja.Value {
		line := formatLogArgs(call.Arguments)
		logMu.Lock()
		*logs = append(*logs, line)
		logMu.Unlock()
		return goja.Undefined()
	}

	outputs := vm.NewObject()
	console := vm.NewObject()
	if err := console.Set("log", logFn); err != nil {
		return nil, err
	}

	for name, value := range map[string]any{
		"inputs":  vm.ToValue(cloneInputs(inputs)),
		"outputs": outputs,
		"log":     logFn,
		"console": console,
		"require": i.modules.RequireFunction(vm),
	} {
		if err := vm.Set(name, value); err != nil {
			return nil, err
		}
	}

	done := make(chan struct{})
	defer close(done)
	timer := time.AfterFunc(i.timeout, func() {
		vm.Interrupt("execution exceeded " + i.timeout.String())
	})
	defer timer.Stop()
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err().Error())
		case <-done:
		}
	}()

	returned, err := vm.RunString("(function() {\n" + code + "\n})()")
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, &ScriptError{Message: fmt.Sprint(interrupted.Value()), Timeout: true}
		}
		var exception *goja.Exception
		if errors.As(err, &exception) {
			return nil, &ScriptError{Message: exception.Value().String()}
		}
		return nil, &ScriptError{Message: err.Error()}
	}

	produced := map[string]any{}
	// a returned object is merged under anything assigned to outputs
	if returned != nil && !goja.IsUndefined(returned) && !goja.IsNull(returned) {
		if m, ok := returned.Export().(map[string]any); ok {
			for k, v := range m {
				produced[k] = v
			}
		} else {
			produced["result"] = returned.Export()
		}
	}
	if m, ok := outputs.Export().(map[string]any); ok {
		for k, v := range m {
			produced[k] = v
		}
	}

	return produced, nil
}
