package taskengine

import (
	"context"

	"github.com/AvaProtocol/chainflow/core/taskengine/customcode"
	"github.com/AvaProtocol/chainflow/model"
)

// CustomLogicProcessor runs a user logic block. The definition is read
// from the raw node config so script bodies are never template rendered;
// the rendered inputs are what the script sees.
type CustomLogicProcessor struct {
	interpreter *customcode.Interpreter
}

func NewCustomLogicProcessor(interpreter *customcode.Interpreter) *CustomLogicProcessor {
	if interpreter == nil {
		interpreter = customcode.NewInterpreter(nil, 0, nil)
	}
	return &CustomLogicProcessor{interpreter: interpreter}
}

func (p *CustomLogicProcessor) Execute(ctx context.Context, node *model.WorkflowNode, ec *ExecutionContext) *NodeResult {
	rb := newResultBuilder("")

	raw := node.Config
	if logic, ok := node.Config["logic"].(map[string]any); ok {
		raw = logic
	}
	def := &customcode.Definition{}
	if err := decodeNodeConfig(raw, def); err != nil {
		return rb.fail(err)
	}

	res := p.interpreter.Execute(ctx, def, ec.Inputs)
	for _, line := range res.Logs {
		ec.log().Infof("%s", line)
	}

	output := map[string]any{
		"outputs": res.Outputs,
		"logs":    res.Logs,
	}
	if !res.Success {
		return rb.failWith(res.Err, output)
	}
	return rb.ok(output)
}
