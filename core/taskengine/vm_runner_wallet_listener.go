package taskengine

import (
	"context"
	"strings"

	"github.com/samber/lo"

	"github.com/AvaProtocol/chainflow/core/taskengine/tokens"
	"github.com/AvaProtocol/chainflow/core/taskengine/trigger"
	"github.com/AvaProtocol/chainflow/model"
)

// WalletListenerProcessor runs one poll of a wallet listener node. The
// cursor state comes in through ExecutionContext.PreviousState and leaves
// in the "state" output, so the handler itself holds nothing between runs.
type WalletListenerProcessor struct {
	listener *trigger.WalletListener
}

func NewWalletListenerProcessor(chains ChainProvider, tokenService *tokens.Service, opts *trigger.ListenerOption) *WalletListenerProcessor {
	o := trigger.ListenerOption{}
	if opts != nil {
		o = *opts
	}
	if o.NativeCurrency == nil {
		o.NativeCurrency = func(network string) trigger.NativeCurrency {
			cfg, err := chains.Network(network)
			if err != nil {
				return trigger.NativeCurrency{Symbol: "ETH", Decimals: 18}
			}
			return trigger.NativeCurrency{Symbol: cfg.NativeSymbol, Decimals: cfg.NativeDecimals}
		}
	}

	resolve := func(ctx context.Context, network string) (trigger.ChainReader, error) {
		reader, err := chains.EVM(ctx, network)
		if err != nil {
			return nil, err
		}
		return reader, nil
	}

	return &WalletListenerProcessor{
		listener: trigger.NewWalletListener(resolve, tokenService, &o),
	}
}

func (p *WalletListenerProcessor) Execute(ctx context.Context, node *model.WorkflowNode, ec *ExecutionContext) *NodeResult {
	cfg := &trigger.WalletListenerConfig{}
	if err := decodeNodeConfig(ec.Inputs, cfg); err != nil {
		return newResultBuilder("").fail(err)
	}
	rb := newResultBuilder(strings.Join(cfg.Networks, ","))
	if err := cfg.Validate(); err != nil {
		return rb.fail(NewConfigurationError(err.Error()))
	}

	prev := trigger.StateFromOutput(ec.PreviousState)
	res := p.listener.Poll(ctx, cfg, prev)

	events := lo.Map(res.Events, func(e *trigger.EnrichedEvent, _ int) map[string]any {
		return e.ToMap()
	})
	output := map[string]any{
		"events":     events,
		"eventCount": len(events),
		"state":      res.State.ToMap(),
	}
	if len(res.Errors) > 0 {
		output["errors"] = res.Errors
		ec.log().Warnf("wallet poll finished with errors: %s", res.ErrorSummary())
	}
	ec.log().Infof("wallet poll found %d events", len(events))

	if res.IsConfigError() {
		return rb.failWith(NewConfigurationError(res.Errors["config"]), output)
	}
	if !res.Success {
		return rb.failWith(NewStructuredError(ErrCodeRPCError, "wallet poll failed: "+res.ErrorSummary()), output)
	}
	return rb.ok(output)
}
