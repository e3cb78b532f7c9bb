package observer

import (
	"context"

	"github.com/nevindra/hive"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Bridge subscribes the instruments to a swarm event stream so every
// execution feeds the OTEL metrics without instrumenting the engine
// itself. Returns the subscription id for EventLog.Unsubscribe.
func (inst *Instruments) Bridge(el *hive.EventLog) int {
	return el.Subscribe(nil, inst.record)
}

func (inst *Instruments) record(ev hive.Event) {
	ctx := context.Background()
	agent := attribute.String("agent", ev.Agent)

	switch ev.Type {
	case hive.EventAgentStart:
		inst.AgentExecutions.Add(ctx, 1, metric.WithAttributes(agent))

	case hive.EventOpenAIRequest:
		model, _ := ev.Field("model")
		inst.LLMRequests.Add(ctx, 1, metric.WithAttributes(
			agent, attribute.String("model", model)))

	case hive.EventOpenAIResponse:
		model, _ := ev.Field("model")
		input := payloadInt(ev, "input_tokens")
		output := payloadInt(ev, "output_tokens")
		modelAttr := attribute.String("model", model)
		inst.TokenUsage.Add(ctx, int64(input), metric.WithAttributes(
			modelAttr, attribute.String("direction", "input")))
		inst.TokenUsage.Add(ctx, int64(output), metric.WithAttributes(
			modelAttr, attribute.String("direction", "output")))
		if cost := inst.Cost.Calculate(model, input, output); cost > 0 {
			inst.CostTotal.Add(ctx, cost, metric.WithAttributes(modelAttr))
		}

	case hive.EventToolCall:
		tool, _ := ev.Field("tool")
		inst.ToolExecutions.Add(ctx, 1, metric.WithAttributes(
			agent, attribute.String("tool", tool)))

	case hive.EventToolError:
		tool, _ := ev.Field("tool")
		inst.ToolErrors.Add(ctx, 1, metric.WithAttributes(
			agent, attribute.String("tool", tool)))

	case hive.EventAgentDelegation:
		target, _ := ev.Field("delegate_to")
		inst.Delegations.Add(ctx, 1, metric.WithAttributes(
			agent, attribute.String("target", target)))

	case hive.EventContextCompression:
		inst.ContextCompressions.Add(ctx, 1, metric.WithAttributes(agent))
	}
}

func payloadInt(ev hive.Event, key string) int {
	switch v := ev.Payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
