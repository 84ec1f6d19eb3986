package executor

import (
	"fmt"
	"hash/fnv"

	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/flow"
)

// BuyerStrategy picks the next buyer for a routing attempt. Strategies may
// keep rotation state in the context's variable bag so selection stays a
// pure function of plan, context and event.
type BuyerStrategy interface {
	Select(node flow.BuyerNode, buyers []flow.Buyer, ctx *flow.ExecutionContext) *flow.Buyer
}

// RoundRobinStrategy cycles through buyers in declaration order, one per
// visit to the node.
type RoundRobinStrategy struct{}

func (RoundRobinStrategy) Select(node flow.BuyerNode, buyers []flow.Buyer, ctx *flow.ExecutionContext) *flow.Buyer {
	if len(buyers) == 0 {
		return nil
	}

	key := rotationKey(node.ID)
	counter := intVar(ctx.Variables, key)
	ctx.Variables[key] = counter + 1

	return &buyers[counter%len(buyers)]
}

// WeightedRandomStrategy picks proportionally to buyer weight. The draw is
// seeded from the call id, node id and visit counter, so the same call
// replayed against the same plan selects the same buyer.
type WeightedRandomStrategy struct{}

func (WeightedRandomStrategy) Select(node flow.BuyerNode, buyers []flow.Buyer, ctx *flow.ExecutionContext) *flow.Buyer {
	total := 0

	for _, b := range buyers {
		if b.Weight > 0 {
			total += b.Weight
		}
	}

	if total == 0 {
		return nil
	}

	key := rotationKey(node.ID)
	counter := intVar(ctx.Variables, key)
	ctx.Variables[key] = counter + 1

	h := fnv.New64a()
	fmt.Fprintf(h, "%s/%s/%d", ctx.CallID, node.ID, counter)

	draw := int(h.Sum64() % uint64(total))

	for i := range buyers {
		if buyers[i].Weight <= 0 {
			continue
		}

		draw -= buyers[i].Weight
		if draw < 0 {
			return &buyers[i]
		}
	}

	return &buyers[len(buyers)-1]
}

// LeastCallsStrategy picks the buyer with the fewest routed calls, reading
// counts the engine folds into the "buyerCalls" variable. Ties and missing
// counts resolve to declaration order.
type LeastCallsStrategy struct{}

func (LeastCallsStrategy) Select(node flow.BuyerNode, buyers []flow.Buyer, ctx *flow.ExecutionContext) *flow.Buyer {
	if len(buyers) == 0 {
		return nil
	}

	counts, _ := ctx.Variables["buyerCalls"].(map[string]any)

	best := 0
	bestCalls := buyerCalls(counts, buyers[0].ID)

	for i := 1; i < len(buyers); i++ {
		if c := buyerCalls(counts, buyers[i].ID); c < bestCalls {
			best, bestCalls = i, c
		}
	}

	return &buyers[best]
}

func rotationKey(nodeID string) string {
	return "buyerRotation." + nodeID
}

func intVar(vars map[string]any, key string) int {
	switch v := vars[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func buyerCalls(counts map[string]any, buyerID string) int {
	if counts == nil {
		return 0
	}

	return intVar(counts, buyerID)
}

func defaultStrategies() map[flow.RoutingStrategy]BuyerStrategy {
	return map[flow.RoutingStrategy]BuyerStrategy{
		flow.StrategyRoundRobin:     RoundRobinStrategy{},
		flow.StrategyWeightedRandom: WeightedRandomStrategy{},
		flow.StrategyLeastCalls:     LeastCallsStrategy{},
	}
}
