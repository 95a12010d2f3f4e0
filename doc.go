// Package agentguard mediates AI agent tool calls through declarative
// policies with human-in-the-loop approval.
//
// A Guard loads a policy (YAML or JSON), wraps tool functions via Protect,
// and evaluates every call before the tool runs: allowed calls pass through
// verbatim, blocked calls fail with a PolicyViolationError without invoking
// the tool, and require_approval calls are published to an approval webhook
// and held until a human decides or the timeout elapses.
//
//	g, err := agentguard.New(agentguard.WithPolicyFile("policy.yaml"))
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := g.Initialize(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer g.Close()
//
//	transfer, err := g.Protect("transfer", transferFunc,
//		agentguard.WithAgentID("agent-1"),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	result, err := transfer.Call(ctx, map[string]any{"amount": 50})
//
// Webhook deliveries are HMAC-SHA-256 signed and optionally AES-256-GCM
// encrypted per field; inbound approval responses are verified the same way
// before they resolve a pending request. The approver side of the wire
// contract is implemented by the companion module github.com/agentguard/sdk-go.
package agentguard
