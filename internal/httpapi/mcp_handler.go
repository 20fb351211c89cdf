package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nodegate/nodegate/internal/invoke"
	"github.com/nodegate/nodegate/internal/registry"
)

const (
	mcpServerName         = "nodegate"
	mcpServerVersion      = "v0.1.0"
	mcpInvokeToolTitle    = "Invoke Node Command"
	mcpListNodesToolTitle = "List Connected Nodes"
	defaultMCPTimeoutMS   = 30000
)

type mcpInvokeToolInput struct {
	NodeID         string          `json:"node_id"`
	Command        string          `json:"command"`
	Params         json.RawMessage `json:"params,omitempty"`
	TimeoutMS      *int64          `json:"timeout_ms,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

type mcpInvokeToolOutput struct {
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type mcpListNodesToolInput struct {
	Page     *int `json:"page,omitempty"`
	PageSize *int `json:"page_size,omitempty"`
}

type mcpListNodesToolOutput struct {
	Nodes []registry.NodeView `json:"nodes"`
	Total int                 `json:"total"`
}

var mcpInvokeToolDescription = "Invokes a named command on a connected node and waits for its result. Use this for short, correlated request/response operations against a specific node. The call fails when the node is not connected, is at its pending-request ceiling, or does not answer within timeout_ms (1-600000, default 30000). Supply idempotency_key to make retries return the first result instead of re-executing."

var mcpListNodesToolDescription = "Lists nodes currently holding a live connection to the gateway, including their declared commands and capabilities. Use this to discover valid node_id values before invoking."

var mcpInvokeInputSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"required":             []string{"node_id", "command"},
	"properties": map[string]any{
		"node_id": map[string]any{
			"type":        "string",
			"description": "Identifier of the target node. Must be currently connected.",
		},
		"command": map[string]any{
			"type":        "string",
			"description": "Command name the node has declared support for.",
		},
		"params": map[string]any{
			"type":        "object",
			"description": "Optional JSON parameters passed to the command unchanged.",
		},
		"timeout_ms": map[string]any{
			"type":        "integer",
			"description": "Optional end-to-end timeout in milliseconds for this invoke.",
			"minimum":     minInvokeTimeoutMS,
			"maximum":     maxInvokeTimeoutMS,
			"default":     defaultMCPTimeoutMS,
		},
		"idempotency_key": map[string]any{
			"type":        "string",
			"description": "Optional deduplication key. Repeats within the cache window return the first result.",
		},
	},
}

var mcpInvokeOutputSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"required":             []string{"ok"},
	"properties": map[string]any{
		"ok": map[string]any{
			"type":        "boolean",
			"description": "Whether the node reported success.",
		},
		"payload": map[string]any{
			"description": "Result payload returned by the node, passed through unchanged.",
		},
	},
}

var mcpListNodesInputSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"properties": map[string]any{
		"page": map[string]any{
			"type":        "integer",
			"description": "Page number, starting at 1.",
			"minimum":     1,
			"default":     1,
		},
		"page_size": map[string]any{
			"type":        "integer",
			"description": "Nodes per page.",
			"minimum":     1,
			"maximum":     maxPageSize,
			"default":     20,
		},
	},
}

var mcpListNodesOutputSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"required":             []string{"nodes", "total"},
	"properties": map[string]any{
		"nodes": map[string]any{
			"type":        "array",
			"description": "Connected node snapshots.",
		},
		"total": map[string]any{
			"type":        "integer",
			"description": "Total number of connected nodes.",
		},
	},
}

// NewMCPHandler exposes the gateway as MCP tools over streamable HTTP.
func NewMCPHandler(store *registry.Store, dispatcher Dispatcher) http.Handler {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    mcpServerName,
		Version: mcpServerVersion,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Title:       mcpInvokeToolTitle,
		Name:        "invoke",
		Description: mcpInvokeToolDescription,
		Annotations: &mcp.ToolAnnotations{
			Title:           mcpInvokeToolTitle,
			DestructiveHint: boolPtr(true),
			OpenWorldHint:   boolPtr(true),
		},
		InputSchema:  mcpInvokeInputSchema,
		OutputSchema: mcpInvokeOutputSchema,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input mcpInvokeToolInput) (*mcp.CallToolResult, mcpInvokeToolOutput, error) {
		if strings.TrimSpace(input.NodeID) == "" {
			return nil, mcpInvokeToolOutput{}, invalidParamsError("node_id is required")
		}
		if strings.TrimSpace(input.Command) == "" {
			return nil, mcpInvokeToolOutput{}, invalidParamsError("command is required")
		}

		timeoutMS := int64(defaultMCPTimeoutMS)
		if input.TimeoutMS != nil {
			timeoutMS = *input.TimeoutMS
		}
		if timeoutMS < minInvokeTimeoutMS || timeoutMS > maxInvokeTimeoutMS {
			return nil, mcpInvokeToolOutput{}, invalidParamsError("timeout_ms must be between 1 and 600000")
		}
		if dispatcher == nil {
			return nil, mcpInvokeToolOutput{}, errors.New("invoke dispatcher is unavailable")
		}

		var params any
		if len(input.Params) > 0 {
			params = json.RawMessage(input.Params)
		}
		result, err := dispatcher.Invoke(ctx, invoke.Request{
			NodeID:         input.NodeID,
			Command:        input.Command,
			Params:         params,
			Timeout:        time.Duration(timeoutMS) * time.Millisecond,
			IdempotencyKey: input.IdempotencyKey,
		})
		if err != nil {
			return nil, mcpInvokeToolOutput{}, mapMCPInvokeError(err)
		}
		if !result.OK && result.Error != nil {
			if gatewayFailureCode(result.Error.Code) {
				return nil, mcpInvokeToolOutput{}, errors.New(mcpFailureMessage(result.Error.Code, result.Error.Message))
			}
		}
		return nil, mcpInvokeToolOutput{OK: result.OK, Payload: resultPayload(result)}, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Title:       mcpListNodesToolTitle,
		Name:        "list_nodes",
		Description: mcpListNodesToolDescription,
		Annotations: &mcp.ToolAnnotations{
			Title:           mcpListNodesToolTitle,
			ReadOnlyHint:    true,
			IdempotentHint:  true,
			DestructiveHint: boolPtr(false),
			OpenWorldHint:   boolPtr(false),
		},
		InputSchema:  mcpListNodesInputSchema,
		OutputSchema: mcpListNodesOutputSchema,
	}, func(_ context.Context, _ *mcp.CallToolRequest, input mcpListNodesToolInput) (*mcp.CallToolResult, mcpListNodesToolOutput, error) {
		page := 1
		if input.Page != nil {
			page = *input.Page
		}
		pageSize := 20
		if input.PageSize != nil {
			pageSize = *input.PageSize
		}
		if page < 1 || pageSize < 1 || pageSize > maxPageSize {
			return nil, mcpListNodesToolOutput{}, invalidParamsError("page must be >= 1 and page_size between 1 and 100")
		}

		nodes, total := store.List(page, pageSize)
		return nil, mcpListNodesToolOutput{Nodes: nodes, Total: total}, nil
	})

	return mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return server
	}, &mcp.StreamableHTTPOptions{
		Stateless:    true,
		JSONResponse: true,
	})
}

func invalidParamsError(message string) error {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		trimmed = "invalid params"
	}
	return &jsonrpc.Error{
		Code:    jsonrpc.CodeInvalidParams,
		Message: trimmed,
	}
}

func mapMCPInvokeError(err error) error {
	switch {
	case errors.Is(err, invoke.ErrInvalidRequest):
		return invalidParamsError(err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return errors.New("invoke was cancelled")
	default:
		return errors.New("failed to invoke command")
	}
}

// gatewayFailureCode reports whether code names a gateway-side failure, as
// opposed to an application error the node itself returned.
func gatewayFailureCode(code string) bool {
	switch code {
	case invoke.CodeNotConnected, invoke.CodeOverloaded, invoke.CodeUnavailable,
		invoke.CodeTimeout, invoke.CodeNodeDisconnected:
		return true
	default:
		return false
	}
}

func mcpFailureMessage(code string, message string) string {
	if strings.TrimSpace(message) == "" {
		return code
	}
	return code + ": " + message
}

func resultPayload(result invoke.Result) json.RawMessage {
	if len(result.Payload) > 0 {
		return result.Payload
	}
	if result.PayloadJSON != nil {
		return json.RawMessage(*result.PayloadJSON)
	}
	return nil
}

func boolPtr(value bool) *bool {
	return &value
}
