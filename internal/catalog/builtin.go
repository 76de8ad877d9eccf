package catalog

import (
	"context"
	"encoding/json"

	"github.com/helixsec/studio-go/pkg/types"
)

// StaticSource serves a fixed descriptor set. Suitable for testing and
// for the built-in node palette.
type StaticSource struct {
	descs []types.NodeTypeDescriptor
}

// NewStaticSource creates a source over the given descriptors.
func NewStaticSource(descs []types.NodeTypeDescriptor) *StaticSource {
	return &StaticSource{descs: descs}
}

// Fetch returns the descriptor set.
func (s *StaticSource) Fetch(ctx context.Context) ([]types.NodeTypeDescriptor, error) {
	out := make([]types.NodeTypeDescriptor, len(s.descs))
	copy(out, s.descs)
	return out, nil
}

// NewBuiltinSource returns the built-in security-console node palette.
func NewBuiltinSource() *StaticSource {
	return NewStaticSource(builtinNodeTypes())
}

func inPort(id, name, portType string, required bool) types.PortDef {
	return types.PortDef{ID: id, Name: name, PortType: portType, Required: required}
}

func builtinNodeTypes() []types.NodeTypeDescriptor {
	return []types.NodeTypeDescriptor{
		{
			NodeType:    "start",
			Label:       "Start",
			Category:    "control",
			Description: "Entry point; emits an empty payload",
			OutputPorts: []types.PortDef{inPort("out", "Output", "json", false)},
		},
		{
			NodeType:    "tool::http_request",
			Label:       "HTTP Request",
			Category:    "tools",
			Description: "Send an HTTP request to a target",
			InputPorts:  []types.PortDef{inPort("in", "Input", "json", false)},
			OutputPorts: []types.PortDef{inPort("out", "Response", "json", false)},
			ParamFields: []types.ParamField{
				{Key: "url", Label: "URL", Kind: types.ParamString, Required: true},
				{Key: "method", Label: "Method", Kind: types.ParamEnum, Options: []string{"GET", "POST", "PUT", "DELETE", "HEAD"}, Default: json.RawMessage(`"GET"`)},
				{Key: "headers", Label: "Headers", Kind: types.ParamObject},
				{Key: "body", Label: "Body", Kind: types.ParamString},
				{Key: "timeout_seconds", Label: "Timeout (s)", Kind: types.ParamNumber, Default: json.RawMessage(`10`)},
				{Key: "follow_redirects", Label: "Follow redirects", Kind: types.ParamBoolean, Default: json.RawMessage(`true`)},
			},
			ParamSchema: json.RawMessage(`{
				"type": "object",
				"required": ["url"],
				"properties": {
					"url": {"type": "string", "minLength": 1},
					"method": {"type": "string", "enum": ["GET", "POST", "PUT", "DELETE", "HEAD"]},
					"headers": {"type": "object"},
					"body": {"type": "string"},
					"timeout_seconds": {"type": "number", "minimum": 0},
					"follow_redirects": {"type": "boolean"}
				}
			}`),
		},
		{
			NodeType:    "tool::port_scan",
			Label:       "Port Scan",
			Category:    "tools",
			Description: "Scan a host for open TCP ports",
			InputPorts:  []types.PortDef{inPort("in", "Target", "string", true)},
			OutputPorts: []types.PortDef{inPort("out", "Open ports", "array", false)},
			ParamFields: []types.ParamField{
				{Key: "host", Label: "Host", Kind: types.ParamString, Required: true},
				{Key: "ports", Label: "Ports", Kind: types.ParamArray},
				{Key: "concurrency", Label: "Concurrency", Kind: types.ParamNumber, Default: json.RawMessage(`64`)},
			},
			ParamSchema: json.RawMessage(`{
				"type": "object",
				"required": ["host"],
				"properties": {
					"host": {"type": "string", "minLength": 1},
					"ports": {"type": "array", "items": {"type": ["string", "integer"]}},
					"concurrency": {"type": "number", "minimum": 1}
				}
			}`),
		},
		{
			NodeType:    "tool::subdomain_enum",
			Label:       "Subdomain Enumeration",
			Category:    "tools",
			Description: "Enumerate subdomains from a wordlist",
			InputPorts:  []types.PortDef{inPort("in", "Domain", "string", true)},
			OutputPorts: []types.PortDef{inPort("out", "Subdomains", "array", false)},
			ParamFields: []types.ParamField{
				{Key: "domain", Label: "Domain", Kind: types.ParamString, Required: true},
				{Key: "wordlist", Label: "Wordlist", Kind: types.ParamArray},
			},
			ParamSchema: json.RawMessage(`{
				"type": "object",
				"required": ["domain"],
				"properties": {
					"domain": {"type": "string", "minLength": 1},
					"wordlist": {"type": "array", "items": {"type": "string"}}
				}
			}`),
		},
		{
			NodeType:    "branch",
			Label:       "Branch",
			Category:    "control",
			Description: "Route flow by a boolean expression",
			InputPorts:  []types.PortDef{inPort("in", "Input", "json", true)},
			OutputPorts: []types.PortDef{
				inPort("true", "True", "json", false),
				inPort("false", "False", "json", false),
			},
			ParamFields: []types.ParamField{
				{Key: "expr", Label: "Expression", Kind: types.ParamString, Default: json.RawMessage(`"true"`)},
			},
			ParamSchema: json.RawMessage(`{
				"type": "object",
				"properties": {"expr": {"type": "string"}}
			}`),
		},
		{
			NodeType:    "merge",
			Label:       "Merge",
			Category:    "control",
			Description: "Merge upstream results into one object keyed by port",
			InputPorts: []types.PortDef{
				inPort("a", "A", "json", false),
				inPort("b", "B", "json", false),
			},
			OutputPorts: []types.PortDef{inPort("out", "Merged", "json", false)},
		},
		{
			NodeType:    "delay",
			Label:       "Delay",
			Category:    "control",
			Description: "Pause before passing the input through",
			InputPorts:  []types.PortDef{inPort("in", "Input", "json", false)},
			OutputPorts: []types.PortDef{inPort("out", "Output", "json", false)},
			ParamFields: []types.ParamField{
				{Key: "delay_ms", Label: "Delay (ms)", Kind: types.ParamNumber, Default: json.RawMessage(`1000`)},
			},
			ParamSchema: json.RawMessage(`{
				"type": "object",
				"properties": {"delay_ms": {"type": "number", "minimum": 0}}
			}`),
		},
		{
			NodeType:    "echo",
			Label:       "Echo",
			Category:    "control",
			Description: "Repeat the input, or a fixed message when nothing is wired in",
			InputPorts:  []types.PortDef{inPort("in", "Input", "json", false)},
			OutputPorts: []types.PortDef{inPort("out", "Output", "json", false)},
			ParamFields: []types.ParamField{
				{Key: "message", Label: "Message", Kind: types.ParamString},
			},
			ParamSchema: json.RawMessage(`{
				"type": "object",
				"properties": {"message": {"type": "string"}}
			}`),
		},
		{
			NodeType:    "retry",
			Label:       "Retry",
			Category:    "control",
			Description: "Retry a tool call with a fixed delay",
			InputPorts:  []types.PortDef{inPort("in", "Input", "json", false)},
			OutputPorts: []types.PortDef{inPort("out", "Result", "json", false)},
			ParamFields: []types.ParamField{
				{Key: "times", Label: "Attempts", Kind: types.ParamNumber, Default: json.RawMessage(`3`)},
				{Key: "delay_ms", Label: "Delay (ms)", Kind: types.ParamNumber, Default: json.RawMessage(`500`)},
				{Key: "tool_name", Label: "Tool", Kind: types.ParamString},
				{Key: "tool_params", Label: "Tool params", Kind: types.ParamObject},
			},
			ParamSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"times": {"type": "number", "minimum": 1, "maximum": 10},
					"delay_ms": {"type": "number", "minimum": 0},
					"tool_name": {"type": "string"},
					"tool_params": {"type": "object"}
				}
			}`),
		},
		{
			NodeType:    "notify",
			Label:       "Notify",
			Category:    "output",
			Description: "Send a notification through a configured channel",
			InputPorts:  []types.PortDef{inPort("in", "Content", "json", false)},
			OutputPorts: []types.PortDef{inPort("out", "Status", "json", false)},
			ParamFields: []types.ParamField{
				{Key: "title", Label: "Title", Kind: types.ParamString, Default: json.RawMessage(`"Workflow Notification"`)},
				{Key: "content", Label: "Content", Kind: types.ParamString},
				{Key: "channel", Label: "Channel", Kind: types.ParamEnum, Options: []string{"webhook", "email", "desktop"}, Default: json.RawMessage(`"webhook"`)},
				{Key: "use_input_as_content", Label: "Use input as content", Kind: types.ParamBoolean, Default: json.RawMessage(`false`)},
			},
			ParamSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"title": {"type": "string"},
					"content": {"type": "string"},
					"channel": {"type": "string", "enum": ["webhook", "email", "desktop"]},
					"use_input_as_content": {"type": "boolean"}
				}
			}`),
		},
		{
			NodeType:    "ai_chat",
			Label:       "AI Chat",
			Category:    "ai",
			Description: "Send a prompt to the configured model; {{input}} interpolates upstream data",
			InputPorts:  []types.PortDef{inPort("in", "Input", "json", false)},
			OutputPorts: []types.PortDef{inPort("out", "Response", "json", false)},
			ParamFields: []types.ParamField{
				{Key: "prompt", Label: "Prompt", Kind: types.ParamString, Required: true},
				{Key: "system_prompt", Label: "System prompt", Kind: types.ParamString},
				{Key: "provider", Label: "Provider", Kind: types.ParamEnum, Options: []string{"openai", "anthropic", "ollama"}},
				{Key: "model", Label: "Model", Kind: types.ParamString},
			},
			ParamSchema: json.RawMessage(`{
				"type": "object",
				"required": ["prompt"],
				"properties": {
					"prompt": {"type": "string", "minLength": 1},
					"system_prompt": {"type": "string"},
					"provider": {"type": "string"},
					"model": {"type": "string"}
				}
			}`),
		},
	}
}
