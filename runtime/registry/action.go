package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// ActionType partitions the registry key space. The values are part of the
// key format and must not change.
type ActionType string

const (
	// ActionTypeCustom is for actions outside the built-in taxonomy.
	ActionTypeCustom ActionType = "custom"
	// ActionTypeEmbedder computes vector embeddings.
	ActionTypeEmbedder ActionType = "embedder"
	// ActionTypeEvaluator scores outputs.
	ActionTypeEvaluator ActionType = "evaluator"
	// ActionTypeExecutablePrompt renders and runs a prompt.
	ActionTypeExecutablePrompt ActionType = "executable-prompt"
	// ActionTypeFlow is a user-defined orchestration entry point.
	ActionTypeFlow ActionType = "flow"
	// ActionTypeIndexer writes documents into a search index.
	ActionTypeIndexer ActionType = "indexer"
	// ActionTypeModel generates content.
	ActionTypeModel ActionType = "model"
	// ActionTypeReranker reorders retrieval results.
	ActionTypeReranker ActionType = "reranker"
	// ActionTypeRetriever fetches documents.
	ActionTypeRetriever ActionType = "retriever"
	// ActionTypeTool is a function callable by models.
	ActionTypeTool ActionType = "tool"
	// ActionTypeUtil is internal helper machinery.
	ActionTypeUtil ActionType = "util"
)

type (
	// Action is the type-erased interface the registry stores. The action
	// package provides the generic implementation; the registry only needs
	// JSON-level execution for reflection-style callers.
	Action interface {
		// Name returns the action name, including the namespace when present,
		// e.g. "googleai/gemini-2.0".
		Name() string
		// RunJSON executes the action with a JSON-encoded input and returns
		// the JSON-encoded output. cb receives streamed chunks and may be nil
		// when the caller does not stream.
		RunJSON(ctx context.Context, input json.RawMessage, cb StreamCallbackJSON) (json.RawMessage, error)
		// Desc describes the action for listing and external tooling.
		Desc() ActionDesc
	}

	// StreamCallbackJSON receives JSON-encoded stream chunks during RunJSON.
	StreamCallbackJSON func(context.Context, json.RawMessage) error

	// ActionDesc is the lightweight, serializable description of an action.
	// Plugins with large catalogs return these without instantiating actions.
	ActionDesc struct {
		// Type is the action's registry partition.
		Type ActionType `json:"type"`
		// Key is the full registry key, "/<type>[/<namespace>]/<name>".
		Key string `json:"key"`
		// Name is the action name including any namespace.
		Name string `json:"name"`
		// Description is human-readable documentation.
		Description string `json:"description,omitempty"`
		// Metadata carries arbitrary action metadata.
		Metadata map[string]any `json:"metadata,omitempty"`
		// InputSchema is the JSON schema for inputs, nil when unconstrained.
		InputSchema json.RawMessage `json:"inputSchema,omitempty"`
		// OutputSchema is the JSON schema for outputs, nil when unconstrained.
		OutputSchema json.RawMessage `json:"outputSchema,omitempty"`
		// StreamSchema is the JSON schema for stream chunks, nil when the
		// action does not declare one.
		StreamSchema json.RawMessage `json:"streamSchema,omitempty"`
	}
)

// Key builds the registry key for an action. The name may itself carry a
// namespace ("googleai/gemini-2.0") in which case namespace is left empty.
func Key(atype ActionType, namespace, name string) string {
	if namespace != "" {
		return "/" + string(atype) + "/" + namespace + "/" + name
	}
	return "/" + string(atype) + "/" + name
}

// ParseKey splits a registry key into its action type and the remainder,
// which is the action name including any namespace segment.
func ParseKey(key string) (ActionType, string, error) {
	if !strings.HasPrefix(key, "/") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	rest := key[1:]
	i := strings.Index(rest, "/")
	if i <= 0 || i == len(rest)-1 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return ActionType(rest[:i]), rest[i+1:], nil
}

// namespaceOf returns the namespace segment of a key remainder, "" when the
// name is not namespaced.
func namespaceOf(remainder string) string {
	if i := strings.Index(remainder, "/"); i > 0 {
		return remainder[:i]
	}
	return ""
}
