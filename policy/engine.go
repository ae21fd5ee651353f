package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Decisions returned by the upload policy.
const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
)

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.upload_policy.result"),
		rego.Module("upload_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// UploadInput describes an audio upload waiting for admission.
type UploadInput struct {
	Size        int64
	MaxBytes    int64
	Extension   string
	ContentType string
}

func (in UploadInput) toMap() map[string]interface{} {
	return map[string]interface{}{
		"size":         in.Size,
		"max_bytes":    in.MaxBytes,
		"extension":    in.Extension,
		"content_type": in.ContentType,
	}
}

// EvaluateUpload checks an audio upload against the policy.
func (e *Engine) EvaluateUpload(ctx context.Context, in UploadInput) (string, string, error) {
	return e.Evaluate(ctx, in.toMap())
}

// Evaluate runs the policy against input.
// Returns: decision (allow, block), reason (empty when allowed), error
func (e *Engine) Evaluate(ctx context.Context, input interface{}) (string, string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		// The policy defines a default, so an undefined result means a broken module.
		return DecisionBlock, "policy returned no result", nil
	}

	obj, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return DecisionBlock, "unexpected policy result", nil
	}
	decision, _ := obj["decision"].(string)
	reason, _ := obj["reason"].(string)
	if decision == "" {
		decision = DecisionBlock
	}
	return decision, reason, nil
}

// DefaultPolicy is the default upload policy.
const DefaultPolicy = `
package upload_policy

allowed_extensions = {".webm", ".wav", ".ogg", ".mp3", ".m4a", ".mp4", ".aac"}

deny[reason] {
	input.size > input.max_bytes
	reason := sprintf("File size exceeds %vMB limit", [input.max_bytes / 1048576])
}

deny[reason] {
	input.size <= 0
	reason := "File is empty"
}

deny[reason] {
	not allowed_extensions[input.extension]
	reason := sprintf("Unsupported audio format %s", [input.extension])
}

default decision = "allow"

decision = "block" {
	count(deny) > 0
}

result = {"decision": decision, "reason": concat("; ", deny)}
`
