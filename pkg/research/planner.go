package research

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tmc/langchaingo/llms"
)

var errNoJSONObject = errors.New("no JSON object in planner reply")

// Plan decomposes query into research sub-questions. It never fails: any
// model, parse or shape problem yields the fixed fallback questions, and
// the returned list is never empty.
func (e *Engine) Plan(ctx context.Context, query string) Plan {
	reply, err := e.generate(ctx, "plan", e.cfg().LLMTimeout, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, plannerPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, query),
	})
	if err != nil {
		e.log().Warn("Planner call failed, using fallback questions", "error", err)
		return fallbackPlan()
	}

	plan, err := ParsePlan(reply)
	if err != nil {
		e.log().Warn("Planner reply unusable, using fallback questions", "error", err, "reply", reply)
		return fallbackPlan()
	}

	e.log().Info("Generated sub-questions", "count", len(plan.SubQuestions), "questions", plan.SubQuestions)
	return plan
}

// ParsePlan extracts a Plan from a model reply. The reply is parsed as a
// JSON object, or failing that the text between its first '{' and last
// '}'. A missing or empty sub_questions list is replaced by the fallback
// questions; a top-level "error" key is surfaced in Plan.Error.
func ParsePlan(reply string) (Plan, error) {
	doc, err := extractObject(reply)
	if err != nil {
		return Plan{}, err
	}

	var plan Plan
	if marker := doc.Get("error"); marker.Exists() {
		plan.Error = marker.String()
		if plan.Error == "" {
			plan.Error = marker.Raw
		}
	}

	plan.SubQuestions = subQuestions(doc.Get("sub_questions"))
	if len(plan.SubQuestions) == 0 {
		if plan.Error != "" {
			plan.SubQuestions = fallbackQuestionList()
			return plan, nil
		}
		return Plan{}, fmt.Errorf("planner reply has no sub_questions")
	}
	return plan, nil
}

// DecodeSubQuestions reads a user-supplied question list: either a JSON
// array or an object with a sub_questions array. Items may be strings or
// objects with a "question" field.
func DecodeSubQuestions(raw []byte) ([]string, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("question list is not valid JSON")
	}
	doc := gjson.ParseBytes(raw)
	if doc.IsObject() {
		doc = doc.Get("sub_questions")
	}
	if !doc.IsArray() {
		return nil, fmt.Errorf("question list must be an array")
	}
	return subQuestions(doc), nil
}

func extractObject(reply string) (gjson.Result, error) {
	candidate := strings.TrimSpace(reply)
	if !gjson.Valid(candidate) {
		start := strings.Index(candidate, "{")
		end := strings.LastIndex(candidate, "}")
		if start < 0 || end <= start {
			return gjson.Result{}, errNoJSONObject
		}
		candidate = candidate[start : end+1]
		if !gjson.Valid(candidate) {
			return gjson.Result{}, fmt.Errorf("planner reply contains invalid JSON")
		}
	}

	doc := gjson.Parse(candidate)
	if !doc.IsObject() {
		return gjson.Result{}, errNoJSONObject
	}
	return doc, nil
}

// subQuestions flattens a JSON array of strings or {question} objects.
// Objects without a question field are kept as their raw JSON text.
func subQuestions(arr gjson.Result) []string {
	if !arr.IsArray() {
		return nil
	}
	var out []string
	for _, item := range arr.Array() {
		var q string
		if item.IsObject() {
			if v := item.Get("question"); v.Exists() {
				q = v.String()
			} else {
				q = item.Raw
			}
		} else {
			q = item.String()
		}
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	return out
}

func fallbackQuestionList() []string {
	return append([]string(nil), fallbackQuestions...)
}

func fallbackPlan() Plan {
	return Plan{SubQuestions: fallbackQuestionList()}
}
