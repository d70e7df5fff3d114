package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

// Answer is one normalized student answer. Only the field that matches
// Type is meaningful. An absent map entry means "unanswered"; a present
// Answer with a zero value is an explicit empty answer.
type Answer struct {
	Type    QuestionType
	Choices []int  // mcq
	YesNo   bool   // yesno
	Text    string // essay, math
}

// Value returns the answer in the bare shape clients send.
func (a Answer) Value() any {
	switch a.Type {
	case QuestionMCQ:
		if a.Choices == nil {
			return []int{}
		}
		return a.Choices
	case QuestionYesNo:
		return a.YesNo
	default:
		return a.Text
	}
}

// String renders the answer for prompts and reports.
func (a Answer) String() string {
	switch a.Type {
	case QuestionMCQ:
		parts := make([]string, len(a.Choices))
		for i, c := range a.Choices {
			parts[i] = strconv.Itoa(c)
		}
		return strings.Join(parts, ",")
	case QuestionYesNo:
		if a.YesNo {
			return "yes"
		}
		return "no"
	default:
		return a.Text
	}
}

type answerEnvelope struct {
	Type  QuestionType    `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON stores answers in the {value, type} envelope.
func (a Answer) MarshalJSON() ([]byte, error) {
	v, err := json.Marshal(a.Value())
	if err != nil {
		return nil, err
	}
	return json.Marshal(answerEnvelope{Type: a.Type, Value: v})
}

// UnmarshalJSON reads the stored envelope. It is lenient about the value
// shape; unknown shapes decode to the zero answer of the recorded type.
func (a *Answer) UnmarshalJSON(data []byte) error {
	var env answerEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	if !env.Type.Valid() {
		return fmt.Errorf("%w: unknown answer type %q", ErrMalformedAnswer, env.Type)
	}
	norm, err := NormalizeAnswer(env.Type, env.Value)
	if err != nil {
		*a = Answer{Type: env.Type}
		return nil
	}
	*a = norm
	return nil
}

// NormalizeAnswer converts a raw client value for a question of type t into
// an Answer. The raw value may be bare or wrapped as {"value": ..., "type": ...}.
// A wrapped type that disagrees with t is rejected.
func NormalizeAnswer(t QuestionType, raw json.RawMessage) (Answer, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Answer{Type: t}, nil
	}
	if raw[0] == '{' {
		var env answerEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return Answer{}, fmt.Errorf("%w: %v", ErrMalformedAnswer, err)
		}
		if env.Type != "" && env.Type != t {
			return Answer{}, fmt.Errorf("%w: type %q does not match question type %q", ErrMalformedAnswer, env.Type, t)
		}
		return NormalizeAnswer(t, env.Value)
	}

	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return Answer{}, fmt.Errorf("%w: %v", ErrMalformedAnswer, err)
	}

	switch t {
	case QuestionMCQ:
		choices, err := toChoices(v)
		if err != nil {
			return Answer{}, err
		}
		return Answer{Type: t, Choices: choices}, nil
	case QuestionYesNo:
		b, err := toYesNo(v)
		if err != nil {
			return Answer{}, err
		}
		return Answer{Type: t, YesNo: b}, nil
	case QuestionEssay, QuestionMath:
		switch x := v.(type) {
		case string:
			return Answer{Type: t, Text: x}, nil
		case json.Number:
			return Answer{Type: t, Text: x.String()}, nil
		}
		return Answer{}, fmt.Errorf("%w: expected text for %s answer", ErrMalformedAnswer, t)
	}
	return Answer{}, fmt.Errorf("%w: unknown question type %q", ErrMalformedAnswer, t)
}

func toChoices(v any) ([]int, error) {
	var items []any
	switch x := v.(type) {
	case []any:
		items = x
	case json.Number, string:
		items = []any{x}
	default:
		return nil, fmt.Errorf("%w: expected option indices", ErrMalformedAnswer)
	}
	seen := make(map[int]bool, len(items))
	out := make([]int, 0, len(items))
	for _, it := range items {
		if n, ok := it.(json.Number); ok {
			it = n.String()
		}
		f, err := cast.ToFloat64E(it)
		if err != nil || f < 0 || f != math.Trunc(f) {
			return nil, fmt.Errorf("%w: invalid option index %v", ErrMalformedAnswer, it)
		}
		i := int(f)
		if !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
	}
	sort.Ints(out)
	return out, nil
}

func toYesNo(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "yes", "y", "true":
			return true, nil
		case "no", "n", "false":
			return false, nil
		}
	}
	return false, fmt.Errorf("%w: expected yes/no", ErrMalformedAnswer)
}
