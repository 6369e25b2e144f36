package rules

import "testing"

func TestLeafConditions(t *testing.T) {
	payload := map[string]any{
		"type": "send_email",
		"payload": map[string]any{
			"amount":     float64(5),
			"recipients": []any{"a@example.com", "b@example.com"},
			"subject":    "weekly digest",
		},
	}

	cases := []struct {
		name string
		cond Condition
		want bool
	}{
		{"eq string", Condition{Field: "type", Op: OpEq, Value: "send_email"}, true},
		{"eq mismatch", Condition{Field: "type", Op: OpEq, Value: "post_message"}, false},
		{"ne", Condition{Field: "type", Op: OpNe, Value: "post_message"}, true},
		{"lte number", Condition{Field: "payload.amount", Op: OpLte, Value: float64(10)}, true},
		{"lte int literal", Condition{Field: "payload.amount", Op: OpLte, Value: 10}, true},
		{"gt fails", Condition{Field: "payload.amount", Op: OpGt, Value: float64(10)}, false},
		{"in", Condition{Field: "type", Op: OpIn, Value: []any{"send_email", "post_message"}}, true},
		{"contains string", Condition{Field: "payload.subject", Op: OpContains, Value: "digest"}, true},
		{"contains slice", Condition{Field: "payload.recipients", Op: OpContains, Value: "a@example.com"}, true},
		{"exists", Condition{Field: "payload.amount", Op: OpExists}, true},
		{"exists missing", Condition{Field: "payload.budget", Op: OpExists}, false},
		{"missing field no match", Condition{Field: "payload.budget", Op: OpEq, Value: float64(1)}, false},
		{"type mismatch no match", Condition{Field: "type", Op: OpGt, Value: float64(1)}, false},
		{"deep path miss", Condition{Field: "payload.amount.cents", Op: OpEq, Value: float64(1)}, false},
	}
	for _, tc := range cases {
		if got := tc.cond.Matches(payload); got != tc.want {
			t.Errorf("%s: Matches = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestCompositeConditions(t *testing.T) {
	payload := map[string]any{
		"type": "send_email",
		"payload": map[string]any{
			"amount": float64(50),
		},
	}

	all := Condition{All: []Condition{
		{Field: "type", Op: OpEq, Value: "send_email"},
		{Field: "payload.amount", Op: OpGt, Value: float64(10)},
	}}
	if !all.Matches(payload) {
		t.Fatal("expected all-composite to match")
	}

	anyCond := Condition{Any: []Condition{
		{Field: "type", Op: OpEq, Value: "post_message"},
		{Field: "payload.amount", Op: OpGte, Value: float64(50)},
	}}
	if !anyCond.Matches(payload) {
		t.Fatal("expected any-composite to match")
	}

	not := Condition{Not: &Condition{Field: "type", Op: OpEq, Value: "post_message"}}
	if !not.Matches(payload) {
		t.Fatal("expected negation to match")
	}
}

func TestConditionValidate(t *testing.T) {
	cases := []struct {
		name    string
		cond    Condition
		wantErr bool
	}{
		{"valid leaf", Condition{Field: "type", Op: OpEq, Value: "x"}, false},
		{"missing field", Condition{Op: OpEq, Value: "x"}, true},
		{"unknown op", Condition{Field: "type", Op: "like", Value: "x"}, true},
		{"valid composite", Condition{All: []Condition{{Field: "a", Op: OpExists}}}, false},
		{"mixed composite", Condition{All: []Condition{{Field: "a", Op: OpExists}}, Not: &Condition{Field: "b", Op: OpExists}}, true},
		{"composite with field", Condition{Field: "x", All: []Condition{{Field: "a", Op: OpExists}}}, true},
		{"nested invalid", Condition{Any: []Condition{{Op: "bogus"}}}, true},
	}
	for _, tc := range cases {
		err := tc.cond.Validate()
		if tc.wantErr && err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("%s: unexpected error: %v", tc.name, err)
		}
	}
}
