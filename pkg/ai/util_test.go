package ai

import (
	"encoding/json"
	"errors"
	"testing"
)

type factorItem struct {
	Name     string  `json:"name"`
	Contents string  `json:"contents"`
	Period   *string `json:"period" jsonschema:"anyof_type=string;null"`
}

type factorList struct {
	Factors []factorItem `json:"factors"`
}

func TestUnmarshalFlexible(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"valid json", `{"factors":[{"name":"leverage","contents":"x"}]}`, "leverage"},
		{"single quotes and bare keys", `{factors: [{name: 'leverage'}]}`, "leverage"},
		{"trailing comma", `{"factors":[{"name":"leverage",},]}`, "leverage"},
		{"double encoded", `"{\"factors\":[{\"name\":\"leverage\"}]}"`, "leverage"},
		{"duplicate leading brace", "{\n{\"factors\":[{\"name\":\"leverage\"}]}", "leverage"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got factorList
			if err := UnmarshalFlexible(tc.input, &got); err != nil {
				t.Fatalf("UnmarshalFlexible() error = %v", err)
			}
			if len(got.Factors) != 1 || got.Factors[0].Name != tc.want {
				t.Fatalf("UnmarshalFlexible() got = %+v, want one factor %q", got, tc.want)
			}
		})
	}
}

func TestUnmarshalFlexibleNullPeriod(t *testing.T) {
	var got factorList
	if err := UnmarshalFlexible(`{"factors":[{"name":"a","period":null},{"name":"b","period":"FY2023"}]}`, &got); err != nil {
		t.Fatalf("UnmarshalFlexible() error = %v", err)
	}
	if got.Factors[0].Period != nil {
		t.Fatalf("expected nil period, got %q", *got.Factors[0].Period)
	}
	if got.Factors[1].Period == nil || *got.Factors[1].Period != "FY2023" {
		t.Fatalf("expected FY2023, got %v", got.Factors[1].Period)
	}
}

func TestUnmarshalFlexibleUnrecoverable(t *testing.T) {
	var got factorList
	if err := UnmarshalFlexible("no json here", &got); !errors.Is(err, ErrMalformedJSON) {
		t.Fatalf("expected ErrMalformedJSON, got %v", err)
	}
}

func TestUnmarshalFlexibleTruncated(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"open object", `{"factors":[{"name":"leverage"`},
		{"cut after complete item", `{"factors":[{"name":"leverage","contents":"x"},`},
		{"open string", `{"factors":[{"name":"lever`},
		{"double encoded", `"{\"factors\":[{\"name\":\"leverage\"}"`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got factorList
			err := UnmarshalFlexible(tc.input, &got)
			if !errors.Is(err, ErrTruncated) {
				t.Fatalf("expected ErrTruncated, got %v", err)
			}
			if !errors.Is(err, ErrMalformedJSON) {
				t.Fatalf("ErrTruncated must wrap ErrMalformedJSON, got %v", err)
			}
		})
	}
}

func TestUnmarshalFlexibleBracketsInStrings(t *testing.T) {
	var got factorList
	in := `{"factors":[{"name":"leverage [net] {adj}","contents":"say \"x\"",}]}`
	if err := UnmarshalFlexible(in, &got); err != nil {
		t.Fatalf("UnmarshalFlexible() error = %v", err)
	}
	if len(got.Factors) != 1 || got.Factors[0].Name != "leverage [net] {adj}" {
		t.Fatalf("unexpected output: %+v", got)
	}
}

func TestGenerateSchema(t *testing.T) {
	raw, err := json.Marshal(GenerateSchema(&factorList{}))
	if err != nil {
		t.Fatalf("marshal schema: %v", err)
	}
	var schema struct {
		Type                 string         `json:"type"`
		AdditionalProperties *bool          `json:"additionalProperties"`
		Properties           map[string]any `json:"properties"`
		Defs                 map[string]any `json:"$defs"`
	}
	if err := json.Unmarshal(raw, &schema); err != nil {
		t.Fatalf("unmarshal schema: %v", err)
	}
	if schema.Type != "object" {
		t.Fatalf("expected object schema, got %q", schema.Type)
	}
	if schema.AdditionalProperties == nil || *schema.AdditionalProperties {
		t.Fatalf("expected additionalProperties=false")
	}
	if _, ok := schema.Properties["factors"]; !ok {
		t.Fatalf("expected factors property, got %v", schema.Properties)
	}
	if len(schema.Defs) != 0 {
		t.Fatalf("expected inlined definitions, got %v", schema.Defs)
	}
}
