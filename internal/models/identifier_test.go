package models

import (
	"strings"
	"testing"
)

func TestParseIdentifier(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		namespace string
		kind      string
		objName   string
		format    string
		ambiguous bool
	}{
		{
			name:      "three segments",
			input:     "otel-demo/Deployment/cart",
			namespace: "otel-demo",
			kind:      "Deployment",
			objName:   "cart",
			format:    FormatNamespaceKindName,
		},
		{
			name:      "name with slash",
			input:     "ns/ConfigMap/path/to/key",
			namespace: "ns",
			kind:      "ConfigMap",
			objName:   "path/to/key",
			format:    FormatNamespaceKindName,
		},
		{
			name:      "two segments",
			input:     "Deployment/cart",
			kind:      "Deployment",
			objName:   "cart",
			format:    FormatKindName,
			ambiguous: true,
		},
		{
			name:      "bare name",
			input:     "cart",
			objName:   "cart",
			format:    FormatName,
			ambiguous: true,
		},
		{
			name:      "empty",
			input:     "",
			format:    FormatInvalid,
			ambiguous: true,
		},
		{
			name:      "whitespace segments collapse",
			input:     " Deployment / cart ",
			kind:      "Deployment",
			objName:   "cart",
			format:    FormatKindName,
			ambiguous: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseIdentifier(tt.input)
			if got.Namespace != tt.namespace {
				t.Errorf("namespace = %q, want %q", got.Namespace, tt.namespace)
			}
			if got.Kind != tt.kind {
				t.Errorf("kind = %q, want %q", got.Kind, tt.kind)
			}
			if got.Name != tt.objName {
				t.Errorf("name = %q, want %q", got.Name, tt.objName)
			}
			if got.Format != tt.format {
				t.Errorf("format = %q, want %q", got.Format, tt.format)
			}
			if got.Ambiguous != tt.ambiguous {
				t.Errorf("ambiguous = %v, want %v", got.Ambiguous, tt.ambiguous)
			}
			if tt.ambiguous && got.Format != FormatInvalid && got.Warning == "" {
				t.Error("ambiguous identifier should carry a warning")
			}
		})
	}
}

func TestResolveExactMatch(t *testing.T) {
	inventory := []Entity{
		{Namespace: "otel-demo", Kind: "Deployment", Name: "cart"},
		{Namespace: "otel-demo", Kind: "Service", Name: "cart"},
		{Namespace: "prod", Kind: "Deployment", Name: "checkout"},
	}

	res, err := Resolve(ParseIdentifier("otel-demo/Deployment/cart"), inventory)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Single() {
		t.Fatalf("expected single match, got %d", len(res.Matches))
	}
	if res.One().Kind != "Deployment" {
		t.Errorf("kind = %q", res.One().Kind)
	}
	if res.Warning != "" {
		t.Errorf("unexpected warning: %q", res.Warning)
	}
}

func TestResolveAmbiguousReturnsAllMatches(t *testing.T) {
	inventory := []Entity{
		{Namespace: "otel-demo", Kind: "Deployment", Name: "cart"},
		{Namespace: "otel-demo", Kind: "Service", Name: "cart"},
	}

	res, err := Resolve(ParseIdentifier("cart"), inventory)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(res.Matches))
	}
	if res.Warning == "" {
		t.Error("expected warning for ambiguous resolution")
	}
}

func TestResolveCaseInsensitive(t *testing.T) {
	inventory := []Entity{
		{Namespace: "otel-demo", Kind: "Deployment", Name: "cart"},
	}
	res, err := Resolve(ParseIdentifier("deployment/CART"), inventory)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Single() {
		t.Fatalf("expected single match, got %d", len(res.Matches))
	}
}

func TestResolveSubstringFallback(t *testing.T) {
	inventory := []Entity{
		{Namespace: "otel-demo", Kind: "Pod", Name: "cart-7f8d9c-x2j4k"},
	}
	res, err := Resolve(ParseIdentifier("cart-7f8d9c"), inventory)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Matches) != 1 {
		t.Fatalf("expected substring fallback match, got %d", len(res.Matches))
	}
}

func TestResolveNotFound(t *testing.T) {
	inventory := []Entity{
		{Namespace: "otel-demo", Kind: "Deployment", Name: "cart"},
	}
	_, err := Resolve(ParseIdentifier("zzz-no-such-entity"), inventory)
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsNotFoundError(err) {
		t.Fatalf("expected NotFoundError, got %T", err)
	}
	if !strings.Contains(err.Error(), "otel-demo/Deployment/cart") {
		t.Errorf("error should name candidates: %v", err)
	}
}
