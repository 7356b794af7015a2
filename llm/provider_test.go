package llm

import (
	"fmt"
	"reflect"
	"testing"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		provider string
		wantType string
	}{
		{"ollama", "*llm.ollamaProvider"},
		{"lmstudio", "*llm.compatProvider"},
		{"openrouter", "*llm.compatProvider"},
		{"openai", "*llm.compatProvider"},
		{"groq", "*llm.compatProvider"},
		{"gemini", "*llm.compatProvider"},
		{"xai", "*llm.compatProvider"},
		{"custom", "*llm.compatProvider"},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			p, err := NewProvider(Config{Provider: tt.provider, Model: "test-model"})
			if err != nil {
				t.Fatalf("NewProvider(%q) returned error: %v", tt.provider, err)
			}
			if got := fmt.Sprintf("%T", p); got != tt.wantType {
				t.Errorf("NewProvider(%q) type = %s, want %s", tt.provider, got, tt.wantType)
			}
		})
	}
}

func TestNewProviderErrors(t *testing.T) {
	tests := []struct {
		provider string
		want     string
	}{
		{"doesnotexist", "unknown llm provider: doesnotexist"},
		{"", "llm provider not specified"},
	}
	for _, tt := range tests {
		_, err := NewProvider(Config{Provider: tt.provider, Model: "m"})
		if err == nil {
			t.Fatalf("NewProvider(%q): expected error", tt.provider)
		}
		if err.Error() != tt.want {
			t.Errorf("error = %q, want %q", err.Error(), tt.want)
		}
	}
}

// baseConfig reaches into base.cfg on the concrete provider.
func baseConfig(t *testing.T, p Provider) reflect.Value {
	t.Helper()
	return reflect.ValueOf(p).Elem().FieldByName("base").FieldByName("cfg")
}

func TestDefaultBaseURLs(t *testing.T) {
	tests := []struct {
		provider string
		wantURL  string
	}{
		{"ollama", "http://localhost:11434"},
		{"lmstudio", "http://localhost:1234"},
		{"openrouter", "https://openrouter.ai/api"},
		{"openai", "https://api.openai.com"},
		{"xai", "https://api.x.ai"},
		{"gemini", "https://generativelanguage.googleapis.com/v1beta/openai"},
		{"custom", ""},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			p, err := NewProvider(Config{Provider: tt.provider, Model: "test-model"})
			if err != nil {
				t.Fatalf("NewProvider(%q): %v", tt.provider, err)
			}
			if got := baseConfig(t, p).FieldByName("BaseURL").String(); got != tt.wantURL {
				t.Errorf("default BaseURL for %q = %q, want %q", tt.provider, got, tt.wantURL)
			}
		})
	}
}

func TestExplicitSettingsPreserved(t *testing.T) {
	for _, provider := range []string{"ollama", "lmstudio", "openrouter", "groq", "custom"} {
		t.Run(provider, func(t *testing.T) {
			p, err := NewProvider(Config{
				Provider: provider,
				Model:    "llama3:latest",
				BaseURL:  "http://my-server:9999",
				APIKey:   "sk-test-key-123",
			})
			if err != nil {
				t.Fatalf("NewProvider(%q): %v", provider, err)
			}
			cfg := baseConfig(t, p)
			if got := cfg.FieldByName("BaseURL").String(); got != "http://my-server:9999" {
				t.Errorf("BaseURL = %q", got)
			}
			if got := cfg.FieldByName("Model").String(); got != "llama3:latest" {
				t.Errorf("Model = %q", got)
			}
			if got := cfg.FieldByName("APIKey").String(); got != "sk-test-key-123" {
				t.Errorf("APIKey = %q", got)
			}
		})
	}
}

func TestDefaultModel(t *testing.T) {
	p, err := NewProvider(Config{Provider: "groq"})
	if err != nil {
		t.Fatal(err)
	}
	if got := baseConfig(t, p).FieldByName("Model").String(); got != "llama-3.3-70b-versatile" {
		t.Errorf("groq default model = %q", got)
	}
}

func TestGeminiPathPrefix(t *testing.T) {
	p, err := NewProvider(Config{Provider: "gemini", Model: "gemini-2.5-flash"})
	if err != nil {
		t.Fatal(err)
	}
	prefix := reflect.ValueOf(p).Elem().FieldByName("base").FieldByName("pathPrefix").String()
	if prefix != "" {
		t.Errorf("gemini path prefix = %q, want empty", prefix)
	}
}
