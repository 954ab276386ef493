package config

import (
	"encoding/json"
	"strings"
	"testing"

	yaml "gopkg.in/yaml.v3"
)

func TestSecretStringJSON(t *testing.T) {
	type holder struct {
		Key SecretString `json:"key"`
	}

	data, err := json.Marshal(holder{Key: "very-secret-token"})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if strings.Contains(string(data), "very-secret-token") {
		t.Errorf("secret leaked into JSON: %s", data)
	}
	if !strings.Contains(string(data), SecretStringValue) {
		t.Errorf("mask missing from JSON: %s", data)
	}

	data, err = json.Marshal(holder{})
	if err != nil {
		t.Fatalf("Marshal() empty error = %v", err)
	}
	if string(data) != `{"key":null}` {
		t.Errorf("empty secret = %s, want null", data)
	}
}

func TestSecretStringYAML(t *testing.T) {
	type holder struct {
		Key SecretString `yaml:"key"`
	}

	data, err := yaml.Marshal(holder{Key: "very-secret-token"})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if strings.Contains(string(data), "very-secret-token") {
		t.Errorf("secret leaked into YAML: %s", data)
	}
	if !strings.Contains(string(data), SecretStringValue) {
		t.Errorf("mask missing from YAML: %s", data)
	}
}

func TestSecretStringInConfigDump(t *testing.T) {
	cfg, err := LoadConfiguration("")
	if err != nil {
		t.Fatalf("LoadConfiguration() error = %v", err)
	}
	cfg.Translation.APIKey = "sk-live-do-not-print"

	data, err := Dump(cfg)
	if err != nil {
		t.Fatalf("Dump() error = %v", err)
	}
	if strings.Contains(string(data), "sk-live-do-not-print") {
		t.Error("secret leaked into configuration dump")
	}
}
