package openivs

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestIsYAMLGraphPath(t *testing.T) {
	cases := map[string]bool{
		"graph.yaml":  true,
		"graph.YML":   true,
		"graph.json":  false,
		"graph.dvpkg": false,
	}
	for path, want := range cases {
		if got := isYAMLGraphPath(path); got != want {
			t.Errorf("isYAMLGraphPath(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestYamlGraphToJSONProducesEquivalentTree(t *testing.T) {
	src := []byte(`
nodes:
  - id: 1
    type: model/detector
    properties:
      model_path: weights.onnx
      threshold: 0.5
edges:
  - from: 1
    to: 2
`)
	out, err := yamlGraphToJSON(src)
	if err != nil {
		t.Fatalf("yamlGraphToJSON: %v", err)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatalf("result is not valid JSON: %v", err)
	}

	nodes, ok := doc["nodes"].([]interface{})
	if !ok || len(nodes) != 1 {
		t.Fatalf("expected one node, got %#v", doc["nodes"])
	}
	node := nodes[0].(map[string]interface{})
	if node["type"] != "model/detector" {
		t.Fatalf("unexpected node type: %v", node["type"])
	}
	props := node["properties"].(map[string]interface{})
	if props["model_path"] != "weights.onnx" {
		t.Fatalf("unexpected model_path: %v", props["model_path"])
	}
}

func TestNormalizeYAMLValueConvertsInterfaceKeyedMaps(t *testing.T) {
	in := map[interface{}]interface{}{
		"a": map[interface{}]interface{}{"b": 1},
		"c": []interface{}{map[interface{}]interface{}{"d": 2}},
	}
	out := normalizeYAMLValue(in)

	top, ok := out.(map[string]interface{})
	if !ok {
		t.Fatalf("expected map[string]interface{}, got %T", out)
	}
	nested, ok := top["a"].(map[string]interface{})
	if !ok || nested["b"] != 1 {
		t.Fatalf("nested map not normalized: %#v", top["a"])
	}
	list, ok := top["c"].([]interface{})
	if !ok || len(list) != 1 {
		t.Fatalf("list not preserved: %#v", top["c"])
	}
	inList, ok := list[0].(map[string]interface{})
	if !ok || inList["d"] != 2 {
		t.Fatalf("map nested in list not normalized: %#v", list[0])
	}
}

func TestLoadGraphSourceAcceptsBareYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	src := []byte("nodes:\n  - id: 1\n    type: input/image\nedges: []\n")
	if err := os.WriteFile(path, src, 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	raw, cleanup, err := LoadGraphSource(path)
	if err != nil {
		t.Fatalf("LoadGraphSource: %v", err)
	}
	defer cleanup()

	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("LoadGraphSource did not return valid JSON: %v", err)
	}
	if _, ok := doc["nodes"]; !ok {
		t.Fatalf("expected nodes key in decoded graph")
	}
}

func TestYamlGraphToJSONRejectsMalformedInput(t *testing.T) {
	if _, err := yamlGraphToJSON([]byte("nodes: [unterminated")); err == nil {
		t.Fatalf("expected an error for malformed YAML")
	}
}
