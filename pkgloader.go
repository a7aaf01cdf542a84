package openivs

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// pkgMagic opens every .dvpkg archive: the 3 bytes "DV" plus a newline,
// then one JSON header line, then the concatenated file bodies
// back to back in the order file_list names them.
var pkgMagic = []byte("DV\n")

type pkgHeader struct {
	FileList []string `json:"file_list"`
	FileSize []int64  `json:"file_size"`
}

// LoadGraphSource reads a graph from a plain JSON graph file, a bare YAML
// graph file (local-authoring convenience, §2b), or a .dvpkg archive
// bundling the graph alongside its model weights. Archives are unpacked
// into a fresh temp directory and every node's model_path property that
// names a bundled file is rewritten to point at the extracted file; the returned cleanup func
// removes that directory and must be called once the pipeline built from
// the graph is closed.
func LoadGraphSource(path string) (graphJSON []byte, cleanup func(), err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	head, err := br.Peek(len(pkgMagic))
	if err != nil && err != io.EOF {
		return nil, nil, err
	}

	if bytes.Equal(head, pkgMagic) {
		if _, err := br.Discard(len(pkgMagic)); err != nil {
			return nil, nil, err
		}
		return unpackGraphPackage(br)
	}

	raw, err := io.ReadAll(br)
	if err != nil {
		return nil, nil, err
	}

	if isYAMLGraphPath(path) {
		converted, err := yamlGraphToJSON(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrGraphMalformed, err)
		}
		return converted, func() {}, nil
	}

	return raw, func() {}, nil
}

func isYAMLGraphPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// yamlGraphToJSON decodes a YAML-authored graph into the same
// map[string]interface{} node tree the JSON path produces, then
// re-marshals it to JSON so every downstream consumer (package rewriting,
// Graph decoding) only ever sees one representation.
func yamlGraphToJSON(raw []byte) ([]byte, error) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(normalizeYAMLValue(doc))
}

// normalizeYAMLValue recursively converts yaml.v3's map[string]interface{}
// decoding (and any nested map[interface{}]interface{} a raw merge key or
// anchor can still produce) into the string-keyed maps encoding/json
// requires.
func normalizeYAMLValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = normalizeYAMLValue(val)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeYAMLValue(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = normalizeYAMLValue(val)
		}
		return out
	default:
		return t
	}
}

func unpackGraphPackage(r *bufio.Reader) (graphJSON []byte, cleanup func(), err error) {
	headerLine, err := r.ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, nil, fmt.Errorf("%w: reading package header: %v", ErrPackageMalformed, err)
	}

	var header pkgHeader
	if err := json.Unmarshal([]byte(headerLine), &header); err != nil {
		return nil, nil, fmt.Errorf("%w: decoding package header: %v", ErrPackageMalformed, err)
	}
	if len(header.FileList) != len(header.FileSize) {
		return nil, nil, fmt.Errorf("%w: file_list/file_size length mismatch", ErrPackageMalformed)
	}

	dir, err := os.MkdirTemp("", "openivs-pkg-*")
	if err != nil {
		return nil, nil, err
	}
	cleanup = func() { os.RemoveAll(dir) }

	// lookup maps both lower(basename) and lower(full declared name) to the
	// extracted temp path, matching §4.8's dual lookup-key contract.
	lookup := make(map[string]string, len(header.FileList)*2)
	var pipelineJSONPath string

	for i, name := range header.FileList {
		size := header.FileSize[i]
		// random_hex(32) + original extension, ground-truthed from
		// dlcv_infer.cpp's temp-file naming; uuid.New() hex with dashes
		// stripped is the idiomatic Go substitute (§2b).
		tempName := strings.ReplaceAll(uuid.NewString(), "-", "") + filepath.Ext(name)
		dst := filepath.Join(dir, tempName)
		if err := extractOneFile(r, dst, size); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("%w: extracting %s: %v", ErrPackageMalformed, name, err)
		}
		lookup[strings.ToLower(filepath.Base(name))] = dst
		lookup[strings.ToLower(name)] = dst

		if strings.EqualFold(filepath.Base(name), "pipeline.json") {
			pipelineJSONPath = dst
		}
	}

	if pipelineJSONPath == "" {
		cleanup()
		return nil, nil, fmt.Errorf("%w: no pipeline.json in package", ErrPackageMalformed)
	}

	raw, err := os.ReadFile(pipelineJSONPath)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	rewritten, err := rewriteModelPaths(raw, lookup)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	// Emit the rewritten graph to pipeline.json in the temp directory so
	// the extracted model files and the graph that references them live
	// side by side; the caller receives the rewritten bytes.
	if err := os.WriteFile(filepath.Join(dir, "pipeline.json"), rewritten, 0o644); err != nil {
		cleanup()
		return nil, nil, err
	}

	return rewritten, cleanup, nil
}

func extractOneFile(r io.Reader, dst string, size int64) error {
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.CopyN(out, r, size); err != nil {
		return err
	}
	return nil
}

// rewriteModelPaths walks every node of the decoded graph and points each
// model_path property found in extracted at its extracted absolute path, matching the
// original loader's package-relative-to-filesystem-absolute rewrite.
func rewriteModelPaths(raw []byte, extracted map[string]string) ([]byte, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGraphMalformed, err)
	}

	nodes, _ := doc["nodes"].([]interface{})
	for _, rawNode := range nodes {
		node, ok := rawNode.(map[string]interface{})
		if !ok {
			continue
		}
		props, ok := node["properties"].(map[string]interface{})
		if !ok {
			continue
		}
		rel, ok := props["model_path"].(string)
		if !ok || rel == "" {
			continue
		}
		if abs, ok := extracted[strings.ToLower(rel)]; ok {
			props["model_path"] = abs
			continue
		}
		if abs, ok := extracted[strings.ToLower(filepath.Base(rel))]; ok {
			props["model_path"] = abs
		}
	}

	return json.Marshal(doc)
}
