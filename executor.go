package openivs

import (
	"context"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Port kinds recognized at the executor level (§4.1). Any other type is
// ignored here; modules may interpret it themselves.
const (
	PortImageChan    = "image_chan"
	PortResultChan   = "result_chan"
	PortTemplateChan = "template_chan"
	PortTemplate     = "template"
	PortBool         = "bool"
	PortBoolean      = "boolean"
	PortInt          = "int"
	PortInteger      = "integer"
	PortStr          = "str"
	PortString       = "string"
	PortScalar       = "scalar"
)

func isScalarPortType(t string) bool {
	switch strings.ToLower(t) {
	case PortBool, PortBoolean, PortInt, PortInteger, PortStr, PortString, PortScalar:
		return true
	default:
		return false
	}
}

// Port is one input or output port on a Node.
type Port struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Link  *int   `json:"link,omitempty"`
	Links []int  `json:"links,omitempty"`
}

// Node is one vertex in the pipeline graph.
type Node struct {
	ID         int                    `json:"id"`
	Type       string                 `json:"type"`
	Title      string                 `json:"title"`
	Order      *int                   `json:"order,omitempty"`
	Properties map[string]interface{} `json:"properties"`
	Inputs     []Port                 `json:"inputs"`
	Outputs    []Port                 `json:"outputs"`
}

// Graph is the decoded pipeline: a flat list of nodes linked by integer
// ids. The executor requires no cycle detection — the format forbids
// cycles (§4.1).
type Graph struct {
	Nodes []*Node `json:"nodes"`
}

// orderedNodes returns nodes stable-sorted by Order ascending (missing
// Order treated as near-maximum), then by ID ascending.
func orderedNodes(nodes []*Node) []*Node {
	out := make([]*Node, len(nodes))
	copy(out, nodes)
	sort.SliceStable(out, func(i, j int) bool {
		oi, oj := readOrder(out[i]), readOrder(out[j])
		if oi != oj {
			return oi < oj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func readOrder(n *Node) int {
	if n.Order == nil {
		return math.MaxInt32 - 1
	}
	return *n.Order
}

// linkSource identifies where a link's data comes from: the node that
// owns it and the raw global index of the output port that produced it.
// Channel-kind ports pair up (outIdx/2); scalar-kind ports are read by
// this raw index directly — they are never paired (§4.1).
type linkSource struct {
	nodeID int
	outIdx int
}

// buildLinkSourceMap walks every node's outputs in execution order and
// records, for each link id, the first (node, port) that writes it — a
// later writer of the same link id is never reached because the format
// forbids fan-in on one link id (first writer wins, matching the source).
func buildLinkSourceMap(ordered []*Node) map[int]linkSource {
	m := map[int]linkSource{}
	for _, n := range ordered {
		for outIdx, port := range n.Outputs {
			for _, linkID := range port.Links {
				if _, exists := m[linkID]; !exists {
					m[linkID] = linkSource{nodeID: n.ID, outIdx: outIdx}
				}
			}
		}
	}
	return m
}

// nodeExecOutput is the full channel set a node produced, keyed by pair
// index (0 = main, 1.. = extra), stored for downstream link resolution.
// scalarsByIdx is keyed by the raw global output-port index (§4.1).
type nodeExecOutput struct {
	pairs        []ModuleChannel
	scalarsByIdx map[int]Scalar
	byName       map[string]Scalar
}

// NodePublicOutput is the simplified per-node view the executor publishes
// for external callers, distinct from the internal routing table (§9).
type NodePublicOutput struct {
	Images         []*ModuleImage
	Results        []ResultEntry
	Templates      []Template
	ScalarsByIndex []Scalar
	ScalarsByName  map[string]Scalar
}

// ModelLoadResult is one node's outcome from the pre-load pass.
type ModelLoadResult struct {
	NodeID        int    `json:"node_id"`
	Type          string `json:"type"`
	Title         string `json:"title"`
	ModelPath     string `json:"model_path"`
	StatusCode    int    `json:"status_code"`
	StatusMessage string `json:"status_message"`
}

// ModelLoadReport is the overall outcome of LoadModels.
type ModelLoadReport struct {
	Code    int               `json:"code"`
	Message string            `json:"message"`
	Models  []ModelLoadResult `json:"models"`
}

// Executor runs a Graph against an ExecutionContext.
type Executor struct {
	Graph *Graph
}

// NewExecutor wraps a decoded Graph for execution.
func NewExecutor(g *Graph) *Executor {
	return &Executor{Graph: g}
}

// LoadModels instantiates every model/* node and calls LoadModel on it,
// in the same order Run will later use. It never runs the graph.
func (e *Executor) LoadModels(ctx context.Context, ec *ExecutionContext) ModelLoadReport {
	report := ModelLoadReport{Code: 0}

	for _, n := range orderedNodes(e.Graph.Nodes) {
		if !strings.HasPrefix(n.Type, "model/") {
			continue
		}

		result := ModelLoadResult{NodeID: n.ID, Type: n.Type, Title: n.Title}
		if modelPath, ok := n.Properties["model_path"].(string); ok {
			result.ModelPath = modelPath
		}

		factory, ok := lookup(n.Type)
		if !ok {
			result.StatusCode = 1
			result.StatusMessage = "module_not_registered"
			report.Code = 1
			report.Models = append(report.Models, result)
			continue
		}

		mod := factory(n, ec)
		if loader, ok := mod.(ModelLoader); ok {
			if err := loader.LoadModel(); err != nil {
				result.StatusCode = 1
				result.StatusMessage = err.Error()
				report.Code = 1
			}
		}

		report.Models = append(report.Models, result)
	}

	if report.Code != 0 {
		for _, m := range report.Models {
			if m.StatusCode != 0 {
				report.Message = m.StatusMessage
				Logger("openivs: pre-load failed for node %d (%s): %s", m.NodeID, m.Type, m.StatusMessage)
				break
			}
		}
	}

	return report
}

// Run executes every node in order and returns the simplified public
// output of every node, keyed by node id.
func (e *Executor) Run(ctx context.Context, ec *ExecutionContext) (map[int]NodePublicOutput, error) {
	ordered := orderedNodes(e.Graph.Nodes)
	linkToSource := buildLinkSourceMap(ordered)

	execMap := map[int]nodeExecOutput{}
	public := map[int]NodePublicOutput{}

	for _, n := range ordered {
		factory, ok := lookup(n.Type)
		if !ok {
			continue // forward compatibility: unknown types are skipped
		}

		normalizeBboxProperties(n.Properties)

		mod := factory(n, ec)

		pairs, scalarsByIdx, scalarsByName := collectInputs(n, linkToSource, execMap)

		var mainIn ModuleChannel
		var extraIn []ModuleChannel
		if len(pairs) > 0 {
			mainIn = pairs[0]
			extraIn = pairs[1:]
		}

		if base, ok := moduleBase(mod); ok {
			base.ExtraInputsIn = extraIn
			base.MainTemplateList = mainIn.TemplateList
			base.ScalarInputsByIndex = scalarsByIdx
			base.ScalarInputsByName = scalarsByName
		}

		out, err := dispatch(ctx, n, mod, mainIn)
		if err != nil {
			return public, nodeError(n.ID, n.Type, err)
		}

		allPairs := append([]ModuleChannel{out.Main}, out.Extra...)

		outScalarsByIdx := map[int]Scalar{}
		outScalarsByName := map[string]Scalar{}
		var outScalarsOrdered []Scalar
		if base, ok := moduleBase(mod); ok {
			for i, port := range n.Outputs {
				if !isScalarPortType(port.Type) {
					continue
				}
				var v Scalar
				if sv, ok := base.ScalarOutputsByName[port.Name]; ok {
					v = sv
				} else if sv, ok := base.ScalarOutputsByName[strconv.Itoa(i)]; ok {
					v = sv
				}
				v = normalizeScalar(port.Type, v)
				outScalarsByIdx[i] = v
				outScalarsByName[port.Name] = v
				outScalarsOrdered = append(outScalarsOrdered, v)
			}
		}

		execMap[n.ID] = nodeExecOutput{pairs: allPairs, scalarsByIdx: outScalarsByIdx, byName: outScalarsByName}
		public[n.ID] = NodePublicOutput{
			Images:         out.Main.ImageList,
			Results:        out.Main.ResultList,
			Templates:      out.Main.TemplateList,
			ScalarsByIndex: outScalarsOrdered,
			ScalarsByName:  outScalarsByName,
		}
	}

	return public, nil
}

// collectInputs pairs up a node's input ports, resolves each pair's
// source channel from already-executed nodes, and separates out scalar
// inputs into their two lookup tables (§4.1 steps 3-4).
func collectInputs(n *Node, linkToSource map[int]linkSource, execMap map[int]nodeExecOutput) (pairs []ModuleChannel, scalarsByIdx []Scalar, scalarsByName map[string]Scalar) {
	scalarsByName = map[string]Scalar{}

	var chanPorts []Port
	for _, p := range n.Inputs {
		if isScalarPortType(p.Type) {
			continue
		}
		chanPorts = append(chanPorts, p)
	}

	numPairs := (len(chanPorts) + 1) / 2
	pairs = make([]ModuleChannel, numPairs)

	for i, p := range chanPorts {
		pairIdx := i / 2
		ch := resolvePortSource(p, linkToSource, execMap)
		mergeChannelByKind(&pairs[pairIdx], p.Type, ch)
	}

	for _, p := range n.Inputs {
		if !isScalarPortType(p.Type) {
			continue
		}
		v := resolveScalarInput(p, linkToSource, execMap)
		scalarsByIdx = append(scalarsByIdx, v)
		if p.Name != "" {
			scalarsByName[p.Name] = v
		}
	}

	return pairs, scalarsByIdx, scalarsByName
}

// resolvePortSource follows an image/result/template-kind input port's
// link back to the source node's stored channel for the same pair.
// Unresolved links (nil, dangling, or pointing at a node that produced
// fewer pairs) yield an empty channel, matching §4.1 step 3.
func resolvePortSource(p Port, linkToSource map[int]linkSource, execMap map[int]nodeExecOutput) ModuleChannel {
	if p.Link == nil {
		return ModuleChannel{}
	}
	src, ok := linkToSource[*p.Link]
	if !ok {
		return ModuleChannel{}
	}
	out, ok := execMap[src.nodeID]
	if !ok {
		return ModuleChannel{}
	}
	pairIdx := src.outIdx / 2
	if pairIdx >= len(out.pairs) {
		return ModuleChannel{}
	}
	return out.pairs[pairIdx]
}

// resolveScalarInput follows a scalar-kind input port's link back to the
// source node's published scalar outputs, preferring a match by port name
// and falling back to the source's raw output-port index (§4.1 step 4, §9).
func resolveScalarInput(p Port, linkToSource map[int]linkSource, execMap map[int]nodeExecOutput) Scalar {
	if p.Link == nil {
		return Scalar{}
	}
	src, ok := linkToSource[*p.Link]
	if !ok {
		return Scalar{}
	}
	out, ok := execMap[src.nodeID]
	if !ok {
		return Scalar{}
	}
	if p.Name != "" {
		if v, ok := out.byName[p.Name]; ok {
			return v
		}
	}
	if v, ok := out.scalarsByIdx[src.outIdx]; ok {
		return v
	}
	return Scalar{}
}

func mergeChannelByKind(dst *ModuleChannel, portType string, src ModuleChannel) {
	switch strings.ToLower(portType) {
	case PortImageChan:
		dst.ImageList = append(dst.ImageList, src.ImageList...)
	case PortResultChan:
		dst.ResultList = append(dst.ResultList, src.ResultList...)
	case PortTemplateChan, PortTemplate:
		dst.TemplateList = append(dst.TemplateList, src.TemplateList...)
	}
}

// normalizeBboxProperties synthesizes bbox_x/y/w/h from bbox_x1/y1/x2/y2
// when the latter are present and the former are absent — a
// graph-authoring convenience (§4.1 step 2).
func normalizeBboxProperties(props map[string]interface{}) {
	if props == nil {
		return
	}
	_, hasX := props["bbox_x"]
	_, hasY := props["bbox_y"]
	_, hasW := props["bbox_w"]
	_, hasH := props["bbox_h"]
	if hasX && hasY && hasW && hasH {
		return
	}

	x1, ok1 := asFloat(props["bbox_x1"])
	y1, ok2 := asFloat(props["bbox_y1"])
	x2, ok3 := asFloat(props["bbox_x2"])
	y2, ok4 := asFloat(props["bbox_y2"])
	if !(ok1 && ok2 && ok3 && ok4) {
		return
	}

	minX, minY := math.Min(x1, x2), math.Min(y1, y2)
	w, h := math.Abs(x2-x1), math.Abs(y2-y1)

	if !hasX {
		props["bbox_x"] = minX
	}
	if !hasY {
		props["bbox_y"] = minY
	}
	if !hasW {
		props["bbox_w"] = w
	}
	if !hasH {
		props["bbox_h"] = h
	}
}

func asFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	default:
		return 0, false
	}
}

