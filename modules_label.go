package openivs

import "fmt"

// resultLabelMergeModule is features/result_label_merge (§4.5): lane A
// (main) supplies one "top label" per image, rewritten onto every
// matching detection in lane B (extra input 0). The two lanes must
// describe the same image list in the same order.
type resultLabelMergeModule struct {
	BaseModule
	prefix           string
	fixedText        string
	useFirstScoreTop bool
}

func newResultLabelMergeModule(node *Node, ec *ExecutionContext) Module {
	m := &resultLabelMergeModule{BaseModule: NewBaseModule(node, ec)}
	m.prefix = m.ReadString("prefix", "")
	m.fixedText = m.ReadString("fixed_text", "")
	m.useFirstScoreTop = m.ReadBool("use_first_score_top1", false)
	return m
}

func (m *resultLabelMergeModule) Process(in ModuleChannel) (ModuleIO, error) {
	var laneB ModuleChannel
	if len(m.ExtraInputsIn) > 0 {
		laneB = m.ExtraInputsIn[0]
	}

	if err := sameImageLists(in.ImageList, laneB.ImageList); err != nil {
		return ModuleIO{}, fmt.Errorf("result_label_merge: %w", err)
	}

	topByIndex := map[int]string{}
	for _, e := range in.ResultList {
		if lbl, ok := topLabel(e.SampleResults, m.useFirstScoreTop); ok {
			topByIndex[e.Index] = lbl
		}
	}

	outResults := make([]ResultEntry, len(laneB.ResultList))
	for i, e := range laneB.ResultList {
		lbl, ok := topByIndex[e.Index]
		if !ok {
			outResults[i] = e
			continue
		}
		newEntry := e
		newEntry.SampleResults = make([]Detection, len(e.SampleResults))
		for di, d := range e.SampleResults {
			d.CategoryName = m.prefix + lbl + m.fixedText + d.CategoryName
			newEntry.SampleResults[di] = d
		}
		outResults[i] = newEntry
	}

	return ModuleIO{Main: ModuleChannel{ImageList: laneB.ImageList, ResultList: outResults}}, nil
}

// sameImageLists reports whether two image lists describe the same
// sequence of frames (same length, same per-index transform signature),
// the precondition result_label_merge requires of its two lanes.
func sameImageLists(a, b []*ModuleImage) error {
	if len(a) != len(b) {
		return fmt.Errorf("lane length mismatch: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if transformSignature(a[i].State) != transformSignature(b[i].State) {
			return fmt.Errorf("lane image %d does not describe the same frame", i)
		}
	}
	return nil
}

// textReplacementModule is features/text_replacement (§4.5): a static
// needle->replacement mapping applied to every category_name in every
// detection, independent of processing order.
type textReplacementModule struct {
	BaseModule
	mapping map[string]string
}

func newTextReplacementModule(node *Node, ec *ExecutionContext) Module {
	m := &textReplacementModule{BaseModule: NewBaseModule(node, ec)}
	m.mapping = map[string]string{}
	if raw, ok := m.Properties["mapping"].(map[string]interface{}); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				m.mapping[k] = s
			}
		}
	}
	return m
}

func (m *textReplacementModule) Process(in ModuleChannel) (ModuleIO, error) {
	outResults := make([]ResultEntry, len(in.ResultList))
	for i, e := range in.ResultList {
		newEntry := e
		newEntry.SampleResults = make([]Detection, len(e.SampleResults))
		for di, d := range e.SampleResults {
			if replacement, ok := m.mapping[d.CategoryName]; ok {
				d.CategoryName = replacement
			}
			newEntry.SampleResults[di] = d
		}
		outResults[i] = newEntry
	}
	return ModuleIO{Main: ModuleChannel{ImageList: in.ImageList, ResultList: outResults}}, nil
}

// mergeResultsModule is features/merge_results: unions the main input pair
// with every extra input pair into a single main output channel,
// reindexing each image/result entry by its position in the concatenated
// list. Used to recombine lanes that result_filter/result_filter_advanced/
// result_filter_region split onto a main+extra pair, the same union
// result_label_merge's two-lane read already assumes is available
// elsewhere in the graph.
type mergeResultsModule struct {
	BaseModule
}

func newMergeResultsModule(node *Node, ec *ExecutionContext) Module {
	return &mergeResultsModule{BaseModule: NewBaseModule(node, ec)}
}

func (m *mergeResultsModule) Process(in ModuleChannel) (ModuleIO, error) {
	lanes := append([]ModuleChannel{in}, m.ExtraInputsIn...)

	var outImages []*ModuleImage
	var outResults []ResultEntry
	var outTemplates []Template

	for _, lane := range lanes {
		base := len(outImages)
		outImages = append(outImages, lane.ImageList...)
		for _, e := range lane.ResultList {
			e.Index += base
			outResults = append(outResults, e)
		}
		outTemplates = append(outTemplates, lane.TemplateList...)
	}

	return ModuleIO{Main: ModuleChannel{ImageList: outImages, ResultList: outResults, TemplateList: outTemplates}}, nil
}

func init() {
	Register("features/result_label_merge", newResultLabelMergeModule)
	Register("features/text_replacement", newTextReplacementModule)
	Register("features/merge_results", newMergeResultsModule)
}
