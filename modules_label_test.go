package openivs

import "testing"

func TestMergeResultsUnionsMainAndExtraLanes(t *testing.T) {
	mod := newMergeResultsModule(&Node{ID: 1}, NewExecutionContext()).(*mergeResultsModule)

	mainImg := &ModuleImage{State: Identity(10, 10)}
	extraImg := &ModuleImage{State: Identity(20, 20)}

	mod.ExtraInputsIn = []ModuleChannel{
		{
			ImageList:  []*ModuleImage{extraImg},
			ResultList: []ResultEntry{{Index: 0, SampleResults: []Detection{{CategoryName: "b"}}}},
		},
	}

	out, err := mod.Process(ModuleChannel{
		ImageList:  []*ModuleImage{mainImg},
		ResultList: []ResultEntry{{Index: 0, SampleResults: []Detection{{CategoryName: "a"}}}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(out.Main.ImageList) != 2 {
		t.Fatalf("expected 2 images in the merged lane, got %d", len(out.Main.ImageList))
	}
	if len(out.Main.ResultList) != 2 {
		t.Fatalf("expected 2 result entries, got %d", len(out.Main.ResultList))
	}
	if out.Main.ResultList[0].Index != 0 || out.Main.ResultList[1].Index != 1 {
		t.Fatalf("extra lane's entries must be reindexed past the main lane, got indexes %d,%d",
			out.Main.ResultList[0].Index, out.Main.ResultList[1].Index)
	}
	if out.Main.ResultList[1].SampleResults[0].CategoryName != "b" {
		t.Fatalf("expected extra lane's detection to survive the merge")
	}
}

func TestMergeResultsWithNoExtraLanesIsPassthrough(t *testing.T) {
	mod := newMergeResultsModule(&Node{ID: 1}, NewExecutionContext()).(*mergeResultsModule)
	img := &ModuleImage{State: Identity(10, 10)}

	out, err := mod.Process(ModuleChannel{
		ImageList:  []*ModuleImage{img},
		ResultList: []ResultEntry{{Index: 0}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Main.ImageList) != 1 || len(out.Main.ResultList) != 1 {
		t.Fatalf("expected single-lane passthrough, got %d images, %d results",
			len(out.Main.ImageList), len(out.Main.ResultList))
	}
}
