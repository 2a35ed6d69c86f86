package pipeline

import "testing"

func tablePage(pageNo int, rawText string, tables ...TableData) *ParsedPage {
	return &ParsedPage{PageNo: pageNo, RawText: rawText, Tables: tables}
}

func TestMergeContinuationByKeyword(t *testing.T) {
	m := NewCrossPageMerger()
	prev := tablePage(1, "产品参数表", TableData{
		Rows:        [][]string{{"型号", "价格"}, {"XK-100", "¥99"}},
		HeaderRow:   []string{"型号", "价格"},
		ColumnCount: 2,
	})
	m.RecordTail("job-1", 1, prev)

	next := tablePage(2, "产品参数表（续）", TableData{
		Rows:        [][]string{{"XK-200", "¥129"}, {"XK-300", "¥159"}},
		ColumnCount: 2,
	})
	if !m.MergeContinuation("job-1", next) {
		t.Fatal("keyword-marked continuation must merge")
	}

	got := next.Tables[0]
	if !got.IsContinuation {
		t.Error("merged table must be marked as continuation")
	}
	if len(got.Rows) != 4 {
		t.Errorf("merged rows = %d, want 4 (2 carried + 2 new)", len(got.Rows))
	}
	if got.HeaderRow[0] != "型号" {
		t.Error("merged table must inherit the carried header")
	}
}

func TestMergeContinuationByColumnCount(t *testing.T) {
	m := NewCrossPageMerger()
	m.RecordTail("job-1", 4, tablePage(4, "x", TableData{
		Rows:        [][]string{{"a", "b", "c"}},
		ColumnCount: 3,
	}))

	next := tablePage(5, "没有任何延续标记的页面", TableData{
		Rows:        [][]string{{"d", "e", "f"}},
		ColumnCount: 3,
	})
	if !m.MergeContinuation("job-1", next) {
		t.Error("equal column counts must merge")
	}
}

func TestMergeContinuationRejectsMismatch(t *testing.T) {
	m := NewCrossPageMerger()
	m.RecordTail("job-1", 1, tablePage(1, "x", TableData{
		Rows:        [][]string{{"a", "b"}},
		ColumnCount: 2,
	}))

	next := tablePage(2, "全新的章节", TableData{
		Rows:        [][]string{{"d", "e", "f"}},
		ColumnCount: 3,
	})
	if m.MergeContinuation("job-1", next) {
		t.Error("different column counts without a marker must not merge")
	}
}

func TestMergeContinuationNeedsPredecessor(t *testing.T) {
	m := NewCrossPageMerger()
	next := tablePage(9, "（续）", TableData{Rows: [][]string{{"a"}}, ColumnCount: 1})
	if m.MergeContinuation("job-1", next) {
		t.Error("no recorded predecessor, nothing to merge")
	}
}

func TestMergerForgetClearsJob(t *testing.T) {
	m := NewCrossPageMerger()
	m.RecordTail("job-1", 1, tablePage(1, "x", TableData{
		Rows:        [][]string{{"a", "b"}},
		ColumnCount: 2,
	}))
	m.Forget("job-1")

	next := tablePage(2, "（续）", TableData{Rows: [][]string{{"c", "d"}}, ColumnCount: 2})
	if m.MergeContinuation("job-1", next) {
		t.Error("forgotten job must not merge")
	}
}
