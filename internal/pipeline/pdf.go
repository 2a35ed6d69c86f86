package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/ledongthuc/pdf"
	pdfcpu "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/haoran/skuflow/internal/logger"
	"github.com/haoran/skuflow/internal/parsepool"
	"github.com/haoran/skuflow/internal/storage"
)

// textCoverageThreshold selects a parse backend: below this the page is
// effectively image-only for that backend and the next one is tried.
const textCoverageThreshold = 0.1

// lineGapTolerance merges positioned text runs into lines.
const lineGapTolerance = 3.0

// columnGap splits a text line into table cells.
const columnGap = 15.0

// Parser extracts page content from stored PDFs using a backend chain:
// positioned text extraction first, plain-text second, image-only last.
// All CPU-heavy work runs on the shared parse pool so callers keep their
// context deadlines.
type Parser struct {
	store storage.ObjectStorage
	pool  *parsepool.Pool

	mu     sync.Mutex
	local  map[string]string // storage key -> cached local path
	tmpDir string
}

// NewParser creates a parser over the given object storage.
// Parameters:
//   - store: object storage holding uploaded PDFs.
//   - pool: shared CPU worker pool.
// Returns:
//   - *Parser: ready parser.
func NewParser(store storage.ObjectStorage, pool *parsepool.Pool) *Parser {
	return &Parser{
		store:  store,
		pool:   pool,
		local:  make(map[string]string),
		tmpDir: os.TempDir(),
	}
}

// LocalFile downloads a stored PDF to a local temp file once and reuses
// it for every page of the job.
func (p *Parser) LocalFile(ctx context.Context, storageKey string) (string, error) {
	p.mu.Lock()
	if path, ok := p.local[storageKey]; ok {
		p.mu.Unlock()
		return path, nil
	}
	p.mu.Unlock()

	rc, err := p.store.Download(ctx, storageKey)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", storageKey, err)
	}
	defer rc.Close()

	f, err := os.CreateTemp(p.tmpDir, "skuflow-*.pdf")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("cache %s: %w", storageKey, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}

	p.mu.Lock()
	p.local[storageKey] = f.Name()
	p.mu.Unlock()
	return f.Name(), nil
}

// Cleanup removes the cached local copy of a job's PDF.
func (p *Parser) Cleanup(storageKey string) {
	p.mu.Lock()
	path, ok := p.local[storageKey]
	delete(p.local, storageKey)
	p.mu.Unlock()
	if ok {
		os.Remove(path)
	}
}

// PageCount returns the document's page count.
func (p *Parser) PageCount(ctx context.Context, storageKey string) (int, error) {
	path, err := p.LocalFile(ctx, storageKey)
	if err != nil {
		return 0, err
	}
	v, err := p.pool.Run(ctx, func() (interface{}, error) {
		return pdfcpu.PageCountFile(path)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// PageCountFile returns the page count of a local file, used by the
// upload gate before the document reaches object storage.
func (p *Parser) PageCountFile(ctx context.Context, path string) (int, error) {
	v, err := p.pool.Run(ctx, func() (interface{}, error) {
		return pdfcpu.PageCountFile(path)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// PageStat is the cheap per-page signal the prescan collects: no image
// bytes are decoded and no geometry is computed.
type PageStat struct {
	PageNo     int
	TextChars  int
	ImageCount int
	TextHint   string
}

// ScanPages walks every page of a local file and collects text length
// and embedded image counts in one pass.
func (p *Parser) ScanPages(ctx context.Context, path string) ([]PageStat, error) {
	v, err := p.pool.Run(ctx, func() (interface{}, error) {
		return scanPagesSync(path)
	})
	if err != nil {
		return nil, err
	}
	return v.([]PageStat), nil
}

func scanPagesSync(path string) ([]PageStat, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stats := make([]PageStat, 0, r.NumPage())
	for pageNo := 1; pageNo <= r.NumPage(); pageNo++ {
		stat := PageStat{PageNo: pageNo}
		page := r.Page(pageNo)
		if page.V.IsNull() {
			stats = append(stats, stat)
			continue
		}
		if text, terr := page.GetPlainText(nil); terr == nil {
			trimmed := strings.TrimSpace(text)
			stat.TextChars = len([]rune(trimmed))
			stat.TextHint = headRunes(trimmed, 100)
		}
		stat.ImageCount = countPageImages(page)
		stats = append(stats, stat)
	}
	return stats, nil
}

// countPageImages counts image XObjects in the page resources without
// loading them.
func countPageImages(page pdf.Page) int {
	xobj := page.V.Key("Resources").Key("XObject")
	if xobj.IsNull() {
		return 0
	}
	n := 0
	for _, name := range xobj.Keys() {
		if xobj.Key(name).Key("Subtype").Name() == "Image" {
			n++
		}
	}
	return n
}

func headRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) > n {
		runes = runes[:n]
	}
	return string(runes)
}

// Validate runs a structural validation of the document. Used by the
// upload gate; the caller bounds the wall time through ctx.
func (p *Parser) Validate(ctx context.Context, path string) error {
	_, err := p.pool.Run(ctx, func() (interface{}, error) {
		return nil, pdfcpu.ValidateFile(path, model.NewDefaultConfiguration())
	})
	return err
}

// ExtractPage parses one page through the backend chain.
// Parameters:
//   - ctx: context bounding the parse.
//   - storageKey: object key of the PDF.
//   - pageNo: 1-indexed page number.
// Returns:
//   - *ParsedPage: parsed content; never nil on success, possibly empty.
//   - error: non-nil if every backend failed.
func (p *Parser) ExtractPage(ctx context.Context, storageKey string, pageNo int) (*ParsedPage, error) {
	path, err := p.LocalFile(ctx, storageKey)
	if err != nil {
		return nil, err
	}
	v, err := p.pool.Run(ctx, func() (interface{}, error) {
		return p.extractPageSync(ctx, path, pageNo)
	})
	if err != nil {
		return nil, err
	}
	return v.(*ParsedPage), nil
}

func (p *Parser) extractPageSync(ctx context.Context, path string, pageNo int) (*ParsedPage, error) {
	parsed, err := extractPositionedText(path, pageNo)
	if err != nil {
		logger.CtxDebug(ctx, "positioned text backend failed: page=%d: %v", pageNo, err)
		parsed = nil
	}
	if parsed != nil && parsed.TextCoverage > textCoverageThreshold {
		parsed.Backend = "pdftext"
	} else {
		// Plain-text fallback keeps content without geometry.
		plain, perr := extractPlainText(path, pageNo)
		if perr == nil && plain.TextCoverage > textCoverageThreshold {
			parsed = plain
			parsed.Backend = "plaintext"
		} else if parsed == nil {
			if plain != nil {
				parsed = plain
			} else {
				parsed = &ParsedPage{PageNo: pageNo, PageWidth: 595, PageHeight: 842}
			}
			parsed.Backend = "imageonly"
		} else {
			parsed.Backend = "pdftext"
		}
	}

	images, ierr := p.extractImages(path, pageNo)
	if ierr != nil {
		logger.CtxDebug(ctx, "image extraction failed: page=%d: %v", pageNo, ierr)
	}
	parsed.Images = images
	return parsed, nil
}

// extractPositionedText is the primary backend: per-run text with
// geometry, lines merged into blocks and table-like line groups lifted
// into TableData.
func extractPositionedText(path string, pageNo int) (*ParsedPage, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if pageNo < 1 || pageNo > r.NumPage() {
		return nil, fmt.Errorf("page %d out of range 1..%d", pageNo, r.NumPage())
	}
	page := r.Page(pageNo)
	if page.V.IsNull() {
		return nil, fmt.Errorf("page %d is null", pageNo)
	}

	pageW, pageH := pageSize(page)
	content := page.Content()

	blocks := mergeLines(content.Text, pageH)
	var rawText bytes.Buffer
	for _, b := range blocks {
		rawText.WriteString(b.Content)
		rawText.WriteByte('\n')
	}

	area := math.Max(1, pageW*pageH)
	return &ParsedPage{
		PageNo:       pageNo,
		TextBlocks:   blocks,
		Tables:       detectTables(blocks),
		RawText:      rawText.String(),
		PageWidth:    pageW,
		PageHeight:   pageH,
		TextCoverage: float64(rawText.Len()) / area,
	}, nil
}

// extractPlainText keeps content without geometry when positioned
// extraction produced nothing useful.
func extractPlainText(path string, pageNo int) (*ParsedPage, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if pageNo < 1 || pageNo > r.NumPage() {
		return nil, fmt.Errorf("page %d out of range", pageNo)
	}
	page := r.Page(pageNo)
	if page.V.IsNull() {
		return nil, fmt.Errorf("page %d is null", pageNo)
	}
	pageW, pageH := pageSize(page)

	text, err := page.GetPlainText(nil)
	if err != nil {
		return nil, err
	}

	parsed := &ParsedPage{
		PageNo:       pageNo,
		RawText:      text,
		PageWidth:    pageW,
		PageHeight:   pageH,
		TextCoverage: float64(len(text)) / math.Max(1, pageW*pageH),
	}
	if text != "" {
		parsed.TextBlocks = []TextBlock{{Content: text, BBox: BBox{0, 0, pageW, pageH}}}
	}
	return parsed, nil
}

// extractImages pulls the page's embedded images through pdfcpu into a
// scratch directory, then loads bytes and dimensions.
func (p *Parser) extractImages(path string, pageNo int) ([]ImageData, error) {
	outDir, err := os.MkdirTemp(p.tmpDir, "skuflow-img-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(outDir)

	pages := []string{strconv.Itoa(pageNo)}
	if err := pdfcpu.ExtractImagesFile(path, outDir, pages, model.NewDefaultConfiguration()); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var images []ImageData
	for i, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(outDir, entry.Name()))
		if err != nil || len(data) == 0 {
			continue
		}
		img := ImageData{
			ImageID: fmt.Sprintf("p%d_img%d", pageNo, i),
			Data:    data,
			Format:  imageFormat(entry.Name()),
		}
		if cfg, _, derr := image.DecodeConfig(bytes.NewReader(data)); derr == nil {
			img.Width, img.Height = cfg.Width, cfg.Height
		}
		images = append(images, img)
	}
	return images, nil
}

// RenderPages provides the evaluator's page visuals on a best-effort
// basis: the largest embedded image per page, which for scanned catalogs
// is the page itself. Pages without a usable image yield a nil slot.
func (p *Parser) RenderPages(ctx context.Context, storageKey string, pages []int) ([][]byte, error) {
	out := make([][]byte, len(pages))
	for i, pageNo := range pages {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		parsed, err := p.ExtractPage(ctx, storageKey, pageNo)
		if err != nil {
			continue
		}
		var best []byte
		var bestSize int
		for _, img := range parsed.Images {
			if size := img.Width * img.Height; size > bestSize {
				best, bestSize = img.Data, size
			}
		}
		out[i] = best
	}
	return out, nil
}

func pageSize(page pdf.Page) (w, h float64) {
	w, h = 595, 842 // A4 default
	box := page.V.Key("MediaBox")
	if box.IsNull() || box.Len() < 4 {
		return w, h
	}
	x1 := box.Index(2).Float64() - box.Index(0).Float64()
	y1 := box.Index(3).Float64() - box.Index(1).Float64()
	if x1 > 0 && y1 > 0 {
		w, h = x1, y1
	}
	return w, h
}

// mergeLines groups positioned runs into line blocks, converting the
// PDF bottom-left origin into top-left page coordinates.
func mergeLines(texts []pdf.Text, pageH float64) []TextBlock {
	if len(texts) == 0 {
		return nil
	}
	sorted := make([]pdf.Text, len(texts))
	copy(sorted, texts)
	sort.SliceStable(sorted, func(i, j int) bool {
		if math.Abs(sorted[i].Y-sorted[j].Y) > lineGapTolerance {
			return sorted[i].Y > sorted[j].Y // higher Y is higher on page
		}
		return sorted[i].X < sorted[j].X
	})

	var blocks []TextBlock
	var cur *TextBlock
	var curY float64
	for _, t := range sorted {
		if t.S == "" {
			continue
		}
		top := pageH - t.Y - t.FontSize
		if cur != nil && math.Abs(t.Y-curY) <= lineGapTolerance {
			cur.Content += t.S
			cur.BBox[2] = math.Max(cur.BBox[2], t.X+t.W)
			cur.BBox[3] = math.Max(cur.BBox[3], pageH-t.Y)
			continue
		}
		if cur != nil {
			blocks = append(blocks, *cur)
		}
		cur = &TextBlock{
			Content:  t.S,
			BBox:     BBox{t.X, top, t.X + t.W, pageH - t.Y},
			FontSize: t.FontSize,
			FontName: t.Font,
			Bold:     bytes.Contains([]byte(t.Font), []byte("Bold")),
		}
		curY = t.Y
	}
	if cur != nil {
		blocks = append(blocks, *cur)
	}
	return blocks
}

// detectTables lifts runs of equally-segmented lines into tables.
// Two or more consecutive lines splitting into the same number (>=2)
// of gap-separated cells read as table rows.
func detectTables(blocks []TextBlock) []TableData {
	type line struct {
		cells []string
		bbox  BBox
	}
	var lines []line
	for _, b := range blocks {
		cells := splitCells(b.Content)
		lines = append(lines, line{cells: cells, bbox: b.BBox})
	}

	var tables []TableData
	var run []line
	flush := func() {
		if len(run) >= 2 {
			rows := make([][]string, len(run))
			bbox := run[0].bbox
			for i, l := range run {
				rows[i] = l.cells
				bbox[0] = math.Min(bbox[0], l.bbox[0])
				bbox[1] = math.Min(bbox[1], l.bbox[1])
				bbox[2] = math.Max(bbox[2], l.bbox[2])
				bbox[3] = math.Max(bbox[3], l.bbox[3])
			}
			tables = append(tables, TableData{
				Rows:        rows,
				BBox:        bbox,
				HeaderRow:   rows[0],
				ColumnCount: len(rows[0]),
			})
		}
		run = nil
	}
	for _, l := range lines {
		if len(l.cells) >= 2 && (len(run) == 0 || len(l.cells) == len(run[0].cells)) {
			run = append(run, l)
			continue
		}
		flush()
		if len(l.cells) >= 2 {
			run = append(run, l)
		}
	}
	flush()
	return tables
}

// splitCells splits a line on wide whitespace gaps.
func splitCells(s string) []string {
	var cells []string
	var cur []rune
	spaces := 0
	for _, r := range s {
		if r == ' ' || r == '\t' {
			spaces++
			continue
		}
		if spaces >= 3 && len(cur) > 0 {
			cells = append(cells, string(cur))
			cur = cur[:0]
		} else if spaces > 0 && len(cur) > 0 {
			cur = append(cur, ' ')
		}
		spaces = 0
		cur = append(cur, r)
	}
	if len(cur) > 0 {
		cells = append(cells, string(cur))
	}
	return cells
}

func imageFormat(name string) string {
	switch filepath.Ext(name) {
	case ".png":
		return "png"
	case ".jpg", ".jpeg":
		return "jpg"
	case ".webp":
		return "webp"
	case ".tif", ".tiff":
		return "tiff"
	default:
		return "png"
	}
}
