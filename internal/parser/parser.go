package parser

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"rag-portal/internal/config"
	"rag-portal/internal/models"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/tealeg/xlsx"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/xuri/excelize/v2"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrLoad              = errors.New("load failed")
)

// Loader modes for PDF files.
const (
	ModePage  = "page"  // one chunk per page
	ModeSplit = "split" // every page split by the recursive character splitter
	ModeShred = "shred" // one chunk per page, long pages split by tokens
)

type Parser interface {
	Parse(filePath string) ([]models.Chunk, error)
}

type Options struct {
	Mode         string
	ChunkSize    int
	ChunkOverlap int
	Separators   []string
	ShredTokens  int
}

type ParserConfig struct {
	opts     Options
	splitter textsplitter.TextSplitter
	shredder textsplitter.TextSplitter
}

const (
	defaultChunkSize   = 600
	defaultShredTokens = 600
	defaultPageNumber  = 1
)

var slideNameRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// OptionsFromConfig maps the rag section of the config to loader options.
func OptionsFromConfig(cfg *config.RAGConfig) Options {
	if cfg == nil {
		return Options{}
	}
	return Options{
		Mode:         cfg.LoaderMode,
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
		Separators:   cfg.Separators,
		ShredTokens:  cfg.ShredTokens,
	}
}

func New(opts Options) *ParserConfig {
	if opts.Mode == "" {
		opts.Mode = ModePage
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.ChunkOverlap < 0 {
		opts.ChunkOverlap = 0
	}
	if opts.ChunkOverlap >= opts.ChunkSize {
		opts.ChunkOverlap = opts.ChunkSize / 2
	}
	if opts.ShredTokens <= 0 {
		opts.ShredTokens = defaultShredTokens
	}

	splitOpts := []textsplitter.Option{
		textsplitter.WithChunkSize(opts.ChunkSize),
		textsplitter.WithChunkOverlap(opts.ChunkOverlap),
	}
	if len(opts.Separators) > 0 {
		splitOpts = append(splitOpts, textsplitter.WithSeparators(opts.Separators))
	}

	shredOverlap := opts.ChunkOverlap
	if shredOverlap >= opts.ShredTokens {
		shredOverlap = opts.ShredTokens / 2
	}

	return &ParserConfig{
		opts:     opts,
		splitter: textsplitter.NewRecursiveCharacter(splitOpts...),
		shredder: textsplitter.NewTokenSplitter(
			textsplitter.WithChunkSize(opts.ShredTokens),
			textsplitter.WithChunkOverlap(shredOverlap),
		),
	}
}

// Extensions lists every file extension Parse accepts.
var Extensions = []string{".pdf", ".docx", ".pptx", ".xlsx", ".xlsm", ".xltx", ".xltm", ".txt", ".md"}

// ParseDocument loads filePath with the given options.
func ParseDocument(filePath string, opts Options) ([]models.Chunk, error) {
	return New(opts).Parse(filePath)
}

func (p *ParserConfig) Parse(filePath string) ([]models.Chunk, error) {
	if _, err := os.Stat(filePath); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoad, err)
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	var (
		chunks []models.Chunk
		err    error
	)
	switch ext {
	case ".pdf":
		chunks, err = p.parsePDF(filePath)
	case ".docx":
		chunks, err = p.parseDOCX(filePath)
	case ".pptx":
		chunks, err = p.parsePPTX(filePath)
	case ".xlsx":
		chunks, err = p.parseXLSX(filePath)
	case ".xlsm", ".xltx", ".xltm":
		chunks, err = p.parseExcelize(filePath)
	case ".txt", ".md":
		chunks, err = p.parseText(filePath)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoad, filepath.Base(filePath), err)
	}

	log.Debug().Str("file", filePath).Str("mode", p.opts.Mode).Int("chunks", len(chunks)).Msg("Parsed document")
	return chunks, nil
}

func (p *ParserConfig) parsePDF(filePath string) (chunks []models.Chunk, err error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Get file size for reader initialization
	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	// the pdf package panics on some malformed object graphs
	defer func() {
		if r := recover(); r != nil {
			chunks, err = nil, fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, err
	}

	filename := filepath.Base(filePath)
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		var pageText string
		if !page.V.IsNull() {
			pageText, err = page.GetPlainText(nil)
			if err != nil {
				return nil, fmt.Errorf("page %d: %w", i, err)
			}
		}

		switch p.opts.Mode {
		case ModeSplit:
			pageChunks, err := p.splitPage(pageText, filename, i, "pdf")
			if err != nil {
				return nil, err
			}
			chunks = append(chunks, pageChunks...)
		case ModeShred:
			pageChunks, err := p.shredPage(flattenLines(pageText), filename, i)
			if err != nil {
				return nil, err
			}
			chunks = append(chunks, pageChunks...)
		default:
			chunks = append(chunks, models.Chunk{
				Content:    flattenLines(pageText),
				Source:     filename,
				PageNumber: i,
				ChunkID:    1,
				Type:       "pdf",
			})
		}
	}
	return chunks, nil
}

func (p *ParserConfig) parseDOCX(filePath string) ([]models.Chunk, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	text, err := extractTextFromXML(r.Editable().GetContent())
	if err != nil {
		return nil, err
	}
	// DOCX has no page numbers
	return p.splitPage(text, filepath.Base(filePath), defaultPageNumber, "docx")
}

func (p *ParserConfig) parsePPTX(filePath string) ([]models.Chunk, error) {
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	type slide struct {
		num  int
		file *zip.File
	}
	var slides []slide
	for _, file := range f.File {
		m := slideNameRe.FindStringSubmatch(file.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{num: n, file: file})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	filename := filepath.Base(filePath)
	var chunks []models.Chunk
	for _, s := range slides {
		rc, err := s.file.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		slideText, err := extractTextFromXML(string(data))
		if err != nil {
			return nil, fmt.Errorf("slide %d: %w", s.num, err)
		}
		slideChunks, err := p.splitPage(slideText, filename, s.num, "pptx")
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, slideChunks...)
	}
	return chunks, nil
}

func (p *ParserConfig) parseXLSX(filePath string) ([]models.Chunk, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return nil, err
	}

	filename := filepath.Base(filePath)
	var chunks []models.Chunk
	for sheetNum, sheet := range f.Sheets {
		var text strings.Builder
		text.WriteString(fmt.Sprintf("## Sheet: %s\n", sheet.Name))
		for _, row := range sheet.Rows {
			for _, cell := range row.Cells {
				text.WriteString(cell.String() + "\t")
			}
			text.WriteString("\n")
		}
		sheetChunks, err := p.splitPage(text.String(), filename, sheetNum+1, "xlsx")
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, sheetChunks...)
	}
	return chunks, nil
}

func (p *ParserConfig) parseExcelize(filePath string) ([]models.Chunk, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	filename := filepath.Base(filePath)
	var chunks []models.Chunk
	for sheetNum, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			return nil, fmt.Errorf("sheet %s: %w", sheetName, err)
		}
		var text strings.Builder
		text.WriteString(fmt.Sprintf("## Sheet: %s\n", sheetName))
		for _, row := range rows {
			text.WriteString(strings.Join(row, "\t"))
			text.WriteString("\n")
		}
		sheetChunks, err := p.splitPage(text.String(), filename, sheetNum+1, "xlsx")
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, sheetChunks...)
	}
	return chunks, nil
}

func (p *ParserConfig) parseText(filePath string) ([]models.Chunk, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	typ := strings.TrimPrefix(strings.ToLower(filepath.Ext(filePath)), ".")
	return p.splitPage(string(data), filepath.Base(filePath), defaultPageNumber, typ)
}

// splitPage runs the recursive character splitter over one page of text;
// every fragment keeps the page number and is numbered from 1.
func (p *ParserConfig) splitPage(text, filename string, pageNumber int, typ string) ([]models.Chunk, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	fragments, err := p.splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("split page %d: %w", pageNumber, err)
	}
	return toChunks(fragments, filename, pageNumber, typ), nil
}

// shredPage keeps a page whole unless it exceeds the token budget.
func (p *ParserConfig) shredPage(text, filename string, pageNumber int) ([]models.Chunk, error) {
	if text == "" {
		return []models.Chunk{{Source: filename, PageNumber: pageNumber, ChunkID: 1, Type: "pdf"}}, nil
	}
	fragments, err := p.shredder.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("shred page %d: %w", pageNumber, err)
	}
	return toChunks(fragments, filename, pageNumber, "pdf"), nil
}

func toChunks(fragments []string, filename string, pageNumber int, typ string) []models.Chunk {
	var chunks []models.Chunk
	for _, fragment := range fragments {
		fragment = strings.TrimSpace(fragment)
		if fragment == "" {
			continue
		}
		chunks = append(chunks, models.Chunk{
			Content:    fragment,
			Source:     filename,
			PageNumber: pageNumber,
			ChunkID:    len(chunks) + 1,
			Type:       typ,
		})
	}
	return chunks
}

func flattenLines(text string) string {
	return strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
}

// extractTextFromXML collects the character data of every <*:t> run and
// ends a line at every closing paragraph. Works for WordprocessingML and
// DrawingML alike.
func extractTextFromXML(xmlContent string) (string, error) {
	dec := xml.NewDecoder(strings.NewReader(xmlContent))
	var (
		text   strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			inText = t.Name.Local == "t"
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				text.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				text.Write(t)
			}
		}
	}
	return strings.TrimSpace(text.String()), nil
}
