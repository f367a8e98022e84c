package docparse

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/joseph-ayodele/loan-extractor/internal/entity"
)

// readDOCX returns the document body as raw text and markdown plus its tables.
// Word documents have no stable page boundaries, so everything is one page.
func readDOCX(data []byte) (raw, markdown string, tables []entity.Table, err error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", "", nil, fmt.Errorf("open docx: %w", err)
	}
	var docFile *zip.File
	for _, f := range zr.File {
		if strings.EqualFold(f.Name, "word/document.xml") {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return "", "", nil, fmt.Errorf("docx: word/document.xml not found")
	}
	rc, err := docFile.Open()
	if err != nil {
		return "", "", nil, fmt.Errorf("open document.xml: %w", err)
	}
	defer rc.Close()
	return decodeDOCXBody(rc)
}

func decodeDOCXBody(r io.Reader) (string, string, []entity.Table, error) {
	dec := xml.NewDecoder(r)
	var (
		rawBuf, mdBuf strings.Builder
		para          strings.Builder
		tables        []entity.Table
		tableDepth    int
		row           []string
		cell          strings.Builder
		current       *entity.Table
	)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", "", nil, fmt.Errorf("decode document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tbl":
				tableDepth++
				if tableDepth == 1 {
					current = &entity.Table{}
				}
			case "tr":
				row = nil
			case "tc":
				cell.Reset()
			case "t", "instrText":
				var text string
				if err := dec.DecodeElement(&text, &t); err == nil {
					if tableDepth > 0 {
						cell.WriteString(text)
					} else {
						para.WriteString(text)
					}
				}
			case "tab":
				if tableDepth > 0 {
					cell.WriteByte(' ')
				} else {
					para.WriteByte('\t')
				}
			case "br", "cr":
				if tableDepth > 0 {
					cell.WriteByte(' ')
				} else {
					para.WriteByte('\n')
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "p":
				if tableDepth > 0 {
					if cell.Len() > 0 {
						cell.WriteByte(' ')
					}
					continue
				}
				line := para.String()
				para.Reset()
				rawBuf.WriteString(line)
				rawBuf.WriteByte('\n')
				if strings.TrimSpace(line) != "" {
					mdBuf.WriteString(strings.TrimSpace(line))
					mdBuf.WriteString("\n\n")
				}
			case "tc":
				if tableDepth == 1 {
					row = append(row, strings.TrimSpace(cell.String()))
				}
			case "tr":
				if tableDepth == 1 && current != nil {
					current.Rows = append(current.Rows, row)
					rawBuf.WriteString(strings.Join(row, "\t"))
					rawBuf.WriteByte('\n')
				}
			case "tbl":
				if tableDepth == 1 && current != nil {
					tables = append(tables, *current)
					mdBuf.WriteString(MarkdownTable(current.Rows))
					mdBuf.WriteString("\n")
					current = nil
				}
				tableDepth--
			}
		}
	}
	return strings.TrimRight(rawBuf.String(), "\n"), strings.TrimSpace(mdBuf.String()), tables, nil
}

// MarkdownTable renders rows as a pipe table, the first row being the header.
func MarkdownTable(rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}
	width := 0
	for _, r := range rows {
		if len(r) > width {
			width = len(r)
		}
	}
	if width == 0 {
		return ""
	}
	var b strings.Builder
	writeRow := func(r []string) {
		b.WriteString("|")
		for i := 0; i < width; i++ {
			v := ""
			if i < len(r) {
				v = strings.ReplaceAll(r[i], "|", `\|`)
			}
			b.WriteString(" ")
			b.WriteString(v)
			b.WriteString(" |")
		}
		b.WriteString("\n")
	}
	writeRow(rows[0])
	b.WriteString("|")
	for i := 0; i < width; i++ {
		b.WriteString(" --- |")
	}
	b.WriteString("\n")
	for _, r := range rows[1:] {
		writeRow(r)
	}
	return b.String()
}
