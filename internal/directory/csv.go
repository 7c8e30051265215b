package directory

import (
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/aifa/directorio/internal/model"
)

// CSVのエンコーディング名
const (
	EncodingUTF8        = "utf-8"
	EncodingWindows1252 = "windows-1252"
)

// csvHeader はCSVの見出し行。見出しは引用符で囲まない。
var csvHeader = []string{
	"Nombre Completo",
	"Puesto",
	"Área",
	"Departamento",
	"Teléfono",
	"Extensión",
	"Email",
	"Celular",
	"Ubicación",
}

// WriteCSV はエントリをCSVとしてwに書き出す。
// データセルは全て二重引用符で囲み、セル内の二重引用符は重ねてエスケープする。
// 行は\nで区切り、末尾に改行は付けない。エントリが0件の場合は何も書かない。
func WriteCSV(w io.Writer, entries []*model.DirectoryEntry, encodingName string) error {
	enc, err := lookupEncoding(encodingName)
	if err != nil {
		return err
	}
	return writeCSV(w, entries, enc)
}

func writeCSV(w io.Writer, entries []*model.DirectoryEntry, enc encoding.Encoding) error {
	if len(entries) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString(strings.Join(csvHeader, ","))
	for _, e := range entries {
		areaName := ""
		if e.Area != nil {
			areaName = e.Area.Name
		}
		cells := []string{
			e.FullName, e.Position, areaName, e.Department, e.Phone,
			e.Extension, e.Email, e.Mobile, e.OfficeLocation,
		}
		b.WriteByte('\n')
		for i, cell := range cells {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(quoteCell(cell))
		}
	}

	if enc != nil {
		tw := transform.NewWriter(w, encoding.ReplaceUnsupported(enc.NewEncoder()))
		if _, err := io.WriteString(tw, b.String()); err != nil {
			return err
		}
		return tw.Close()
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func quoteCell(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// lookupEncoding はエンコーディング名を解決する。UTF-8の場合はnilを返す。
func lookupEncoding(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", EncodingUTF8, "utf8":
		return nil, nil
	case EncodingWindows1252, "cp1252":
		return charmap.Windows1252, nil
	default:
		return nil, model.NewUnsupportedCharsetError(name)
	}
}
