package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/signalsfoundry/unifilar/model"
)

// ExportFormatVersion is stamped on exported documents.
const ExportFormatVersion = 1

var ErrCorruptDiagram = errors.New("corrupt diagram document")

// Diagram is the persisted state of one unifilar grid: cells, text
// annotations (carried opaquely), line width, terminals and spark settings.
type Diagram struct {
	Cells     map[model.Point]model.Color
	Texts     []json.RawMessage
	LineWidth int
	Terminals []model.Terminal
	Sparks    SparkConfig
}

// EmptyDiagram returns the initial state.
func EmptyDiagram() Diagram {
	return Diagram{
		Cells:     make(map[model.Point]model.Color),
		LineWidth: DefaultLineWidth,
		Sparks:    DefaultSparkConfig(),
	}
}

// IsEmpty reports whether the diagram has no cells, texts or terminals.
// Empty diagrams are not stored.
func (d Diagram) IsEmpty() bool {
	return len(d.Cells) == 0 && len(d.Texts) == 0 && len(d.Terminals) == 0
}

// JSON shapes of the persisted document. Field names match the documents
// already stored by existing deployments.
type diagramJSON struct {
	Version    int               `json:"version,omitempty"`
	Cells      map[string]string `json:"celdas"`
	Texts      []json.RawMessage `json:"textos"`
	LineWidth  int               `json:"grosor,omitempty"`
	Terminals  []terminalJSON    `json:"bornes"`
	Sparks     *sparkConfigJSON  `json:"chispasConfig,omitempty"`
	ExportedAt string            `json:"exportadoEn,omitempty"`
}

type terminalJSON struct {
	ID         string `json:"id"`
	Kind       string `json:"tipo"`
	X          int    `json:"x"`
	Y          int    `json:"y"`
	Color      string `json:"color,omitempty"`
	Active     bool   `json:"activo"`
	IntervalMs int    `json:"frecuenciaMs,omitempty"`
	Name       string `json:"nombre,omitempty"`
}

type sparkConfigJSON struct {
	Speed        float64 `json:"velocidad"`
	Size         int     `json:"tamano"`
	Color        string  `json:"color"`
	Trail        *bool   `json:"estela,omitempty"`
	TrailLength  int     `json:"longitudEstela"`
	IntervalMs   int     `json:"frecuenciaEmision"`
	MaxParticles int     `json:"maxChispas,omitempty"`
}

// EncodeDiagram renders the storage form of d.
func EncodeDiagram(d Diagram) ([]byte, error) {
	return json.Marshal(toJSON(d))
}

// ExportDiagram renders the file export form of d: the storage form plus a
// format version and the export timestamp.
func ExportDiagram(d Diagram, now time.Time) ([]byte, error) {
	doc := toJSON(d)
	doc.Version = ExportFormatVersion
	doc.ExportedAt = now.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	return json.MarshalIndent(doc, "", "  ")
}

// DecodeDiagram parses any supported document:
//   - the current form {celdas, textos, grosor, bornes, chispasConfig};
//   - a versioned export, whose missing celdas means an empty grid;
//   - the legacy cells-only form, a bare {"x,y": color} object.
//
// On malformed input it returns EmptyDiagram and an error wrapping
// ErrCorruptDiagram; callers log it and carry on with the empty state.
func DecodeDiagram(data []byte) (Diagram, error) {
	d, err := decodeDiagram(data)
	if err != nil {
		return EmptyDiagram(), fmt.Errorf("%w: %v", ErrCorruptDiagram, err)
	}
	return d, nil
}

// ReadDiagram decodes a document from r.
func ReadDiagram(r io.Reader) (Diagram, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return EmptyDiagram(), fmt.Errorf("read diagram: %w", err)
	}
	return DecodeDiagram(data)
}

func decodeDiagram(data []byte) (Diagram, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return EmptyDiagram(), nil
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return Diagram{}, fmt.Errorf("document is not a JSON object: %w", err)
	}

	if !present(probe["celdas"]) {
		if present(probe["version"]) {
			// An export without cells: keep whatever else it carries.
			var doc diagramJSON
			if err := json.Unmarshal(data, &doc); err != nil {
				return Diagram{}, err
			}
			doc.Cells = nil
			return fromJSON(doc)
		}
		var cells map[string]string
		if err := json.Unmarshal(data, &cells); err != nil {
			return Diagram{}, fmt.Errorf("legacy cell map: %w", err)
		}
		return fromJSON(diagramJSON{Cells: cells})
	}

	var doc diagramJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return Diagram{}, err
	}
	return fromJSON(doc)
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

func fromJSON(doc diagramJSON) (Diagram, error) {
	d := EmptyDiagram()
	for key, color := range doc.Cells {
		p, err := model.ParsePoint(key)
		if err != nil {
			return Diagram{}, err
		}
		if color == "" {
			continue
		}
		d.Cells[p] = model.Color(color)
	}
	d.Texts = doc.Texts
	if doc.LineWidth > 0 {
		d.LineWidth = doc.LineWidth
	}
	for i, t := range doc.Terminals {
		kind, ok := model.ParseTerminalKind(t.Kind)
		if !ok {
			return Diagram{}, fmt.Errorf("terminal %d: %w: %q", i, ErrInvalidTerminalKind, t.Kind)
		}
		if t.ID == "" {
			return Diagram{}, fmt.Errorf("terminal %d: empty id", i)
		}
		term := model.Terminal{
			ID:         t.ID,
			Kind:       kind,
			X:          t.X,
			Y:          t.Y,
			Active:     t.Active,
			Name:       t.Name,
			Color:      model.Color(t.Color),
			IntervalMs: t.IntervalMs,
		}
		if term.Color == "" {
			term.Color = kindColor(kind)
		}
		d.Terminals = append(d.Terminals, term)
	}
	if doc.Sparks != nil {
		d.Sparks = sparksFromJSON(*doc.Sparks)
	}
	return d, nil
}

func toJSON(d Diagram) diagramJSON {
	doc := diagramJSON{
		Cells:     make(map[string]string, len(d.Cells)),
		Texts:     d.Texts,
		LineWidth: d.LineWidth,
		Terminals: make([]terminalJSON, 0, len(d.Terminals)),
	}
	if doc.Texts == nil {
		doc.Texts = []json.RawMessage{}
	}
	if doc.LineWidth <= 0 {
		doc.LineWidth = DefaultLineWidth
	}
	for p, c := range d.Cells {
		doc.Cells[p.Key()] = string(c)
	}
	for _, t := range d.Terminals {
		doc.Terminals = append(doc.Terminals, terminalJSON{
			ID:         t.ID,
			Kind:       string(t.Kind),
			X:          t.X,
			Y:          t.Y,
			Color:      string(t.Color),
			Active:     t.Active,
			IntervalMs: t.IntervalMs,
			Name:       t.Name,
		})
	}
	sc := d.Sparks.Clamp()
	trail := sc.Trail
	doc.Sparks = &sparkConfigJSON{
		Speed:        sc.Speed,
		Size:         sc.Size,
		Color:        string(sc.Color),
		Trail:        &trail,
		TrailLength:  sc.TrailLength,
		IntervalMs:   sc.IntervalMs,
		MaxParticles: sc.MaxParticles,
	}
	return doc
}

func sparksFromJSON(j sparkConfigJSON) SparkConfig {
	c := SparkConfig{
		Speed:        j.Speed,
		Size:         j.Size,
		Color:        model.Color(j.Color),
		Trail:        true,
		TrailLength:  j.TrailLength,
		IntervalMs:   j.IntervalMs,
		MaxParticles: j.MaxParticles,
	}
	if j.Trail != nil {
		c.Trail = *j.Trail
	}
	return c.Clamp()
}
