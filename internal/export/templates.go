package export

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"fmt"
	"html/template"
	"strings"
	"sync"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"

	"fachschaft/api/internal/store"
)

// SafeHTML is a template function that marks a string as safe HTML
func SafeHTML(s interface{}) template.HTML {
	switch v := s.(type) {
	case string:
		return template.HTML(v)
	case template.HTML:
		return v
	default:
		return template.HTML("")
	}
}

var berlin = loadBerlin()

func loadBerlin() *time.Location {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		return time.UTC
	}
	return loc
}

var funcMap = template.FuncMap{
	"lower":    strings.ToLower,
	"upper":    strings.ToUpper,
	"safeHTML": SafeHTML,
	"formatDate": func(t time.Time, layout string) string {
		return t.In(berlin).Format(layout)
	},
	"formatDatePtr": func(t *time.Time, layout string) string {
		if t == nil {
			return ""
		}
		return t.In(berlin).Format(layout)
	},
	"deref": func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	},
	"inc": func(i int) int { return i + 1 },
	"topsOfKind": func(tops []store.TopWithAntraege, kind string) []store.TopWithAntraege {
		out := make([]store.TopWithAntraege, 0, len(tops))
		for _, top := range tops {
			if string(top.Kind) == kind {
				out = append(out, top)
			}
		}
		return out
	},
	"personName": func(persons []store.Person, id uuid.UUID) string {
		for _, p := range persons {
			if p.ID == id {
				return p.Name
			}
		}
		return ""
	},
}

//go:embed templates/protocol.html
var defaultProtocol string

// DefaultTemplate is the built-in protocol used when no stored template is
// requested.
const DefaultTemplate = "default"

// Parse compiles template content with the protocol function set. Create and
// update handlers call it to reject content that would never render.
func Parse(name, content string) (*template.Template, error) {
	tmpl, err := template.New(name).Funcs(funcMap).Parse(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	return tmpl, nil
}

type compiled struct {
	digest [sha256.Size]byte
	tmpl   *template.Template
}

// Engine caches compiled templates by name. An entry is recompiled when the
// stored content changes.
type Engine struct {
	mu    sync.RWMutex
	cache map[string]compiled
}

func NewEngine() *Engine {
	return &Engine{cache: make(map[string]compiled)}
}

func (e *Engine) lookup(item store.Template) (*template.Template, error) {
	digest := sha256.Sum256([]byte(item.Inhalt))

	e.mu.RLock()
	entry, ok := e.cache[item.Name]
	e.mu.RUnlock()
	if ok && entry.digest == digest {
		return entry.tmpl, nil
	}

	tmpl, err := Parse(item.Name, item.Inhalt)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.cache[item.Name] = compiled{digest: digest, tmpl: tmpl}
	e.mu.Unlock()
	return tmpl, nil
}

// Forget drops a cached template, e.g. after it was deleted.
func (e *Engine) Forget(name string) {
	e.mu.Lock()
	delete(e.cache, name)
	e.mu.Unlock()
}

// Render executes the template against data.
func (e *Engine) Render(item store.Template, data ProtocolData) (string, error) {
	tmpl, err := e.lookup(item)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template %s: %w", item.Name, err)
	}
	return buf.String(), nil
}
