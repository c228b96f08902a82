package milestone

import (
	"fmt"
	"strings"
)

// Kind is one stage of the fixed milestone sequence.
type Kind struct {
	Key      string `yaml:"key"`
	Name     string `yaml:"name"`
	Task     string `yaml:"task,omitempty"`
	Position int    `yaml:"-"`
	// HandoffTo, when set, becomes the request's responsible party once this
	// kind is completed.
	HandoffTo string `yaml:"handoff_to,omitempty"`
}

// TaskText returns the task a responsible party has to fulfil at this stage.
func (k Kind) TaskText() string {
	if k.Task != "" {
		return k.Task
	}
	return fmt.Sprintf("Entrega %s para firma de Presidencia ENT.", strings.ToLower(k.Name))
}

// Catalog is the ordered, immutable list of milestone kinds shared by every
// request. Build it once at startup with NewCatalog.
type Catalog struct {
	kinds []Kind
	byKey map[string]int
}

func NewCatalog(kinds []Kind) (*Catalog, error) {
	if len(kinds) == 0 {
		return nil, fmt.Errorf("milestone catalog is empty")
	}
	c := &Catalog{
		kinds: make([]Kind, len(kinds)),
		byKey: make(map[string]int, len(kinds)),
	}
	for i, k := range kinds {
		k.Key = strings.TrimSpace(k.Key)
		if k.Key == "" {
			return nil, fmt.Errorf("milestone kind at position %d has no key", i)
		}
		if _, dup := c.byKey[k.Key]; dup {
			return nil, fmt.Errorf("duplicate milestone kind %q", k.Key)
		}
		if k.Name == "" {
			k.Name = k.Key
		}
		k.Position = i
		c.kinds[i] = k
		c.byKey[k.Key] = i
	}
	return c, nil
}

func MustCatalog(kinds []Kind) *Catalog {
	c, err := NewCatalog(kinds)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) Len() int { return len(c.kinds) }

func (c *Catalog) At(pos int) Kind { return c.kinds[pos] }

func (c *Catalog) Lookup(key string) (Kind, bool) {
	pos, ok := c.byKey[key]
	if !ok {
		return Kind{}, false
	}
	return c.kinds[pos], true
}

// Kinds returns a copy of the sequence in catalog order.
func (c *Catalog) Kinds() []Kind {
	out := make([]Kind, len(c.kinds))
	copy(out, c.kinds)
	return out
}

// DefaultKinds is the contracting sequence used when the config file does not
// override it.
func DefaultKinds() []Kind {
	return []Kind{
		{Key: "presupuesto_base", Name: "Presupuesto Base", Task: "Entrega de presupuesto base."},
		{Key: "fecha_solicitud", Name: "Fecha de Solicitud", Task: "Entrega de proceso de inicio a la Gerencia de Contrataciones.", HandoffTo: "GERENCIA DE CONTRATACIONES"},
		{Key: "estrategia", Name: "Estrategia de Contratación"},
		{Key: "inicio", Name: "Acta de Inicio - Solicitud A"},
		{Key: "decision", Name: "Decisión de Inicio"},
		{Key: "acta_otorgamiento", Name: "Acta de Decisión de Otorgamiento"},
		{Key: "notif_otorgamiento", Name: "Notificación de Otorgamiento"},
		{Key: "contrato", Name: "Contrato"},
	}
}

// DefaultCatalog returns a freshly built catalog of DefaultKinds.
func DefaultCatalog() *Catalog {
	return MustCatalog(DefaultKinds())
}
