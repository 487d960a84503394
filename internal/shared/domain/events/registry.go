package events

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/davicafu/hexaevents/internal/shared/domain"
)

// Entry describe un tipo de evento registrado.
// New devuelve un puntero vacío del payload concreto donde se decodifica el JSON.
type Entry struct {
	Type  string
	Topic string
	New   func() domain.EventData
}

// Registry es la tabla cerrada tag -> tipo concreto. Sustituye a la carga de tipos por nombre.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewRegistry(entries ...Entry) (*Registry, error) {
	r := &Registry{entries: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		if err := r.Register(e); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// MustRegistry es para los registros estáticos de cada dominio.
func MustRegistry(entries ...Entry) *Registry {
	r, err := NewRegistry(entries...)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) Register(e Entry) error {
	if e.Type == "" || e.New == nil {
		return fmt.Errorf("invalid registry entry %q", e.Type)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[e.Type]; ok {
		return fmt.Errorf("event type %q already registered", e.Type)
	}
	r.entries[e.Type] = e
	return nil
}

// Merge copia las entradas de otro registro (un registro por dominio, uno global en main).
func (r *Registry) Merge(other *Registry) error {
	for _, t := range other.Types() {
		e, _ := other.Lookup(t)
		if err := r.Register(e); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) Lookup(eventType string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[eventType]
	return e, ok
}

func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for t := range r.entries {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Decode resuelve el tag y decodifica el payload. Cualquier fallo es ErrSerialization.
func (r *Registry) Decode(eventType string, data []byte) (domain.EventData, error) {
	e, ok := r.Lookup(eventType)
	if !ok {
		return nil, fmt.Errorf("%w: unknown event type %q", domain.ErrSerialization, eventType)
	}
	payload := e.New()
	if err := json.Unmarshal(data, payload); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", domain.ErrSerialization, eventType, err)
	}
	return payload, nil
}

// DecodeRecord reconstruye el DomainEvent de un registro persistido.
func (r *Registry) DecodeRecord(rec domain.EventRecord) (domain.DomainEvent, error) {
	payload, err := r.Decode(rec.EventType, rec.Payload)
	if err != nil {
		return domain.DomainEvent{}, err
	}
	return domain.DomainEvent{
		EventID:    rec.EventID,
		EventType:  rec.EventType,
		OccurredAt: rec.OccurredAt,
		Version:    rec.Version,
		Metadata:   rec.Metadata,
		Payload:    payload,
	}, nil
}
