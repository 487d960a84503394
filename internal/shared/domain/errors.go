package domain

import "errors"

var (
	// ErrConcurrency: la versión esperada no coincide o se perdió la carrera de inserción.
	ErrConcurrency = errors.New("concurrency conflict")
	// ErrNotFound: stream, snapshot o mensaje inexistente.
	ErrNotFound = errors.New("not found")
	// ErrSerialization: tipo de evento desconocido o payload que no encaja con el tipo.
	ErrSerialization = errors.New("serialization failure")
	// ErrDelivery: el destino de publicación rechazó el evento o expiró.
	ErrDelivery = errors.New("delivery failure")
	// ErrInvariant: el agregado quedó en un estado inválido tras aplicar un evento.
	ErrInvariant = errors.New("invariant violation")

	// ErrPartialWrite: el almacenamiento no pudo insertar el lote de forma atómica y
	// parte de él quedó persistido junto a eventos de otro escritor. El stream necesita
	// revisión manual.
	ErrPartialWrite = errors.New("partial write")

	// ErrDuplicate lo devuelven los repositorios cuando salta un índice único.
	// Nunca llega al llamador de la Event Store: se reconcilia o se traduce a ErrConcurrency.
	ErrDuplicate = errors.New("duplicate key")
)

// ErrorKind clasifica cualquier error devuelto por el núcleo.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindConcurrency
	KindNotFound
	KindSerialization
	KindDelivery
	KindInvariant
	KindPartialWrite
)

func (k ErrorKind) String() string {
	switch k {
	case KindConcurrency:
		return "concurrency"
	case KindNotFound:
		return "not_found"
	case KindSerialization:
		return "serialization"
	case KindDelivery:
		return "delivery"
	case KindInvariant:
		return "invariant"
	case KindPartialWrite:
		return "partial_write"
	default:
		return "unknown"
	}
}

// Retryable indica si repetir la misma operación puede tener éxito. Los conflictos,
// los payloads inválidos y las invariantes rotas fallan igual en cada intento.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindConcurrency, KindNotFound, KindSerialization, KindInvariant, KindPartialWrite:
		return false
	default:
		return true
	}
}

// KindOf devuelve el tipo de error para que el llamador decida (recargar, abortar, reintentar).
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrPartialWrite):
		return KindPartialWrite
	case errors.Is(err, ErrConcurrency):
		return KindConcurrency
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrSerialization):
		return KindSerialization
	case errors.Is(err, ErrDelivery):
		return KindDelivery
	case errors.Is(err, ErrInvariant):
		return KindInvariant
	default:
		return KindUnknown
	}
}
