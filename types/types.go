package types

type LifecycleManager interface {
	Start() error
	Stop() error
	IsRunning() bool
}

// Actor is an entity touched as a side effect of a mutation, e.g. the
// minorista whose balance moves when a giro is created.
type Actor struct {
	Kind EntityKind `json:"kind"`
	ID   string     `json:"id"`
}
