package invalidation

import (
	"strings"

	"github.com/saiset-co/giro-sync/types"
)

type Operation string

const (
	OpCreate  Operation = "create"
	OpUpdate  Operation = "update"
	OpDelete  Operation = "delete"
	OpExecute Operation = "execute"
	OpReturn  Operation = "return"
	OpApprove Operation = "approve"
	OpReject  Operation = "reject"
)

var pastTense = map[Operation]string{
	OpCreate:  "created",
	OpUpdate:  "updated",
	OpDelete:  "deleted",
	OpExecute: "executed",
	OpReturn:  "returned",
	OpApprove: "approved",
	OpReject:  "rejected",
}

// Mutation describes a successful write and the entities it touched.
type Mutation struct {
	Kind      types.EntityKind
	ID        string
	Operation Operation
	Actors    []types.Actor
}

// Event is the name shared by the rule table and the push channel,
// e.g. "giros.executed".
func (m Mutation) Event() string {
	return EventName(m.Kind, m.Operation)
}

func (m Mutation) ActorsOf(kind types.EntityKind) []string {
	ids := make([]string, 0, len(m.Actors))
	for _, actor := range m.Actors {
		if actor.Kind == kind && actor.ID != "" {
			ids = append(ids, actor.ID)
		}
	}
	return ids
}

func (m Mutation) Validate() error {
	if m.Kind == "" {
		return types.Errorf(types.ErrMutationInvalid, "empty kind")
	}
	if _, ok := pastTense[m.Operation]; !ok {
		return types.Errorf(types.ErrMutationInvalid, "unknown operation %q", m.Operation)
	}
	return nil
}

func EventName(kind types.EntityKind, op Operation) string {
	suffix, ok := pastTense[op]
	if !ok {
		suffix = string(op)
	}
	return string(kind) + "." + suffix
}

// ParseEvent splits "giros.executed" into its kind and operation.
func ParseEvent(event string) (types.EntityKind, Operation, error) {
	idx := strings.LastIndexByte(event, '.')
	if idx <= 0 || idx == len(event)-1 {
		return "", "", types.Errorf(types.ErrPayloadInvalid, "event %q is not <kind>.<operation>", event)
	}

	kind := types.EntityKind(event[:idx])
	suffix := event[idx+1:]

	for op, past := range pastTense {
		if suffix == past || suffix == string(op) {
			return kind, op, nil
		}
	}

	return "", "", types.Errorf(types.ErrPayloadInvalid, "event %q has unknown operation", event)
}
