package report

import (
	"fmt"
	"strings"

	"nodebulkdelete/internal/batch"
	"nodebulkdelete/internal/export"
	"nodebulkdelete/internal/node"
)

// Fixed user-facing messages
const (
	MsgValidation   = "Debe seleccionar un tipo de contenido y un rango de fechas válido."
	MsgSimulateNone = "Simulación: No se encontraron nodos para eliminar."
	MsgDeleteNone   = "No se encontraron nodos para eliminar o el tipo de contenido no es permitido."
	MsgExportFailed = "Error al generar archivo CSV."
	MsgRunFailed    = "Ocurrió un error durante la eliminación de nodos."
	MsgSimFailed    = "Ocurrió un error durante la simulación."
)

// Level tells the surface how to present a message
type Level string

const (
	LevelStatus  Level = "status"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Message is one line shown to the operator
type Message struct {
	Level Level  `json:"level"`
	Text  string `json:"text"`
}

func (m Message) String() string {
	return m.Text
}

// Validation is the message for incomplete or malformed form input
func Validation() Message {
	return Message{Level: LevelError, Text: MsgValidation}
}

// NothingFound is the message for an empty selection in mode
func NothingFound(mode batch.Mode) Message {
	if mode == batch.ModeSimulate {
		return Message{Level: LevelStatus, Text: MsgSimulateNone}
	}
	return Message{Level: LevelStatus, Text: MsgDeleteNone}
}

// Counts renders the live count display
func Counts(c node.Counts) string {
	return fmt.Sprintf("Nodos actuales: %d\nNodos a eliminar: %d", c.Total, c.ToDelete)
}

// Summary renders the completion message for a finished run
func Summary(st batch.State, exp export.Result) Message {
	if st.Mode == batch.ModeSimulate {
		return simulation(st, exp)
	}
	return deletion(st, exp)
}

func simulation(st batch.State, exp export.Result) Message {
	if st.Status == batch.StatusFailed {
		return Message{Level: LevelError, Text: join(MsgSimFailed, lastError(st))}
	}

	var text string
	if st.DeletedCount == 1 {
		text = "Simulación: Se eliminaría 1 nodo."
	} else {
		text = fmt.Sprintf("Simulación: Se eliminarían %d nodos.", st.DeletedCount)
	}
	return Message{Level: LevelStatus, Text: join(text, exportLine(exp))}
}

func deletion(st batch.State, exp export.Result) Message {
	switch st.Status {
	case batch.StatusFailed:
		committed := fmt.Sprintf("%s de %d %s antes del error.",
			deletedVerb(st.DeletedCount), st.TotalExpected, nodes(st.TotalExpected))
		return Message{Level: LevelError, Text: join(MsgRunFailed, committed, lastError(st), exportLine(exp))}

	case batch.StatusPartial:
		text := fmt.Sprintf("%s de %d %s del tipo %s entre las fechas seleccionadas.",
			deletedVerb(st.DeletedCount), st.TotalExpected, nodes(st.TotalExpected), st.ContentType)
		return Message{Level: LevelWarning, Text: join(text, lastError(st), exportLine(exp))}

	default:
		text := fmt.Sprintf("%s %s del tipo %s entre las fechas seleccionadas.",
			deletedVerb(st.DeletedCount), nodes(st.DeletedCount), st.ContentType)
		return Message{Level: LevelStatus, Text: join(text, exportLine(exp))}
	}
}

// deletedVerb agrees "eliminar" with the number of deleted nodes and carries it
func deletedVerb(n int64) string {
	if n == 1 {
		return "Se eliminó 1"
	}
	return fmt.Sprintf("Se eliminaron %d", n)
}

func nodes(n int64) string {
	if n == 1 {
		return "nodo"
	}
	return "nodos"
}

func exportLine(exp export.Result) string {
	if !exp.OK() {
		return MsgExportFailed
	}
	return "Se generó archivo CSV: " + exp.Path
}

func lastError(st batch.State) string {
	if st.LastError == "" {
		return ""
	}
	return fmt.Sprintf("Último error: %s.", strings.TrimSuffix(st.LastError, "."))
}

func join(parts ...string) string {
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}
