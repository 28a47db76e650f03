// Package formatter renders execution results, refusals and errors into the
// user-facing reply. Text is built strictly from the execution result;
// nothing is fabricated, and raw storage errors never reach the user.
package formatter

import (
	"fmt"
	"strings"

	"github.com/podoskin/agent-core/pkg/executor"
	"github.com/podoskin/agent-core/pkg/models"
)

// restrictedPatientFields lists the clinical columns Reception never sees,
// regardless of what the plan already scoped. Redaction here is independent
// of the planner's scoping on purpose.
var restrictedPatientFields = map[models.Role][]string{
	models.RoleReception: {
		"antecedentes_patologicos",
		"antecedentes_familiares",
		"alergias",
		"medicamentos",
		"observaciones_medicas",
	},
}

// Fixed user-facing copy. Operators get trace ids through the audit sink,
// never through these strings.
const (
	msgTransient        = "El servicio está temporalmente no disponible. Intenta de nuevo en unos minutos."
	msgIntegrity        = "No se pudo completar la operación por un conflicto con los datos. Verifica la información e intenta de nuevo."
	msgOutOfScope       = "Solo puedo ayudarte con información de la clínica: pacientes, citas, tratamientos y pagos."
	msgClarification    = "No entendí bien tu solicitud. ¿Puedes darme más detalles?"
	msgCouldNotParse    = "No pude entender la solicitud. Intenta formularla de otra manera."
	msgRateLimited      = "Estás enviando mensajes muy rápido. Espera un momento e intenta de nuevo."
	msgNothingToConfirm = "No hay ninguna acción pendiente de confirmar."
	msgCancelled        = "Entendido, acción cancelada."
	msgNoChanges        = "No se realizaron cambios. Es posible que el registro ya estuviera en ese estado o que exista una cita en ese horario."
	msgGreeting         = "¡Hola! Soy el asistente de la clínica. Puedo ayudarte con pacientes, citas y pagos. ¿Qué necesitas?"
)

// Rendered is the formatter's output for one turn: the reply text plus the
// structured payload the channel may render natively.
type Rendered struct {
	Message    string
	Structured any
}

// Formatter renders replies. It is stateless and safe for concurrent use.
type Formatter struct{}

// New creates a formatter.
func New() *Formatter {
	return &Formatter{}
}

// Result renders a successful execution. Role-based redaction is re-applied
// here and long lists are truncated at maxItems with a remainder note.
func (f *Formatter) Result(res *executor.Result, role models.Role, maxItems int) Rendered {
	switch res.Shape {
	case models.ShapeCount:
		msg := fmt.Sprintf("El resultado es %v.", res.Count)
		if res.Summary != "" {
			msg = fmt.Sprintf(res.Summary, res.Count)
		}
		return Rendered{Message: msg, Structured: map[string]any{"count": res.Count}}

	case models.ShapeAffected:
		if res.Affected == 0 {
			return Rendered{Message: msgNoChanges, Structured: map[string]any{"affected": res.Affected}}
		}
		msg := res.Summary
		if msg == "" {
			msg = "Operación realizada."
		}
		return Rendered{Message: msg, Structured: map[string]any{"affected": res.Affected}}
	}

	rows := redactRows(res.Rows, role)
	total := len(rows)
	truncated := rows
	if maxItems > 0 && total > maxItems {
		truncated = rows[:maxItems]
	}

	var b strings.Builder
	if res.Summary != "" {
		b.WriteString(res.Summary)
		b.WriteString("\n")
	}
	if total == 0 {
		b.WriteString("No se encontraron registros.")
	} else {
		for _, row := range truncated {
			b.WriteString("- ")
			b.WriteString(rowLine(row))
			b.WriteString("\n")
		}
		if remainder := total - len(truncated); remainder > 0 {
			fmt.Fprintf(&b, "… y %d más.", remainder)
		}
	}

	return Rendered{
		Message:    strings.TrimRight(b.String(), "\n"),
		Structured: map[string]any{"rows": truncated, "total": total},
	}
}

// Refusal renders a permission decision into the fixed role-appropriate
// copy. The reason code picks the message; rule ids stay operator-only.
func (f *Formatter) Refusal(decision models.PermissionDecision) Rendered {
	var msg string
	switch decision.ReasonCode {
	case models.ReasonClinicalDataRestricted:
		msg = "No tienes permisos para consultar información clínica. Esta consulta requiere un profesional autorizado."
	case models.ReasonSensitiveKeyword:
		msg = "No puedo procesar consultas sobre información sensible como contraseñas o datos de pago."
	case models.ReasonRoleLacksRead:
		msg = "No tienes acceso a ver esta información con tu rol actual."
	case models.ReasonRoleLacksWrite:
		msg = "No tienes permisos para modificar esta información. Solo puedes consultar datos."
	case models.ReasonUnknownRole:
		msg = "Tu cuenta no tiene un rol válido configurado. Contacta al administrador."
	case models.ReasonOriginForbidsMutation:
		msg = "Este canal no permite crear o modificar registros. Usa la aplicación de la clínica."
	case models.ReasonClinicalEscalation:
		msg = "Esta acción requiere revisión de un profesional. La solicitud fue enviada para revisión humana."
	default:
		msg = "No es posible procesar esta solicitud con tu rol actual."
	}
	return Rendered{Message: msg, Structured: map[string]any{"reason_code": decision.ReasonCode}}
}

// Confirmation renders the prompt for a pending mutating action.
func (f *Formatter) Confirmation(action *models.PendingAction, description string) Rendered {
	msg := fmt.Sprintf("Voy a %s. ¿Confirmas? Responde \"sí\" para continuar o \"no\" para cancelar.", description)
	return Rendered{
		Message: msg,
		Structured: map[string]any{
			"pending_action": action.TemplateID,
			"expires_at":     action.ExpiresAt,
		},
	}
}

// Disambiguation renders a ranked shortlist the user must choose from.
func (f *Formatter) Disambiguation(choices *models.PendingChoices) Rendered {
	var b strings.Builder
	fmt.Fprintf(&b, "Encontré varias coincidencias para %q. ¿A cuál te refieres?\n", choices.Term)
	for i, c := range choices.Candidates {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c.Display)
	}
	b.WriteString("Responde con el número o el nombre completo.")
	return Rendered{
		Message:    b.String(),
		Structured: map[string]any{"candidates": choices.Candidates, "term": choices.Term},
	}
}

// NoMatches renders an empty fuzzy resolution.
func (f *Formatter) NoMatches(term string) Rendered {
	return Rendered{
		Message:    fmt.Sprintf("No encontré ningún registro parecido a %q. Verifica el nombre e intenta de nuevo.", term),
		Structured: map[string]any{"term": term},
	}
}

// Greeting renders the canned greeting reply.
func (f *Formatter) Greeting() Rendered {
	return Rendered{Message: msgGreeting}
}

// OutOfScope renders the off-topic reply.
func (f *Formatter) OutOfScope() Rendered {
	return Rendered{Message: msgOutOfScope}
}

// Clarification renders the low-confidence follow-up question.
func (f *Formatter) Clarification() Rendered {
	return Rendered{Message: msgClarification}
}

// CouldNotUnderstand renders the terminal message after clarification and
// re-extraction both failed.
func (f *Formatter) CouldNotUnderstand() Rendered {
	return Rendered{Message: msgCouldNotParse}
}

// ValidationFailure renders a parameter validation failure.
func (f *Formatter) ValidationFailure(field string) Rendered {
	return Rendered{
		Message:    fmt.Sprintf("El dato %q no es válido para esta operación. ¿Puedes corregirlo?", field),
		Structured: map[string]any{"field": field},
	}
}

// TransientError renders the temporarily-unavailable message.
func (f *Formatter) TransientError() Rendered {
	return Rendered{Message: msgTransient}
}

// IntegrityError renders the generic conflict message. Raw storage error
// text never appears here.
func (f *Formatter) IntegrityError() Rendered {
	return Rendered{Message: msgIntegrity}
}

// RateLimited renders the polite busy reply.
func (f *Formatter) RateLimited() Rendered {
	return Rendered{Message: msgRateLimited}
}

// NothingToConfirm renders the reply when a confirmation arrives with no
// pending action.
func (f *Formatter) NothingToConfirm() Rendered {
	return Rendered{Message: msgNothingToConfirm}
}

// Cancelled acknowledges a declined pending action.
func (f *Formatter) Cancelled() Rendered {
	return Rendered{Message: msgCancelled}
}

// redactRows strips restricted fields for the role. Rows are copied; the
// execution result is never mutated.
func redactRows(rows []map[string]any, role models.Role) []map[string]any {
	restricted := restrictedPatientFields[role]
	if len(restricted) == 0 {
		return rows
	}

	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		clean := make(map[string]any, len(row))
		for k, v := range row {
			clean[k] = v
		}
		for _, field := range restricted {
			delete(clean, field)
		}
		out = append(out, clean)
	}
	return out
}

// rowLine renders one row compactly, preferring human-identifying columns.
func rowLine(row map[string]any) string {
	preferred := []string{"nombre_completo", "nombre_servicio", "display", "inicio", "estado", "telefono"}
	var parts []string
	for _, col := range preferred {
		if v, ok := row[col]; ok && v != nil {
			parts = append(parts, fmt.Sprintf("%v", v))
		}
	}
	if len(parts) == 0 {
		for _, v := range row {
			parts = append(parts, fmt.Sprintf("%v", v))
			if len(parts) == 3 {
				break
			}
		}
	}
	return strings.Join(parts, " · ")
}
