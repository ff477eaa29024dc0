package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/vitacare/concierge/internal/knowledge"
	"github.com/vitacare/concierge/internal/model"
)

// PromptConfig is the static clinic identity baked into every turn.
type PromptConfig struct {
	ClinicName    string
	ClinicAddress string
	AgentName     string
}

const basePrompt = `Você é %s, assistente virtual da clínica %s, no WhatsApp.

Seu papel: acolher pacientes, tirar dúvidas sobre serviços e preços, e agendar consultas usando as ferramentas disponíveis.

Regras:
- Responda sempre em português brasileiro, de forma breve e calorosa.
- Nunca dê conselhos médicos, diagnósticos ou opiniões clínicas.
- Use as ferramentas para consultar horários, preços e agendar; não invente dados.
- Ao oferecer horários, apresente poucas opções claras em vez de listas longas.
- Separe assuntos distintos em parágrafos (linha em branco entre eles).
- Se não souber responder, diga isso e ofereça transferir para um atendente.`

// buildSystemPrompt assembles the per-turn system message: persona,
// current context and retrieved clinic facts.
func buildSystemPrompt(cfg PromptConfig, conv *model.Conversation, patient *model.Patient, chunks []knowledge.Chunk, now time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, basePrompt, cfg.AgentName, cfg.ClinicName)

	sb.WriteString("\n\nContexto:")
	fmt.Fprintf(&sb, "\n- Data e hora: %s", now.Format("Monday, 02/01/2006 15:04"))
	if cfg.ClinicAddress != "" {
		fmt.Fprintf(&sb, "\n- Endereço da clínica: %s", cfg.ClinicAddress)
	}
	if patient != nil && patient.Name != "" {
		fmt.Fprintf(&sb, "\n- Paciente: %s", patient.Name)
	} else if conv.PatientName != "" {
		fmt.Fprintf(&sb, "\n- Paciente: %s", conv.PatientName)
	}
	fmt.Fprintf(&sb, "\n- Etapa da conversa: %s", conv.State)

	if formatted := knowledge.Format(chunks); formatted != "" {
		sb.WriteString("\n\nInformações da clínica relevantes para esta conversa:\n")
		sb.WriteString(formatted)
	}
	return sb.String()
}

// Canned replies for paths where the model cannot or should not answer.
const (
	rephraseReply = "Desculpe, não consegui entender direito. Pode me explicar de outra forma?"
	handoffReply  = "Vou te transferir para um de nossos atendentes, só um momento. 😊"
)
