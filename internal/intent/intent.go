// Package intent is a keyword classifier for inbound patient text. It
// runs before the model call so the pipeline has a label even when the
// model is down, and it feeds the state machine and escalation policy.
package intent

import (
	"regexp"
	"strings"
)

// Intent labels. Unknown means no pattern matched.
const (
	Greeting            = "greeting"
	Farewell            = "farewell"
	AppointmentBooking  = "appointment_booking"
	AvailabilityInquiry = "availability_inquiry"
	Cancellation        = "cancellation"
	Reschedule          = "reschedule"
	PriceInquiry        = "price_inquiry"
	ServiceInfo         = "service_info"
	Complaint           = "complaint"
	MedicalUrgency      = "medical_urgency"
	HumanRequest        = "human_request"
	Unknown             = "unknown"
)

// Classification is the labeling of one aggregated turn text.
type Classification struct {
	Primary string
	All     []string
}

type rule struct {
	label   string
	pattern *regexp.Regexp
}

// rules are checked in priority order; the first hit becomes Primary.
var rules = []rule{
	{MedicalUrgency, regexp.MustCompile(`(?i)\b(urgente|urg[êe]ncia|emerg[êe]ncia|dor forte|muita dor|sangrando|desmaiei|desmaiou|falta de ar|socorro)\b`)},
	{HumanRequest, regexp.MustCompile(`(?i)\b(atendente|falar com (algu[ée]m|uma pessoa|humano)|pessoa de verdade|quero falar com)\b`)},
	{Complaint, regexp.MustCompile(`(?i)\b(reclama[çc][ãa]o|reclamar|absurdo|p[ée]ssimo|horr[íi]vel|insatisfeit[oa]|descaso)\b`)},
	{Cancellation, regexp.MustCompile(`(?i)\b(cancelar|desmarcar|cancela|n[ãa]o vou poder ir)\b`)},
	{Reschedule, regexp.MustCompile(`(?i)\b(remarcar|reagendar|mudar (o |a )?(hor[áa]rio|data|consulta)|trocar o hor[áa]rio)\b`)},
	{AvailabilityInquiry, regexp.MustCompile(`(?i)\b(hor[áa]rios? (dispon[íi]ve(l|is)|livres?)|tem (vaga|hor[áa]rio)|quais hor[áa]rios|agenda (de|do|da))\b`)},
	{AppointmentBooking, regexp.MustCompile(`(?i)\b(marcar|agendar|marca[çc][ãa]o|agendamento|quero uma consulta|preciso de uma consulta)\b`)},
	{PriceInquiry, regexp.MustCompile(`(?i)\b(pre[çc]o|valor|quanto custa|quanto [ée]|custo|or[çc]amento|conv[êe]nio cobre)\b`)},
	{ServiceInfo, regexp.MustCompile(`(?i)\b(exame|procedimento|especialidade|atende[m]?|voc[êe]s fazem|como funciona|o que [ée])\b`)},
	{Farewell, regexp.MustCompile(`(?i)\b(tchau|at[ée] (logo|mais)|obrigad[oa],? (tchau|s[óo] isso)|era s[óo] isso|encerrar)\b`)},
	{Greeting, regexp.MustCompile(`(?i)\b(oi|ol[áa]|bom dia|boa tarde|boa noite|e a[íi])\b`)},
}

// Classify labels the text. All carries every matched label in priority
// order; Primary is the first.
func Classify(text string) Classification {
	var all []string
	for _, r := range rules {
		if r.pattern.MatchString(text) {
			all = append(all, r.label)
		}
	}
	if len(all) == 0 {
		return Classification{Primary: Unknown, All: []string{Unknown}}
	}
	return Classification{Primary: all[0], All: all}
}

// disengagementPhrases signal the patient is postponing rather than
// declining ("vou pensar", "depois eu vejo"). These drive the follow-up
// flow, not closure.
var disengagementPattern = regexp.MustCompile(`(?i)\b(vou pensar|vou ver|depois eu (vejo|falo|marco)|mais tarde eu|qualquer coisa eu (chamo|falo)|semana que vem eu|te aviso|vou conversar com)\b`)

// DetectDisengagement reports whether the text contains a postponement
// phrase, and which one.
func DetectDisengagement(text string) (bool, string) {
	if m := disengagementPattern.FindString(text); m != "" {
		return true, strings.ToLower(m)
	}
	return false, ""
}

// Small lexicons for a crude sentiment score in [-1, 1]. Enough to bias
// the escalation policy, nothing more.
var (
	negativeWords = []string{
		"p[ée]ssimo", "horr[íi]vel", "absurdo", "ruim", "demora", "descaso",
		"raiva", "irritad[oa]", "insatisfeit[oa]", "reclama[çc][ãa]o", "nunca mais",
	}
	positiveWords = []string{
		"[óo]timo", "excelente", "obrigad[oa]", "perfeito", "maravilha",
		"ajudou", "gostei", "bom atendimento",
	}
	negativeRe = regexp.MustCompile(`(?i)\b(` + strings.Join(negativeWords, "|") + `)\b`)
	positiveRe = regexp.MustCompile(`(?i)\b(` + strings.Join(positiveWords, "|") + `)\b`)
)

// Sentiment scores the text by lexicon hits, clamped to [-1, 1].
func Sentiment(text string) float64 {
	neg := len(negativeRe.FindAllString(text, -1))
	pos := len(positiveRe.FindAllString(text, -1))
	if neg == 0 && pos == 0 {
		return 0
	}
	score := float64(pos-neg) / float64(pos+neg)
	return score
}
