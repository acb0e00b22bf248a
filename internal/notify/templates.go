package notify

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/shopspring/decimal"
)

// BookingMessage is the data behind client and staff booking texts.
type BookingMessage struct {
	TenantName  string
	ClientName  string
	ClientPhone string
	CourtName   string
	Start       time.Time // tenant-local
	Price       decimal.Decimal
	Balance     decimal.Decimal
	Occurrences int
}

// WaitingMessage is the data behind a freed-slot text.
type WaitingMessage struct {
	TenantName string
	Name       string
	CourtName  string
	Start      time.Time // tenant-local
}

var weekdays = [...]string{"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado"}

var months = [...]string{
	"enero", "febrero", "marzo", "abril", "mayo", "junio",
	"julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre",
}

// longDate renders "sábado 14 de junio".
func longDate(t time.Time) string {
	return fmt.Sprintf("%s %d de %s", weekdays[t.Weekday()], t.Day(), months[t.Month()-1])
}

func clock(t time.Time) string {
	return t.Format("15:04")
}

func money(d decimal.Decimal) string {
	return "$" + d.StringFixedBank(2)
}

func clientName(name string) string {
	if name == "" {
		return "Jugador"
	}
	return name
}

var templates = template.Must(template.New("notify").Funcs(template.FuncMap{
	"date":   longDate,
	"clock":  clock,
	"money":  money,
	"client": clientName,
}).Parse(`
{{define "booking_confirmation"}}🎾 Hola *{{client .ClientName}}*! Tu turno en *{{.TenantName}}* quedó reservado:

📅 Fecha: {{date .Start}}
⏰ Hora: {{clock .Start}}
📍 Cancha: {{.CourtName}}
{{- if gt .Occurrences 1}}
🔁 Turno fijo: {{.Occurrences}} semanas{{end}}

💰 Saldo pendiente: {{money .Balance}}

Te esperamos! 🙌{{end}}
{{define "payment_confirmation"}}✅ Hola *{{client .ClientName}}*, pago recibido con éxito para tu turno del {{date .Start}} a las {{clock .Start}}.

Tu saldo restante es: {{money .Balance}}.

Gracias por confiar en {{.TenantName}}! 🎾{{end}}
{{define "slot_available"}}👋 Hola *{{client .Name}}*! Se liberó un turno en *{{.TenantName}}*:

📅 {{date .Start}} a las {{clock .Start}}
📍 Cancha: {{.CourtName}}

Respondé este mensaje para reservarlo.{{end}}
{{define "staff_new_booking"}}🆕 Nueva reserva: {{client .ClientName}} ({{.ClientPhone}})
{{.CourtName}}, {{date .Start}} {{clock .Start}}, {{money .Price}}
{{- if gt .Occurrences 1}} ({{.Occurrences}} semanas){{end}}{{end}}
{{define "staff_cancellation"}}❌ Reserva cancelada: {{client .ClientName}} ({{.ClientPhone}})
{{.CourtName}}, {{date .Start}} {{clock .Start}}
{{- if .Balance.IsPositive}}, reintegro {{money .Balance}}{{end}}{{end}}
`))

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

// BookingConfirmation is sent to the client after a reservation is created.
func BookingConfirmation(m BookingMessage) (string, error) {
	return render("booking_confirmation", m)
}

// PaymentConfirmation is sent to the client after a payment.
func PaymentConfirmation(m BookingMessage) (string, error) {
	return render("payment_confirmation", m)
}

// SlotAvailable tells a waiting-list entry that a slot was freed.
func SlotAvailable(m WaitingMessage) (string, error) {
	return render("slot_available", m)
}

// StaffNewBooking alerts staff about a reservation. Balance is unused.
func StaffNewBooking(m BookingMessage) (string, error) {
	return render("staff_new_booking", m)
}

// StaffCancellation alerts staff about a cancellation. Balance carries the
// refunded amount.
func StaffCancellation(m BookingMessage) (string, error) {
	return render("staff_cancellation", m)
}
