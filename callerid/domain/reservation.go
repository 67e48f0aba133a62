package domain

import "time"

// Reservation é o lease exclusivo de um número para uma chamada em andamento.
// Nunca é atualizada: nasce em TryAcquire e morre por Release ou TTL.
type Reservation struct {
	Agent       string    `json:"agent"`
	Campaign    string    `json:"campaign"`
	Destination string    `json:"destination"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ActiveReservation junta a reserva ao número e ao TTL restante (para o snapshot).
type ActiveReservation struct {
	Number string `json:"caller_id"`
	Reservation
	ExpiresIn time.Duration `json:"expires_in"`
}

// WindowKind identifica a janela de quota de um número.
type WindowKind string

const (
	WindowHourly WindowKind = "hourly"
	WindowDaily  WindowKind = "daily"
)

// PeriodKey devolve a chave do período (UTC) que contém t.
func (k WindowKind) PeriodKey(t time.Time) string {
	t = t.UTC()
	if k == WindowHourly {
		return t.Format("2006010215")
	}
	return t.Format("20060102")
}

// PeriodEnd devolve o instante (UTC) em que o período que contém t termina.
func (k WindowKind) PeriodEnd(t time.Time) time.Time {
	t = t.UTC()
	if k == WindowHourly {
		return t.Truncate(time.Hour).Add(time.Hour)
	}
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}
