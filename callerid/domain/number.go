package domain

import "time"

// CallerNumber é o registro durável de um número de origem.
//
// LastUsed só é alterado pelo Coordinator após uma alocação com sucesso.
// Números nunca são apagados, apenas desativados (Active=false).
type CallerNumber struct {
	ID              string         `json:"caller_id"`
	Carrier         string         `json:"carrier,omitempty"`
	AreaCode        string         `json:"area_code,omitempty"`
	DailyLimit      int            `json:"daily_limit"`
	HourlyLimit     int            `json:"hourly_limit"`
	CooldownSeconds int            `json:"cooldown_seconds"`
	LastUsed        *time.Time     `json:"last_used,omitempty"`
	Active          bool           `json:"active"`
	Meta            map[string]any `json:"meta,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Cooldown devolve o intervalo mínimo entre dois usos do número.
func (n CallerNumber) Cooldown() time.Duration {
	return time.Duration(n.CooldownSeconds) * time.Second
}

// InCooldown informa se o número ainda não pode ser reutilizado em `now`.
// CooldownSeconds <= 0 desativa a checagem.
func (n CallerNumber) InCooldown(now time.Time) bool {
	if n.LastUsed == nil || n.CooldownSeconds <= 0 {
		return false
	}
	return now.Sub(*n.LastUsed) < n.Cooldown()
}

// NumberSpec é a entrada de AddNumber. Campos ponteiro distinguem "não informado"
// (usa o padrão configurado) de zero explícito (sem limite).
type NumberSpec struct {
	ID              string         `json:"caller_id" yaml:"caller_id" validate:"required,min=7,max=20"`
	Carrier         string         `json:"carrier,omitempty" yaml:"carrier"`
	AreaCode        string         `json:"area_code,omitempty" yaml:"area_code" validate:"omitempty,numeric,max=10"`
	DailyLimit      *int           `json:"daily_limit,omitempty" yaml:"daily_limit" validate:"omitempty,gte=0"`
	HourlyLimit     *int           `json:"hourly_limit,omitempty" yaml:"hourly_limit" validate:"omitempty,gte=0"`
	CooldownSeconds *int           `json:"cooldown_seconds,omitempty" yaml:"cooldown_seconds" validate:"omitempty,gte=0"`
	Meta            map[string]any `json:"meta,omitempty" yaml:"meta"`
}

type Limits struct {
	Daily  int `json:"daily"`
	Hourly int `json:"hourly"`
}

// AllocationResult é o que o transporte devolve ao discador.
//
// RateLimitRemaining é max(limite - contagem, 0) na janela do agente; nil (campo
// omitido no JSON) quando o limitador por agente está desligado.
type AllocationResult struct {
	Number             string    `json:"caller_id"`
	AreaCode           string    `json:"area_code,omitempty"`
	Carrier            string    `json:"carrier,omitempty"`
	ExpiresAt          time.Time `json:"expires_at"`
	Limits             Limits    `json:"limits"`
	RateLimitRemaining *int      `json:"rate_limit_remaining,omitempty"`
}
