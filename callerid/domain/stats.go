package domain

import (
	"context"
	"time"
)

// StatsEvent representa o desfecho de uma chamada a Allocate.
//
// Observação: cuidado com cardinalidade. Campaign e Agent vêm do discador e podem
// explodir o número de chaves numa base como Redis/Prometheus.
type StatsEvent struct {
	Campaign string
	Agent    string
	Allowed  bool
	Number   string

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas por campanha.
//
// Implementações podem armazenar em Redis, memória, etc.
// O Coordinator trata erro como best-effort (não derruba a alocação).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}

// CampaignStats é a visão agregada de uma campanha.
type CampaignStats struct {
	Campaign     string `json:"campaign"`
	TotalCalls   int64  `json:"total_calls"`
	Denied       int64  `json:"denied"`
	UniqueAgents int64  `json:"unique_agents"`
}

// Decision é a resposta do limitador por agente.
type Decision struct {
	Allowed bool
	// RetryAfter é o tempo restante da janela quando bloqueado.
	RetryAfter time.Duration
	// Remaining é max(limite - contagem, 0); -1 quando o limitador está desligado
	// (o Coordinator não repassa esse valor ao AllocationResult).
	Remaining int
}

// StatsReader lê os agregados por campanha.
type StatsReader interface {
	Campaigns(ctx context.Context) ([]CampaignStats, error)
}
