package domain

import (
	"context"
	"time"
)

// EphemeralStore é a capacidade atômica de que o motor precisa.
//
// Cada método é uma única operação atômica (um round trip). Nenhum componente
// segura lock entre chamadas; a correção vem inteiramente destas primitivas.
// Implementações devem devolver ErrStoreUnavailable (embrulhado) quando o backend
// não responde.
type EphemeralStore interface {
	// SetIfAbsentWithTTL cria a chave com expiração apenas se ela não existir.
	SetIfAbsentWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	// TTL devolve o tempo restante; 0 quando a chave não existe ou não expira.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// IncrementWithExpiry incrementa e, só na criação da chave, aplica ttlIfNew.
	IncrementWithExpiry(ctx context.Context, key string, ttlIfNew time.Duration) (int64, error)
	// Counter lê o contador sem alterá-lo (0 se ausente).
	Counter(ctx context.Context, key string) (int64, error)

	SortedSetUpsert(ctx context.Context, scopeKey, member string, score float64) error
	// SortedSetRange devolve membros em ordem crescente de score (start/stop inclusivos).
	SortedSetRange(ctx context.Context, scopeKey string, start, stop int64) ([]string, error)
	SortedSetRemove(ctx context.Context, scopeKey string, members ...string) error
	SortedSetCard(ctx context.Context, scopeKey string) (int64, error)

	// ScanPrefix lista chaves com o prefixo dado (uso administrativo, não no caminho quente).
	ScanPrefix(ctx context.Context, prefix string) ([]string, error)
}
