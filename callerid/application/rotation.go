package application

import (
	"context"
	"time"

	"callerid-gateway/callerid/domain"
	"callerid-gateway/clock"
)

// VeryOldScore é o score de números nunca usados: ficam na frente da fila.
const VeryOldScore float64 = 0

// Score converte o instante de uso no score da rotação (segundos epoch, ms de precisão).
func Score(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1000
}

// RotationIndex ordena candidatos "mais ocioso primeiro" por escopo de área e global.
//
// Cada escrita é um ZADD/ZREM independente; a mesma chave de membro sobrescreve o
// score, então EnsureMembership é idempotente.
type RotationIndex struct {
	Store     domain.EphemeralStore
	Keys      Keys
	Clock     clock.Clock
	OpTimeout time.Duration
}

// EnsureMembership insere/atualiza o número no escopo global e, se houver, no da área.
func (r RotationIndex) EnsureMembership(ctx context.Context, number, areaCode string, score float64) error {
	for _, scope := range scopesFor(areaCode) {
		if err := r.upsert(ctx, scope, number, score); err != nil {
			return err
		}
	}
	return nil
}

// CandidatePool devolve até `limit` números do escopo da área seguidos de até
// `limit` do global, em ordem crescente de score e sem duplicatas.
func (r RotationIndex) CandidatePool(ctx context.Context, areaCode string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = defaultCandidatePageSize
	}

	seen := make(map[string]struct{})
	var out []string
	for _, scope := range candidateScopes(areaCode) {
		opCtx, cancel := withTimeout(ctx, r.OpTimeout)
		members, err := r.Store.SortedSetRange(opCtx, r.Keys.Rotation(scope), 0, int64(limit-1))
		cancel()
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	return out, nil
}

// Touch move o número para o fim da fila (score = agora) nos seus escopos.
func (r RotationIndex) Touch(ctx context.Context, number, areaCode string) error {
	return r.EnsureMembership(ctx, number, areaCode, Score(r.now()))
}

// Evict remove o número do escopo global e do escopo da área informada.
func (r RotationIndex) Evict(ctx context.Context, number, areaCode string) error {
	for _, scope := range scopesFor(areaCode) {
		opCtx, cancel := withTimeout(ctx, r.OpTimeout)
		err := r.Store.SortedSetRemove(opCtx, r.Keys.Rotation(scope), number)
		cancel()
		if err != nil {
			return err
		}
	}
	return nil
}

// Size devolve quantos números estão no escopo global.
func (r RotationIndex) Size(ctx context.Context) (int64, error) {
	opCtx, cancel := withTimeout(ctx, r.OpTimeout)
	defer cancel()
	return r.Store.SortedSetCard(opCtx, r.Keys.Rotation(GlobalScope))
}

func (r RotationIndex) upsert(ctx context.Context, scope, number string, score float64) error {
	opCtx, cancel := withTimeout(ctx, r.OpTimeout)
	defer cancel()
	return r.Store.SortedSetUpsert(opCtx, r.Keys.Rotation(scope), number, score)
}

func (r RotationIndex) now() time.Time {
	if r.Clock == nil {
		return time.Now().UTC()
	}
	return r.Clock.Now()
}

// scopesFor lista os escopos de escrita: global sempre, área quando houver.
func scopesFor(areaCode string) []string {
	if areaCode == "" {
		return []string{GlobalScope}
	}
	return []string{GlobalScope, areaCode}
}

// candidateScopes lista os escopos de leitura: área primeiro, depois global.
func candidateScopes(areaCode string) []string {
	if areaCode == "" {
		return []string{GlobalScope}
	}
	return []string{areaCode, GlobalScope}
}
