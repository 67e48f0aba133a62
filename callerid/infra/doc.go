// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - RedisStore: EphemeralStore sobre go-redis (SET NX PX, script INCR+PEXPIRE, ZSET)
//   - MemoryStore / MemoryCatalog: versões em memória para testes e dev
//   - RedisStatsStore / MemoryStatsStore: estatísticas por campanha
//   - NATSSink, RedisRequestLog, FanoutSink: destinos de eventos de alocação
package infra
