// Package domain define tipos e contratos do motor de alocação de caller-ID.
//
// Este pacote não depende de Redis, Postgres nem net/http. Os componentes efêmeros
// (reservas, contadores, ordem de rotação) falam com um EphemeralStore abstrato e o
// registro durável com um Catalog, de forma que qualquer backend que respeite o
// contrato sirva.
package domain
