// Package application contém os componentes do motor de alocação: índice de
// rotação, reservas, contadores de uso, limitador por agente e o Coordinator.
//
// Depende apenas de domain (e do relógio injetado); nada aqui conhece Redis,
// Postgres ou net/http. Cada chamada ao store efêmero roda com timeout curto e
// timeout conta como falha daquele passo, nunca como sucesso.
package application
